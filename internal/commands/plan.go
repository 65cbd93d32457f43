package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/shorebase/shorebase/internal/orchestration"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what an apply run would execute",
	Long: `Print the ordered stages and steps of an apply run plus the firewall
rule table, without connecting to the target host.`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	stages, err := orchestration.Plan(cfg)
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	fmt.Printf("Plan for %s (%s)\n\n", cfg.Target.Name, cfg.Target.Address)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Stage", "Step")
	for _, stage := range stages {
		for i, step := range stage.Steps {
			name := stage.Name
			if i > 0 {
				name = ""
			}
			table.Append([]string{name, step.Name})
		}
	}
	table.Render()

	fwTable, err := orchestration.BuildTable(cfg)
	if err != nil {
		return fmt.Errorf("failed to build firewall table: %w", err)
	}

	fmt.Printf("\nFirewall rules\n\n")

	rules := tablewriter.NewWriter(os.Stdout)
	rules.Header("Service", "Port", "Proto", "Scope")
	for _, r := range fwTable.Rules() {
		rules.Append([]string{
			r.Service,
			fmt.Sprintf("%d", r.Port),
			string(r.Proto),
			string(r.Scope),
		})
	}
	rules.Render()

	return nil
}
