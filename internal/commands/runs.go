package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/shorebase/shorebase/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show run history",
	Long:  `List recent provisioning and verification runs recorded in the local store.`,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to show")
}

func runRuns(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Mode", "Status", "Changed", "Started", "Duration")
	for _, run := range runs {
		changed := "no"
		if run.Changed() {
			changed = "yes"
		}

		duration := "-"
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
		}

		table.Append([]string{
			run.ID,
			run.Mode,
			string(run.Status),
			changed,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
		})
	}
	table.Render()

	return nil
}
