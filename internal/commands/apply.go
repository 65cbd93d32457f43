package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shorebase/shorebase/internal/metrics"
	"github.com/shorebase/shorebase/internal/orchestration"
	"github.com/shorebase/shorebase/internal/store"
	"github.com/shorebase/shorebase/models"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge the target host to the declared state",
	Long: `Run the full provisioning sequence against the target host:
hardening, container runtime, then the service containers.

Every step is idempotent. Re-running apply against a converged host
reports ok for every step and changes nothing.`,
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	if err := cfg.CheckTarget(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	orch := orchestration.New(cfg, log, printEvent)

	report, runErr := orch.Apply(ctx)
	finishRun(report)

	if runErr != nil {
		return fmt.Errorf("apply failed: %w", runErr)
	}
	return nil
}

// printEvent writes run events to stdout as they happen.
func printEvent(ev models.RunEvent) {
	prefix := ev.Stage
	if ev.Step != "" {
		prefix = prefix + "/" + ev.Step
	}
	if prefix != "" {
		fmt.Printf("  [%s] %s\n", prefix, ev.Message)
		return
	}
	fmt.Printf("  %s\n", ev.Message)
}

// finishRun persists the report, records metrics, and prints the summary.
func finishRun(report *models.RunReport) {
	if report == nil {
		return
	}

	metrics.ObserveRun(report)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Warn("run history unavailable", zap.Error(err))
	} else {
		defer st.Close()
		if err := st.SaveRun(report); err != nil {
			log.Warn("failed to record run", zap.String("run_id", report.ID), zap.Error(err))
		}
	}

	fmt.Println()
	printReport(report)
}

// printReport renders the stage and step results of a finished run.
func printReport(report *models.RunReport) {
	for _, stage := range report.Stages {
		fmt.Printf("%s: %s\n", stage.Name, stage.Status)
		for _, step := range stage.Steps {
			line := fmt.Sprintf("  %-18s %s", step.Name, step.Status)
			if step.Message != "" {
				line += "  " + step.Message
			}
			fmt.Println(line)
		}
	}

	fmt.Println()
	switch report.Status {
	case models.RunSucceeded:
		if report.Changed() {
			fmt.Printf("Run %s succeeded (host changed)\n", report.ID)
		} else {
			fmt.Printf("Run %s succeeded (host already converged)\n", report.ID)
		}
	case models.RunFailed:
		fmt.Printf("Run %s failed: %s\n", report.ID, report.Error)
		if step := report.FailedStep(); step != nil {
			fmt.Printf("Failing step: %s\n", step.Name)
		}
	}
}
