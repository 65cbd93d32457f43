package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shorebase/shorebase/internal/orchestration"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the target host against the declared state",
	Long: `Verify the provisioned host without changing it: the hardened SSH
port accepts key-based logins, the initial port is closed, the Docker
daemon responds, and every enabled service container is running.`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := cfg.CheckTarget(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	orch := orchestration.New(cfg, log, printEvent)

	report, runErr := orch.Verify(ctx)
	finishRun(report)

	if runErr != nil {
		return fmt.Errorf("verify failed: %w", runErr)
	}
	return nil
}
