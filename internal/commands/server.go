package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shorebase/shorebase/internal/api"
	"github.com/shorebase/shorebase/internal/metrics"
	"github.com/shorebase/shorebase/internal/orchestration"
	"github.com/shorebase/shorebase/internal/store"
	"github.com/shorebase/shorebase/models"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the status API server",
	Long: `Start the HTTP status API. It serves run history, the declared target
state, Prometheus metrics, and a WebSocket stream of run events, and can
trigger apply and verify runs remotely.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	metrics.MustInit()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	factory := func(onEvent func(models.RunEvent)) api.Provisioner {
		return orchestration.New(cfg, log, onEvent)
	}

	server := api.New(cfg, st, log, factory)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
