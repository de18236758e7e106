package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kamikazebr/keydist/internal/config"
	"github.com/kamikazebr/keydist/internal/daemon"
	"github.com/kamikazebr/keydist/internal/keysync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync attempt and exit",
	Run: func(cmd *cobra.Command, args []string) {
		settings, logger := mustSetup()
		runSingle(settings, logger)
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep syncing on the internal timer",
	Long: `Runs a sync immediately and then every INTERNAL_TIMER_INTERVAL seconds
(or on INTERNAL_TIMER_SCHEDULE when set) until interrupted. When
STATUS_LISTEN_ADDR is set, /healthz, /status and POST /sync are served there.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings, logger := mustSetup()
		runPeriodic(settings, logger)
	},
}

func mustOrchestrator(settings config.Settings, logger zerolog.Logger) *keysync.Orchestrator {
	orch, err := keysync.New(settings, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return orch
}

func runSingle(settings config.Settings, logger zerolog.Logger) {
	orch := mustOrchestrator(settings, logger)

	ctx, stop := signalContext()
	defer stop()

	var out keysync.Outcome
	_ = daemon.Once{}.Run(ctx, func(ctx context.Context) {
		out = orch.RunOnce(ctx)
	})

	fmt.Println(out.Message)
	if !out.Success {
		stop()
		os.Exit(1)
	}
}

func runPeriodic(settings config.Settings, logger zerolog.Logger) {
	orch := mustOrchestrator(settings, logger)

	scheduler, err := daemon.NewPeriodic(settings, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	if settings.StatusListenAddr != "" {
		status := daemon.NewStatusServer(settings.StatusListenAddr, orch, logger)
		go func() {
			if err := status.Serve(ctx); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	logger.Info().Str("schedule", settings.Schedule()).Msg("keydist daemon started")
	if err := scheduler.Run(ctx, func(ctx context.Context) {
		orch.RunOnce(ctx)
	}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Msg("keydist daemon stopped")
}
