package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kamikazebr/keydist/internal/config"
	"github.com/kamikazebr/keydist/internal/logging"
	"github.com/kamikazebr/keydist/pkg/version"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "keydist",
	Short: "Sync SSH authorized_keys from a central key server",
	Long: `keydist downloads SSH public keys from a key server and reconciles them
into the current user's authorized_keys file.

Without a subcommand it runs one sync, or keeps syncing on the internal
timer when USE_INTERNAL_TIMER is enabled.`,
	Run: runRoot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().Detail())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the config file (.json, .jsonc, .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) {
	settings, logger := mustSetup()
	if settings.UseInternalTimer {
		runPeriodic(settings, logger)
		return
	}
	runSingle(settings, logger)
}

// mustSetup builds the logger and loads the settings, exiting on failure
func mustSetup() (config.Settings, zerolog.Logger) {
	logger, err := logging.New(os.Stderr, logLevel, logJSON)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info().Str("version", version.Get().Short()).Msg("keydist starting")

	settings, warnings, err := config.Load(configPath)
	for _, w := range warnings {
		logger.Warn().Str("config", configPath).Msg(w)
	}
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				logger.Error().Str("config", configPath).Msg(p)
			}
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info().
		Str("config", configPath).
		Str("key_server_url", settings.KeyServerURL).
		Bool("override_existing_keys", settings.OverrideExistingKeys).
		Strs("key_types", settings.SSHPublicKeyTypes).
		Bool("check_perms", settings.CheckPerms).
		Bool("use_internal_timer", settings.UseInternalTimer).
		Str("schedule", settings.Schedule()).
		Bool("enable_webhook", settings.EnableWebhook).
		Str("host_name", settings.HostName).
		Msg("configuration loaded")

	return settings, logger
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
