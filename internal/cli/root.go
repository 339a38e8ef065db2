// Package cli provides the command-line interface for the gateway.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"broker-gateway/internal/config"
	"broker-gateway/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-09-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Broker Gateway - unified order routing for Indian stockbrokers",
		Long: `Broker Gateway is a unified order routing and normalization layer for
AliceBlue, Angel One, Fyers and Upstox.

It exposes one canonical order schema and one error taxonomy over HTTP, and
relays each broker's market-data feed over websockets. Broker credentials
arrive per request and are never stored on the server.

Use 'gateway help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/broker-gateway)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newLoginCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Broker Gateway v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage gateway configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Server")
	output.Printf("  Listen:          %s\n", cfg.Server.Addr)
	output.Printf("  API Tokens:      %d configured\n", len(cfg.Server.APITokens))
	output.Printf("  Request Timeout: %s\n", cfg.Server.RequestTimeout)
	output.Println()

	output.Bold("Brokers")
	if len(cfg.Brokers) == 0 {
		output.Dim("  (production endpoints, no overrides)")
	}
	for id, bc := range cfg.Brokers {
		key := "not set"
		if bc.APIKey != "" {
			key = logging.RedactToken(bc.APIKey)
		}
		output.Printf("  %-10s base_url=%s api_key=%s\n", id, bc.BaseURL, key)
	}
	output.Printf("  Paper trading:   %v\n", cfg.Paper.Enabled)
	output.Println()

	output.Bold("Resilience")
	output.Printf("  Retry Attempts:  %d\n", cfg.Retry.MaxAttempts)
	output.Printf("  Retry Delays:    %s .. %s\n", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	output.Printf("  Stream Retries:  %d every %s\n", cfg.Stream.ReconnectAttempts, cfg.Stream.ReconnectInterval)

	return nil
}
