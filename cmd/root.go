package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vtagent/pkg/config"
	"vtagent/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "vtagent",
	Short:         "Conversational VTuber agent",
	Long:          "Runs a character agent that streams replies sentence by sentence, with retrieval, expressions and barge-in.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (overrides VTAGENT_CONFIG)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration and installs the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		if err := os.Setenv("VTAGENT_CONFIG", path); err != nil {
			return nil, nil, fmt.Errorf("set config path: %w", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, appLogger, nil
}
