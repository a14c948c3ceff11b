package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"impact-escrow/escrow-engine/internal/config"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

// global flags
var configPath, envFile, logLevel string

var RootCmd = &cobra.Command{
	Use:           "impactd",
	Short:         "Escrow and validator consensus engine for humanitarian micro-projects",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, err = config.LoadConfig(configPath, envFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		logger, err = config.NewLogger(cfg.Logging)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to the JSON config file")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the config")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	RootCmd.AddCommand(ServeCmd, SweepCmd, TokenCmd)
}
