package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lazypower/orgmem/internal/config"
	"github.com/lazypower/orgmem/internal/logger"
)

var (
	configPath string
	debug      bool
	logFormat  string

	cfg config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "orgmem",
	Short: "Organizational memory engine",
	Long: "orgmem stores an organization's knowledge as layered nodes with typed relationships, " +
		"semantic search and salience that rises with use and decays with time.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		log = newLogger(cfg, debug, logFormat)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. Flags override the config file.
func newLogger(c config.Config, debugFlag bool, format string) *slog.Logger {
	if format == "" {
		format = c.Log.Format
	}
	return logger.New(
		logger.WithDebug(debugFlag || c.Log.Level == "debug"),
		logger.WithJSON(format == "json"),
		logger.WithPretty(format == "pretty"),
	)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to orgmem.toml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: pretty, json or text")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(configCmd)
}
