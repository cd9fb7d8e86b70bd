// Command percolator is the pipeline's process entrypoint: one-shot and
// watch-mode job processing, schema bootstrap, and the read-only
// operational surface of §6, wired together the way the pipeline's
// collaborators (internal/pipeline) are already assembled.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/naturalis/percolator/internal/config"
	"github.com/naturalis/percolator/internal/pkg/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "percolator",
	Short: "percolator - biodiversity record change-detection and enrichment pipeline",
	Long:  `Detects new/updated/deleted biodiversity records against a baseline, enriches them with taxonomic data, and emits replayable delta files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		v.SetEnvPrefix("PERCOLATOR")
		v.AutomaticEnv()

		if err := v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
			return err
		}
		if err := v.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
			return err
		}

		configPath = v.GetString("config")
		logLevel = v.GetString("log-level")

		applyLogLevel(logLevel)
		return nil
	},
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if logLevel == "" {
		applyLogLevel(cfg.Log.Level)
	}
	if cfg.Log.FilePath != "" {
		logger.UseRotatingFile(cfg.Log.FilePath, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
	}
	logger.SetRedactPII(cfg.Log.RedactPII)
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
