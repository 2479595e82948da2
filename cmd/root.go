package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/config"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "ocs-answerer",
	Short: "Answer resolution service for OCS quiz clients",
	Long:  "Resolves quiz questions through cache, stored answers, a manual bank, remote question banks and an AI fallback, and serves them over the OCS search API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded", zap.String("file", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
