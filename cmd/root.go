package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bcdatalab/equitymap/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "equitymap",
	Short: "BC employer equity explorer",
	Long:  "Maps BC's employer equity roster by municipality: resolves coordinates through Nominatim into a durable cache, serves the filterable map API, and manages overrides and district boundaries.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
