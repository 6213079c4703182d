// Package commands implements the reportctl command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/report-dispatch/internal/config"
	"github.com/garyjia/report-dispatch/pkg/utils"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "reportctl",
	Short: "Build and deliver student reports from a roster",
	Long: `reportctl renders one PDF report per student in a roster (xlsx or csv),
rasterizes each report and delivers page 1 to the student's contact over Lark.
Deliveries are paced; a run with many students takes a while.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration, applying flag overrides last
func loadConfig(opts ...config.LoadOption) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logger.Level
	if verbose {
		level = "debug"
	}
	// console output; stdout is reserved for results
	return utils.NewLogger(utils.LoggerConfig{
		Level:      level,
		OutputPath: "stderr",
		Format:     "console",
		Service:    "reportctl",
	})
}
