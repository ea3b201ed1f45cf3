package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hochfrequenz/sim-topup/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "sim-topup",
		Short: "SIM top-up automation - Replenishes phone balances through a bank app",
		Long: `sim-topup drives a bank app on connected Android devices over adb to top up
the balance of SIM cards queued in a local job database. Every connected
device runs its own worker; failures are recorded with a UI dump for
inspection.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			logger, err = newLogger(cfg.Log, verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// newLogger builds a console (development) or json (production) logger
func newLogger(lc config.LogConfig, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if strings.EqualFold(lc.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zapcore.InfoLevel
	if lc.Level != "" {
		parsed, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
