// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docguard/internal/apperr"
	"docguard/internal/config"
	"docguard/internal/engine"
	"docguard/internal/observability"
	"docguard/internal/version"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Global flags
var (
	configFile string
	cacheRoot  string
	debug      bool
	verbose    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "docguard",
	Short: "Sensitive data detection with per-application run aggregation",
	Long: `docguard scans documents for PII, financial data, secrets and sensitive
topics, labels every finding with a confidence level, and folds each scan
run into per-application metadata under the cache root.`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !isTerminal(os.Stdout) {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&cacheRoot, "cache-root", "", "override the cache root directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable structured logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.SetVersionTemplate(version.Info() + "\n")

	rootCmd.AddCommand(scanCmd, reportCmd, appsCmd, resetCmd, serveCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto process exit codes
func exitCode(err error) int {
	kind, ok := apperr.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case apperr.KindValidation:
		return 2
	case apperr.KindConfig:
		return 3
	case apperr.KindPersistence:
		return 4
	case apperr.KindReport:
		return 5
	default:
		return 1
	}
}

// newObserver picks the log level from the global flags
func newObserver() *observability.Observer {
	switch {
	case debug:
		return observability.NewObserver(observability.ObservabilityDebug, os.Stderr)
	case verbose:
		return observability.NewObserver(observability.ObservabilityMetrics, os.Stderr)
	default:
		return observability.Nop()
	}
}

// loadConfig reads --config, or the first configuration file found in the
// standard locations, over the defaults
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, apperr.Config("cli.load_config", path, err)
	}
	if cacheRoot != "" {
		cfg.CacheRoot = cacheRoot
	}
	return cfg, nil
}

// newEngine builds the engine from the global flags
func newEngine(observer *observability.Observer) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, engine.WithObserver(observer))
}

// isTerminal checks if the file descriptor is a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
