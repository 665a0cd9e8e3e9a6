// Package cmd implements the CLI surface: a cobra root command plus
// the get/clean/search subcommands that drive internal/core.Engine.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kagesort/prdl/internal/config"
	"github.com/kagesort/prdl/internal/output"
	"github.com/kagesort/prdl/internal/utils"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile      string
	writePath    string
	maxParallel  int
	fetchDepends bool
	validateTLS  bool
	debug        bool
	searchURL    string
)

var rootCmd = &cobra.Command{
	Use:     "prdl",
	Short:   "prdl fetches game artifacts from a mirror pool with resumable, piece-verified downloads",
	Version: Version,
}

// Execute runs the CLI, exiting the process with a non-zero status on
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&writePath, "writepath", ".", "Root directory for downloaded artifacts")
	rootCmd.PersistentFlags().IntVar(&maxParallel, "max_parallel", 4, "Upper bound on per-job concurrent transfer slots")
	rootCmd.PersistentFlags().BoolVar(&fetchDepends, "fetch_depends", false, "Recursively fetch dependency artifacts before their dependents")
	rootCmd.PersistentFlags().BoolVar(&validateTLS, "validate_tls", true, "Verify TLS peer certificates on mirror connections")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&searchURL, "search_url", "", "Metadata search endpoint used to resolve dependencies and search queries")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newSearchCmd())
}

// loadConfig layers defaults, an optional config file, and any flags
// the user explicitly set on cmd, then initializes logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	utils.InitLogger(cfg.Debug)
	return cfg, nil
}

func fatal(format string, args ...any) {
	output.PrintError(fmt.Sprintf(format, args...))
	os.Exit(1)
}
