// Package commands implements the boots CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openboots/openboots/pkg/config"
	"github.com/openboots/openboots/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	repoURL    string
	force      bool
	verbose    bool
	jsonOutput bool
)

// engineVersion is the build version, recorded into status rows.
var engineVersion = "dev"

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	engineVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "boots",
		Short: "OpenBoots - Windows first-boot software bootstrap engine",
		Long: `OpenBoots installs an organization's software baseline during Windows
out-of-box setup. It resolves a bootstrap manifest from a deployment server,
then walks two phases in order: setupassistant (before first login) and
userland (after first login), installing MSI, EXE, PowerShell, and
Chocolatey packages.

Progress is persisted per phase so MDM detection scripts can poll it, and
every package payload is cached locally so repeated runs are idempotent.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&repoURL, "url", "", "bootstrap manifest URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "purge the download cache and re-download everything")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newBootstrapCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newServiceCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

// loadConfig resolves the effective configuration for this invocation,
// applying the global flag overrides on top of file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if repoURL != "" {
		cfg.RepoURL = repoURL
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(cfg.Logging)
}
