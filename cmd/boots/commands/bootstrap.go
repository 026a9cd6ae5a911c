package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openboots/openboots/pkg/config"
	"github.com/openboots/openboots/pkg/installer"
	"github.com/openboots/openboots/pkg/service"
)

func newBootstrapCommand() *cobra.Command {
	var (
		repo      string
		autoStart bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Persist the deployment repo and optionally register the service",
		Long: `Write the bootstrap manifest URL into the config file so later runs
(install, service mode) pick it up without flags. With --auto-start the
Windows service is registered and started as well.`,
		Example: `  # Pin the repo for later runs
  boots bootstrap --repo https://deploy.example.com/bootstrap.json

  # Pin the repo and start the background service
  boots bootstrap --repo https://deploy.example.com/bootstrap.json --auto-start`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.RepoURL = repo

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			log.Info().Str("path", path).Str("repo", repo).Msg("bootstrap configuration saved")

			if !autoStart {
				return nil
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate own executable: %w", err)
			}
			ctrl := service.NewController(installer.NewExecRunner())
			if err := ctrl.Install(cmd.Context(), exe, "service", "--run"); err != nil {
				return err
			}
			if err := ctrl.Start(cmd.Context()); err != nil {
				return err
			}
			log.Info().Str("service", service.Name).Msg("service registered and started")
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "bootstrap manifest URL or path")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "register and start the Windows service")
	cmd.MarkFlagRequired("repo")

	return cmd
}
