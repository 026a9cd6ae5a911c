package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openboots/openboots/pkg/installer"
	"github.com/openboots/openboots/pkg/service"
	"github.com/openboots/openboots/pkg/telemetry"
)

func newServiceCommand() *cobra.Command {
	var (
		install   bool
		uninstall bool
		start     bool
		stop      bool
		queryFlag bool
		runLoop   bool
	)

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the background bootstrap service",
		Long: `Control the Windows service registration or run the service loop in
process. The loop re-triggers a bootstrap run on the configured interval and
serves Prometheus metrics and a health check over HTTP.`,
		Example: `  # Register and start the service
  boots service --install
  boots service --start

  # Run the loop in the foreground (what the registered service executes)
  boots service --run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runLoop {
				return runServiceLoop(cmd.Context())
			}

			ctrl := service.NewController(installer.NewExecRunner())
			switch {
			case install:
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("failed to locate own executable: %w", err)
				}
				return ctrl.Install(cmd.Context(), exe, "service", "--run")
			case uninstall:
				return ctrl.Uninstall(cmd.Context())
			case start:
				return ctrl.Start(cmd.Context())
			case stop:
				return ctrl.Stop(cmd.Context())
			case queryFlag:
				output, err := ctrl.Status(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(output)
				return nil
			default:
				return fmt.Errorf("pass one of --install, --uninstall, --start, --stop, --status, --run")
			}
		},
	}

	cmd.Flags().BoolVar(&install, "install", false, "register the Windows service")
	cmd.Flags().BoolVar(&uninstall, "uninstall", false, "remove the Windows service")
	cmd.Flags().BoolVar(&start, "start", false, "start the registered service")
	cmd.Flags().BoolVar(&stop, "stop", false, "stop the registered service")
	cmd.Flags().BoolVar(&queryFlag, "status", false, "query the service state")
	cmd.Flags().BoolVar(&runLoop, "run", false, "run the service loop in the foreground")
	cmd.MarkFlagsMutuallyExclusive("install", "uninstall", "start", "stop", "status", "run")

	return cmd
}

func runServiceLoop(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics(cfg.Metrics)
	run := func(ctx context.Context) (int, error) {
		result, err := executeRun(ctx, cfg, log, runOptions{metrics: metrics})
		if err != nil {
			return 1, err
		}
		return result.ExitCode, nil
	}

	listen := ""
	if cfg.Metrics.Enabled {
		listen = cfg.Metrics.Listen
	}
	svc := service.New(cfg.ServiceInterval, run, metrics, listen, log)

	err = svc.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
