package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openboots/openboots/pkg/engine"
)

func newInstallCommand() *cobra.Command {
	var (
		repo            string
		phase           string
		dryRun          bool
		continueOnError bool
		gateUserland    bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Run the bootstrap engine",
		Long: `Resolve the bootstrap manifest and install its packages, walking the
setupassistant phase and then the userland phase. Individual package
failures are logged and the run continues; the command exits non-zero only
on structural failures such as an unreachable manifest or an aborted phase.`,
		Example: `  # Run both phases against the configured repo
  boots install

  # Run one phase against an explicit repo
  boots install --repo https://deploy.example.com/bootstrap.json --phase userland

  # Show what would be installed without touching the machine
  boots install --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if repo != "" {
				cfg.RepoURL = repo
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			opts := runOptions{phase: phase, dryRun: dryRun}
			if cmd.Flags().Changed("continue-on-error") {
				opts.continueOnError = &continueOnError
			}
			if cmd.Flags().Changed("gate-userland") {
				opts.gateUserland = &gateUserland
			}

			result, err := executeRun(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printRunSummary(result)
			}

			if result.ExitCode != 0 {
				return fmt.Errorf("bootstrap run failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "bootstrap manifest URL or path")
	cmd.Flags().StringVar(&phase, "phase", "", "run only one phase (setupassistant or userland)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate conditions and log decisions without installing")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "keep a phase running after a required package fails")
	cmd.Flags().BoolVar(&gateUserland, "gate-userland", false, "skip userland when setupassistant failed")

	return cmd
}

func printRunSummary(result engine.RunResult) {
	for _, ph := range result.Phases {
		fmt.Printf("%s: %s\n", ph.Phase, ph.Stage)
		for _, p := range ph.Packages {
			line := fmt.Sprintf("  %-30s %s", p.Name, p.Outcome)
			if p.Reason != "" {
				line += " (" + p.Reason + ")"
			}
			fmt.Println(line)
		}
	}
}
