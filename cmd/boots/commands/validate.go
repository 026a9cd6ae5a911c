package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openboots/openboots/pkg/manifest"
)

func newValidateCommand() *cobra.Command {
	var (
		repo      string
		checkURLs bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Fetch and validate a bootstrap manifest",
		Long: `Resolve the manifest, validate its structure, and print the packages per
phase. Exits zero iff the manifest is retrievable and well-formed. With
--check-urls each package URL is probed for reachability; probe failures
are reported but do not fail validation.`,
		Example: `  # Validate the configured repo
  boots validate

  # Validate a local manifest file and probe its URLs
  boots validate --repo ./bootstrap.yaml --check-urls`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if repo != "" {
				cfg.RepoURL = repo
			}
			if cfg.RepoURL == "" {
				return fmt.Errorf("no bootstrap URL configured, pass --repo")
			}

			client := manifest.NewClient()
			m, err := client.Fetch(cmd.Context(), cfg.RepoURL)
			if err != nil {
				return fmt.Errorf("manifest validation failed: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(m); err != nil {
					return err
				}
			} else {
				printManifest(m)
			}

			if checkURLs {
				for _, probeErr := range client.CheckURLs(cmd.Context(), m) {
					fmt.Fprintf(os.Stderr, "warning: %v\n", probeErr)
				}
			}

			fmt.Printf("manifest OK: %d packages\n", m.Total())
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "bootstrap manifest URL or path")
	cmd.Flags().BoolVar(&checkURLs, "check-urls", false, "probe each package URL for reachability")

	return cmd
}

func printManifest(m *manifest.Manifest) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tNAME\tTYPE\tREQUIRED\tCONDITION")
	for _, phase := range manifest.Phases() {
		for _, p := range m.Packages(phase) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
				phase, p.Name, p.InstallerType(), p.IsRequired(), p.Condition)
		}
	}
	w.Flush()
}
