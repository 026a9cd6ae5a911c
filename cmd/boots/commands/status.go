package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openboots/openboots/pkg/fetcher"
	"github.com/openboots/openboots/pkg/manifest"
	"github.com/openboots/openboots/pkg/status"
)

func newStatusCommand() *cobra.Command {
	var (
		clear      bool
		clearCache bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bootstrap phase statuses",
		Long: `Print the persisted per-phase status records. With --watch the command
follows the status mirror and reprints on every change until interrupted.`,
		Example: `  # Show current phase statuses
  boots status

  # Machine-readable output for detection scripts
  boots status --json

  # Follow a run in progress
  boots status --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			if clearCache {
				f, err := fetcher.New(cfg.CacheDir, log.Component("fetcher"))
				if err != nil {
					return err
				}
				if err := f.Purge(); err != nil {
					return err
				}
				fmt.Println("download cache cleared")
			}

			store, err := status.NewSQLiteStore(cfg.DatabasePath(), cfg.MirrorPath(), log)
			if err != nil {
				return err
			}
			defer store.Close()

			if clear {
				if err := store.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("statuses cleared")
				return nil
			}

			if watch {
				updates, err := status.NewMirror(cfg.MirrorPath()).Watch(cmd.Context())
				if err != nil {
					return err
				}
				for snap := range updates {
					printStatuses(snap)
				}
				return nil
			}

			all, err := store.AllStatuses(cmd.Context())
			if err != nil {
				return err
			}
			printStatuses(all)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "remove all status records")
	cmd.Flags().BoolVar(&clearCache, "clear-cache", false, "purge the download cache")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow status changes until interrupted")

	return cmd
}

func printStatuses(all map[manifest.Phase]status.InstallationStatus) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(all)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tSTAGE\tSTARTED\tCOMPLETED\tEXIT\tERROR")
	for _, phase := range manifest.Phases() {
		st, ok := all[phase]
		if !ok {
			fmt.Fprintf(w, "%s\t%s\t\t\t\t\n", phase, status.StageNotStarted)
			continue
		}
		completed := ""
		if st.CompletionTime != nil {
			completed = st.CompletionTime.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			phase, st.Stage, st.StartTime.Format("2006-01-02 15:04:05"),
			completed, st.ExitCode, st.LastError)
	}
	w.Flush()
}
