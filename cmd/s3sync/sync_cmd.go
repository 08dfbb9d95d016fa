package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/openmined/s3sync/internal/client"
	"github.com/openmined/s3sync/internal/client/config"
	"github.com/openmined/s3sync/internal/sync"
	"github.com/openmined/s3sync/internal/sync/transfer"
	"github.com/spf13/cobra"
)

var errActionsFailed = errors.New("some actions failed")

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var dryRun, asJSON bool

	cmd := &cobra.Command{
		Use:   "sync [folder...]",
		Short: "Sync the given folders once, or every enabled folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(cmd)
			if err != nil {
				return err
			}
			folders, err := selectFolders(cfg, args)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if !asJSON {
				stop := renderProgress(cmd.ErrOrStderr(), c.Status())
				defer stop()
			}

			var reports []*sync.Report
			var runErr error
			for _, folder := range folders {
				report, err := c.Sync(cmd.Context(), folder, dryRun)
				if report != nil {
					reports = append(reports, report)
					if !asJSON {
						printReport(out, report)
					}
				}
				if err != nil {
					runErr = errors.Join(runErr, fmt.Errorf("%s: %w", folder.Path, err))
				} else if len(report.Failed) > 0 {
					runErr = errors.Join(runErr, fmt.Errorf("%s: %w", folder.Path, errActionsFailed))
				}
				if cmd.Context().Err() != nil {
					break
				}
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "plan only, transfer nothing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run reports as JSON")
	cmd.Flags().Int("concurrency", 0, "parallel transfers (overrides config)")
	return cmd
}

// selectFolders returns the named folders, or every enabled folder when
// names is empty.
func selectFolders(cfg *config.Config, names []string) ([]config.Folder, error) {
	if len(names) == 0 {
		folders := cfg.EnabledFolders()
		if len(folders) == 0 {
			return nil, errors.New("all folders are disabled")
		}
		return folders, nil
	}
	folders := make([]config.Folder, 0, len(names))
	for _, name := range names {
		f, err := cfg.FindFolder(name)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, nil
}

// renderProgress prints one line per finished action until stop is called.
func renderProgress(w io.Writer, bus *sync.StatusBus) (stop func()) {
	events := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if line := progressLine(ev); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}()
	return func() {
		bus.Unsubscribe(events)
		<-done
	}
}

func progressLine(ev *sync.StatusEvent) string {
	if ev.Progress == nil {
		if ev.State.Terminal() {
			return ""
		}
		return cyan("==> ") + string(ev.State) + " " + ev.Folder
	}
	p := ev.Progress
	switch p.State {
	case transfer.StateCompleted:
		size := ""
		if p.BytesTotal > 0 {
			size = " " + humanize.Bytes(uint64(p.BytesTotal))
		}
		return fmt.Sprintf("  %s %-13s %s%s", green("✓"), p.Kind, p.Path, size)
	case transfer.StateFailed:
		return fmt.Sprintf("  %s %-13s %s: %s", red("✗"), p.Kind, p.Path, p.Reason)
	}
	return ""
}

func printReport(w io.Writer, r *sync.Report) {
	state := green(string(r.State))
	if r.State != sync.StateCompleted {
		state = red(string(r.State))
	}
	fmt.Fprintf(w, "\n%s %s -> s3://%s/%s\n", cyan(r.Folder), r.Direction, r.Bucket, r.Prefix)
	fmt.Fprintf(w, "  state      %s", state)
	if r.DryRun {
		fmt.Fprint(w, " (dry run)")
	}
	fmt.Fprintln(w)
	if r.Error != "" {
		fmt.Fprintf(w, "  error      %s\n", r.Error)
	}
	fmt.Fprintf(w, "  files      %d local, %d remote\n", r.LocalFiles, r.RemoteFiles)
	if r.DryRun {
		fmt.Fprintf(w, "  planned    %d actions, %s\n", len(r.Actions), humanize.Bytes(uint64(r.BytesTotal)))
	} else {
		fmt.Fprintf(w, "  succeeded  %d\n", len(r.Succeeded))
		fmt.Fprintf(w, "  moved      %s in %s\n", humanize.Bytes(uint64(r.BytesMoved)), r.Duration().Round(time.Millisecond))
		if r.Retries > 0 {
			fmt.Fprintf(w, "  retries    %d\n", r.Retries)
		}
	}
	fmt.Fprintf(w, "  skipped    %d\n", len(r.Skipped))
	if len(r.Failed) > 0 {
		fmt.Fprintf(w, "  failed     %s\n", red(len(r.Failed)))
		for _, p := range sortedKeys(r.Failed) {
			fmt.Fprintf(w, "    %s: %s\n", p, r.Failed[p])
		}
	}
	if len(r.NotStarted) > 0 {
		fmt.Fprintf(w, "  not started %d\n", len(r.NotStarted))
	}
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
