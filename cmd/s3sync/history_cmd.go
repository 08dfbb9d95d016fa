package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/openmined/s3sync/internal/history"
	"github.com/openmined/s3sync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newHistoryCmd())
}

func newHistoryCmd() *cobra.Command {
	var limit int
	var folder string

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent sync runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if !utils.FileExists(cfg.HistoryPath()) {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded yet")
				return nil
			}
			h, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer h.Close()

			if len(args) == 1 {
				e, err := h.Get(cmd.Context(), args[0])
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("no run with id %s", args[0])
				} else if err != nil {
					return err
				}
				renderHistoryEntry(cmd.OutOrStdout(), e)
				return nil
			}

			if folder != "" {
				if folder, err = utils.ResolvePath(folder); err != nil {
					return err
				}
			}
			entries, err := h.Recent(cmd.Context(), folder, limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), entries, time.Now())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of runs to show")
	cmd.Flags().StringVarP(&folder, "folder", "f", "", "only runs of this folder")
	return cmd
}

func renderHistory(w io.Writer, entries []*history.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no runs recorded yet")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Started", "Folder", "State", "OK", "Failed", "Moved", "Took"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.SetAutoWrapText(false)

	for _, e := range entries {
		state := e.State
		if e.DryRun {
			state += " (dry)"
		}
		table.Append([]string{
			shortID(e.ID),
			humanize.RelTime(e.StartedAt, now, "ago", "from now"),
			e.Folder,
			state,
			strconv.Itoa(e.Succeeded),
			strconv.Itoa(e.Failed),
			humanize.Bytes(uint64(e.BytesMoved)),
			e.Duration().Round(time.Millisecond).String(),
		})
	}
	table.Render()
}

func renderHistoryEntry(w io.Writer, e *history.Entry) {
	fmt.Fprintf(w, "run        %s\n", e.ID)
	fmt.Fprintf(w, "folder     %s -> s3://%s/%s (%s)\n", e.Folder, e.Bucket, e.Prefix, e.Direction)
	fmt.Fprintf(w, "state      %s\n", e.State)
	if e.Error != "" {
		fmt.Fprintf(w, "error      %s\n", e.Error)
	}
	fmt.Fprintf(w, "started    %s\n", e.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "took       %s\n", e.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "succeeded  %d\n", e.Succeeded)
	fmt.Fprintf(w, "skipped    %d\n", e.Skipped)
	fmt.Fprintf(w, "retries    %d\n", e.Retries)
	fmt.Fprintf(w, "moved      %s\n", humanize.Bytes(uint64(e.BytesMoved)))
	fmt.Fprintf(w, "failed     %d\n", e.Failed)
	for _, p := range sortedKeys(e.FailedPaths) {
		fmt.Fprintf(w, "  %s: %s\n", p, e.FailedPaths[p])
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
