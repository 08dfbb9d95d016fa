package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/openmined/s3sync/internal/client"
	"github.com/openmined/s3sync/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPlanCmd())
}

func newPlanCmd() *cobra.Command {
	var showSkips bool

	cmd := &cobra.Command{
		Use:   "plan [folder...]",
		Short: "Show what a sync would do without transferring anything",
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

			for _, folder := range folders {
				report, err := c.Sync(cmd.Context(), folder, true)
				if err != nil {
					return fmt.Errorf("%s: %w", folder.Path, err)
				}
				renderPlan(cmd.OutOrStdout(), report, showSkips)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSkips, "skips", false, "also list skipped paths")
	return cmd
}

func renderPlan(w io.Writer, r *sync.Report, showSkips bool) {
	fmt.Fprintf(w, "%s -> s3://%s/%s (%s)\n", cyan(r.Folder), r.Bucket, r.Prefix, r.Direction)
	if len(r.Actions) == 0 && !showSkips {
		fmt.Fprintf(w, "%s, %d paths skipped\n\n", green("up to date"), len(r.Skipped))
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Action", "Path", "Size", "Reason"})
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

	for _, a := range r.Actions {
		size := "-"
		if a.Size > 0 {
			size = humanize.Bytes(uint64(a.Size))
		}
		table.Append([]string{a.Kind, a.Path, size, a.Reason})
	}
	if showSkips {
		for _, path := range sortedKeys(r.Skipped) {
			table.Append([]string{"skip", path, "-", r.Skipped[path]})
		}
	}
	table.Render()

	fmt.Fprintf(w, "\n%d actions, %s to transfer, %d skipped\n\n", len(r.Actions), humanize.Bytes(uint64(r.BytesTotal)), len(r.Skipped))
}
