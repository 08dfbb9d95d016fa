package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/client"
	"github.com/openmined/s3sync/internal/client/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newBucketsCmd())
}

func newBucketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "List the buckets the stored credentials can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			store, err := openAccountStore(cmd.Context(), cfg, "")
			if err != nil {
				return err
			}
			names, err := store.ListBuckets(cmd.Context())
			if err != nil {
				return err
			}
			renderBuckets(cmd.OutOrStdout(), names, cfg)
			return nil
		},
	}
	cmd.AddCommand(newBucketsCreateCmd())
	return cmd
}

func newBucketsCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <bucket>",
		Short: "Create a bucket in the configured region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			store, err := openAccountStore(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			if err := store.CreateBucket(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s s3://%s\n", green("created"), args[0])
			return nil
		},
	}
}

func openAccountStore(ctx context.Context, cfg *config.Config, bucket string) (*blob.S3Store, error) {
	creds, err := client.DefaultCredentials(cfg).GetActiveCredentials(ctx)
	if err != nil {
		return nil, err
	}
	return blob.OpenS3Store(ctx, client.StoreConfig(cfg, bucket, creds))
}

// renderBuckets prints names sorted, marking the ones a folder syncs to.
func renderBuckets(w io.Writer, names []string, cfg *config.Config) {
	if len(names) == 0 {
		fmt.Fprintln(w, "no buckets")
		return
	}
	used := make(map[string]bool)
	for _, f := range cfg.Folders {
		used[f.Bucket] = true
	}
	for _, name := range slices.Sorted(slices.Values(names)) {
		if used[name] {
			fmt.Fprintf(w, "%s %s\n", name, cyan("(synced)"))
			continue
		}
		fmt.Fprintln(w, name)
	}
}
