package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/client"
	"github.com/openmined/s3sync/internal/client/config"
	"github.com/openmined/s3sync/internal/credentials"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
}

func newLoginCmd() *cobra.Command {
	var accessKey, secretKey, region string
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store S3 credentials in the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			keyring := credentials.NewKeyringProvider()
			submit := func(creds credentials.Credentials) error {
				if creds.Region == "" {
					creds.Region = cfg.Region
				}
				if !skipVerify {
					if err := verifyCredentials(cmd.Context(), cfg, creds, s3Checker(cfg, creds)); err != nil {
						return err
					}
				}
				return keyring.Save(creds)
			}

			if accessKey != "" || secretKey != "" {
				if err := submit(credentials.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Region: region}); err != nil {
					return err
				}
			} else {
				if !isatty.IsTerminal(os.Stdin.Fd()) {
					return errors.New("not a terminal, pass --access-key and --secret-key")
				}
				note := ""
				if keyring.Has() {
					note = "Credentials are already stored. Submitting replaces them."
				}
				if err := RunLoginTUI(LoginTUIOpts{
					ConfigPath:    cfg.Path,
					Endpoint:      cfg.Endpoint,
					Region:        region,
					Note:          note,
					SubmitHandler: submit,
				}); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), green("Credentials saved"))
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVar(&accessKey, "access-key", "", "access key id")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "secret access key")
	cmd.Flags().StringVar(&region, "region", "", "bucket region (default "+credentials.DefaultRegion+")")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "store without checking the configured buckets")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored S3 credentials from the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := credentials.NewKeyringProvider().Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("Logged out"))
			return nil
		},
	}
}

// bucketChecker is the part of the S3 API login uses to check credentials.
type bucketChecker interface {
	HeadBucket(ctx context.Context) error
	ListBuckets(ctx context.Context) ([]string, error)
}

// s3Checker opens a real store for bucket with creds.
func s3Checker(cfg *config.Config, creds credentials.Credentials) func(ctx context.Context, bucket string) (bucketChecker, error) {
	return func(ctx context.Context, bucket string) (bucketChecker, error) {
		store, err := blob.OpenS3Store(ctx, client.StoreConfig(cfg, bucket, creds))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// verifyCredentials checks that creds can reach every configured bucket, or
// list buckets when no folder is configured yet.
func verifyCredentials(ctx context.Context, cfg *config.Config, creds credentials.Credentials, open func(context.Context, string) (bucketChecker, error)) error {
	if _, err := (&credentials.StaticProvider{Creds: creds}).GetActiveCredentials(ctx); err != nil {
		return err
	}

	if len(cfg.Folders) == 0 {
		p, err := open(ctx, "")
		if err != nil {
			return err
		}
		if _, err := p.ListBuckets(ctx); err != nil {
			return fmt.Errorf("list buckets: %w", err)
		}
		return nil
	}

	checked := make(map[string]bool)
	for _, f := range cfg.Folders {
		if checked[f.Bucket] {
			continue
		}
		checked[f.Bucket] = true
		p, err := open(ctx, f.Bucket)
		if err != nil {
			return err
		}
		if err := p.HeadBucket(ctx); err != nil {
			return fmt.Errorf("bucket %s: %w", f.Bucket, err)
		}
	}
	return nil
}
