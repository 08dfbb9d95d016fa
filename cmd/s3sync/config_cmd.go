package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/openmined/s3sync/internal/client/config"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigPathCmd(), newAddFolderCmd(), newRemoveFolderCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if path == "" {
				path = config.DefaultConfigPath
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func newAddFolderCmd() *cobra.Command {
	var folder config.Folder
	var disabled bool

	cmd := &cobra.Command{
		Use:   "add-folder <path>",
		Short: "Add a local folder to keep in sync with a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureConfigFile(resolveConfigPath(cmd)); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			folder.Path = args[0]
			if disabled {
				off := false
				folder.Enabled = &off
			}

			cfg.Folders = append(cfg.Folders, folder)
			if err := cfg.Validate(); err != nil {
				return err
			}
			added := cfg.Folders[len(cfg.Folders)-1]
			if !utils.DirExists(added.Path) {
				return fmt.Errorf("%s is not a directory", added.Path)
			}
			if added.Direction != string(diff.MirrorUpload) && !utils.IsWritable(added.Path) {
				return fmt.Errorf("%s is not writable, %s needs to write to it", added.Path, added.Direction)
			}
			if err := cfg.Save(""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> s3://%s/%s (%s)\n", green("added"), added.Path, added.Bucket, added.Prefix, added.Direction)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&folder.Bucket, "bucket", "b", "", "target bucket")
	cmd.Flags().StringVarP(&folder.Prefix, "prefix", "p", "", "key prefix inside the bucket")
	cmd.Flags().StringVarP(&folder.Direction, "direction", "d", "mirror-upload", "mirror-upload, mirror-download or bidirectional")
	cmd.Flags().BoolVar(&folder.DeleteEnabled, "delete", false, "propagate deletions")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add without scheduling it")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}

func newRemoveFolderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-folder <path>",
		Short: "Stop syncing a folder. Nothing is deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f, err := cfg.FindFolder(args[0])
			if err != nil {
				return err
			}
			cfg.Folders = slices.DeleteFunc(cfg.Folders, func(c config.Folder) bool { return c.Path == f.Path })
			if err := cfg.Save(""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("removed"), f.Path)
			return nil
		},
	}
}

// ensureConfigFile creates an empty config at an explicitly chosen path so the
// first add-folder can write to it.
func ensureConfigFile(path string) error {
	if path == "" || utils.FileExists(path) {
		return nil
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("{}\n"), 0o644)
}
