package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/openmined/s3sync/internal/client"
	"github.com/openmined/s3sync/internal/client/config"
	"github.com/openmined/s3sync/internal/utils"
	"github.com/openmined/s3sync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const banner = `
     _____
 ___|___ / ___ _   _ _ __   ___
/ __| |_ \/ __| | | | '_ \ / __|
\__ \___) \__ \ |_| | | | | (__
|___/____/|___/\__, |_| |_|\___|
               |___/            `

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var logLevel = new(slog.LevelVar)

const maxLogBytes = 10 << 20

var rootCmd = &cobra.Command{
	Use:     "s3sync",
	Short:   "Keep local folders in sync with S3 buckets",
	Version: version.Detailed(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			logLevel.Set(slog.LevelDebug)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		c, err := client.New(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		defer slog.Info("Bye!")
		return client.NewDaemon(c).Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().IntP("interval", "i", 0, "minutes between scheduled syncs, 0 syncs once and exits unless --watch")
	rootCmd.Flags().BoolP("watch", "w", false, "sync when files change")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
}

func main() {
	file, err := utils.OpenLogFile(config.DefaultLogFilePath, maxLogBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	// stderr keeps stdout clean for --json output
	slog.SetDefault(utils.NewLogger(utils.LogOptions{
		Console: os.Stderr,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		Level:   logLevel,
		File:    file,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file through the global viper instance after
// binding whichever of the command's flags map to config keys.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.GetViper()
	for key, flag := range map[string]string{
		"sync_interval": "interval",
		"watch":         "watch",
		"concurrency":   "concurrency",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg, err := config.Load(v, resolveConfigPath(cmd))
	if err != nil {
		return nil, err
	}
	slog.Debug("config loaded", "path", cfg.Path, "folders", len(cfg.Folders))
	return cfg, nil
}

// resolveConfigPath honours, in order, the --config flag, S3SYNC_CONFIG_PATH,
// an existing file in a known location. Empty lets the loader search.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if env := os.Getenv(config.EnvPrefix + "_CONFIG_PATH"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	for _, candidate := range []string{
		config.DefaultConfigPath,
		filepath.Join(home, ".config", "s3sync", "config.json"),
	} {
		if utils.FileExists(candidate) {
			return candidate
		}
	}
	return ""
}

// requireConfig is loadConfig for commands that need at least one folder.
func requireConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if len(cfg.Folders) == 0 {
		return nil, errors.Join(config.ErrNoFolders, fmt.Errorf("add one with `s3sync config add-folder`"))
	}
	return cfg, nil
}

func showHeader() {
	fmt.Fprintln(os.Stderr, cyan(banner))
}
