// Package config loads and validates the s3sync configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/mitchellh/go-homedir"
	"github.com/openmined/s3sync/internal/sync"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/filter"
	"github.com/openmined/s3sync/internal/sync/transfer"
	"github.com/openmined/s3sync/internal/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix      = "S3SYNC"
	configFileName = "config"
)

var (
	home, _            = homedir.Dir()
	DefaultDataDir     = filepath.Join(home, ".s3sync")
	DefaultConfigPath  = filepath.Join(DefaultDataDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultDataDir, "logs", "s3sync.log")
)

var (
	ErrNoFolders      = errors.New("no folders configured")
	ErrFolderNotFound = errors.New("folder not configured")
)

type Folder struct {
	Path          string `mapstructure:"path" json:"path" yaml:"path"`
	Bucket        string `mapstructure:"bucket" json:"bucket" yaml:"bucket"`
	Prefix        string `mapstructure:"prefix" json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Direction     string `mapstructure:"direction" json:"direction,omitempty" yaml:"direction,omitempty"`
	DeleteEnabled bool   `mapstructure:"delete_enabled" json:"delete_enabled,omitempty" yaml:"delete_enabled,omitempty"`
	// Enabled defaults to true when unset.
	Enabled *bool `mapstructure:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func (f Folder) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

type Filter struct {
	Include []string `mapstructure:"include" json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `mapstructure:"exclude" json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// Extensions is a list like "txt,md,!tmp".
	Extensions string `mapstructure:"extensions" json:"extensions,omitempty" yaml:"extensions,omitempty"`
	MinSize    string `mapstructure:"min_size" json:"min_size,omitempty" yaml:"min_size,omitempty"`
	MaxSize    string `mapstructure:"max_size" json:"max_size,omitempty" yaml:"max_size,omitempty"`
	IgnoreFile string `mapstructure:"ignore_file" json:"ignore_file,omitempty" yaml:"ignore_file,omitempty"`
}

type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	Base        time.Duration `mapstructure:"base" json:"base" yaml:"base"`
	Factor      float64       `mapstructure:"factor" json:"factor" yaml:"factor"`
	Max         time.Duration `mapstructure:"max" json:"max" yaml:"max"`
}

type Config struct {
	DataDir  string   `mapstructure:"data_dir" json:"data_dir" yaml:"data_dir"`
	Region   string   `mapstructure:"region" json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string   `mapstructure:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Folders  []Folder `mapstructure:"folders" json:"folders" yaml:"folders"`
	Filter   Filter   `mapstructure:"filter" json:"filter" yaml:"filter"`

	// Accelerate uses S3 Transfer Acceleration. AWS only.
	Accelerate bool `mapstructure:"accelerate" json:"accelerate,omitempty" yaml:"accelerate,omitempty"`

	// BandwidthLimit is bytes per second in humanized form ("2MB"). Empty is unlimited.
	BandwidthLimit     string        `mapstructure:"bandwidth_limit" json:"bandwidth_limit,omitempty" yaml:"bandwidth_limit,omitempty"`
	Concurrency        int           `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	HashConcurrency    int           `mapstructure:"hash_concurrency" json:"hash_concurrency" yaml:"hash_concurrency"`
	Retry              Retry         `mapstructure:"retry" json:"retry" yaml:"retry"`
	ClockSkewTolerance time.Duration `mapstructure:"clock_skew_tolerance" json:"clock_skew_tolerance" yaml:"clock_skew_tolerance"`
	MultipartThreshold string        `mapstructure:"multipart_threshold" json:"multipart_threshold" yaml:"multipart_threshold"`
	PartSize           string        `mapstructure:"part_size" json:"part_size" yaml:"part_size"`
	OpTimeout          time.Duration `mapstructure:"op_timeout" json:"op_timeout" yaml:"op_timeout"`

	// SyncInterval is in minutes. Zero means manual sync only.
	SyncInterval int  `mapstructure:"sync_interval" json:"sync_interval" yaml:"sync_interval"`
	Watch        bool `mapstructure:"watch" json:"watch" yaml:"watch"`

	Path string `mapstructure:"-" json:"-" yaml:"-"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	retry := transfer.DefaultRetryPolicy()
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("concurrency", 4)
	v.SetDefault("hash_concurrency", 2)
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.base", retry.Base)
	v.SetDefault("retry.factor", retry.Factor)
	v.SetDefault("retry.max", retry.Max)
	v.SetDefault("clock_skew_tolerance", diff.DefaultTolerance)
	v.SetDefault("multipart_threshold", humanize.IBytes(transfer.DefaultMultipartThreshold))
	v.SetDefault("part_size", humanize.IBytes(transfer.DefaultPartSize))
	v.SetDefault("op_timeout", 5*time.Minute)
	v.SetDefault("sync_interval", 0)
}

// Load reads the config file into v, overlays S3SYNC_* variables and any flags
// already bound to v, and returns the validated result. A missing file is not
// an error when path is empty.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultDataDir)
		v.AddConfigPath(filepath.Join(home, ".config", "s3sync"))
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	if cfg.Path == "" {
		cfg.Path = path
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfigPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate resolves paths and checks every folder and size setting.
func (c *Config) Validate() error {
	var err error

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if c.Accelerate && c.Endpoint != "" {
		return errors.New("accelerate is not available with a custom endpoint")
	}

	seen := make(map[string]struct{}, len(c.Folders))
	for i := range c.Folders {
		f := &c.Folders[i]
		if f.Path == "" {
			return fmt.Errorf("folder %d: path is required", i)
		}
		if f.Path, err = utils.ResolvePath(f.Path); err != nil {
			return fmt.Errorf("folder %d: %w", i, err)
		}
		if f.Bucket == "" {
			return fmt.Errorf("folder %s: bucket is required", f.Path)
		}
		if _, dup := seen[f.Path]; dup {
			return fmt.Errorf("folder %s: configured twice", f.Path)
		}
		seen[f.Path] = struct{}{}

		dir, err := diff.ParseDirection(f.Direction)
		if err != nil {
			return fmt.Errorf("folder %s: %w", f.Path, err)
		}
		f.Direction = string(dir)
		f.Prefix = strings.Trim(f.Prefix, "/")
	}

	if _, err := parseBytes(c.BandwidthLimit); err != nil {
		return fmt.Errorf("bandwidth limit: %w", err)
	}
	if _, err := parseBytes(c.MultipartThreshold); err != nil {
		return fmt.Errorf("multipart threshold: %w", err)
	}
	if _, err := parseBytes(c.PartSize); err != nil {
		return fmt.Errorf("part size: %w", err)
	}
	if _, err := c.filterSpec(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync interval must not be negative")
	}
	if c.Retry.Factor != 0 && c.Retry.Factor < 1 {
		return fmt.Errorf("retry factor must be at least 1")
	}

	return nil
}

func (c *Config) Save(path string) error {
	if path == "" {
		path = c.Path
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// YAML renders the effective configuration for display.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

func (c *Config) DotEnvPath() string {
	return filepath.Join(c.DataDir, ".env")
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Minute
}

// EnabledFolders returns the folders the daemon schedules.
func (c *Config) EnabledFolders() []Folder {
	var out []Folder
	for _, f := range c.Folders {
		if f.IsEnabled() {
			out = append(out, f)
		}
	}
	return out
}

// FindFolder matches path against the configured folders after resolving it.
func (c *Config) FindFolder(path string) (Folder, error) {
	if len(c.Folders) == 0 {
		return Folder{}, ErrNoFolders
	}
	resolved, err := utils.ResolvePath(path)
	if err != nil {
		return Folder{}, err
	}
	for _, f := range c.Folders {
		if f.Path == resolved {
			return f, nil
		}
	}
	return Folder{}, fmt.Errorf("%w: %s", ErrFolderNotFound, resolved)
}

// SyncOptions builds the per-run options for f.
func (c *Config) SyncOptions(f Folder) (sync.Options, error) {
	spec, err := c.filterSpec()
	if err != nil {
		return sync.Options{}, err
	}
	dir, err := diff.ParseDirection(f.Direction)
	if err != nil {
		return sync.Options{}, err
	}
	bandwidth, _ := parseBytes(c.BandwidthLimit)
	threshold, _ := parseBytes(c.MultipartThreshold)
	partSize, _ := parseBytes(c.PartSize)

	return sync.Options{
		LocalRoot:       f.Path,
		Bucket:          f.Bucket,
		Prefix:          f.Prefix,
		Direction:       dir,
		DeleteEnabled:   f.DeleteEnabled,
		Tolerance:       c.ClockSkewTolerance,
		Filter:          spec,
		IgnoreFile:      c.Filter.IgnoreFile,
		HashConcurrency: c.HashConcurrency,
		Transfer: transfer.Options{
			Concurrency:    c.Concurrency,
			BandwidthLimit: bandwidth,
			Retry: transfer.RetryPolicy{
				MaxAttempts: c.Retry.MaxAttempts,
				Base:        c.Retry.Base,
				Factor:      c.Retry.Factor,
				Max:         c.Retry.Max,
			},
			OpTimeout:          c.OpTimeout,
			MultipartThreshold: threshold,
			PartSize:           partSize,
		},
		LockDir: c.LockDir(),
	}, nil
}

func (c *Config) filterSpec() (filter.Spec, error) {
	spec := filter.Spec{
		Include: c.Filter.Include,
		Exclude: c.Filter.Exclude,
	}
	if c.Filter.Extensions != "" {
		ext, err := filter.ParseExtensions(c.Filter.Extensions)
		if err != nil {
			return filter.Spec{}, err
		}
		spec = spec.Merge(ext)
	}
	if c.Filter.MinSize != "" {
		n, err := parseBytes(c.Filter.MinSize)
		if err != nil {
			return filter.Spec{}, fmt.Errorf("min size: %w", err)
		}
		spec.MinSize = &n
	}
	if c.Filter.MaxSize != "" {
		n, err := parseBytes(c.Filter.MaxSize)
		if err != nil {
			return filter.Spec{}, fmt.Errorf("max size: %w", err)
		}
		spec.MaxSize = &n
	}
	if spec.MinSize != nil && spec.MaxSize != nil && *spec.MinSize > *spec.MaxSize {
		return filter.Spec{}, fmt.Errorf("min size %d exceeds max size %d", *spec.MinSize, *spec.MaxSize)
	}
	if _, err := filter.New(spec); err != nil {
		return filter.Spec{}, err
	}
	return spec, nil
}

// parseBytes accepts "", plain numbers and humanized sizes ("2MB", "8 MiB").
func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
