// Package client wires configuration, credentials, the remote store and run
// history into sync runs for the configured folders.
package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/client/config"
	"github.com/openmined/s3sync/internal/credentials"
	"github.com/openmined/s3sync/internal/history"
	"github.com/openmined/s3sync/internal/sync"
	"github.com/openmined/s3sync/internal/sync/scanner"
	"github.com/openmined/s3sync/internal/version"
	"github.com/spf13/afero"
)

const historyKeep = 500

type Option func(*Client)

func WithCredentials(p credentials.Provider) Option {
	return func(c *Client) { c.creds = p }
}

// WithStores uses f for every folder regardless of bucket.
func WithStores(f sync.StoreFactory) Option {
	return func(c *Client) {
		c.stores = func(string) sync.StoreFactory { return f }
	}
}

func WithFs(fs afero.Fs) Option {
	return func(c *Client) { c.fs = fs }
}

// WithHistory uses an already open history store instead of the one under
// the data dir.
func WithHistory(h *history.Store) Option {
	return func(c *Client) { c.history = h }
}

type Client struct {
	config  *config.Config
	creds   credentials.Provider
	stores  func(bucket string) sync.StoreFactory
	fs      afero.Fs
	history *history.Store
	hashes  *scanner.HashCache
	status  *sync.StatusBus
}

func New(cfg *config.Config, opts ...Option) (*Client, error) {
	c := &Client{
		config: cfg,
		status: sync.NewStatusBus(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.creds == nil {
		c.creds = DefaultCredentials(cfg)
	}
	if c.stores == nil {
		c.stores = S3Stores(cfg)
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.history == nil {
		h, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return nil, err
		}
		c.history = h
	}

	hashes, err := scanner.NewHashCache(c.history.DB())
	if err != nil {
		c.history.Close()
		return nil, fmt.Errorf("failed to create hash cache: %w", err)
	}
	c.hashes = hashes

	return c, nil
}

// S3Stores builds an S3 store per folder bucket.
func S3Stores(cfg *config.Config) func(bucket string) sync.StoreFactory {
	return func(bucket string) sync.StoreFactory {
		return func(ctx context.Context, creds credentials.Credentials) (blob.Store, error) {
			return blob.OpenS3Store(ctx, StoreConfig(cfg, bucket, creds))
		}
	}
}

// StoreConfig applies the configured region, endpoint and acceleration to
// bucket. An empty bucket is enough for account calls like ListBuckets.
func StoreConfig(cfg *config.Config, bucket string, creds credentials.Credentials) *blob.StoreConfig {
	if cfg.Region != "" {
		creds.Region = cfg.Region
	}
	return &blob.StoreConfig{
		Bucket:      bucket,
		Endpoint:    cfg.Endpoint,
		Credentials: creds,
		Accelerate:  cfg.Accelerate,
		AppID:       version.UserAgent(),
	}
}

// DefaultCredentials reads the environment (and the data dir .env) before
// the keyring.
func DefaultCredentials(cfg *config.Config) credentials.Provider {
	return credentials.NewChainProvider(
		credentials.NewEnvProvider(cfg.DotEnvPath()),
		credentials.NewKeyringProvider(),
	)
}

func (c *Client) Config() *config.Config {
	return c.config
}

func (c *Client) History() *history.Store {
	return c.history
}

func (c *Client) Status() *sync.StatusBus {
	return c.status
}

func (c *Client) Credentials() credentials.Provider {
	return c.creds
}

// NewRun prepares a coordinator for folder without starting it.
func (c *Client) NewRun(folder config.Folder, dryRun bool) (*sync.Coordinator, error) {
	opts, err := c.config.SyncOptions(folder)
	if err != nil {
		return nil, err
	}
	opts.DryRun = dryRun

	return sync.NewCoordinator(opts, sync.Deps{
		Credentials: c.creds,
		Stores:      c.stores(folder.Bucket),
		Fs:          c.fs,
		HashCache:   c.hashes,
		Archiver:    c.history,
		Status:      c.status,
	})
}

// Sync runs folder once and blocks until the run is terminal.
func (c *Client) Sync(ctx context.Context, folder config.Folder, dryRun bool) (*sync.Report, error) {
	coord, err := c.NewRun(folder, dryRun)
	if err != nil {
		return nil, err
	}
	return coord.Start(ctx)
}

func (c *Client) Close() error {
	c.status.Close()
	if err := c.history.Close(); err != nil {
		return err
	}
	slog.Debug("client closed")
	return nil
}
