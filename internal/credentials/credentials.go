// Package credentials resolves the access keys a sync run signs requests with.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/openmined/s3sync/internal/utils"
)

const DefaultRegion = "us-east-1"

var ErrIncomplete = errors.New("access key and secret key are required")

type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	// Source names the provider the credentials came from.
	Source string
}

func (c Credentials) Validate() error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return ErrIncomplete
	}
	return nil
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccessKeyID: %s, Region: %s, Source: %s}", utils.MaskSecret(c.AccessKeyID), c.Region, c.Source)
}

// Provider yields a validated credential set or an auth error.
type Provider interface {
	GetActiveCredentials(ctx context.Context) (Credentials, error)
}

// StaticProvider always returns the same credentials.
type StaticProvider struct {
	Creds Credentials
}

func (p *StaticProvider) GetActiveCredentials(ctx context.Context) (Credentials, error) {
	if err := p.Creds.Validate(); err != nil {
		return Credentials{}, syncerr.Auth(err)
	}
	creds := p.Creds
	if creds.Region == "" {
		creds.Region = DefaultRegion
	}
	if creds.Source == "" {
		creds.Source = "static"
	}
	return creds, nil
}

// ChainProvider returns the first provider's credentials that resolve.
type ChainProvider struct {
	Providers []Provider
}

func NewChainProvider(providers ...Provider) *ChainProvider {
	return &ChainProvider{Providers: providers}
}

func (c *ChainProvider) GetActiveCredentials(ctx context.Context) (Credentials, error) {
	var errs []error
	for _, p := range c.Providers {
		creds, err := p.GetActiveCredentials(ctx)
		if err == nil {
			slog.Debug("credentials resolved", "source", creds.Source)
			return creds, nil
		}
		errs = append(errs, err)
	}
	return Credentials{}, syncerr.Auth(errors.Join(append([]error{syncerr.ErrNoCredentials}, errs...)...))
}
