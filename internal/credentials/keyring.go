package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/zalando/go-keyring"
)

const (
	ServiceName = "s3sync"

	keyAccessKey = "aws_access_key"
	keySecretKey = "aws_secret_key"
	keyRegion    = "aws_region"
)

// KeyringProvider stores credentials in the OS keychain, one entry per field.
type KeyringProvider struct {
	service string
}

func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{service: ServiceName}
}

// Save writes all three entries.
func (k *KeyringProvider) Save(creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	region := creds.Region
	if region == "" {
		region = DefaultRegion
	}

	if err := keyring.Set(k.service, keyAccessKey, creds.AccessKeyID); err != nil {
		return fmt.Errorf("save access key: %w", err)
	}
	if err := keyring.Set(k.service, keySecretKey, creds.SecretAccessKey); err != nil {
		return fmt.Errorf("save secret key: %w", err)
	}
	if err := keyring.Set(k.service, keyRegion, region); err != nil {
		return fmt.Errorf("save region: %w", err)
	}

	slog.Info("credentials saved to keyring", "service", k.service)
	return nil
}

// Load returns whatever is stored. Missing keys are empty and a missing region
// falls back to DefaultRegion.
func (k *KeyringProvider) Load() (Credentials, error) {
	accessKey, err := k.get(keyAccessKey)
	if err != nil {
		return Credentials{}, err
	}
	secretKey, err := k.get(keySecretKey)
	if err != nil {
		return Credentials{}, err
	}
	region, err := k.get(keyRegion)
	if err != nil {
		return Credentials{}, err
	}
	if region == "" {
		region = DefaultRegion
	}

	return Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		Region:          region,
		Source:          "keyring",
	}, nil
}

// Clear removes all entries. Missing entries are not an error.
func (k *KeyringProvider) Clear() error {
	var errs []error
	for _, key := range []string{keyAccessKey, keySecretKey, keyRegion} {
		if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if len(errs) == 0 {
		slog.Info("credentials cleared from keyring", "service", k.service)
	}
	return errors.Join(errs...)
}

func (k *KeyringProvider) Has() bool {
	creds, err := k.Load()
	return err == nil && creds.Validate() == nil
}

func (k *KeyringProvider) GetActiveCredentials(ctx context.Context) (Credentials, error) {
	creds, err := k.Load()
	if err != nil {
		return Credentials{}, syncerr.Auth(err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, syncerr.Auth(fmt.Errorf("keyring: %w", err))
	}
	return creds, nil
}

func (k *KeyringProvider) get(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("keyring entry not found", "key", key)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	return v, nil
}
