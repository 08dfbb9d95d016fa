package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/openmined/s3sync/internal/sync/syncerr"
)

// EnvProvider reads the standard AWS variables, optionally seeded from a
// dotenv file. Variables already set in the process take precedence.
type EnvProvider struct {
	DotEnvPath string
	lookup     func(string) (string, bool)
}

func NewEnvProvider(dotEnvPath string) *EnvProvider {
	return &EnvProvider{DotEnvPath: dotEnvPath, lookup: os.LookupEnv}
}

func (e *EnvProvider) GetActiveCredentials(ctx context.Context) (Credentials, error) {
	vars := map[string]string{}
	if e.DotEnvPath != "" {
		if fileVars, err := godotenv.Read(e.DotEnvPath); err == nil {
			vars = fileVars
		} else if !os.IsNotExist(err) {
			return Credentials{}, syncerr.Auth(fmt.Errorf("read %s: %w", e.DotEnvPath, err))
		}
	}

	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := e.lookup(k); ok && v != "" {
				return v
			}
		}
		for _, k := range keys {
			if v := vars[k]; v != "" {
				return v
			}
		}
		return ""
	}

	creds := Credentials{
		AccessKeyID:     get("AWS_ACCESS_KEY_ID", "S3SYNC_ACCESS_KEY"),
		SecretAccessKey: get("AWS_SECRET_ACCESS_KEY", "S3SYNC_SECRET_KEY"),
		SessionToken:    get("AWS_SESSION_TOKEN"),
		Region:          get("AWS_REGION", "AWS_DEFAULT_REGION", "S3SYNC_REGION"),
		Source:          "env",
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, syncerr.Auth(fmt.Errorf("env: %w", err))
	}
	if creds.Region == "" {
		creds.Region = DefaultRegion
	}
	return creds, nil
}
