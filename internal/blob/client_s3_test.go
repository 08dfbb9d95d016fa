package blob

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/openmined/s3sync/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConfig_Region(t *testing.T) {
	cfg := &StoreConfig{}
	assert.Equal(t, credentials.DefaultRegion, cfg.region())

	cfg.Credentials.Region = "eu-central-1"
	assert.Equal(t, "eu-central-1", cfg.region())
}

func TestOpenS3Store(t *testing.T) {
	store, err := OpenS3Store(context.Background(), &StoreConfig{
		Bucket:   "media",
		Endpoint: "http://127.0.0.1:9000",
		Credentials: credentials.Credentials{
			AccessKeyID:     "minio",
			SecretAccessKey: "minio123",
		},
		AppID: "s3sync-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "media", store.Bucket())

	opts := store.api.Options()
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.Equal(t, credentials.DefaultRegion, opts.Region)
	assert.False(t, opts.UseAccelerate)
}
