package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/openmined/s3sync/internal/client/config"
	"github.com/openmined/s3sync/internal/credentials"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	headErr error
	listErr error
	heads   []string
	lists   int
}

func (f *fakeChecker) opener(bucket *[]string) func(context.Context, string) (bucketChecker, error) {
	return func(_ context.Context, b string) (bucketChecker, error) {
		*bucket = append(*bucket, b)
		return f, nil
	}
}

func (f *fakeChecker) HeadBucket(context.Context) error {
	f.heads = append(f.heads, "head")
	return f.headErr
}

func (f *fakeChecker) ListBuckets(context.Context) ([]string, error) {
	f.lists++
	return []string{"media"}, f.listErr
}

var goodCreds = credentials.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret"}

func TestVerifyCredentials_NoFoldersListsBuckets(t *testing.T) {
	var opened []string
	p := &fakeChecker{}

	require.NoError(t, verifyCredentials(context.Background(), &config.Config{}, goodCreds, p.opener(&opened)))
	assert.Equal(t, []string{""}, opened)
	assert.Equal(t, 1, p.lists)
	assert.Empty(t, p.heads)

	p.listErr = errors.New("InvalidAccessKeyId")
	err := verifyCredentials(context.Background(), &config.Config{}, goodCreds, p.opener(&opened))
	assert.ErrorContains(t, err, "list buckets: InvalidAccessKeyId")
}

func TestVerifyCredentials_HeadsEachBucketOnce(t *testing.T) {
	cfg := &config.Config{Folders: []config.Folder{
		{Path: "/a", Bucket: "media"},
		{Path: "/b", Bucket: "media"},
		{Path: "/c", Bucket: "logs"},
	}}
	var opened []string
	p := &fakeChecker{}

	require.NoError(t, verifyCredentials(context.Background(), cfg, goodCreds, p.opener(&opened)))
	assert.Equal(t, []string{"media", "logs"}, opened)
	assert.Len(t, p.heads, 2)
	assert.Zero(t, p.lists)

	p.headErr = errors.New("forbidden")
	err := verifyCredentials(context.Background(), cfg, goodCreds, p.opener(&opened))
	assert.ErrorContains(t, err, "bucket media: forbidden")
}

func TestVerifyCredentials_IncompleteNeverOpens(t *testing.T) {
	var opened []string
	err := verifyCredentials(context.Background(), &config.Config{}, credentials.Credentials{AccessKeyID: "AKIA"}, (&fakeChecker{}).opener(&opened))
	assert.True(t, syncerr.IsAuth(err))
	assert.Empty(t, opened)
}

func TestRenderBuckets(t *testing.T) {
	cfg := &config.Config{Folders: []config.Folder{{Path: "/a", Bucket: "media"}}}

	var buf bytes.Buffer
	renderBuckets(&buf, []string{"media", "archive"}, cfg)
	assert.Equal(t, "archive\nmedia (synced)\n", stripANSI(buf.String()))

	buf.Reset()
	renderBuckets(&buf, nil, cfg)
	assert.Equal(t, "no buckets\n", buf.String())
}
