package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
)

// Metadata keys written on upload so large objects can be compared without
// downloading them.
const (
	MetaMD5   = "s3sync-md5"
	MetaMtime = "s3sync-mtime"
)

// Store is the object store surface the sync engine depends on. All keys are
// full object keys within the configured bucket.
type Store interface {
	ListObjects(ctx context.Context, prefix string) ([]*ObjectInfo, error)
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	GetObject(ctx context.Context, key string) (*GetObjectResponse, error)
	PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error)
	DeleteObject(ctx context.Context, key string) error

	CreateMultipartUpload(ctx context.Context, params *CreateMultipartUploadParams) (string, error)
	UploadPart(ctx context.Context, params *UploadPartParams) (*CompletedPart, error)
	CompleteMultipartUpload(ctx context.Context, params *CompleteMultipartUploadParams) (*PutObjectResponse, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	// HeadBucket fails with ErrBucketNotFound when the bucket does not exist.
	HeadBucket(ctx context.Context) error
	Bucket() string
}

type ObjectInfo struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

type GetObjectResponse struct {
	Body         io.ReadCloser
	ETag         string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// ===================================================================================================

type PutObjectParams struct {
	Key         string
	Size        int64
	Body        io.Reader
	ContentType string
	Metadata    map[string]string
}

type PutObjectResponse struct {
	Key          string
	Version      string
	ETag         string
	Size         int64
	LastModified time.Time
}

// ===================================================================================================

type CreateMultipartUploadParams struct {
	Key         string
	ContentType string
	Metadata    map[string]string
}

type UploadPartParams struct {
	Key        string
	UploadID   string
	PartNumber int
	Size       int64
	Body       io.Reader
}

type CompletedPart struct {
	PartNumber int
	ETag       string
}

type CompleteMultipartUploadParams struct {
	Key      string
	UploadID string
	Parts    []*CompletedPart
}

// ===================================================================================================

// JoinKey maps a slash separated relative path under prefix to an object key.
// rel is not cleaned so RelKey(prefix, JoinKey(prefix, rel)) == rel.
func JoinKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

// RelKey is the inverse of JoinKey. ok is false when key is outside prefix.
func RelKey(prefix, key string) (rel string, ok bool) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key, key != ""
	}
	rel, ok = strings.CutPrefix(key, prefix+"/")
	return rel, ok && rel != ""
}

// IsLocalRel reports whether rel, taken from an object key, names a file
// inside the sync root: no "..", no leading slash, no empty or "." segments.
func IsLocalRel(rel string) bool {
	return rel != "" && path.Clean(rel) == rel && filepath.IsLocal(filepath.FromSlash(rel))
}

// ListPrefix is the ListObjects prefix for a sync prefix.
func ListPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
