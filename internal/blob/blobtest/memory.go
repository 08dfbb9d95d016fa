// Package blobtest provides an in-memory blob.Store for tests.
package blobtest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/sync/syncerr"
)

type Op string

const (
	OpList     Op = "list"
	OpHead     Op = "head"
	OpGet      Op = "get"
	OpPut      Op = "put"
	OpDelete   Op = "delete"
	OpCreateMP Op = "create_multipart"
	OpPart     Op = "upload_part"
	OpComplete Op = "complete_multipart"
	OpAbort    Op = "abort_multipart"
	OpBucket   Op = "head_bucket"
)

type object struct {
	data     []byte
	etag     string
	modTime  time.Time
	metadata map[string]string
}

type upload struct {
	key      string
	metadata map[string]string
	parts    map[int][]byte
}

type fault struct {
	op    Op
	key   string
	times int
	err   error
}

// MemoryStore is a deterministic, concurrency safe Store. Faults can be
// injected per operation and key.
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*object
	uploads map[string]*upload
	faults  []*fault
	calls   map[Op]int
	aborted []string
	missing bool

	// Now stamps LastModified on writes.
	Now func() time.Time
	// Latency is applied to every data operation.
	Latency time.Duration
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
		calls:   make(map[Op]int),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seed stores an object directly, bypassing faults and counters.
func (m *MemoryStore) Seed(key string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = &object{data: slices.Clone(data), etag: md5Hex(data), modTime: modTime}
}

// FailNext makes the next n calls of op on key fail with err. An empty key
// matches every key.
func (m *MemoryStore) FailNext(op Op, key string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, &fault{op: op, key: key, times: n, err: err})
}

// FailTransient is FailNext with a retryable error.
func (m *MemoryStore) FailTransient(op Op, key string, n int) {
	m.FailNext(op, key, n, syncerr.Transient(string(op), fmt.Errorf("injected fault on %s", key)))
}

// RemoveBucket makes HeadBucket report a missing bucket.
func (m *MemoryStore) RemoveBucket() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing = true
}

func (m *MemoryStore) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryStore) Aborted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.aborted)
}

func (m *MemoryStore) PendingUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func (m *MemoryStore) Data(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(o.data), true
}

func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := slices.Collect(maps.Keys(m.objects))
	slices.Sort(keys)
	return keys
}

func (m *MemoryStore) Bucket() string {
	return m.bucket
}

// enter records the call and returns an injected fault, if any.
func (m *MemoryStore) enter(ctx context.Context, op Op, key string) error {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	for _, f := range m.faults {
		if f.times > 0 && f.op == op && (f.key == "" || f.key == key) {
			f.times--
			return f.err
		}
	}
	return nil
}

func (m *MemoryStore) HeadBucket(ctx context.Context) error {
	if err := m.enter(ctx, OpBucket, ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing {
		return fmt.Errorf("%w: %s", blob.ErrBucketNotFound, m.bucket)
	}
	return nil
}

func (m *MemoryStore) ListObjects(ctx context.Context, prefix string) ([]*blob.ObjectInfo, error) {
	if err := m.enter(ctx, OpList, prefix); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*blob.ObjectInfo
	for key, o := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, &blob.ObjectInfo{
			Key:          key,
			ETag:         o.etag,
			Size:         int64(len(o.data)),
			LastModified: o.modTime,
		})
	}
	slices.SortFunc(out, func(a, b *blob.ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (m *MemoryStore) HeadObject(ctx context.Context, key string) (*blob.ObjectInfo, error) {
	if err := m.enter(ctx, OpHead, key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.objects[key]
	if !ok {
		return nil, notFound("head", key)
	}
	return &blob.ObjectInfo{
		Key:          key,
		ETag:         o.etag,
		Size:         int64(len(o.data)),
		LastModified: o.modTime,
		Metadata:     maps.Clone(o.metadata),
	}, nil
}

func (m *MemoryStore) GetObject(ctx context.Context, key string) (*blob.GetObjectResponse, error) {
	if err := m.enter(ctx, OpGet, key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.objects[key]
	if !ok {
		return nil, notFound("get", key)
	}
	return &blob.GetObjectResponse{
		Body:         io.NopCloser(bytes.NewReader(slices.Clone(o.data))),
		ETag:         o.etag,
		Size:         int64(len(o.data)),
		LastModified: o.modTime,
		Metadata:     maps.Clone(o.metadata),
	}, nil
}

func (m *MemoryStore) PutObject(ctx context.Context, params *blob.PutObjectParams) (*blob.PutObjectResponse, error) {
	if err := m.enter(ctx, OpPut, params.Key); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != params.Size {
		return nil, syncerr.Permanent("put", fmt.Errorf("size mismatch: declared %d, read %d", params.Size, len(data)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	etag := md5Hex(data)
	m.objects[params.Key] = &object{data: data, etag: etag, modTime: now, metadata: maps.Clone(params.Metadata)}

	return &blob.PutObjectResponse{
		Key:          params.Key,
		Size:         params.Size,
		ETag:         etag,
		LastModified: now,
	}, nil
}

func (m *MemoryStore) DeleteObject(ctx context.Context, key string) error {
	if err := m.enter(ctx, OpDelete, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) CreateMultipartUpload(ctx context.Context, params *blob.CreateMultipartUploadParams) (string, error) {
	if err := m.enter(ctx, OpCreateMP, params.Key); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.uploads[id] = &upload{key: params.Key, metadata: maps.Clone(params.Metadata), parts: make(map[int][]byte)}
	return id, nil
}

func (m *MemoryStore) UploadPart(ctx context.Context, params *blob.UploadPartParams) (*blob.CompletedPart, error) {
	if err := m.enter(ctx, OpPart, params.Key); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[params.UploadID]
	if !ok {
		return nil, notFound("upload part", params.UploadID)
	}
	u.parts[params.PartNumber] = data
	return &blob.CompletedPart{PartNumber: params.PartNumber, ETag: md5Hex(data)}, nil
}

func (m *MemoryStore) CompleteMultipartUpload(ctx context.Context, params *blob.CompleteMultipartUploadParams) (*blob.PutObjectResponse, error) {
	if err := m.enter(ctx, OpComplete, params.Key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.uploads[params.UploadID]
	if !ok {
		return nil, notFound("complete multipart", params.UploadID)
	}

	var buf bytes.Buffer
	digests := md5.New()
	for _, p := range params.Parts {
		part, ok := u.parts[p.PartNumber]
		if !ok {
			return nil, syncerr.Permanent("complete multipart", fmt.Errorf("missing part %d", p.PartNumber))
		}
		buf.Write(part)
		sum := md5.Sum(part)
		digests.Write(sum[:])
	}
	delete(m.uploads, params.UploadID)

	now := m.Now()
	etag := fmt.Sprintf("%s-%d", hex.EncodeToString(digests.Sum(nil)), len(params.Parts))
	m.objects[u.key] = &object{data: buf.Bytes(), etag: etag, modTime: now, metadata: u.metadata}

	return &blob.PutObjectResponse{
		Key:          u.key,
		Size:         int64(buf.Len()),
		ETag:         etag,
		LastModified: now,
	}, nil
}

func (m *MemoryStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	// abort is called on cleanup paths with a fresh context
	if err := m.enter(context.WithoutCancel(ctx), OpAbort, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, key)
	return nil
}

func notFound(op, key string) error {
	return syncerr.Permanent(op, fmt.Errorf("%w: %s", blob.ErrNotFound, key))
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

var _ blob.Store = (*MemoryStore)(nil)
