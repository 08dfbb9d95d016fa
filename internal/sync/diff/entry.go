package diff

import (
	"strings"
	"sync"
	"time"
)

// FingerprintScheme names the algorithm behind a fingerprint value. Two
// fingerprints are only comparable when their schemes match.
type FingerprintScheme string

const (
	SchemeNone FingerprintScheme = ""
	// SchemeMD5 is a hex md5 digest. S3 exposes this as the ETag of objects
	// uploaded in a single part.
	SchemeMD5 FingerprintScheme = "md5"
	// SchemeMultipartETag is an S3 ETag of the form "<hex>-<parts>". It is a
	// digest of part digests and never matches a whole-file hash.
	SchemeMultipartETag FingerprintScheme = "etag-multipart"
)

type Fingerprint struct {
	Scheme FingerprintScheme
	Value  string
}

func (f Fingerprint) IsZero() bool {
	return f.Scheme == SchemeNone || f.Value == ""
}

// ComparableWith reports whether f and o can decide content equality.
func (f Fingerprint) ComparableWith(o Fingerprint) bool {
	if f.IsZero() || o.IsZero() {
		return false
	}
	return f.Scheme == o.Scheme && f.Scheme != SchemeMultipartETag
}

func (f Fingerprint) String() string {
	if f.IsZero() {
		return "-"
	}
	return string(f.Scheme) + ":" + f.Value
}

// FingerprintFromETag turns an S3 ETag into a fingerprint, quotes stripped.
func FingerprintFromETag(etag string) Fingerprint {
	etag = strings.ReplaceAll(etag, "\"", "")
	switch {
	case etag == "":
		return Fingerprint{}
	case strings.Contains(etag, "-"):
		return Fingerprint{Scheme: SchemeMultipartETag, Value: etag}
	default:
		return Fingerprint{Scheme: SchemeMD5, Value: strings.ToLower(etag)}
	}
}

// FingerprintFunc computes a fingerprint on demand.
type FingerprintFunc func() (Fingerprint, error)

type lazyFingerprint struct {
	once sync.Once
	fn   FingerprintFunc
	fp   Fingerprint
	err  error
}

func (l *lazyFingerprint) get() (Fingerprint, error) {
	l.once.Do(func() {
		l.fp, l.err = l.fn()
	})
	return l.fp, l.err
}

// FileEntry is one local file or remote object, keyed by its slash separated
// path relative to the sync root.
type FileEntry struct {
	Path    string
	Size    int64
	ModTime time.Time

	// Fingerprint is set for entries whose store exposes one up front.
	// Local entries leave it empty and use a lazy source instead.
	Fingerprint Fingerprint

	lazy *lazyFingerprint
}

// NewLazyEntry returns an entry whose fingerprint is computed by fn the
// first time it is needed. fn runs at most once.
func NewLazyEntry(path string, size int64, modTime time.Time, fn FingerprintFunc) *FileEntry {
	return &FileEntry{
		Path:    path,
		Size:    size,
		ModTime: modTime,
		lazy:    &lazyFingerprint{fn: fn},
	}
}

// ResolveFingerprint returns the entry's fingerprint, computing it if it is
// lazy. Entries without any source return a zero fingerprint.
func (e *FileEntry) ResolveFingerprint() (Fingerprint, error) {
	if e.lazy == nil {
		return e.Fingerprint, nil
	}
	return e.lazy.get()
}

// HasLazyFingerprint reports whether resolving the fingerprint may do work.
func (e *FileEntry) HasLazyFingerprint() bool {
	return e.lazy != nil
}
