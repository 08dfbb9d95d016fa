package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/filter"
	"golang.org/x/sync/errgroup"
)

const headConcurrency = 8

type RemoteLister struct {
	store  blob.Store
	prefix string
	filter *filter.Filter
}

func NewRemoteLister(store blob.Store, prefix string, f *filter.Filter) *RemoteLister {
	if f == nil {
		f = filter.AcceptAll()
	}
	return &RemoteLister{store: store, prefix: prefix, filter: f}
}

// List enumerates the prefix into a listing of relative paths. Objects with
// a multipart ETag are headed so a digest recorded at upload time can stand
// in for the ETag.
func (r *RemoteLister) List(ctx context.Context) (*diff.Listing, error) {
	start := time.Now()

	objects, err := r.store.ListObjects(ctx, blob.ListPrefix(r.prefix))
	if err != nil {
		return nil, err
	}

	listing := diff.NewListing()
	var multipart []*diff.FileEntry
	skipped, unsafe := 0, 0

	for _, obj := range objects {
		rel, ok := blob.RelKey(r.prefix, obj.Key)
		if !ok {
			continue
		}
		if !blob.IsLocalRel(rel) {
			unsafe++
			slog.Warn("list remote: key does not map into the local folder, ignored", "key", obj.Key)
			continue
		}
		if !r.filter.Accepts(rel, obj.Size) {
			skipped++
			continue
		}

		entry := &diff.FileEntry{
			Path:        rel,
			Size:        obj.Size,
			ModTime:     obj.LastModified,
			Fingerprint: diff.FingerprintFromETag(obj.ETag),
		}
		applyMetadata(entry, obj.Metadata)
		if err := listing.Put(entry); err != nil {
			slog.Warn("list remote", "key", obj.Key, "error", err)
			continue
		}
		if entry.Fingerprint.Scheme == diff.SchemeMultipartETag {
			multipart = append(multipart, entry)
		}
	}

	if err := r.enrich(ctx, multipart); err != nil {
		return nil, err
	}

	slog.Info("scan remote", "bucket", r.store.Bucket(), "prefix", r.prefix, "objects", listing.Len(), "filtered", skipped, "ignored", unsafe, "took", time.Since(start))
	return listing, nil
}

func (r *RemoteLister) enrich(ctx context.Context, entries []*diff.FileEntry) error {
	if len(entries) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(headConcurrency)
	for _, entry := range entries {
		eg.Go(func() error {
			info, err := r.store.HeadObject(egCtx, blob.JoinKey(r.prefix, entry.Path))
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				slog.Debug("head remote", "path", entry.Path, "error", err)
				return nil
			}
			applyMetadata(entry, info.Metadata)
			return nil
		})
	}
	return eg.Wait()
}

// applyMetadata upgrades an entry with the digest and mtime recorded at
// upload. Writes happen before the listing is shared.
func applyMetadata(entry *diff.FileEntry, meta map[string]string) {
	if sum := meta[blob.MetaMD5]; sum != "" {
		entry.Fingerprint = diff.Fingerprint{Scheme: diff.SchemeMD5, Value: sum}
	}
	if ts := meta[blob.MetaMtime]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.ModTime = t
		}
	}
}
