package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/openmined/s3sync/internal/utils"
	"github.com/spf13/afero"
)

const abortTimeout = 30 * time.Second

func (m *Manager) upload(ctx context.Context, a diff.SyncAction, tr *tracker) (int64, error) {
	path := m.localPath(a.Path)
	file, err := m.fs.Open(path)
	if err != nil {
		return 0, syncerr.Filesystem(path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, syncerr.Filesystem(path, err)
	}
	size := info.Size()

	contentType := utils.DetectContentType(a.Path, file)
	metadata := map[string]string{
		blob.MetaMtime: info.ModTime().UTC().Format(time.RFC3339Nano),
	}

	if size >= m.opts.MultipartThreshold {
		if sum, err := m.localDigest(a, file); err == nil {
			metadata[blob.MetaMD5] = sum
		} else {
			slog.Warn("upload digest", "path", a.Path, "error", err)
		}
		return m.uploadMultipart(ctx, a, file, size, contentType, metadata, tr)
	}

	key := m.key(a.Path)
	err = m.withTimeout(ctx, "put", func(opCtx context.Context) error {
		_, err := m.store.PutObject(opCtx, &blob.PutObjectParams{
			Key:         key,
			Size:        size,
			Body:        m.metered(opCtx, file, tr),
			ContentType: contentType,
			Metadata:    metadata,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// uploadMultipart sends the file in PartSize pieces. Any failure, including
// cancellation, aborts the upload so no partial object is left behind.
func (m *Manager) uploadMultipart(
	ctx context.Context,
	a diff.SyncAction,
	file afero.File,
	size int64,
	contentType string,
	metadata map[string]string,
	tr *tracker,
) (n int64, err error) {
	key := m.key(a.Path)

	var uploadID string
	err = m.withTimeout(ctx, "create multipart", func(opCtx context.Context) error {
		id, err := m.store.CreateMultipartUpload(opCtx, &blob.CreateMultipartUploadParams{
			Key:         key,
			ContentType: contentType,
			Metadata:    metadata,
		})
		uploadID = id
		return err
	})
	if err != nil {
		return 0, err
	}

	defer func() {
		if err == nil {
			return
		}
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
		defer cancel()
		if aerr := m.store.AbortMultipartUpload(abortCtx, key, uploadID); aerr != nil {
			slog.Error("abort multipart", "key", key, "uploadId", uploadID, "error", aerr)
			return
		}
		slog.Debug("aborted multipart", "key", key, "uploadId", uploadID)
	}()

	parts := make([]*blob.CompletedPart, 0, (size+m.opts.PartSize-1)/m.opts.PartSize)
	for partNum, offset := 1, int64(0); offset < size; partNum++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		length := min(m.opts.PartSize, size-offset)
		section := io.NewSectionReader(file, offset, length)

		var part *blob.CompletedPart
		err = m.withTimeout(ctx, "upload part", func(opCtx context.Context) error {
			p, err := m.store.UploadPart(opCtx, &blob.UploadPartParams{
				Key:        key,
				UploadID:   uploadID,
				PartNumber: partNum,
				Size:       length,
				Body:       m.metered(opCtx, section, tr),
			})
			part = p
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("part %d: %w", partNum, err)
		}
		parts = append(parts, part)
		offset += length
	}

	err = m.withTimeout(ctx, "complete multipart", func(opCtx context.Context) error {
		_, err := m.store.CompleteMultipartUpload(opCtx, &blob.CompleteMultipartUploadParams{
			Key:      key,
			UploadID: uploadID,
			Parts:    parts,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// localDigest prefers the digest computed during planning and falls back to
// reading the file.
func (m *Manager) localDigest(a diff.SyncAction, file afero.File) (string, error) {
	if a.Local != nil {
		if fp, err := a.Local.ResolveFingerprint(); err == nil && fp.Scheme == diff.SchemeMD5 {
			return fp.Value, nil
		}
	}
	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(file, 0, 1<<62)); err != nil {
		return "", syncerr.Filesystem(a.Path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
