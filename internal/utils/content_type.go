package utils

import (
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultContentType = "application/octet-stream"

// DetectContentType picks a content type for key. Known text formats and
// registered extensions win; otherwise the leading bytes of r are sniffed and
// r is rewound to the start.
func DetectContentType(key string, r io.ReadSeeker) string {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case ".yaml", ".yml", ".toml", ".md", ".ini", ".env":
		// often unregistered with mime
		return "text/plain; charset=utf-8"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if r == nil {
		return defaultContentType
	}

	mt, err := mimetype.DetectReader(r)
	if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return defaultContentType
	}
	return mt.String()
}
