package archive

import (
	"context"
	"strings"

	"github.com/beam-cloud/vafs/pkg/store"
)

// Handler is the capability set every archive format satisfies:
// build an index from remote bytes, and extract a single named entry.
// list_entries is deliberately not part of this interface — it is a pure
// function of an already-built Index (see ListEntries) and needs no
// format-specific knowledge.
type Handler interface {
	// BuildIndex constructs an Index for the archive at bucket/key. It is
	// all-or-nothing: callers must not cache a partial result on error.
	BuildIndex(ctx context.Context, st store.Store, bucket, key string) (*Index, error)

	// ExtractFile returns the decompressed bytes of path. It fails if path
	// is absent, is a directory, or a format-specific integrity check
	// (CRC, declared size, zip-bomb guard) fails.
	ExtractFile(ctx context.Context, st store.Store, bucket, key string, idx *Index, path string) ([]byte, error)
}

// Type identifies an archive format by lowercase file-extension
// convention.
type Type string

const (
	TypeZip    Type = "zip"
	TypeTar    Type = "tar"
	TypeTarGz  Type = "tar.gz"
	TypeTarBz2 Type = "tar.bz2"
)

// DetectType classifies a key by its lowercase suffix, returning ("", false)
// if it does not match a supported archive extension.
func DetectType(key string) (Type, bool) {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return TypeZip, true
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return TypeTarGz, true
	case strings.HasSuffix(lower, ".tar.bz2") || strings.HasSuffix(lower, ".tbz2"):
		return TypeTarBz2, true
	case strings.HasSuffix(lower, ".tar"):
		return TypeTar, true
	default:
		return "", false
	}
}
