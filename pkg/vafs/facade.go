package vafs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/vafs/pkg/archive"
	"github.com/beam-cloud/vafs/pkg/archive/tarfmt"
	"github.com/beam-cloud/vafs/pkg/archive/zipfmt"
	"github.com/beam-cloud/vafs/pkg/cache"
	"github.com/beam-cloud/vafs/pkg/store"
	"github.com/beam-cloud/vafs/pkg/vfserr"
)

// Facade is the VAFS Façade (C8): a dispatch layer selecting a Handler from
// an archive_type discriminant and consulting the Archive Cache, so callers
// never talk to store.Store or a format handler directly.
type Facade struct {
	Store store.Store
	Cache *cache.Cache

	handlers map[archive.Type]archive.Handler
}

// New builds a Facade over st, with its own Archive Cache of the given
// capacity (0 selects cache.DefaultCapacity).
func New(st store.Store, cacheCapacity int64) (*Facade, error) {
	c, err := cache.New(cacheCapacity)
	if err != nil {
		return nil, err
	}
	return &Facade{
		Store: st,
		Cache: c,
		handlers: map[archive.Type]archive.Handler{
			archive.TypeZip:    &zipfmt.Handler{},
			archive.TypeTar:    &tarfmt.Handler{Variant: archive.TypeTar},
			archive.TypeTarGz:  &tarfmt.Handler{Variant: archive.TypeTarGz},
			archive.TypeTarBz2: &tarfmt.Handler{Variant: archive.TypeTarBz2},
		},
	}, nil
}

func (f *Facade) handlerFor(t archive.Type) (archive.Handler, error) {
	h, ok := f.handlers[t]
	if !ok {
		return nil, vfserr.New(vfserr.Unsupported, fmt.Sprintf("archive type %q", t))
	}
	return h, nil
}

// IndexOf returns the Index for an Archive node, building and caching it on
// first access. The returned index is also attached to
// n.Index so repeated calls on the same in-memory node skip the cache.
func (f *Facade) IndexOf(ctx context.Context, n *Node) (*archive.Index, error) {
	if n.Kind != KindArchive {
		return nil, vfserr.New(vfserr.InvalidFormat, "index_of requires an archive node")
	}
	if n.Index != nil {
		return n.Index, nil
	}

	h, err := f.handlerFor(n.ArchiveType)
	if err != nil {
		return nil, err
	}

	idx, err := f.Cache.Get(ctx, n.Bucket, n.Key, func(ctx context.Context, bucket, key string) (*archive.Index, error) {
		log.Debug().Str("archive", n.ArchiveID()).Msg("building archive index")
		return h.BuildIndex(ctx, f.Store, bucket, key)
	})
	if err != nil {
		return nil, err
	}

	n.Index = idx
	return idx, nil
}

// List returns the entries visible at an Archive (root) or ArchiveEntry
// (subpath) node.
func (f *Facade) List(ctx context.Context, n *Node) ([]*archive.Entry, error) {
	switch n.Kind {
	case KindArchive:
		idx, err := f.IndexOf(ctx, n)
		if err != nil {
			return nil, err
		}
		return archive.ListEntries(idx, "/"), nil
	case KindArchiveEntry:
		idx, err := f.indexForEntry(ctx, n)
		if err != nil {
			return nil, err
		}
		if !n.EntryIsDir {
			return nil, vfserr.New(vfserr.InvalidFormat, "not a directory").WithArchive(n.ArchiveID()).WithEntry(n.EntryPath)
		}
		return archive.ListEntries(idx, n.EntryPath), nil
	default:
		return nil, vfserr.New(vfserr.InvalidFormat, "list requires an archive or archive-entry node")
	}
}

// indexForEntry resolves the Index an ArchiveEntry node refers back to,
// rebuilding from the cache if the node's own copy was never populated
// (e.g. constructed directly by a path walk rather than via IndexOf).
func (f *Facade) indexForEntry(ctx context.Context, n *Node) (*archive.Index, error) {
	if n.Index != nil {
		return n.Index, nil
	}
	h, err := f.handlerFor(n.ArchiveType)
	if err != nil {
		return nil, err
	}
	idx, err := f.Cache.Get(ctx, n.Bucket, n.Key, func(ctx context.Context, bucket, key string) (*archive.Index, error) {
		return h.BuildIndex(ctx, f.Store, bucket, key)
	})
	if err != nil {
		return nil, err
	}
	n.Index = idx
	return idx, nil
}

// Read resolves subpath against an Archive or ArchiveEntry node and returns
// the decompressed bytes of the resulting file. subpath may
// be empty when n itself names the file (an ArchiveEntry leaf).
func (f *Facade) Read(ctx context.Context, n *Node, subpath string) ([]byte, error) {
	var bucket, key, path string
	var t archive.Type

	switch n.Kind {
	case KindArchive:
		bucket, key, t = n.Bucket, n.Key, n.ArchiveType
		path = ParsePath(subpath).String()
	case KindArchiveEntry:
		bucket, key, t = n.Bucket, n.Key, n.ArchiveType
		if subpath == "" {
			path = n.EntryPath
		} else {
			path = ParsePath(n.EntryPath).Join(subpath).String()
		}
	default:
		return nil, vfserr.New(vfserr.InvalidFormat, "read requires an archive or archive-entry node")
	}
	path = trimLeadingSlash(path)

	idx, err := f.indexForNode(ctx, n)
	if err != nil {
		return nil, err
	}

	h, err := f.handlerFor(t)
	if err != nil {
		return nil, err
	}
	return h.ExtractFile(ctx, f.Store, bucket, key, idx, path)
}

func (f *Facade) indexForNode(ctx context.Context, n *Node) (*archive.Index, error) {
	if n.Kind == KindArchive {
		return f.IndexOf(ctx, n)
	}
	return f.indexForEntry(ctx, n)
}

func trimLeadingSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}

// ReadObject returns the whole-object bytes for a non-archive Object node,
// the direct whole-object `get` path for a non-archive object.
func (f *Facade) ReadObject(ctx context.Context, n *Node) ([]byte, error) {
	if n.Kind != KindObject {
		return nil, vfserr.New(vfserr.InvalidFormat, "ReadObject requires an object node")
	}
	return f.Store.Get(ctx, n.Bucket, n.Key)
}

// ListRoot enumerates buckets.
func (f *Facade) ListRoot(ctx context.Context) ([]*Node, error) {
	buckets, err := f.Store.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, len(buckets))
	for i, b := range buckets {
		out[i] = NewBucket(b)
	}
	return out, nil
}
