package vafs

import (
	"context"
	"strings"

	"github.com/beam-cloud/vafs/pkg/archive"
)

// DisplayEntry is the uniform listing record every Node kind's listing
// converges on (name, size, is_dir, is_archive), so a host never branches
// on node kind to render output.
type DisplayEntry struct {
	Name      string
	IsDir     bool
	IsArchive bool
	Size      int64
}

// ListNode lists the immediate children of any navigable node, uniformly
// across the object-store and archive halves of the tree.
func (f *Facade) ListNode(ctx context.Context, n *Node) ([]DisplayEntry, error) {
	switch n.Kind {
	case KindRoot:
		buckets, err := f.Store.ListBuckets(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]DisplayEntry, len(buckets))
		for i, b := range buckets {
			out[i] = DisplayEntry{Name: b, IsDir: true}
		}
		return out, nil

	case KindBucket:
		return f.listStorePrefix(ctx, n.Bucket, "")

	case KindPrefix:
		return f.listStorePrefix(ctx, n.Bucket, n.Prefix)

	case KindArchive, KindArchiveEntry:
		entries, err := f.List(ctx, n)
		if err != nil {
			return nil, err
		}
		return archiveEntriesToDisplay(entries), nil

	default:
		return nil, nil
	}
}

func (f *Facade) listStorePrefix(ctx context.Context, bucket, prefix string) ([]DisplayEntry, error) {
	res, err := f.Store.List(ctx, bucket, prefix, "/")
	if err != nil {
		return nil, err
	}

	out := make([]DisplayEntry, 0, len(res.CommonPrefixes)+len(res.Objects))
	for _, cp := range res.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(cp, prefix), "/")
		out = append(out, DisplayEntry{Name: name, IsDir: true})
	}
	for _, obj := range res.Objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" {
			continue
		}
		_, isArchive := archive.DetectType(obj.Key)
		out = append(out, DisplayEntry{Name: name, Size: obj.Size, IsArchive: isArchive})
	}
	return out, nil
}

func archiveEntriesToDisplay(entries []*archive.Entry) []DisplayEntry {
	out := make([]DisplayEntry, len(entries))
	for i, e := range entries {
		name := strings.TrimSuffix(e.Path, "/")
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		out[i] = DisplayEntry{Name: name, IsDir: e.IsDir, Size: e.Size}
	}
	return out
}
