package vafs

import (
	"context"
	"strings"

	"github.com/beam-cloud/vafs/pkg/archive"
	"github.com/beam-cloud/vafs/pkg/vfserr"
)

// NavigateToSegment advances current by one path component name. It
// is the single primitive Resolve folds over every segment of a path.
func (f *Facade) NavigateToSegment(ctx context.Context, current *Node, name string) (*Node, error) {
	switch current.Kind {
	case KindRoot:
		return NewBucket(name), nil

	case KindBucket:
		return f.headOrPrefix(ctx, current.Bucket, "", name)

	case KindPrefix:
		return f.headOrPrefix(ctx, current.Bucket, current.Prefix, name)

	case KindArchive, KindArchiveEntry:
		return f.descendInArchive(ctx, current, name)

	case KindObject:
		return nil, vfserr.New(vfserr.InvalidFormat, "cannot navigate below an object").WithArchive(current.Bucket + "/" + current.Key)

	default:
		return nil, vfserr.New(vfserr.InvalidFormat, "unknown node kind")
	}
}

// headOrPrefix implements the Bucket/Prefix case: try head on the
// concatenated key first (object, then archive-classify); on miss, treat
// name as a Prefix segment instead.
func (f *Facade) headOrPrefix(ctx context.Context, bucket, base, name string) (*Node, error) {
	key := base + name

	info, err := f.Store.Head(ctx, bucket, key)
	if err != nil {
		if vfserr.KindOf(err) == vfserr.NotFound {
			return NewPrefix(bucket, key+"/"), nil
		}
		return nil, err
	}

	obj := NewObject(bucket, key, info.Size)
	if t, ok := archive.DetectType(key); ok {
		return NewArchive(obj, t), nil
	}
	return obj, nil
}

// descendInArchive implements the Archive/ArchiveEntry case: look up the
// target path in the index, succeeding only when it names a directory.
func (f *Facade) descendInArchive(ctx context.Context, current *Node, name string) (*Node, error) {
	var target string
	switch current.Kind {
	case KindArchive:
		target = name
	case KindArchiveEntry:
		target = current.EntryPath + "/" + name
	}
	target = ParsePath(target).String()

	idx, err := f.indexForNode(ctx, current)
	if err != nil {
		return nil, err
	}

	var arcNode *Node
	if current.Kind == KindArchive {
		arcNode = current
	} else {
		arcNode = &Node{Kind: KindArchive, Bucket: current.Bucket, Key: current.Key, ArchiveType: current.ArchiveType, Index: idx}
	}

	e, ok := idx.Find(target)
	if !ok {
		return nil, vfserr.New(vfserr.NotFound, "entry not found").WithArchive(current.ArchiveID()).WithEntry(target)
	}
	if !e.IsDir {
		return nil, vfserr.New(vfserr.InvalidFormat, "not a directory").WithArchive(current.ArchiveID()).WithEntry(target)
	}
	return NewArchiveEntry(arcNode, e.Path, e.Size, e.IsDir), nil
}

// NavigateUp moves current one level toward the root.
func (f *Facade) NavigateUp(current *Node) *Node {
	switch current.Kind {
	case KindRoot:
		return Root()

	case KindBucket:
		return Root()

	case KindPrefix:
		trimmed := strings.TrimSuffix(current.Prefix, "/")
		idx := strings.LastIndex(trimmed, "/")
		if idx < 0 {
			return NewBucket(current.Bucket)
		}
		return NewPrefix(current.Bucket, trimmed[:idx+1])

	case KindObject:
		idx := strings.LastIndex(current.Key, "/")
		if idx < 0 {
			return NewBucket(current.Bucket)
		}
		return NewPrefix(current.Bucket, current.Key[:idx+1])

	case KindArchive:
		parent := NewObject(current.Bucket, current.Key, 0)
		return f.NavigateUp(parent)

	case KindArchiveEntry:
		idx := strings.LastIndex(current.EntryPath, "/")
		if idx < 0 {
			return &Node{Kind: KindArchive, Bucket: current.Bucket, Key: current.Key, ArchiveType: current.ArchiveType, Index: current.Index}
		}
		parentPath := current.EntryPath[:idx]
		arcNode := &Node{Kind: KindArchive, Bucket: current.Bucket, Key: current.Key, ArchiveType: current.ArchiveType, Index: current.Index}
		return NewArchiveEntry(arcNode, parentPath, 0, true)

	default:
		return Root()
	}
}

// Resolve performs full path walking from current against pathString,
// transitioning into an archive transparently whenever a segment's suffix
// matches an archive extension.
func (f *Facade) Resolve(ctx context.Context, current *Node, pathString string) (*Node, error) {
	absolute, segments := rawSegments(pathString)

	node := current
	if absolute {
		node = Root()
	}

	for _, seg := range segments {
		if seg == ".." {
			node = f.NavigateUp(node)
			continue
		}
		next, err := f.NavigateToSegment(ctx, node, seg)
		if err != nil {
			return nil, err
		}
		node = next
	}
	return node, nil
}
