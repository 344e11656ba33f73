// Package vafs implements the Path & Node Model (C7) and the VAFS Façade
// (C8): a tagged-union Node describing where a shell session sits in the
// object-store/archive tree, and the dispatch layer that turns node
// navigation and reads into store/archive operations.
package vafs

import (
	"strings"

	"github.com/beam-cloud/vafs/pkg/archive"
)

// Kind discriminates which variant of the Node tagged union is populated
// (exactly one of Root, Bucket, Prefix, Object, Archive, ArchiveEntry).
type Kind int

const (
	KindRoot Kind = iota
	KindBucket
	KindPrefix
	KindObject
	KindArchive
	KindArchiveEntry
)

// Node is the tagged union over every kind of tree position. Only the fields relevant to Kind are
// meaningful; callers must switch on Kind before reading them rather than
// assuming a particular subset of fields is populated.
type Node struct {
	Kind Kind

	// Bucket, Prefix, Object
	Bucket string
	Key    string // full object key, when Kind == KindObject
	Prefix string // ends with "/", when Kind == KindPrefix
	Size   int64  // when Kind == KindObject

	// Archive
	ArchiveType archive.Type
	Index       *archive.Index // lazily present; nil until built

	// ArchiveEntry
	EntryPath  string
	EntrySize  int64
	EntryIsDir bool
}

// Root builds the root Node (enumerates buckets).
func Root() *Node { return &Node{Kind: KindRoot} }

// NewBucket builds a Bucket node.
func NewBucket(name string) *Node { return &Node{Kind: KindBucket, Bucket: name} }

// NewPrefix builds a Prefix node. prefix must end with "/".
func NewPrefix(bucket, prefix string) *Node {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Node{Kind: KindPrefix, Bucket: bucket, Prefix: prefix}
}

// NewObject builds an Object node.
func NewObject(bucket, key string, size int64) *Node {
	return &Node{Kind: KindObject, Bucket: bucket, Key: key, Size: size}
}

// NewArchive builds an Archive node over the given Object. parent must be a
// KindObject node (an Archive's parent is always an Object).
func NewArchive(parent *Node, t archive.Type) *Node {
	return &Node{Kind: KindArchive, Bucket: parent.Bucket, Key: parent.Key, Size: parent.Size, ArchiveType: t}
}

// NewArchiveEntry builds an ArchiveEntry node rooted at the given Archive
// node. path is canonical (never trailing-slash).
func NewArchiveEntry(arc *Node, path string, size int64, isDir bool) *Node {
	path = strings.TrimSuffix(path, "/")
	return &Node{
		Kind: KindArchiveEntry, Bucket: arc.Bucket, Key: arc.Key, ArchiveType: arc.ArchiveType, Index: arc.Index,
		EntryPath: path, EntrySize: size, EntryIsDir: isDir,
	}
}

// Navigable reports whether a node admits further navigation: Root, Bucket,
// Prefix, Archive, or a directory ArchiveEntry.
func (n *Node) Navigable() bool {
	switch n.Kind {
	case KindRoot, KindBucket, KindPrefix, KindArchive:
		return true
	case KindArchiveEntry:
		return n.EntryIsDir
	default:
		return false
	}
}

// ArchiveID formats the store://bucket/key identifier used for cache keys
// and error messages.
func (n *Node) ArchiveID() string {
	return "store://" + n.Bucket + "/" + n.Key
}
