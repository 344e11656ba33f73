// Package archive defines the archive index (C3) and the common handler
// contract (C4/C5) that ZIP and TAR handlers satisfy, plus the
// format-agnostic list_entries tree walk shared by every handler.
package archive

import (
	"sort"
	"strings"

	"github.com/tidwall/btree"
)

// EntryType discriminates the format-specific payload an Entry carries
// (the payload an archive member needs for extraction).
type EntryType int

const (
	// EntryPhysical covers uncompressed-TAR byte offsets and
	// compressed-TAR entry indices (offset is not a byte position there).
	EntryPhysical EntryType = iota
	// EntryZip covers ZIP entries, which need the local-header offset,
	// compressed size, compression method, and CRC to extract.
	EntryZip
)

// Entry is one archive member (C3's ArchiveEntry).
type Entry struct {
	Path  string
	Size  int64 // uncompressed size
	IsDir bool

	Type EntryType

	// Physical
	Offset int64 // header byte offset (uncompressed tar) or zero-based entry index (tar.gz/tar.bz2)

	// Zip
	LocalHeaderOffset int64
	CompressedSize    int64
	CompressionMethod uint16
	CRC32             uint32
}

// Index is the immutable, shared archive index (C3): a map from
// intra-archive path to Entry, plus small string metadata. Once built, an
// Index is never mutated — readers (including the cache) hold a shared
// reference — an Index is shared immutably once built.
type Index struct {
	tree     *btree.BTree
	Metadata map[string]string

	// Truncated records whether index construction stopped on a short
	// read near EOF rather than the archive's normal terminator (two
	// zero blocks for TAR). Not an error: a locally-recoverable deviation
	// surfaced so a caller can warn without failing the listing.
	Truncated bool
}

func entryLess(a, b interface{}) bool {
	return a.(*Entry).Path < b.(*Entry).Path
}

// NewIndex builds an empty, mutable Index builder. There is no explicit
// freeze step: once all entries are inserted it is simply no longer mutated,
// and by convention nothing calls Insert on an Index returned from a
// handler's BuildIndex — handlers build into this type directly and then hand the
// pointer to the cache, which treats it as immutable from then on.
func NewIndex() *Index {
	return &Index{
		tree:     btree.New(entryLess),
		Metadata: make(map[string]string),
	}
}

// Insert adds or replaces an entry by path. Real entries always win over a
// previously synthesized directory at the same path.
func (ix *Index) Insert(e *Entry) {
	ix.tree.Set(e)
}

// Len returns the number of entries in the index.
func (ix *Index) Len() int { return ix.tree.Len() }

// rawGet looks up the exact stored key p, with no trailing-slash fallback.
func (ix *Index) rawGet(p string) *Entry {
	item := ix.tree.Get(&Entry{Path: p})
	if item == nil {
		return nil
	}
	return item.(*Entry)
}

// Find looks up path p, succeeding whether the stored key is p or p+"/"
// (TAR directories are often stored with a trailing slash). Both
// lookups return the same entry by construction (only one is ever present).
func (ix *Index) Find(p string) (*Entry, bool) {
	p = strings.TrimSuffix(p, "/")
	if e := ix.rawGet(p); e != nil {
		return e, true
	}
	if e := ix.rawGet(p + "/"); e != nil {
		return e, true
	}
	return nil, false
}

// Ascend walks all entries in path order starting at pivot (inclusive),
// calling fn until it returns false or entries are exhausted.
func (ix *Index) Ascend(pivot string, fn func(*Entry) bool) {
	ix.tree.Ascend(&Entry{Path: pivot}, func(item interface{}) bool {
		return fn(item.(*Entry))
	})
}

// All returns every entry, in path order. Intended for small archives and
// tests; large listings should use ListEntries or Ascend directly.
func (ix *Index) All() []*Entry {
	out := make([]*Entry, 0, ix.tree.Len())
	ix.tree.Ascend(nil, func(item interface{}) bool {
		out = append(out, item.(*Entry))
		return true
	})
	return out
}

// SynthesizeDirs walks every entry's path and inserts a directory Entry for
// each implied prefix that is not already present. Synthesized
// directories have size 0, is_dir=true, and never overwrite a real entry at
// the same path — directories are always synthesized at build time,
// uniformly across ZIP and TAR, rather than lazily at list time.
func (ix *Index) SynthesizeDirs() {
	existing := ix.All()
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[strings.TrimSuffix(e.Path, "/")] = true
	}

	for _, e := range existing {
		p := strings.TrimSuffix(e.Path, "/")
		for {
			idx := strings.LastIndex(p, "/")
			if idx < 0 {
				break
			}
			p = p[:idx]
			if p == "" {
				break
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			ix.Insert(&Entry{Path: p + "/", IsDir: true, Size: 0, Type: EntryPhysical})
		}
	}
}

// ListEntries is the format-agnostic directory listing walk: it
// normalizes path into a search prefix, collects direct children (files and
// implied-or-real directories), deduplicates directories, and orders
// directories before files, each group sorted lexicographically.
func ListEntries(ix *Index, path string) []*Entry {
	prefix := normalizeSearchPrefix(path)

	dirSeen := make(map[string]bool)
	var dirs, files []*Entry

	ix.Ascend(prefix, func(e *Entry) bool {
		if !strings.HasPrefix(e.Path, prefix) {
			return false // btree is ordered; once we pass the prefix we're done
		}
		suffix := e.Path[len(prefix):]

		slash := strings.IndexByte(suffix, '/')
		if slash >= 0 {
			dirName := prefix + suffix[:slash]
			if dirSeen[dirName] {
				return true
			}
			dirSeen[dirName] = true

			if canonical, ok := ix.Find(dirName); ok && canonical.IsDir {
				dirs = append(dirs, canonical)
			} else {
				// Legal: no explicit entry for this directory,
				// only entries nested under it. Emit a synthesized stand-in.
				dirs = append(dirs, &Entry{Path: dirName + "/", IsDir: true, Type: EntryPhysical})
			}
			return true
		}

		if suffix == "" {
			return true // the prefix itself, not a child
		}

		if e.IsDir {
			if dirSeen[e.Path] {
				return true
			}
			dirSeen[e.Path] = true
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
		return true
	})

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	out := make([]*Entry, 0, len(dirs)+len(files))
	out = append(out, dirs...)
	out = append(out, files...)
	return out
}

// normalizeSearchPrefix turns a caller-supplied path into the search_prefix
// empty or "/" means root (empty prefix); otherwise
// strip surrounding slashes and append a single trailing "/".
func normalizeSearchPrefix(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	return path + "/"
}
