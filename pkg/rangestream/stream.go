// Package rangestream wraps a store.Store with single-object state: a
// captured size, bounded range/tail reads, and a synchronous io.ReadSeeker
// adapter for legacy decoders that demand blocking Read+Seek (the
// compressed-TAR index and extraction paths driving compress/gzip and
// compress/bzip2).
package rangestream

import (
	"context"
	"fmt"

	"github.com/beam-cloud/vafs/pkg/store"
	"github.com/beam-cloud/vafs/pkg/vfserr"
)

// defaultChunk is the sync adapter's nominal rolling-buffer chunk size:
// 64 KiB, the default for the sync-adapter rolling buffer.
const defaultChunk = 64 * 1024

// Stream is the Range Stream (C2): single-object state over a Store.
type Stream struct {
	st     store.Store
	bucket string
	key    string
	size   int64
}

// Open captures the object's size via Head and returns a Stream over it.
func Open(ctx context.Context, st store.Store, bucket, key string) (*Stream, error) {
	info, err := st.Head(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &Stream{st: st, bucket: bucket, key: key, size: info.Size}, nil
}

// NewWithSize builds a Stream whose size was already obtained (avoids a
// redundant Head when the caller already has it, e.g. from navigation).
func NewWithSize(st store.Store, bucket, key string, size int64) *Stream {
	return &Stream{st: st, bucket: bucket, key: key, size: size}
}

// Size returns the object's byte length captured at construction.
func (s *Stream) Size() int64 { return s.size }

// ReadRange fetches [offset, offset+length). It fails if the requested
// window runs past the object's end; bounds-checking here is the Stream's
// responsibility, not the underlying Store's.
func (s *Stream) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, vfserr.New(vfserr.InvalidFormat, fmt.Sprintf("negative range offset=%d length=%d", offset, length)).WithArchive(s.id())
	}
	if offset+length > s.size {
		return nil, vfserr.New(vfserr.InvalidFormat, fmt.Sprintf("range out of bounds offset=%d length=%d size=%d", offset, length, s.size)).WithArchive(s.id())
	}
	if length == 0 {
		return []byte{}, nil
	}

	b, err := s.st.GetRange(ctx, s.bucket, s.key, offset, length)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ReadTail reads the final min(length, size) bytes, used for locating the
// ZIP EOCD record.
func (s *Stream) ReadTail(ctx context.Context, length int64) ([]byte, error) {
	if length > s.size {
		length = s.size
	}
	if length <= 0 {
		return []byte{}, nil
	}
	return s.ReadRange(ctx, s.size-length, length)
}

func (s *Stream) id() string {
	return fmt.Sprintf("store://%s/%s", s.bucket, s.key)
}

// SyncReader returns a blocking io.ReadSeeker adapter over this Stream, for
// decoders (archive/tar, compress/gzip, compress/bzip2) that do not
// understand async range reads. ctx bounds every underlying fetch the
// adapter issues.
func (s *Stream) SyncReader(ctx context.Context) *SyncAdapter {
	return newSyncAdapter(ctx, s)
}
