package rangestream

import (
	"context"
	"fmt"
	"io"
)

// SyncAdapter bridges a Stream's async range reads to a blocking
// io.ReadSeeker. It serves reads from a rolling in-memory buffer (nominal
// 64 KiB) when the current position falls inside it; otherwise it fetches a
// fresh chunk sized min(64 KiB, remaining, 2*buf.len()) starting at the
// current position and serves from that.
//
// This adapter must only ever be driven from a blocking worker (a goroutine
// dedicated to the synchronous decoder), never from a cooperative/async
// context — callers embedding this in a worker pool should still route it
// through one, to keep blocking I/O off latency-sensitive paths.
type SyncAdapter struct {
	ctx    context.Context
	stream *Stream

	pos int64 // current read/seek position

	bufBase int64  // stream offset of buf[0]
	buf     []byte // rolling buffer contents
}

func newSyncAdapter(ctx context.Context, s *Stream) *SyncAdapter {
	return &SyncAdapter{ctx: ctx, stream: s, bufBase: -1}
}

// Read implements io.Reader.
func (a *SyncAdapter) Read(p []byte) (int, error) {
	if a.pos >= a.stream.size {
		return 0, io.EOF
	}

	if !a.inBuffer(a.pos) {
		if err := a.fill(); err != nil {
			return 0, err
		}
	}

	off := int(a.pos - a.bufBase)
	n := copy(p, a.buf[off:])
	a.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker. Seeking beyond EOF fails; seeking outside the
// current buffer window invalidates the buffer so the next Read refetches.
func (a *SyncAdapter) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = a.pos + offset
	case io.SeekEnd:
		target = a.stream.size + offset
	default:
		return 0, fmt.Errorf("rangestream: invalid whence %d", whence)
	}

	if target < 0 || target > a.stream.size {
		return 0, fmt.Errorf("rangestream: seek out of bounds target=%d size=%d", target, a.stream.size)
	}

	if !a.inBuffer(target) {
		a.bufBase = -1
		a.buf = nil
	}
	a.pos = target
	return a.pos, nil
}

func (a *SyncAdapter) inBuffer(pos int64) bool {
	return a.bufBase >= 0 && pos >= a.bufBase && pos < a.bufBase+int64(len(a.buf))
}

func (a *SyncAdapter) fill() error {
	remaining := a.stream.size - a.pos
	if remaining <= 0 {
		return io.EOF
	}

	chunk := int64(defaultChunk)
	if prev := int64(len(a.buf)); prev > 0 && 2*prev < chunk {
		chunk = 2 * prev
	}
	if remaining < chunk {
		chunk = remaining
	}

	b, err := a.stream.ReadRange(a.ctx, a.pos, chunk)
	if err != nil {
		return err
	}

	a.bufBase = a.pos
	a.buf = b
	return nil
}
