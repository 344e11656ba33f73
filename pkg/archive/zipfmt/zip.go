// Package zipfmt implements the ZIP archive handler (C4): it builds an
// archive.Index from two range reads (EOCD tail + central directory) and
// extracts single entries with bounded, checked-arithmetic reads. Nothing
// here is trusted past what has been cross-checked against the central
// directory and the archive's declared size.
package zipfmt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/beam-cloud/vafs/pkg/archive"
	"github.com/beam-cloud/vafs/pkg/rangestream"
	"github.com/beam-cloud/vafs/pkg/store"
	"github.com/beam-cloud/vafs/pkg/vfserr"
)

const (
	eocdSignature = 0x06054b50
	cdfhSignature = 0x02014b50
	lfhSignature  = 0x04034b50

	minEOCDSize = 22
	// maxCommentLen is the largest legal ZIP comment (uint16 max); the tail
	// search window must cover it plus the fixed EOCD record (use 66000 or
	// greater).
	maxCommentLen = 65535
	// tailWindow must be >= 66000: maxCommentLen + minEOCDSize is the
	// bare minimum that covers any legal comment, with headroom added on top.
	tailWindow = 66443

	// MaxDecompressedSize bounds any single extraction (policy
	// constant, configurable via Handler.MaxDecompressedSize).
	defaultMaxDecompressedSize = 1 << 30 // 1 GiB
	// MaxCompressionRatio bounds uncompressed_size/compressed_size before
	// any bytes are decompressed.
	defaultMaxCompressionRatio = 1000
)

// Handler implements archive.Handler for ZIP.
type Handler struct {
	// MaxDecompressedSize caps any single extraction's output. Zero means
	// defaultMaxDecompressedSize.
	MaxDecompressedSize int64
	// MaxCompressionRatio caps uncompressed/compressed before
	// decompression starts. Zero means defaultMaxCompressionRatio.
	MaxCompressionRatio int64
}

var _ archive.Handler = (*Handler)(nil)

func (h *Handler) limits() (maxSize, maxRatio int64) {
	maxSize = h.MaxDecompressedSize
	if maxSize <= 0 {
		maxSize = defaultMaxDecompressedSize
	}
	maxRatio = h.MaxCompressionRatio
	if maxRatio <= 0 {
		maxRatio = defaultMaxCompressionRatio
	}
	return
}

// BuildIndex implements archive.Handler.
func (h *Handler) BuildIndex(ctx context.Context, st store.Store, bucket, key string) (*archive.Index, error) {
	id := fmt.Sprintf("store://%s/%s", bucket, key)

	s, err := rangestream.Open(ctx, st, bucket, key)
	if err != nil {
		return nil, err
	}
	size := s.Size()

	if size < minEOCDSize {
		return nil, vfserr.New(vfserr.InvalidFormat, "archive too small for EOCD record").WithArchive(id)
	}

	tailLen := int64(tailWindow)
	if tailLen > size {
		tailLen = size
	}
	tail, err := s.ReadTail(ctx, tailLen)
	if err != nil {
		return nil, err
	}

	eocdPos, err := locateEOCD(tail)
	if err != nil {
		return nil, vfserr.Wrap(vfserr.InvalidFormat, "locate EOCD", err).WithArchive(id)
	}
	eocd := tail[eocdPos:]

	diskNo := binary.LittleEndian.Uint16(eocd[4:6])
	cdDiskNo := binary.LittleEndian.Uint16(eocd[6:8])
	if diskNo != 0 || cdDiskNo != 0 {
		return nil, vfserr.New(vfserr.Unsupported, "multi-disk ZIP archives are not supported").WithArchive(id)
	}

	cdSizeRaw := binary.LittleEndian.Uint32(eocd[12:16])
	cdOffsetRaw := binary.LittleEndian.Uint32(eocd[16:20])
	if cdSizeRaw == 0xFFFFFFFF || cdOffsetRaw == 0xFFFFFFFF {
		return nil, vfserr.New(vfserr.Unsupported, "ZIP64 archives are not supported").WithArchive(id)
	}
	cdSize := int64(cdSizeRaw)
	cdOffset := int64(cdOffsetRaw)

	if cdOffset < 0 || cdSize < 0 || cdOffset+cdSize > size {
		return nil, vfserr.New(vfserr.InvalidFormat, "central directory out of bounds").WithArchive(id)
	}

	cdBytes, err := s.ReadRange(ctx, cdOffset, cdSize)
	if err != nil {
		return nil, err
	}

	idx := archive.NewIndex()
	idx.Metadata["bucket"] = bucket
	idx.Metadata["key"] = key

	if err := parseCentralDirectory(cdBytes, size, idx); err != nil {
		return nil, err.(*vfserr.Error).WithArchive(id)
	}

	idx.SynthesizeDirs()
	return idx, nil
}

// locateEOCD scans tail backwards for the EOCD signature, using an
// inclusive lower bound so a comment-less EOCD at exactly 22 bytes from the
// end of the window is found.
func locateEOCD(tail []byte) (int, error) {
	if len(tail) < minEOCDSize {
		return 0, fmt.Errorf("tail window too small")
	}

	// Fast path: no comment at all.
	fastPos := len(tail) - minEOCDSize
	if binary.LittleEndian.Uint32(tail[fastPos:fastPos+4]) == eocdSignature {
		return fastPos, nil
	}

	for i := len(tail) - minEOCDSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:i+4]) == eocdSignature {
			return i, nil
		}
	}
	return 0, fmt.Errorf("EOCD signature not found")
}

func parseCentralDirectory(cd []byte, archiveSize int64, idx *archive.Index) error {
	pos := 0
	for pos+46 <= len(cd) {
		rec := cd[pos:]
		sig := binary.LittleEndian.Uint32(rec[0:4])
		if sig != cdfhSignature {
			break
		}

		flags := binary.LittleEndian.Uint16(rec[8:10])
		if flags&0x1 != 0 {
			return vfserr.New(vfserr.Unsupported, "encrypted ZIP entries are not supported")
		}
		if flags&0x8 != 0 {
			return vfserr.New(vfserr.Unsupported, "ZIP entries using data descriptors are not supported")
		}
		utf8Name := flags&0x800 != 0

		method := binary.LittleEndian.Uint16(rec[10:12])
		crc := binary.LittleEndian.Uint32(rec[16:20])
		compressedSize := binary.LittleEndian.Uint32(rec[20:24])
		uncompressedSize := binary.LittleEndian.Uint32(rec[24:28])
		nameLen := int(binary.LittleEndian.Uint16(rec[28:30]))
		extraLen := int(binary.LittleEndian.Uint16(rec[30:32]))
		commentLen := int(binary.LittleEndian.Uint16(rec[32:34]))
		localHeaderOffsetRaw := binary.LittleEndian.Uint32(rec[42:46])

		if compressedSize == 0xFFFFFFFF || uncompressedSize == 0xFFFFFFFF || localHeaderOffsetRaw == 0xFFFFFFFF {
			return vfserr.New(vfserr.Unsupported, "ZIP64 entries are not supported")
		}

		total := 46
		for _, n := range []int{nameLen, extraLen, commentLen} {
			if n < 0 {
				return vfserr.New(vfserr.InvalidFormat, "negative field length in central directory record")
			}
			next := total + n
			if next < total { // overflow
				return vfserr.New(vfserr.InvalidFormat, "central directory record length overflow")
			}
			total = next
		}
		if pos+total > len(cd) {
			return vfserr.New(vfserr.InvalidFormat, "central directory record truncated")
		}

		localHeaderOffset := int64(localHeaderOffsetRaw)
		if localHeaderOffset < 0 || localHeaderOffset >= archiveSize {
			return vfserr.New(vfserr.InvalidFormat, "local header offset out of bounds")
		}

		nameBytes := rec[46 : 46+nameLen]
		name := decodeName(nameBytes, utf8Name)
		isDir := len(name) > 0 && name[len(name)-1] == '/'

		idx.Insert(&archive.Entry{
			Path:              name,
			Size:              int64(uncompressedSize),
			IsDir:             isDir,
			Type:              archive.EntryZip,
			LocalHeaderOffset: localHeaderOffset,
			CompressedSize:    int64(compressedSize),
			CompressionMethod: method,
			CRC32:             crc,
		})

		pos += total
	}

	return nil
}

// decodeName honors the UTF-8 (EFS) bit; otherwise it maps CP437 bytes
// directly to the matching Unicode code points for the printable ASCII
// range and passes the rest through as Latin-1, which round-trips well
// enough for lookup purposes without a full CP437 table.
func decodeName(b []byte, utf8 bool) string {
	if utf8 {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// ExtractFile implements archive.Handler.
func (h *Handler) ExtractFile(ctx context.Context, st store.Store, bucket, key string, idx *archive.Index, path string) ([]byte, error) {
	id := fmt.Sprintf("store://%s/%s", bucket, key)

	e, ok := idx.Find(path)
	if !ok {
		return nil, vfserr.New(vfserr.NotFound, "entry not found").WithArchive(id).WithEntry(path)
	}
	if e.IsDir {
		return nil, vfserr.New(vfserr.InvalidFormat, "cannot extract a directory").WithArchive(id).WithEntry(path)
	}

	maxSize, maxRatio := h.limits()
	if e.Size > maxSize {
		return nil, vfserr.New(vfserr.ResourceLimit, fmt.Sprintf("uncompressed size %d exceeds limit %d", e.Size, maxSize)).WithArchive(id).WithEntry(path)
	}
	if e.CompressedSize > 0 && e.Size/e.CompressedSize > maxRatio {
		return nil, vfserr.New(vfserr.ResourceLimit, fmt.Sprintf("compression ratio %d:1 exceeds limit %d:1", e.Size/e.CompressedSize, maxRatio)).WithArchive(id).WithEntry(path)
	}

	s, err := rangestream.Open(ctx, st, bucket, key)
	if err != nil {
		return nil, err
	}
	archiveSize := s.Size()

	lfh, err := s.ReadRange(ctx, e.LocalHeaderOffset, 30)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(lfh[0:4]) != lfhSignature {
		return nil, vfserr.New(vfserr.InvalidFormat, "bad local file header signature").WithArchive(id).WithEntry(path).WithOffset(e.LocalHeaderOffset)
	}
	nameLen := int64(binary.LittleEndian.Uint16(lfh[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(lfh[28:30]))

	dataOffset := e.LocalHeaderOffset + 30 + nameLen + extraLen
	if dataOffset < e.LocalHeaderOffset { // overflow
		return nil, vfserr.New(vfserr.InvalidFormat, "local file header field length overflow").WithArchive(id).WithEntry(path)
	}
	if dataOffset+e.CompressedSize > archiveSize {
		return nil, vfserr.New(vfserr.InvalidFormat, "entry data extends past end of archive").WithArchive(id).WithEntry(path)
	}

	if e.CompressedSize == 0 {
		if e.Size != 0 || e.CRC32 != 0 {
			return nil, vfserr.New(vfserr.InvalidFormat, "zero compressed size but non-zero declared size or crc").WithArchive(id).WithEntry(path)
		}
		return []byte{}, nil
	}

	compressed, err := s.ReadRange(ctx, dataOffset, e.CompressedSize)
	if err != nil {
		return nil, err
	}

	decompressed, err := decompress(compressed, e, maxSize)
	if err != nil {
		return nil, wrapWithContext(err, id, path)
	}

	if int64(len(decompressed)) != e.Size {
		return nil, vfserr.New(vfserr.Corrupt, fmt.Sprintf("decompressed size %d does not match declared size %d", len(decompressed), e.Size)).WithArchive(id).WithEntry(path)
	}

	if crc32.ChecksumIEEE(decompressed) != e.CRC32 {
		return nil, vfserr.New(vfserr.Corrupt, "crc-32 mismatch").WithArchive(id).WithEntry(path)
	}

	return decompressed, nil
}

func wrapWithContext(err error, id, path string) error {
	if ve, ok := err.(*vfserr.Error); ok {
		return ve.WithArchive(id).WithEntry(path)
	}
	return err
}

func decompress(compressed []byte, e *archive.Entry, maxSize int64) ([]byte, error) {
	switch e.CompressionMethod {
	case 0: // stored
		if int64(len(compressed)) != e.Size {
			return nil, vfserr.New(vfserr.InvalidFormat, "stored entry compressed/uncompressed size mismatch")
		}
		return compressed, nil

	case 8: // deflate
		fr := flate.NewReader(bytes.NewReader(compressed))
		defer fr.Close()

		limit := maxSize
		if e.Size < limit {
			limit = e.Size
		}

		out := make([]byte, 0, min64(e.Size, 1<<20))
		buf := make([]byte, 32*1024)
		var total int64
		for {
			n, rerr := fr.Read(buf)
			if n > 0 {
				total += int64(n)
				if total > limit {
					return nil, vfserr.New(vfserr.ResourceLimit, "decompressed size exceeded limit during inflate")
				}
				out = append(out, buf[:n]...)
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return nil, vfserr.Wrap(vfserr.Corrupt, "deflate stream error", rerr)
			}
		}
		return out, nil

	default:
		return nil, vfserr.New(vfserr.Unsupported, fmt.Sprintf("compression method %d", e.CompressionMethod))
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
