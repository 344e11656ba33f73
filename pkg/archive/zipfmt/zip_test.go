package zipfmt

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/vafs/pkg/archive"
	"github.com/beam-cloud/vafs/pkg/store"
	"github.com/beam-cloud/vafs/pkg/vfserr"
)

// zipEntrySpec describes one file to bake into a hand-built test archive.
// Building raw bytes by hand (rather than via archive/zip) lets tests
// exercise the exact malformed-header scenarios below.
type zipEntrySpec struct {
	name       string
	method     uint16 // 0 stored, 8 deflate
	data       []byte // raw file content
	utf8       bool
	corruptCRC bool
}

func buildZip(t *testing.T, entries []zipEntrySpec) []byte {
	t.Helper()

	var local bytes.Buffer
	var central bytes.Buffer
	localOffsets := make([]int, len(entries))

	for i, e := range entries {
		localOffsets[i] = local.Len()

		var payload []byte
		switch e.method {
		case 0:
			payload = e.data
		case 8:
			var buf bytes.Buffer
			fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
			require.NoError(t, err)
			_, err = fw.Write(e.data)
			require.NoError(t, err)
			require.NoError(t, fw.Close())
			payload = buf.Bytes()
		default:
			t.Fatalf("unsupported test method %d", e.method)
		}

		crc := crc32.ChecksumIEEE(e.data)
		if e.corruptCRC {
			crc ^= 0xFFFFFFFF
		}

		// Local file header
		lfh := make([]byte, 30)
		binary.LittleEndian.PutUint32(lfh[0:4], lfhSignature)
		binary.LittleEndian.PutUint16(lfh[6:8], 0) // flags
		binary.LittleEndian.PutUint16(lfh[8:10], e.method)
		binary.LittleEndian.PutUint32(lfh[14:18], crc)
		binary.LittleEndian.PutUint32(lfh[18:22], uint32(len(payload)))
		binary.LittleEndian.PutUint32(lfh[22:26], uint32(len(e.data)))
		binary.LittleEndian.PutUint16(lfh[26:28], uint16(len(e.name)))
		binary.LittleEndian.PutUint16(lfh[28:30], 0)

		local.Write(lfh)
		local.WriteString(e.name)
		local.Write(payload)

		// Central directory file header
		flags := uint16(0)
		if e.utf8 {
			flags |= 0x800
		}
		cdfh := make([]byte, 46)
		binary.LittleEndian.PutUint32(cdfh[0:4], cdfhSignature)
		binary.LittleEndian.PutUint16(cdfh[8:10], flags)
		binary.LittleEndian.PutUint16(cdfh[10:12], e.method)
		binary.LittleEndian.PutUint32(cdfh[16:20], crc)
		binary.LittleEndian.PutUint32(cdfh[20:24], uint32(len(payload)))
		binary.LittleEndian.PutUint32(cdfh[24:28], uint32(len(e.data)))
		binary.LittleEndian.PutUint16(cdfh[28:30], uint16(len(e.name)))
		binary.LittleEndian.PutUint32(cdfh[42:46], uint32(localOffsets[i]))

		central.Write(cdfh)
		central.WriteString(e.name)
	}

	cdOffset := local.Len()
	cdSize := central.Len()

	eocd := make([]byte, 22)
	binary.LittleEndian.PutUint32(eocd[0:4], eocdSignature)
	binary.LittleEndian.PutUint16(eocd[8:10], uint16(len(entries)))
	binary.LittleEndian.PutUint16(eocd[10:12], uint16(len(entries)))
	binary.LittleEndian.PutUint32(eocd[12:16], uint32(cdSize))
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(cdOffset))

	var out bytes.Buffer
	out.Write(local.Bytes())
	out.Write(central.Bytes())
	out.Write(eocd)
	return out.Bytes()
}

func seed(t *testing.T, data []byte) (store.Store, string, string) {
	t.Helper()
	ms := store.NewMemStore()
	ms.Put("b", "a.zip", data)
	return ms, "b", "a.zip"
}

func TestEmptyZipListAndExtract(t *testing.T) {
	data := buildZip(t, nil)
	st, bucket, key := seed(t, data)

	h := &Handler{}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)
	require.Empty(t, archive.ListEntries(idx, "/"))

	_, err = h.ExtractFile(context.Background(), st, bucket, key, idx, "anything")
	require.Error(t, err)
	require.Equal(t, vfserr.NotFound, vfserr.KindOf(err))
}

func TestSingleStoredEntry(t *testing.T) {
	data := buildZip(t, []zipEntrySpec{{name: "hello.txt", method: 0, data: []byte("hi\n")}})
	st, bucket, key := seed(t, data)

	h := &Handler{}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	entries := archive.ListEntries(idx, "/")
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Path)
	require.Equal(t, int64(3), entries[0].Size)

	out, err := h.ExtractFile(context.Background(), st, bucket, key, idx, "hello.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hi\n"), out)
	require.Equal(t, uint32(0xED6F7A7A), crc32.ChecksumIEEE([]byte("hi\n")))
}

func TestUTF8Filename(t *testing.T) {
	data := buildZip(t, []zipEntrySpec{{name: "日本.txt", method: 0, data: []byte{}, utf8: true}})
	st, bucket, key := seed(t, data)

	h := &Handler{}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	entries := archive.ListEntries(idx, "/")
	require.Len(t, entries, 1)
	require.Equal(t, "日本.txt", entries[0].Path)
}

func TestDeflateEntryRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 50)
	data := buildZip(t, []zipEntrySpec{{name: "big.txt", method: 8, data: content}})
	st, bucket, key := seed(t, data)

	h := &Handler{}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	out, err := h.ExtractFile(context.Background(), st, bucket, key, idx, "big.txt")
	require.NoError(t, err)
	require.Equal(t, content, out)
}

func TestCRCCorruptionDetected(t *testing.T) {
	data := buildZip(t, []zipEntrySpec{{name: "f.txt", method: 8, data: []byte("some content to deflate"), corruptCRC: true}})
	st, bucket, key := seed(t, data)

	h := &Handler{}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	_, err = h.ExtractFile(context.Background(), st, bucket, key, idx, "f.txt")
	require.Error(t, err)
	require.Equal(t, vfserr.Corrupt, vfserr.KindOf(err))
}

func TestZip64CentralDirSizeMarkerRejected(t *testing.T) {
	data := buildZip(t, []zipEntrySpec{{name: "f.txt", method: 0, data: []byte("x")}})

	// Patch the EOCD's central_dir_size field to the ZIP64 marker.
	eocdOff := bytes.Index(data, []byte{0x50, 0x4b, 0x05, 0x06})
	require.GreaterOrEqual(t, eocdOff, 0)
	binary.LittleEndian.PutUint32(data[eocdOff+12:eocdOff+16], 0xFFFFFFFF)

	st, bucket, key := seed(t, data)
	h := &Handler{}
	_, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.Error(t, err)
	require.Equal(t, vfserr.Unsupported, vfserr.KindOf(err))
}

func TestMultiDiskRejected(t *testing.T) {
	data := buildZip(t, []zipEntrySpec{{name: "f.txt", method: 0, data: []byte("x")}})
	eocdOff := bytes.Index(data, []byte{0x50, 0x4b, 0x05, 0x06})
	require.GreaterOrEqual(t, eocdOff, 0)
	binary.LittleEndian.PutUint16(data[eocdOff+4:eocdOff+6], 1)

	st, bucket, key := seed(t, data)
	h := &Handler{}
	_, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.Error(t, err)
	require.Equal(t, vfserr.Unsupported, vfserr.KindOf(err))
}

func TestLocalHeaderOffsetOutOfBoundsRejected(t *testing.T) {
	data := buildZip(t, []zipEntrySpec{{name: "f.txt", method: 0, data: []byte("x")}})

	// Find the lone CDFH and push its local-header offset past the archive end.
	cdfhOff := bytes.Index(data, []byte{0x50, 0x4b, 0x01, 0x02})
	require.GreaterOrEqual(t, cdfhOff, 0)
	binary.LittleEndian.PutUint32(data[cdfhOff+42:cdfhOff+46], uint32(len(data)+1000))

	st, bucket, key := seed(t, data)
	h := &Handler{}
	_, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.Error(t, err)
	require.Equal(t, vfserr.InvalidFormat, vfserr.KindOf(err))
}

func TestZipBombRatioGuardTripsWithoutDecompressing(t *testing.T) {
	// Build a legitimate small deflate entry, then lie about its
	// uncompressed size in the CDFH (the size ExtractFile trusts) to
	// simulate a bomb; the local header is only located, not patched.
	content := []byte("small")
	data := buildZip(t, []zipEntrySpec{{name: "bomb.txt", method: 8, data: content}})

	hugeSize := uint32(len(content)) * 5000 // ratio > 1000:1 against a tiny compressed size
	for _, sig := range [][]byte{{0x50, 0x4b, 0x01, 0x02}, {0x50, 0x4b, 0x03, 0x04}} {
		off := bytes.Index(data, sig)
		require.GreaterOrEqual(t, off, 0)
		if sig[2] == 0x01 { // central directory: uncompressed size at +24
			binary.LittleEndian.PutUint32(data[off+24:off+28], hugeSize)
		}
	}

	st, bucket, key := seed(t, data)
	h := &Handler{}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	_, err = h.ExtractFile(context.Background(), st, bucket, key, idx, "bomb.txt")
	require.Error(t, err)
	require.Equal(t, vfserr.ResourceLimit, vfserr.KindOf(err))
}

func TestEOCDAtExactly22BytesFromEnd(t *testing.T) {
	// An empty archive's EOCD is always exactly 22 bytes (no comment).
	data := buildZip(t, nil)
	require.Equal(t, 22, len(data))

	st, bucket, key := seed(t, data)
	h := &Handler{}
	_, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)
}

func TestCompressedSizeZeroButNonzeroDeclaredSizeRejected(t *testing.T) {
	data := buildZip(t, []zipEntrySpec{{name: "f.txt", method: 0, data: []byte("x")}})

	cdfhOff := bytes.Index(data, []byte{0x50, 0x4b, 0x01, 0x02})
	require.GreaterOrEqual(t, cdfhOff, 0)
	binary.LittleEndian.PutUint32(data[cdfhOff+20:cdfhOff+24], 0) // compressed size -> 0

	st, bucket, key := seed(t, data)
	h := &Handler{}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	_, err = h.ExtractFile(context.Background(), st, bucket, key, idx, "f.txt")
	require.Error(t, err)
	require.Equal(t, vfserr.InvalidFormat, vfserr.KindOf(err))
}
