package tarfmt

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/vafs/pkg/archive"
	"github.com/beam-cloud/vafs/pkg/store"
	"github.com/beam-cloud/vafs/pkg/vfserr"
)

type tarEntrySpec struct {
	name  string
	data  []byte
	isDir bool
}

// buildTar hand-assembles a ustar byte stream (not via archive/tar) so
// tests can control header fields and the terminator precisely.
func buildTar(t *testing.T, entries []tarEntrySpec) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, e := range entries {
		block := make([]byte, blockSize)
		copy(block[0:100], e.name)
		typeflag := byte('0')
		if e.isDir {
			typeflag = '5'
		}
		block[156] = typeflag
		writeOctal(block[124:136], int64(len(e.data)))

		buf.Write(block)
		if !e.isDir {
			buf.Write(e.data)
			if pad := roundUp512(int64(len(e.data))) - int64(len(e.data)); pad > 0 {
				buf.Write(make([]byte, pad))
			}
		}
	}
	// Two terminator blocks.
	buf.Write(make([]byte, blockSize*2))
	return buf.Bytes()
}

func writeOctal(dst []byte, n int64) {
	s := []byte("0000000000")
	for i := len(s) - 1; i >= 0 && n > 0; i-- {
		s[i] = byte('0' + n%8)
		n /= 8
	}
	copy(dst, s)
}

func gzipCompress(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// bzip2 has no writer in the standard library, so there is no way to build
// a real bzip2 fixture here. The bzip2 variant shares indexStreamed and
// extractStreamed with the gzip variant (the only difference is which
// decompressor wraps the sync adapter), so gzip's tests exercise that
// shared code; TestTarBz2InvalidStreamFailsCleanly below
// only checks that the bzip2 path is wired up and fails cleanly on
// non-bzip2 input rather than panicking.

func seed(t *testing.T, data []byte) (store.Store, string, string) {
	t.Helper()
	ms := store.NewMemStore()
	ms.Put("b", "a.tar", data)
	return ms, "b", "a.tar"
}

func TestUncompressedTarListAndExtract(t *testing.T) {
	data := buildTar(t, []tarEntrySpec{
		{name: "dir/", isDir: true},
		{name: "dir/file.txt", data: []byte("hello world")},
	})
	st, bucket, key := seed(t, data)

	h := &Handler{Variant: archive.TypeTar}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)
	require.False(t, idx.Truncated)

	entries := archive.ListEntries(idx, "/")
	require.Len(t, entries, 1)
	require.Equal(t, "dir/", entries[0].Path)

	out, err := h.ExtractFile(context.Background(), st, bucket, key, idx, "dir/file.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), out)
}

func TestUncompressedTarDirectoryExtractRejected(t *testing.T) {
	data := buildTar(t, []tarEntrySpec{{name: "dir/", isDir: true}})
	st, bucket, key := seed(t, data)

	h := &Handler{Variant: archive.TypeTar}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	_, err = h.ExtractFile(context.Background(), st, bucket, key, idx, "dir")
	require.Error(t, err)
	require.Equal(t, vfserr.InvalidFormat, vfserr.KindOf(err))
}

func TestUncompressedTarSynthesizesMissingDirs(t *testing.T) {
	data := buildTar(t, []tarEntrySpec{{name: "a/b/c.txt", data: []byte("x")}})
	st, bucket, key := seed(t, data)

	h := &Handler{Variant: archive.TypeTar}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)

	root := archive.ListEntries(idx, "/")
	require.Len(t, root, 1)
	require.Equal(t, "a/", root[0].Path)

	ab := archive.ListEntries(idx, "a/b")
	require.Len(t, ab, 1)
	require.Equal(t, "a/b/c.txt", ab[0].Path)
}

func TestUncompressedTarMissingTerminatorTolerated(t *testing.T) {
	data := buildTar(t, []tarEntrySpec{{name: "f.txt", data: []byte("x")}})
	// Strip the two terminator blocks entirely.
	data = data[:len(data)-blockSize*2]

	st, bucket, key := seed(t, data)
	h := &Handler{Variant: archive.TypeTar}
	idx, err := h.BuildIndex(context.Background(), st, bucket, key)
	require.NoError(t, err)
	require.True(t, idx.Truncated)

	entries := archive.ListEntries(idx, "/")
	require.Len(t, entries, 1)
	require.Equal(t, "f.txt", entries[0].Path)
}

func TestGzipTarListAndExtract(t *testing.T) {
	raw := buildTar(t, []tarEntrySpec{{name: "x/y.txt", data: []byte("payload")}})
	data := gzipCompress(t, raw)

	ms := store.NewMemStore()
	ms.Put("b", "a.tar.gz", data)

	h := &Handler{Variant: archive.TypeTarGz}
	idx, err := h.BuildIndex(context.Background(), ms, "b", "a.tar.gz")
	require.NoError(t, err)

	entries := archive.ListEntries(idx, "x")
	require.Len(t, entries, 1)
	require.Equal(t, "x/y.txt", entries[0].Path)
	// Offset is the zero-based entry index for compressed variants, not a
	// byte position.
	require.Equal(t, int64(0), entries[0].Offset)

	out, err := h.ExtractFile(context.Background(), ms, "b", "a.tar.gz", idx, "x/y.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), out)
}

func TestGzipTarMultipleEntriesPreservesOrderAndIndex(t *testing.T) {
	raw := buildTar(t, []tarEntrySpec{
		{name: "one.txt", data: []byte("1")},
		{name: "two.txt", data: []byte("22")},
		{name: "three.txt", data: []byte("333")},
	})
	data := gzipCompress(t, raw)
	ms := store.NewMemStore()
	ms.Put("b", "a.tar.gz", data)

	h := &Handler{Variant: archive.TypeTarGz}
	idx, err := h.BuildIndex(context.Background(), ms, "b", "a.tar.gz")
	require.NoError(t, err)

	e, ok := idx.Find("two.txt")
	require.True(t, ok)
	require.Equal(t, int64(1), e.Offset)

	out, err := h.ExtractFile(context.Background(), ms, "b", "a.tar.gz", idx, "three.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("333"), out)
}

func TestTarBz2InvalidStreamFailsCleanly(t *testing.T) {
	// bzip2 has no writer in the standard library, so this test only
	// verifies that the bzip2 decode path is wired to compress/bzip2 and
	// surfaces a clear error on non-bzip2 bytes, rather than panicking.
	ms := store.NewMemStore()
	ms.Put("b", "a.tar.bz2", []byte("not actually bzip2 data"))

	h := &Handler{Variant: archive.TypeTarBz2}
	_, err := h.BuildIndex(context.Background(), ms, "b", "a.tar.bz2")
	require.Error(t, err)

	// Sanity: compress/bzip2 is reachable from this package.
	_ = bzip2.NewReader(bytes.NewReader(nil))
}

func TestParseOctalToleratesSpacesAndEmpty(t *testing.T) {
	n, ok := parseOctal([]byte("0000017 \x00"))
	require.True(t, ok)
	require.Equal(t, int64(15), n)

	n, ok = parseOctal(bytes.Repeat([]byte{0}, 12))
	require.True(t, ok)
	require.Equal(t, int64(0), n)

	_, ok = parseOctal([]byte("99999999999"))
	require.False(t, ok)
}

func TestRoundUp512(t *testing.T) {
	require.Equal(t, int64(0), roundUp512(0))
	require.Equal(t, int64(512), roundUp512(1))
	require.Equal(t, int64(512), roundUp512(512))
	require.Equal(t, int64(1024), roundUp512(513))
}
