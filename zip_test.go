package binmap

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"slices"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/wanglei-coder/binmap/stream"
)

type zipEntry struct {
	name   string
	data   []byte
	method uint16
}

func zipBytes(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	w.RegisterCompressor(ZipMethodZstd, func(out io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(out)
	})
	for _, e := range entries {
		f, err := w.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		require.NoError(t, err)
		_, err = f.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

var (
	helloText = bytes.Repeat([]byte("hello "), 32)
	rawBytes  = []byte{0xDE, 0xAD, 0xBE, 0xEF}
)

func twoMembers(t *testing.T) []byte {
	return zipBytes(t,
		zipEntry{name: "hello.txt", data: helloText, method: zip.Deflate},
		zipEntry{name: "raw.bin", data: rawBytes, method: zip.Store},
	)
}

// localOnlySample is two stored members with no central directory, then a
// local header whose data runs past the end.
func localOnlySample() *sample {
	local := func(s *sample, off int, name, data string, csize uint32) *sample {
		return s.str(off, "PK\x03\x04").
			u16(off+4, 10).
			u32(off+18, csize).
			u32(off+22, uint32(len(data))).
			u16(off+26, uint16(len(name))).
			str(off+30, name).
			str(off+30+len(name), data)
	}
	s := newSample(0)
	local(s, 0, "a.txt", "hello", 5)
	local(s, 40, "b.txt", "world", 5)
	return local(s, 80, "c.txt", "", 0x1000)
}

func TestZIP_IsValid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "archive", data: twoMembers(t), want: true},
		{name: "empty archive", data: zipBytes(t), want: true},
		{name: "local headers only", data: localOnlySample().bytes(), want: true},
		{name: "short local header", data: []byte("PK\x03\x04\x00\x00"), want: false},
		{name: "no signature", data: newSample(64).bytes(), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NewZIP(stream.FromBytes(tt.data)).IsValid())
		})
	}
}

func TestZIP_Records(t *testing.T) {
	d := NewZIP(stream.FromBytes(twoMembers(t)))
	records := d.Records(context.Background(), 0)
	require.Len(t, records, 2)

	require.Equal(t, "hello.txt", records[0].FileName)
	require.Equal(t, "deflate", records[0].MethodName)
	require.EqualValues(t, len(helloText), records[0].UncompressedSize)
	require.Less(t, records[0].CompressedSize, records[0].UncompressedSize)
	require.Zero(t, records[0].HeaderOffset)
	require.EqualValues(t, zipLocalHeaderSize+len("hello.txt"), records[0].HeaderSize)

	require.Equal(t, "raw.bin", records[1].FileName)
	require.Equal(t, "store", records[1].MethodName)
	require.EqualValues(t, len(rawBytes), records[1].CompressedSize)

	data, err := d.Decompress(records[0])
	require.NoError(t, err)
	require.Equal(t, helloText, data)
	data, err = d.Decompress(records[1])
	require.NoError(t, err)
	require.Equal(t, rawBytes, data)

	require.Len(t, d.Records(context.Background(), 1), 1)
	require.Empty(t, d.Records(cancelledContext(), 0))
}

func TestZIP_Decompress(t *testing.T) {
	buf := twoMembers(t)

	d := NewZIP(stream.FromBytes(buf))
	d.configure(Options{MaxMemberSize: 16})
	records := d.Records(context.Background(), 0)
	_, err := d.Decompress(records[0])
	require.True(t, errors.Is(err, ErrMemberTooLarge))
	_, err = d.Decompress(records[1])
	require.NoError(t, err)

	rec := records[1]
	rec.Method = 99
	rec.HeaderOffset = -1
	_, err = NewZIP(stream.FromBytes(buf)).Decompress(rec)
	require.True(t, errors.Is(err, ErrUnsupportedMethod))

	rec = records[1]
	rec.CompressedSize = int64(len(buf))
	_, err = NewZIP(stream.FromBytes(buf)).Decompress(rec)
	require.True(t, errors.Is(err, ErrOutsideBoundary))
}

func TestZIP_DecompressZstd(t *testing.T) {
	buf := zipBytes(t,
		zipEntry{name: "a.txt", data: helloText, method: ZipMethodZstd},
		zipEntry{name: "b.txt", data: rawBytes, method: ZipMethodZstd},
	)
	d := NewZIP(stream.FromBytes(buf))
	records := d.Records(context.Background(), 0)
	require.Len(t, records, 2)
	require.EqualValues(t, ZipMethodZstd, records[0].Method)

	for i, want := range [][]byte{helloText, rawBytes} {
		data, err := d.Decompress(records[i])
		require.NoError(t, err)
		require.Equal(t, want, data)
	}

	d = NewZIP(stream.FromBytes(buf))
	d.configure(Options{MaxMemberSize: 16})
	_, err := d.Decompress(records[0])
	require.True(t, errors.Is(err, ErrMemberTooLarge))
}

func TestZIP_MemoryMap(t *testing.T) {
	trailer := []byte("trailing bytes")
	d := NewZIP(stream.FromBytes(append(twoMembers(t), trailer...)))

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "ZIP (2 entries)", m.TypeString)
	require.Equal(t, []string{"hello.txt", "raw.bin"}, regionNames(m, RegionHeader))
	require.Equal(t, []string{"hello.txt", "raw.bin"}, regionNames(m, RegionFileSegment))
	require.Equal(t, []string{"central directory", "end of central directory"}, regionNames(m, RegionFooter))

	records := d.Records(context.Background(), 0)
	require.EqualValues(t, records[1].DataOffset, m.Regions[3].Offset)
	require.EqualValues(t, len(rawBytes), m.Regions[3].Size)

	overlay, ok := m.Overlay()
	require.True(t, ok)
	require.EqualValues(t, len(trailer), overlay.Size)
	require.EqualValues(t, m.BinarySize-int64(len(trailer)), overlay.Offset)
}

func TestZIP_EmptyArchive(t *testing.T) {
	d := NewZIP(stream.FromBytes(zipBytes(t)))
	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "ZIP (0 entries)", m.TypeString)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionFooter, Name: "end of central directory", Offset: 0, Address: -1, Size: zipEndOfCentralSize},
	}, m.Regions)
}

func TestZIP_LocalHeaderWalk(t *testing.T) {
	d := NewZIP(localOnlySample().stream())
	records := d.Records(context.Background(), 0)
	require.Len(t, records, 2)
	require.EqualValues(t, 40, records[1].HeaderOffset)
	require.EqualValues(t, 75, records[1].DataOffset)

	data, err := d.Decompress(records[1])
	require.NoError(t, err)
	require.Equal(t, []byte("world"), data)

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "a.txt", Offset: 0, Address: -1, Size: 35},
		{Index: 1, Type: RegionFileSegment, Name: "a.txt", Offset: 35, Address: -1, Size: 5},
		{Index: 2, Type: RegionHeader, Name: "b.txt", Offset: 40, Address: -1, Size: 35},
		{Index: 3, Type: RegionFileSegment, Name: "b.txt", Offset: 75, Address: -1, Size: 5},
		{Index: 4, Type: RegionOverlay, Name: "overlay", Offset: 80, Address: -1, Size: 35},
	}, m.Regions)
}

func TestZIP_FileType(t *testing.T) {
	tests := []struct {
		name   string
		member string
		want   FileType
	}{
		{name: "plain", member: "readme.txt", want: FileTypeZIP},
		{name: "jar", member: "META-INF/MANIFEST.MF", want: FileTypeJAR},
		{name: "apk", member: "AndroidManifest.xml", want: FileTypeAPK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := zipBytes(t, zipEntry{name: tt.member, data: []byte("x"), method: zip.Store})
			d := NewZIP(stream.FromBytes(buf))
			require.Equal(t, tt.want, d.FileType())
			require.Equal(t, tt.want.String(), d.OSInfo().Type)
		})
	}
}

func TestZIP_Children(t *testing.T) {
	d := NewZIP(stream.FromBytes(zipBytes(t,
		zipEntry{name: "empty/", method: zip.Store},
		zipEntry{name: "hello.txt", data: helloText, method: zip.Deflate},
	)))
	children := slices.Collect(d.Children(context.Background(), 0))
	require.Len(t, children, 1)
	require.Equal(t, "hello.txt", children[0].Name)
	require.Equal(t, helloText, children[0].Stream.Bytes(0, children[0].Stream.Size()))
}

func TestDecodeName(t *testing.T) {
	require.Equal(t, "plain.txt", decodeName([]byte("plain.txt"), false))
	require.Equal(t, "Ç.txt", decodeName([]byte{0x80, '.', 't', 'x', 't'}, false))
	require.Equal(t, "\x80", decodeName([]byte{0x80}, true))
}
