package binmap

import (
	"context"
	"iter"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var gzipHeaderLayout = newLayout("gzip_header",
	u8("id1"),
	u8("id2"),
	u8("cm"),
	u8("flg"),
	u32("mtime"),
	u8("xfl"),
	u8("os"),
)

const gzipMaxNameLen = 1024

var sigGZIP = signature.MustCompile("1F 8B 08")

var gzipOS = map[uint8]string{
	0:  "FAT",
	1:  "Amiga",
	2:  "VMS",
	3:  "Unix",
	5:  "Atari TOS",
	6:  "HPFS",
	7:  "Macintosh",
	10: "TOPS-20",
	11: "NTFS",
	13: "Acorn RISCOS",
}

// GZIP decodes a single-member gzip stream.
type GZIP struct {
	base
	archive
}

func NewGZIP(s *stream.Stream) *GZIP {
	return &GZIP{base: base{s: s, endian: EndianLittle}}
}

func (d *GZIP) IsValid() bool {
	if d.size() < gzipHeaderSize+gzipTrailerSize || !sigGZIP.Match(d.s, 0) {
		return false
	}
	return d.flags()&gzipFlagReserve == 0
}

func (d *GZIP) FileType() FileType {
	return FileTypeGZIP
}

func (d *GZIP) flags() uint8 {
	return d.s.Uint8(3)
}

func (d *GZIP) Header() []FieldValue {
	return gzipHeaderLayout.Decode(d.s, 0, EndianLittle)
}

func (d *GZIP) SetField(name string, value uint64) bool {
	return gzipHeaderLayout.Write(d.s, 0, name, value, EndianLittle)
}

func (d *GZIP) OSInfo() OSInfo {
	return osInfo(d, lookup(gzipOS, d.s.Uint8(9)), "", "GZIP")
}

// header walks the optional fields, returning the original file name and
// the offset where compressed data starts.
func (d *GZIP) header() (name string, dataOffset int64) {
	off := int64(gzipHeaderSize)
	flags := d.flags()
	if flags&gzipFlagExtra != 0 {
		off += 2 + int64(d.s.Uint16(off, false))
	}
	if flags&gzipFlagName != 0 {
		name = d.s.AnsiString(off, gzipMaxNameLen)
		off += int64(len(name)) + 1
	}
	if flags&gzipFlagComment != 0 {
		off += int64(len(d.s.AnsiString(off, gzipMaxNameLen))) + 1
	}
	if flags&gzipFlagHCRC != 0 {
		off += 2
	}
	return name, off
}

// Records returns the single member of the stream.
func (d *GZIP) Records(ctx context.Context, limit int) []Record {
	if !d.IsValid() {
		return nil
	}
	name, data := d.header()
	csize := d.size() - gzipTrailerSize - data
	if csize < 0 {
		return nil
	}
	return []Record{{
		FileName:         decodeName([]byte(name), false),
		HeaderOffset:     0,
		HeaderSize:       data,
		DataOffset:       data,
		CompressedSize:   csize,
		UncompressedSize: int64(d.s.Uint32(d.size()-4, false)),
		Method:           ZipMethodDeflate,
		MethodName:       "deflate",
	}}
}

func (d *GZIP) Decompress(rec Record) ([]byte, error) {
	return d.memoize(rec.HeaderOffset, func() ([]byte, error) {
		zr, err := gzip.NewReader(d.s.SectionReader(0, d.size()))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open gzip stream")
		}
		defer zr.Close()
		return readCapped(zr, d.limit())
	})
}

func (d *GZIP) Children(ctx context.Context, limit int) iter.Seq[Child] {
	return archiveChildren(ctx, d, limit)
}

func (d *GZIP) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	records := d.Records(ctx, 1)
	if len(records) == 0 {
		return m
	}
	rec := records[0]
	m.addHeader("header", 0, -1, rec.HeaderSize)
	m.addFile(RegionFileSegment, "data", rec.DataOffset, rec.CompressedSize)
	m.addFile(RegionFooter, "trailer", d.size()-gzipTrailerSize, gzipTrailerSize)
	return m
}
