package binmap

import (
	"bytes"
	"compress/bzip2"
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var zipLocalLayout = newLayout("local_file_header",
	u32("signature"),
	u16("version_needed"),
	u16("flags"),
	u16("method"),
	u16("mod_time"),
	u16("mod_date"),
	u32("crc32"),
	u32("compressed_size"),
	u32("uncompressed_size"),
	u16("name_length"),
	u16("extra_length"),
)

var zipCentralLayout = newLayout("central_directory_header",
	u32("signature"),
	u16("version_made"),
	u16("version_needed"),
	u16("flags"),
	u16("method"),
	u16("mod_time"),
	u16("mod_date"),
	u32("crc32"),
	u32("compressed_size"),
	u32("uncompressed_size"),
	u16("name_length"),
	u16("extra_length"),
	u16("comment_length"),
	u16("disk_start"),
	u16("internal_attrs"),
	u32("external_attrs"),
	u32("local_offset"),
)

var zipEndLayout = newLayout("end_of_central_directory",
	u32("signature"),
	u16("disk"),
	u16("cd_disk"),
	u16("disk_entries"),
	u16("entries"),
	u32("cd_size"),
	u32("cd_offset"),
	u16("comment_length"),
)

const zipDataDescriptorSignature = 0x08074b50

var (
	sigZipLocal = signature.MustCompile("'PK' 03 04")
	sigZipEmpty = signature.MustCompile("'PK' 05 06")
)

// ZIP decodes PKZIP archives, including JAR and APK packages.
type ZIP struct {
	base
	archive
}

func NewZIP(s *stream.Stream) *ZIP {
	return &ZIP{base: base{s: s, endian: EndianLittle}}
}

func (d *ZIP) IsValid() bool {
	if sigZipLocal.Match(d.s, 0) {
		return d.size() >= zipLocalHeaderSize
	}
	return sigZipEmpty.Match(d.s, 0) && d.size() >= zipEndOfCentralSize
}

func (d *ZIP) FileType() FileType {
	var jar bool
	for _, rec := range d.Records(context.Background(), maxAllowedEntries) {
		switch rec.FileName {
		case "AndroidManifest.xml":
			return FileTypeAPK
		case "META-INF/MANIFEST.MF":
			jar = true
		}
	}
	if jar {
		return FileTypeJAR
	}
	return FileTypeZIP
}

// endOfCentral locates the end of central directory record, scanning back
// over a trailing comment. It returns -1 when there is none.
func (d *ZIP) endOfCentral() int64 {
	if d.size() < zipEndOfCentralSize {
		return -1
	}
	start := d.size() - zipEndOfCentralSize - zipMaxCommentSize
	if start < 0 {
		start = 0
	}
	tail := d.s.Bytes(start, d.size()-start)
	sig := []byte{'P', 'K', 5, 6}
	for i := bytes.LastIndex(tail, sig); i >= 0; i = bytes.LastIndex(tail[:i], sig) {
		off := start + int64(i)
		if off+zipEndOfCentralSize > d.size() {
			continue
		}
		return off
	}
	return -1
}

func (d *ZIP) end() reader {
	return reader{l: zipEndLayout, s: d.s, base: d.endOfCentral(), order: EndianLittle}
}

func (d *ZIP) Header() []FieldValue {
	eocd := d.endOfCentral()
	if eocd < 0 {
		return zipLocalLayout.Decode(d.s, 0, EndianLittle)
	}
	return zipEndLayout.Decode(d.s, eocd, EndianLittle)
}

// Records lists members from the central directory, or by walking local
// headers when there is no usable central directory. The walk stops at the
// first entry that fails validation and keeps what came before.
func (d *ZIP) Records(ctx context.Context, limit int) []Record {
	if limit <= 0 || limit > maxAllowedEntries {
		limit = maxAllowedEntries
	}
	if eocd := d.endOfCentral(); eocd >= 0 {
		r := reader{l: zipEndLayout, s: d.s, base: eocd, order: EndianLittle}
		cdOff, cdSize := int64(r.get("cd_offset")), int64(r.get("cd_size"))
		if d.s.Contains(cdOff, cdSize) && sigZipCentralAt(d.s, cdOff) {
			return d.centralRecords(ctx, cdOff, int(r.get("entries")), limit)
		}
	}
	return d.localRecords(ctx, limit)
}

func sigZipCentralAt(s *stream.Stream, off int64) bool {
	return s.Uint32(off, false) == zipCentralHeaderSignature
}

func (d *ZIP) centralRecords(ctx context.Context, off int64, count, limit int) []Record {
	var records []Record
	for i := 0; i < count && len(records) < limit; i++ {
		if cancelled(ctx) {
			break
		}
		if !zipCentralLayout.Fits(d.s, off) || !sigZipCentralAt(d.s, off) {
			break
		}
		c := reader{l: zipCentralLayout, s: d.s, base: off, order: EndianLittle}
		nameLen := int64(c.get("name_length"))
		next := off + zipCentralHeaderSize + nameLen + int64(c.get("extra_length")) + int64(c.get("comment_length"))
		flags := uint16(c.get("flags"))

		local := int64(c.get("local_offset"))
		if !zipLocalLayout.Fits(d.s, local) || d.s.Uint32(local, false) != zipLocalHeaderSignature {
			break
		}
		l := reader{l: zipLocalLayout, s: d.s, base: local, order: EndianLittle}
		headerSize := zipLocalHeaderSize + int64(l.get("name_length")) + int64(l.get("extra_length"))
		method := uint16(c.get("method"))
		records = append(records, Record{
			FileName:         decodeName(d.s.Bytes(off+zipCentralHeaderSize, nameLen), flags&zipFlagUTF8 != 0),
			HeaderOffset:     local,
			HeaderSize:       headerSize,
			DataOffset:       local + headerSize,
			CompressedSize:   int64(c.get("compressed_size")),
			UncompressedSize: int64(c.get("uncompressed_size")),
			Method:           method,
			MethodName:       lookup(zipMethod, method),
		})
		off = next
	}
	return records
}

func (d *ZIP) localRecords(ctx context.Context, limit int) []Record {
	var records []Record
	var off int64
	for len(records) < limit {
		if cancelled(ctx) {
			break
		}
		if !zipLocalLayout.Fits(d.s, off) || d.s.Uint32(off, false) != zipLocalHeaderSignature {
			break
		}
		l := reader{l: zipLocalLayout, s: d.s, base: off, order: EndianLittle}
		flags := uint16(l.get("flags"))
		nameLen := int64(l.get("name_length"))
		headerSize := zipLocalHeaderSize + nameLen + int64(l.get("extra_length"))
		csize := int64(l.get("compressed_size"))
		if flags&zipFlagDataDescriptor != 0 && csize == 0 {
			// sizes live after the data; nothing tells where it ends
			break
		}
		if !d.s.Contains(off+headerSize, csize) {
			break
		}
		method := uint16(l.get("method"))
		records = append(records, Record{
			FileName:         decodeName(d.s.Bytes(off+zipLocalHeaderSize, nameLen), flags&zipFlagUTF8 != 0),
			HeaderOffset:     off,
			HeaderSize:       headerSize,
			DataOffset:       off + headerSize,
			CompressedSize:   csize,
			UncompressedSize: int64(l.get("uncompressed_size")),
			Method:           method,
			MethodName:       lookup(zipMethod, method),
		})
		off += headerSize + csize
		if flags&zipFlagDataDescriptor != 0 {
			if d.s.Uint32(off, false) == zipDataDescriptorSignature {
				off += 4
			}
			off += 12
		}
	}
	return records
}

// Decompress inflates one member. Stored, deflate, bzip2 and zstd members
// are supported.
func (d *ZIP) Decompress(rec Record) ([]byte, error) {
	return d.memoize(rec.HeaderOffset, func() ([]byte, error) {
		if !d.s.Contains(rec.DataOffset, rec.CompressedSize) {
			return nil, errors.Wrapf(ErrOutsideBoundary, "%s data at %#x", rec.FileName, rec.DataOffset)
		}
		r := d.s.SectionReader(rec.DataOffset, rec.CompressedSize)
		switch rec.Method {
		case ZipMethodStore:
			return d.storedData(d.s, rec)
		case ZipMethodDeflate:
			fr := flate.NewReader(r)
			defer fr.Close()
			return readCapped(fr, d.limit())
		case ZipMethodBZIP2:
			return readCapped(bzip2.NewReader(r), d.limit())
		case ZipMethodZstd:
			zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, errors.Wrap(err, "failed to open zstd member")
			}
			defer zr.Close()
			return readCapped(zr, d.limit())
		}
		return nil, errors.Wrapf(ErrUnsupportedMethod, "zip method %d (%s)", rec.Method, rec.MethodName)
	})
}

func (d *ZIP) Children(ctx context.Context, limit int) iter.Seq[Child] {
	return archiveChildren(ctx, d, limit)
}

func (d *ZIP) OSInfo() OSInfo {
	return osInfo(d, "", "", d.FileType().String())
}

func (d *ZIP) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	records := d.Records(ctx, maxAllowedEntries)
	var end int64
	for _, rec := range records {
		if cancelled(ctx) {
			break
		}
		m.addFile(RegionHeader, rec.FileName, rec.HeaderOffset, rec.HeaderSize)
		m.addFile(RegionFileSegment, rec.FileName, rec.DataOffset, rec.CompressedSize)
		if e := rec.DataOffset + rec.CompressedSize; e > end {
			end = e
		}
	}
	if eocd := d.endOfCentral(); eocd >= 0 {
		r := d.end()
		cdOff, cdSize := int64(r.get("cd_offset")), int64(r.get("cd_size"))
		if cdSize > 0 && d.s.Contains(cdOff, cdSize) {
			m.addFile(RegionFooter, "central directory", cdOff, cdSize)
		}
		size := zipEndOfCentralSize + int64(r.get("comment_length"))
		m.addFile(RegionFooter, "end of central directory", eocd, size)
		end = eocd + size
	}
	m.TypeString = fmt.Sprintf("%s (%d entries)", strings.ToUpper(d.FileType().Extension()), len(records))
	m.addOverlay(end)
	return m
}
