package binmap

import (
	"context"
	"fmt"
	"iter"

	"github.com/pkg/errors"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

const (
	lhaMinHeaderSize  = 22
	lhaLevel2BaseSize = 26
	lhaExtFileName    = 0x01
	lhaExtDirName     = 0x02
	lhaMaxExtHeaders  = 64
)

var sigLHA = signature.MustCompile("'-l' .. .. '-'")

// lhaStored lists methods that keep data uncompressed.
var lhaStored = map[string]bool{
	"-lh0-": true,
	"-lz4-": true,
	"-lhd-": true,
}

// LHA decodes LHarc archives with level 0, 1 and 2 headers.
type LHA struct {
	base
	archive
}

func NewLHA(s *stream.Stream) *LHA {
	return &LHA{base: base{s: s, endian: EndianLittle}}
}

// validHeaderAt checks the method id and header level of a member header.
func (d *LHA) validHeaderAt(off int64) bool {
	if !d.s.Contains(off, lhaMinHeaderSize) || !sigLHA.Match(d.s, off+2) {
		return false
	}
	switch d.s.Uint8(off + 4) {
	case 'h', 'z':
	default:
		return false
	}
	return d.s.Uint8(off+20) <= 2
}

func (d *LHA) IsValid() bool {
	return d.validHeaderAt(0)
}

func (d *LHA) FileType() FileType {
	return FileTypeLHA
}

func (d *LHA) Header() []FieldValue {
	return []FieldValue{
		{Field: Field{Name: "header_size", Offset: 0, Width: 1}, Value: uint64(d.s.Uint8(0))},
		{Field: Field{Name: "method", Offset: 2, Width: 5}, Raw: d.s.Bytes(2, 5)},
		{Field: Field{Name: "compressed_size", Offset: 7, Width: 4}, Value: uint64(d.s.Uint32(7, false))},
		{Field: Field{Name: "original_size", Offset: 11, Width: 4}, Value: uint64(d.s.Uint32(11, false))},
		{Field: Field{Name: "level", Offset: 20, Width: 1}, Value: uint64(d.s.Uint8(20))},
	}
}

// extHeaders walks a chain of extended headers starting with a size at off.
// It returns the bytes consumed and any file name found.
func (d *LHA) extHeaders(off int64, limit int64) (size int64, name string, ok bool) {
	next := int64(d.s.Uint16(off, false))
	off += 2
	var dir string
	for i := 0; next != 0; i++ {
		if i >= lhaMaxExtHeaders || next < 3 || size+next > limit || !d.s.Contains(off, next) {
			return 0, "", false
		}
		switch d.s.Uint8(off) {
		case lhaExtFileName:
			name = string(d.s.Bytes(off+1, next-3))
		case lhaExtDirName:
			dir = string(d.s.Bytes(off+1, next-3))
		}
		size += next
		following := int64(d.s.Uint16(off+next-2, false))
		off += next
		next = following
	}
	if dir != "" {
		name = dir + "/" + name
	}
	return size, name, true
}

// lhaEntry is one decoded member header.
type lhaEntry struct {
	Record
	end int64
}

// entryAt decodes the member header at off.
func (d *LHA) entryAt(off int64) (lhaEntry, bool) {
	if !d.validHeaderAt(off) {
		return lhaEntry{}, false
	}
	method := string(d.s.Bytes(off+2, 5))
	csize := int64(d.s.Uint32(off+7, false))
	e := lhaEntry{Record: Record{
		HeaderOffset:     off,
		UncompressedSize: int64(d.s.Uint32(off+11, false)),
		Method:           uint16(d.s.Uint8(off + 5)),
		MethodName:       method,
	}}

	switch level := d.s.Uint8(off + 20); level {
	case 0, 1:
		hdr := int64(d.s.Uint8(off)) + 2
		nameLen := int64(d.s.Uint8(off + 21))
		if 22+nameLen > hdr {
			return lhaEntry{}, false
		}
		e.FileName = string(d.s.Bytes(off+22, nameLen))
		e.HeaderSize = hdr
		if level == 1 {
			ext, name, ok := d.extHeaders(off+hdr-2, csize)
			if !ok {
				return lhaEntry{}, false
			}
			if name != "" {
				e.FileName = name
			}
			e.HeaderSize += ext
			csize -= ext
		}
	case 2:
		total := int64(d.s.Uint16(off, false))
		if total < lhaLevel2BaseSize {
			return lhaEntry{}, false
		}
		_, name, ok := d.extHeaders(off+lhaLevel2BaseSize-2, total-lhaLevel2BaseSize)
		if !ok {
			return lhaEntry{}, false
		}
		e.FileName = name
		e.HeaderSize = total
	}
	e.FileName = decodeName([]byte(e.FileName), false)
	e.DataOffset = off + e.HeaderSize
	e.CompressedSize = csize
	e.end = e.DataOffset + csize
	if csize < 0 || e.end > d.size() {
		return lhaEntry{}, false
	}
	return e, true
}

// walk decodes every member header. Any header that fails validation
// invalidates the whole archive. end is the offset of the end marker, or -1.
func (d *LHA) walk(ctx context.Context, limit int) (entries []lhaEntry, end int64, ok bool) {
	var off int64
	for off < d.size() {
		if cancelled(ctx) || (limit > 0 && len(entries) >= limit) {
			return entries, -1, true
		}
		if d.s.Uint8(off) == 0 {
			return entries, off, true
		}
		e, valid := d.entryAt(off)
		if !valid {
			return nil, -1, false
		}
		entries = append(entries, e)
		off = e.end
	}
	return entries, -1, true
}

func (d *LHA) Records(ctx context.Context, limit int) []Record {
	entries, _, ok := d.walk(ctx, limit)
	if !ok {
		return nil
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	return records
}

// Decompress returns stored members; LZ-compressed methods are not
// supported.
func (d *LHA) Decompress(rec Record) ([]byte, error) {
	if !lhaStored[rec.MethodName] {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "lha method %s", rec.MethodName)
	}
	return d.memoize(rec.HeaderOffset, func() ([]byte, error) {
		return d.storedData(d.s, rec)
	})
}

func (d *LHA) Children(ctx context.Context, limit int) iter.Seq[Child] {
	return archiveChildren(ctx, d, limit)
}

func (d *LHA) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	entries, marker, ok := d.walk(ctx, maxAllowedEntries)
	if !ok {
		m.clear()
		return m
	}
	m.TypeString = fmt.Sprintf("LHA (%d entries)", len(entries))
	var end int64
	for _, e := range entries {
		m.addFile(RegionHeader, e.FileName, e.HeaderOffset, e.HeaderSize)
		m.addFile(RegionFileSegment, e.FileName, e.DataOffset, e.CompressedSize)
		end = e.end
	}
	if marker >= 0 {
		m.addFile(RegionFooter, "end", marker, 1)
		end = marker + 1
	}
	m.addOverlay(end)
	return m
}
