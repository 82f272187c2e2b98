package binmap

import (
	"context"
	"fmt"
	"strings"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

const (
	mp4AtomHeaderSize  = 8
	mp4LargeHeaderSize = 16
)

var sigFTYP = signature.MustCompile(".. .. .. .. 'ftyp'")

var mp4AtomTags = map[string]bool{
	"ftyp": true, "moov": true, "mdat": true, "free": true, "skip": true,
	"wide": true, "uuid": true, "pdin": true, "moof": true, "mfra": true,
	"meta": true, "sidx": true, "styp": true, "pnot": true, "PICT": true,
	"prfl": true, "ssix": true, "emsg": true,
}

// MP4Atom is one top-level box.
type MP4Atom struct {
	Tag        string
	Offset     int64
	HeaderSize int64
	Size       int64
}

// MP4 decodes ISO base media files and QuickTime movies.
type MP4 struct {
	base
}

func NewMP4(s *stream.Stream) *MP4 {
	return &MP4{base: base{s: s, endian: EndianBig}}
}

func (d *MP4) IsValid() bool {
	if d.size() < 16 || !sigFTYP.Match(d.s, 0) {
		return false
	}
	size := int64(d.s.Uint32(0, true))
	return size >= 16 && size <= d.size()
}

// MajorBrand is the first brand of the ftyp atom.
func (d *MP4) MajorBrand() string {
	return string(d.s.Bytes(8, 4))
}

func (d *MP4) FileType() FileType {
	brand := d.MajorBrand()
	switch {
	case brand == "qt  ":
		return FileTypeMOV
	case brand == "M4A " || brand == "M4B ":
		return FileTypeM4A
	case strings.HasPrefix(brand, "3g"):
		return FileType3GP
	}
	return FileTypeMP4
}

func (d *MP4) Header() []FieldValue {
	return []FieldValue{
		{Field: Field{Name: "size", Offset: 0, Width: 4}, Value: uint64(d.s.Uint32(0, true))},
		{Field: Field{Name: "type", Offset: 4, Width: 4}, Raw: d.s.Bytes(4, 4)},
		{Field: Field{Name: "major_brand", Offset: 8, Width: 4}, Raw: d.s.Bytes(8, 4)},
		{Field: Field{Name: "minor_version", Offset: 12, Width: 4}, Value: uint64(d.s.Uint32(12, true))},
	}
}

// Atoms walks the top-level atoms, stopping at an unknown tag, a size too
// small to hold its own header, or an atom running past the file. A size of
// zero extends the last atom to the end of the file.
func (d *MP4) Atoms(ctx context.Context) []MP4Atom {
	var atoms []MP4Atom
	for off := int64(0); off+mp4AtomHeaderSize <= d.size(); {
		if cancelled(ctx) || len(atoms) >= maxAllowedEntries {
			break
		}
		tag := string(d.s.Bytes(off+4, 4))
		if !mp4AtomTags[tag] {
			break
		}
		header := int64(mp4AtomHeaderSize)
		size := int64(d.s.Uint32(off, true))
		switch size {
		case 0:
			size = d.size() - off
		case 1:
			if !d.s.Contains(off, mp4LargeHeaderSize) {
				return atoms
			}
			header = mp4LargeHeaderSize
			size = int64(d.s.Uint64(off+8, true))
		}
		if size < header || size > d.size()-off {
			break
		}
		atoms = append(atoms, MP4Atom{Tag: tag, Offset: off, HeaderSize: header, Size: size})
		off += size
	}
	return atoms
}

func (d *MP4) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.TypeString = fmt.Sprintf("%s (%s)", d.FileType(), strings.TrimSpace(d.MajorBrand()))
	var end int64
	for _, a := range d.Atoms(ctx) {
		typ := RegionFileSegment
		if a.Tag == "ftyp" {
			typ = RegionHeader
		}
		m.add(Region{Type: typ, Name: a.Tag, Offset: a.Offset, Address: -1, Size: a.Size})
		end = a.Offset + a.Size
	}
	m.addOverlay(end)
	return m
}
