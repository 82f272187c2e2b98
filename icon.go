package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/stream"
)

var iconDirLayout = newLayout("ICONDIR",
	u16("idReserved"),
	u16("idType"),
	u16("idCount"),
)

// IconEntry is an ICONDIRENTRY. For cursors Planes and BitCount hold the
// hotspot coordinates.
type IconEntry struct {
	Width       uint8  `struc:"uint8"`
	Height      uint8  `struc:"uint8"`
	ColorCount  uint8  `struc:"uint8"`
	Reserved    uint8  `struc:"uint8"`
	Planes      uint16 `struc:"uint16"`
	BitCount    uint16 `struc:"uint16"`
	BytesInRes  uint32 `struc:"uint32"`
	ImageOffset uint32 `struc:"uint32"`
}

// Icon decodes Windows icon and cursor files.
type Icon struct {
	base
}

func NewIcon(s *stream.Stream) *Icon {
	return &Icon{base: base{s: s, endian: EndianLittle, os: "Windows"}}
}

func (d *Icon) dir() reader {
	return reader{l: iconDirLayout, s: d.s, order: EndianLittle}
}

func (d *Icon) Type() uint16 { return uint16(d.dir().get("idType")) }
func (d *Icon) Count() int   { return int(d.dir().get("idCount")) }

func (d *Icon) directorySize() int64 {
	return icoDirSize + int64(d.Count())*icoDirEntrySize
}

// entry decodes the i-th directory entry.
func (d *Icon) entry(i int) (IconEntry, bool) {
	var e IconEntry
	err := unpackAt(d.s, icoDirSize+int64(i)*icoDirEntrySize, icoDirEntrySize, EndianLittle, &e)
	return e, err == nil
}

// sane reports whether e points at image data inside the file, past the
// directory.
func (d *Icon) sane(e IconEntry) bool {
	if e.Reserved != 0 || e.BytesInRes == 0 {
		return false
	}
	if d.Type() == IconTypeICO && e.Planes > 1 {
		return false
	}
	off := int64(e.ImageOffset)
	return off >= d.directorySize() && d.s.Contains(off, int64(e.BytesInRes))
}

func (d *Icon) IsValid() bool {
	if d.size() < icoDirSize+icoDirEntrySize {
		return false
	}
	h := d.dir()
	if h.get("idReserved") != 0 {
		return false
	}
	if t := d.Type(); t != IconTypeICO && t != IconTypeCUR {
		return false
	}
	if n := d.Count(); n < 1 || n > icoMaxImages {
		return false
	}
	first, ok := d.entry(0)
	return ok && d.sane(first)
}

func (d *Icon) FileType() FileType {
	if d.Type() == IconTypeCUR {
		return FileTypeCUR
	}
	return FileTypeICO
}

func (d *Icon) Header() []FieldValue {
	return iconDirLayout.Decode(d.s, 0, EndianLittle)
}

func (d *Icon) SetField(name string, value uint64) bool {
	return d.dir().set(name, value)
}

// Entries returns directory entries up to the first one that is not sane.
func (d *Icon) Entries(ctx context.Context) []IconEntry {
	var entries []IconEntry
	for i := 0; i < d.Count(); i++ {
		if cancelled(ctx) {
			break
		}
		e, ok := d.entry(i)
		if !ok || !d.sane(e) {
			break
		}
		entries = append(entries, e)
	}
	return entries
}

// imageKind names the encoding of an embedded image.
func (d *Icon) imageKind(e IconEntry) string {
	if d.s.Compare(int64(e.ImageOffset), []byte(pngSignature)) {
		return "PNG"
	}
	return "BMP"
}

func (d *Icon) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	entries := d.Entries(ctx)
	m.TypeString = fmt.Sprintf("%s (%d images)", d.FileType(), len(entries))
	m.addHeader("directory", 0, -1, d.directorySize())
	for _, e := range entries {
		m.addFile(RegionData, d.imageKind(e), int64(e.ImageOffset), int64(e.BytesInRes))
	}
	return m
}
