package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var pngIHDRLayout = newLayout("IHDR",
	u32("length"),
	raw("type", 4),
	u32("width"),
	u32("height"),
	u8("bit_depth"),
	u8("color_type"),
	u8("compression"),
	u8("filter"),
	u8("interlace"),
)

const (
	pngSignatureSize  = 8
	pngChunkOverhead  = 12
	pngMaxChunkLength = 1<<31 - 1
)

var sigPNG = signature.MustCompile("89 'PNG' 0D 0A 1A 0A 00 00 00 0D 'IHDR'")

var pngColorTypes = map[uint8]string{
	0: "grayscale",
	2: "RGB",
	3: "indexed",
	4: "grayscale+alpha",
	6: "RGBA",
}

// PNGChunk is one chunk including its length, type and CRC fields.
type PNGChunk struct {
	Type   string
	Offset int64
	Size   int64
}

// PNG decodes Portable Network Graphics files.
type PNG struct {
	base
}

func NewPNG(s *stream.Stream) *PNG {
	return &PNG{base: base{s: s, endian: EndianBig}}
}

func (d *PNG) ihdr() reader {
	return reader{l: pngIHDRLayout, s: d.s, base: pngSignatureSize, order: EndianBig}
}

func (d *PNG) IsValid() bool {
	return pngIHDRLayout.Fits(d.s, pngSignatureSize) && sigPNG.Match(d.s, 0)
}

func (d *PNG) FileType() FileType {
	return FileTypePNG
}

func (d *PNG) Width() uint32     { return uint32(d.ihdr().get("width")) }
func (d *PNG) Height() uint32    { return uint32(d.ihdr().get("height")) }
func (d *PNG) ColorType() string { return lookup(pngColorTypes, uint8(d.ihdr().get("color_type"))) }

func (d *PNG) Header() []FieldValue {
	return pngIHDRLayout.Decode(d.s, pngSignatureSize, EndianBig)
}

func (d *PNG) SetField(name string, value uint64) bool {
	return d.ihdr().set(name, value)
}

func validChunkType(t []byte) bool {
	if len(t) != 4 {
		return false
	}
	for _, c := range t {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// Chunks walks chunks from IHDR through IEND. The walk stops early at a
// malformed type or a chunk running past the file.
func (d *PNG) Chunks(ctx context.Context) []PNGChunk {
	var chunks []PNGChunk
	for off := int64(pngSignatureSize); off+pngChunkOverhead <= d.size(); {
		if cancelled(ctx) || len(chunks) >= maxAllowedEntries {
			break
		}
		length := int64(d.s.Uint32(off, true))
		typ := d.s.Bytes(off+4, 4)
		if length > pngMaxChunkLength || !validChunkType(typ) || !d.s.Contains(off, pngChunkOverhead+length) {
			break
		}
		chunks = append(chunks, PNGChunk{Type: string(typ), Offset: off, Size: pngChunkOverhead + length})
		off += pngChunkOverhead + length
		if string(typ) == "IEND" {
			break
		}
	}
	return chunks
}

func (d *PNG) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.TypeString = fmt.Sprintf("PNG (%dx%d %s)", d.Width(), d.Height(), d.ColorType())
	m.addHeader("signature", 0, -1, pngSignatureSize)
	end := int64(pngSignatureSize)
	for _, c := range d.Chunks(ctx) {
		m.addFile(RegionFileSegment, c.Type, c.Offset, c.Size)
		end = c.Offset + c.Size
	}
	m.addOverlay(end)
	return m
}
