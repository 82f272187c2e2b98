package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var riffHeaderLayout = newLayout("riff_header",
	raw("tag", 4),
	u32("size"),
	raw("form", 4),
)

const (
	riffHeaderSize      = 12
	riffChunkHeaderSize = 8
)

var (
	sigRIFF = signature.MustCompile("'RIFF'")
	sigRIFX = signature.MustCompile("'RIFX'")
	sigFORM = signature.MustCompile("'FORM'")
)

var riffForms = map[string]FileType{
	"WAVE": FileTypeWAV,
	"AVI ": FileTypeAVI,
	"WEBP": FileTypeWEBP,
	"AIFF": FileTypeAIFF,
	"AIFC": FileTypeAIFF,
}

// riffChunkTags are the top-level chunk ids the walk accepts. Anything else
// ends the walk.
var riffChunkTags = map[string]bool{
	// WAVE
	"fmt ": true, "data": true, "fact": true, "cue ": true, "smpl": true,
	"bext": true, "inst": true, "acid": true, "PEAK": true, "iXML": true,
	"cart": true, "plst": true, "LIST": true, "JUNK": true, "PAD ": true,
	"id3 ": true, "ID3 ": true,
	// AVI
	"idx1": true,
	// WEBP
	"VP8 ": true, "VP8L": true, "VP8X": true, "ALPH": true, "ANIM": true,
	"ANMF": true, "ICCP": true, "EXIF": true, "XMP ": true,
	// AIFF
	"COMM": true, "SSND": true, "MARK": true, "INST": true, "COMT": true,
	"NAME": true, "AUTH": true, "(c) ": true, "ANNO": true, "APPL": true,
	"FVER": true, "MIDI": true, "AESD": true,
}

// RIFFChunk is one top-level chunk.
type RIFFChunk struct {
	Tag    string
	Offset int64
	Size   int64
}

// RIFF decodes RIFF, RIFX and IFF FORM containers.
type RIFF struct {
	base
}

func NewRIFF(s *stream.Stream) *RIFF {
	d := &RIFF{base: base{s: s, endian: EndianLittle}}
	if sigRIFX.Match(s, 0) || sigFORM.Match(s, 0) {
		d.endian = EndianBig
	}
	return d
}

func (d *RIFF) IsValid() bool {
	if d.size() < riffHeaderSize {
		return false
	}
	if !sigRIFF.Match(d.s, 0) && !sigRIFX.Match(d.s, 0) && !sigFORM.Match(d.s, 0) {
		return false
	}
	size := d.DeclaredSize()
	return size != 0 && size <= d.size()-riffChunkHeaderSize
}

func (d *RIFF) header() reader {
	return reader{l: riffHeaderLayout, s: d.s, order: d.endian}
}

// DeclaredSize is the size field of the outer chunk.
func (d *RIFF) DeclaredSize() int64 {
	return int64(d.header().get("size"))
}

// Form is the four-character form type following the size.
func (d *RIFF) Form() string {
	return string(d.s.Bytes(8, 4))
}

func (d *RIFF) FileType() FileType {
	if ft, ok := riffForms[d.Form()]; ok {
		return ft
	}
	return FileTypeRIFF
}

func (d *RIFF) Header() []FieldValue {
	return riffHeaderLayout.Decode(d.s, 0, d.endian)
}

func (d *RIFF) SetField(name string, value uint64) bool {
	return d.header().set(name, value)
}

// end is where the declared outer chunk stops, bounded by the file.
func (d *RIFF) end() int64 {
	end := riffChunkHeaderSize + d.DeclaredSize()
	if end > d.size() {
		end = d.size()
	}
	return end
}

// Chunks walks the top-level chunks. The walk stops at a chunk whose tag is
// not recognized, whose size is zero, or which runs past the outer chunk.
func (d *RIFF) Chunks(ctx context.Context) []RIFFChunk {
	var chunks []RIFFChunk
	end := d.end()
	for off := int64(riffHeaderSize); off+riffChunkHeaderSize <= end; {
		if cancelled(ctx) || len(chunks) >= maxAllowedEntries {
			break
		}
		tag := string(d.s.Bytes(off, 4))
		size := int64(d.s.Uint32(off+4, d.endian.IsBig()))
		if !riffChunkTags[tag] || size == 0 || off+riffChunkHeaderSize+size > end {
			break
		}
		chunks = append(chunks, RIFFChunk{Tag: tag, Offset: off, Size: riffChunkHeaderSize + size})
		off += riffChunkHeaderSize + size + size&1
	}
	return chunks
}

func (d *RIFF) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.TypeString = fmt.Sprintf("%s (%s)", string(d.s.Bytes(0, 4)), d.FileType())
	m.addHeader("header", 0, -1, riffHeaderSize)
	for _, c := range d.Chunks(ctx) {
		m.addFile(RegionFileSegment, c.Tag, c.Offset, c.Size)
	}
	m.addOverlay(d.end())
	return m
}
