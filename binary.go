package binmap

import (
	"context"

	"github.com/h2non/filetype"

	"github.com/wanglei-coder/binmap/stream"
)

// sniffSize is how much of a stream the MIME sniffer looks at.
const sniffSize = 8192

// Binary is the fallback for streams no other detector claims.
type Binary struct {
	base
}

func NewBinary(s *stream.Stream) *Binary {
	return &Binary{base: base{s: s, endian: EndianLittle}}
}

func (b *Binary) IsValid() bool {
	return true
}

func (b *Binary) FileType() FileType {
	return FileTypeBinary
}

// MIME guesses a content type for opaque data, or "" when nothing matches.
func (b *Binary) MIME() string {
	return sniffMIME(b.s.Bytes(0, sniffSize))
}

func (b *Binary) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(b, b.size())
	if mime := b.MIME(); mime != "" {
		m.TypeString = "Binary (" + mime + ")"
	}
	m.ImageSize = b.size()
	m.ModuleBase = 0
	m.add(Region{Type: RegionFileSegment, Name: "data", Offset: 0, Address: 0, Size: b.size()})
	return m
}

func sniffMIME(data []byte) string {
	kind, _ := filetype.Match(data)
	if kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
