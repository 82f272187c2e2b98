package binmap

import (
	"context"
	"iter"

	"github.com/wanglei-coder/binmap/stream"
)

// Detector recognizes one format family and decodes its structure.
//
// IsValid never fails loudly: any malformed input simply reports false.
// MemoryMap builds a fresh map on every call and returns whatever it could
// decode when the structure turns out damaged midway.
type Detector interface {
	IsValid() bool
	FileType() FileType
	MemoryMap(ctx context.Context, mode MapMode) *MemoryMap
	Arch() string
	Mode() Mode
	Endian() Endian
	OSInfo() OSInfo
}

// HeaderDecoder is implemented by detectors that can dump their primary
// header field by field.
type HeaderDecoder interface {
	Header() []FieldValue
}

// FieldSetter is implemented by detectors that can edit their primary
// header in place.
type FieldSetter interface {
	SetField(name string, value uint64) bool
}

// Child is a stream nested in a container.
type Child struct {
	Name   string
	Stream *stream.Stream
}

// Container is implemented by detectors whose payload holds further files.
// Children yields members one at a time. A child stream must not be kept
// once the yield call returns.
type Container interface {
	Detector
	Children(ctx context.Context, limit int) iter.Seq[Child]
}

const unknown = "Unknown"

// base carries the stream and the static defaults of a format.
type base struct {
	s      *stream.Stream
	arch   string
	mode   Mode
	endian Endian
	os     string
}

func (b *base) Stream() *stream.Stream {
	return b.s
}

func (b *base) size() int64 {
	return b.s.Size()
}

func (b *base) Arch() string {
	if b.arch == "" {
		return unknown
	}
	return b.arch
}

func (b *base) Mode() Mode {
	return b.mode
}

func (b *base) Endian() Endian {
	if b.endian == EndianUnknown {
		return EndianLittle
	}
	return b.endian
}

func (b *base) OSInfo() OSInfo {
	name := b.os
	if name == "" {
		name = unknown
	}
	return OSInfo{Name: name, Arch: b.Arch(), Mode: b.Mode(), Endian: b.Endian(), Type: unknown}
}

// osInfo assembles an OSInfo from a detector's derived values.
func osInfo(d Detector, name, version, typ string) OSInfo {
	if name == "" {
		name = unknown
	}
	if typ == "" {
		typ = unknown
	}
	return OSInfo{
		Name:    name,
		Version: version,
		Arch:    d.Arch(),
		Mode:    d.Mode(),
		Endian:  d.Endian(),
		Type:    typ,
	}
}

// cancelled polls ctx at a loop boundary.
func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// lookup maps a numeric code through a static table, degrading to Unknown.
func lookup[K comparable](table map[K]string, key K) string {
	if v, ok := table[key]; ok {
		return v
	}
	return unknown
}
