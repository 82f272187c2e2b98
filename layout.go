package binmap

import (
	"fmt"

	"github.com/wanglei-coder/binmap/stream"
)

// Field describes one fixed-position header field. Endian overrides the
// order passed to Layout methods when it is not EndianUnknown. Widths other
// than 1, 2, 4 and 8 describe byte arrays, which read as 0.
type Field struct {
	Name   string `json:"name" yaml:"name"`
	Offset int64  `json:"offset" yaml:"offset"`
	Width  int    `json:"width" yaml:"width"`
	Endian Endian `json:"-" yaml:"-"`
}

func (f Field) scalar() bool {
	switch f.Width {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

func (f Field) bigEndian(order Endian) bool {
	if f.Endian != EndianUnknown {
		return f.Endian.IsBig()
	}
	return order.IsBig()
}

// FieldValue is a decoded field.
type FieldValue struct {
	Field
	Value uint64 `json:"value" yaml:"value"`
	Raw   []byte `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Layout is an ordered field table for one header structure.
type Layout struct {
	Name   string
	Size   int64
	Fields []Field
	index  map[string]int
}

// newLayout builds a layout from consecutive fields. Offsets are assigned in
// order starting at 0 unless a field carries an explicit non-zero offset.
func newLayout(name string, fields ...Field) *Layout {
	l := &Layout{Name: name, index: make(map[string]int, len(fields))}
	var cursor int64
	for i, f := range fields {
		if f.Offset == 0 {
			f.Offset = cursor
		}
		if _, dup := l.index[f.Name]; dup {
			panic(fmt.Sprintf("layout %s: duplicate field %s", name, f.Name))
		}
		l.index[f.Name] = i
		l.Fields = append(l.Fields, f)
		cursor = f.Offset + int64(f.Width)
		if cursor > l.Size {
			l.Size = cursor
		}
	}
	return l
}

func u8(name string) Field  { return Field{Name: name, Width: 1} }
func u16(name string) Field { return Field{Name: name, Width: 2} }
func u32(name string) Field { return Field{Name: name, Width: 4} }
func u64(name string) Field { return Field{Name: name, Width: 8} }
func raw(name string, n int) Field {
	return Field{Name: name, Width: n}
}

// at pins a field to an explicit offset.
func at(offset int64, f Field) Field {
	f.Offset = offset
	return f
}

// Field looks up a field by name.
func (l *Layout) Field(name string) (Field, bool) {
	i, ok := l.index[name]
	if !ok {
		return Field{}, false
	}
	return l.Fields[i], true
}

// Offset returns the offset of the named field. It panics for unknown
// names, which are programming errors.
func (l *Layout) Offset(name string) int64 {
	f, ok := l.Field(name)
	if !ok {
		panic(fmt.Sprintf("layout %s: no field %s", l.Name, name))
	}
	return f.Offset
}

// Read decodes the named field of the structure at base.
func (l *Layout) Read(s *stream.Stream, base int64, name string, order Endian) uint64 {
	f, ok := l.Field(name)
	if !ok || !f.scalar() {
		return 0
	}
	return s.Uint(base+f.Offset, f.Width, f.bigEndian(order))
}

// Write encodes value into the named field of the structure at base.
func (l *Layout) Write(s *stream.Stream, base int64, name string, value uint64, order Endian) bool {
	f, ok := l.Field(name)
	if !ok || !f.scalar() {
		return false
	}
	return s.PutUint(base+f.Offset, f.Width, value, f.bigEndian(order))
}

// Decode reads every field of the structure at base in declaration order.
func (l *Layout) Decode(s *stream.Stream, base int64, order Endian) []FieldValue {
	values := make([]FieldValue, 0, len(l.Fields))
	for _, f := range l.Fields {
		v := FieldValue{Field: f}
		if f.scalar() {
			v.Value = s.Uint(base+f.Offset, f.Width, f.bigEndian(order))
		} else {
			v.Raw = s.Bytes(base+f.Offset, int64(f.Width))
		}
		values = append(values, v)
	}
	return values
}

// Fits reports whether a whole structure at base lies inside s.
func (l *Layout) Fits(s *stream.Stream, base int64) bool {
	return s.Contains(base, l.Size)
}

// reader binds a layout to a structure instance.
type reader struct {
	l     *Layout
	s     *stream.Stream
	base  int64
	order Endian
}

func (r reader) get(name string) uint64 {
	return r.l.Read(r.s, r.base, name, r.order)
}

func (r reader) set(name string, v uint64) bool {
	return r.l.Write(r.s, r.base, name, v, r.order)
}
