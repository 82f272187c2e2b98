// Package stream provides bounds-checked random access to binary data.
//
// Every read is clipped to [0, Size). A read that does not fit returns the
// zero value instead of an error so that format detectors can read
// speculatively before validating offsets.
package stream

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Stream is an addressable sequence of bytes of known length.
type Stream struct {
	src  Source
	base int64
}

// New wraps src.
func New(src Source) *Stream {
	return &Stream{src: src}
}

// FromBytes returns a writable stream over b. The stream never grows.
func FromBytes(b []byte) *Stream {
	return New(&memory{b: b})
}

// File is a file-backed Stream.
type File struct {
	*Stream
	f *os.File
}

// Open opens name read-only.
func Open(name string) (*File, error) {
	return OpenFile(name, false)
}

// OpenFile opens name, for writing as well when writable is set.
func OpenFile(name string, writable bool) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", name)
	}
	if !stat.Mode().IsRegular() {
		f.Close()
		return nil, errors.Errorf("%s is not a regular file", name)
	}
	src := &fileSource{f: f, size: stat.Size(), writable: writable}
	return &File{Stream: New(src), f: f}, nil
}

func (f *File) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

// Size returns the length of the stream in bytes.
func (s *Stream) Size() int64 {
	return s.src.Size()
}

// Base returns the absolute offset of s within the root stream.
func (s *Stream) Base() int64 {
	return s.base
}

// Sub returns a view of length bytes starting at offset. offset is clipped
// to [0, Size] and length to the bytes remaining after it. The view must not
// outlive s.
func (s *Stream) Sub(offset, length int64) *Stream {
	size := s.Size()
	if offset < 0 {
		offset = 0
	}
	if offset > size {
		offset = size
	}
	if length < 0 {
		length = 0
	}
	if length > size-offset {
		length = size - offset
	}
	return &Stream{
		src:  &section{parent: s.src, base: offset, size: length},
		base: s.base + offset,
	}
}

// Contains reports whether [offset, offset+n) lies inside the stream.
func (s *Stream) Contains(offset, n int64) bool {
	if offset < 0 || n < 0 {
		return false
	}
	size := s.Size()
	return offset <= size && n <= size-offset
}

// ReadAt implements io.ReaderAt with the clipping rules of the stream.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.Size() {
		return 0, io.EOF
	}
	return s.src.ReadAt(p, off)
}

// SectionReader returns a reader over [offset, offset+n) clipped to the stream.
func (s *Stream) SectionReader(offset, n int64) *io.SectionReader {
	v := s.Sub(offset, n)
	return io.NewSectionReader(v.src, 0, v.Size())
}

// Bytes returns a copy of up to n bytes at offset. It returns nil when
// offset is outside the stream and fewer than n bytes near the end.
func (s *Stream) Bytes(offset, n int64) []byte {
	if n <= 0 || offset < 0 || offset >= s.Size() {
		return nil
	}
	if rest := s.Size() - offset; n > rest {
		n = rest
	}
	buf := make([]byte, n)
	m, _ := s.src.ReadAt(buf, offset)
	return buf[:m]
}

// read fills a fixed-width buffer, reporting false if any byte is missing.
func (s *Stream) read(offset int64, buf []byte) bool {
	if !s.Contains(offset, int64(len(buf))) {
		return false
	}
	n, _ := s.src.ReadAt(buf, offset)
	return n == len(buf)
}

func order(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (s *Stream) Uint8(offset int64) uint8 {
	var buf [1]byte
	if !s.read(offset, buf[:]) {
		return 0
	}
	return buf[0]
}

func (s *Stream) Uint16(offset int64, bigEndian bool) uint16 {
	var buf [2]byte
	if !s.read(offset, buf[:]) {
		return 0
	}
	return order(bigEndian).Uint16(buf[:])
}

func (s *Stream) Uint32(offset int64, bigEndian bool) uint32 {
	var buf [4]byte
	if !s.read(offset, buf[:]) {
		return 0
	}
	return order(bigEndian).Uint32(buf[:])
}

func (s *Stream) Uint64(offset int64, bigEndian bool) uint64 {
	var buf [8]byte
	if !s.read(offset, buf[:]) {
		return 0
	}
	return order(bigEndian).Uint64(buf[:])
}

// Uint reads an unsigned integer of width 1, 2, 4 or 8 bytes.
func (s *Stream) Uint(offset int64, width int, bigEndian bool) uint64 {
	switch width {
	case 1:
		return uint64(s.Uint8(offset))
	case 2:
		return uint64(s.Uint16(offset, bigEndian))
	case 4:
		return uint64(s.Uint32(offset, bigEndian))
	case 8:
		return s.Uint64(offset, bigEndian)
	}
	return 0
}

func (s *Stream) Int8(offset int64) int8 {
	return int8(s.Uint8(offset))
}

func (s *Stream) Int16(offset int64, bigEndian bool) int16 {
	return int16(s.Uint16(offset, bigEndian))
}

func (s *Stream) Int32(offset int64, bigEndian bool) int32 {
	return int32(s.Uint32(offset, bigEndian))
}

func (s *Stream) Int64(offset int64, bigEndian bool) int64 {
	return int64(s.Uint64(offset, bigEndian))
}

// AnsiString reads at most maxLen bytes at offset and stops at the first NUL.
func (s *Stream) AnsiString(offset, maxLen int64) string {
	b := s.Bytes(offset, maxLen)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Compare reports whether the bytes at offset equal b.
func (s *Stream) Compare(offset int64, b []byte) bool {
	if len(b) == 0 {
		return s.Contains(offset, 0)
	}
	buf := make([]byte, len(b))
	if !s.read(offset, buf) {
		return false
	}
	return bytes.Equal(buf, b)
}

// Find returns the offset of the first occurrence of b in [offset, offset+n),
// or -1.
func (s *Stream) Find(offset, n int64, b []byte) int64 {
	data := s.Bytes(offset, n)
	i := bytes.Index(data, b)
	if i < 0 {
		return -1
	}
	return offset + int64(i)
}

// WriteBytes writes b at offset, clipped to the stream, and returns the
// number of bytes written.
func (s *Stream) WriteBytes(offset int64, b []byte) int {
	if offset < 0 || offset >= s.Size() {
		return 0
	}
	if rest := s.Size() - offset; int64(len(b)) > rest {
		b = b[:rest]
	}
	n, _ := s.src.WriteAt(b, offset)
	return n
}

func (s *Stream) write(offset int64, buf []byte) bool {
	if !s.Contains(offset, int64(len(buf))) {
		return false
	}
	return s.WriteBytes(offset, buf) == len(buf)
}

func (s *Stream) PutUint8(offset int64, v uint8) bool {
	return s.write(offset, []byte{v})
}

func (s *Stream) PutUint16(offset int64, v uint16, bigEndian bool) bool {
	var buf [2]byte
	order(bigEndian).PutUint16(buf[:], v)
	return s.write(offset, buf[:])
}

func (s *Stream) PutUint32(offset int64, v uint32, bigEndian bool) bool {
	var buf [4]byte
	order(bigEndian).PutUint32(buf[:], v)
	return s.write(offset, buf[:])
}

func (s *Stream) PutUint64(offset int64, v uint64, bigEndian bool) bool {
	var buf [8]byte
	order(bigEndian).PutUint64(buf[:], v)
	return s.write(offset, buf[:])
}

// PutUint writes an unsigned integer of width 1, 2, 4 or 8 bytes.
func (s *Stream) PutUint(offset int64, width int, v uint64, bigEndian bool) bool {
	switch width {
	case 1:
		return s.PutUint8(offset, uint8(v))
	case 2:
		return s.PutUint16(offset, uint16(v), bigEndian)
	case 4:
		return s.PutUint32(offset, uint32(v), bigEndian)
	case 8:
		return s.PutUint64(offset, v, bigEndian)
	}
	return false
}
