package stream

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Source is the backing store of a Stream.
type Source interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

var errReadOnly = errors.New("stream is read-only")

// memory is a fixed-length in-memory Source. Writes never grow it.
type memory struct {
	b []byte
}

func (m *memory) Size() int64 {
	return int64(len(m.b))
}

func (m *memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.b)) {
		return 0, io.ErrShortWrite
	}
	n := copy(m.b[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// fileSource is an *os.File with its size captured at open time.
type fileSource struct {
	f        *os.File
	size     int64
	writable bool
}

func (f *fileSource) Size() int64 {
	return f.size
}

func (f *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *fileSource) WriteAt(p []byte, off int64) (int, error) {
	if !f.writable {
		return 0, errReadOnly
	}
	if off < 0 || off >= f.size {
		return 0, io.ErrShortWrite
	}
	if max := f.size - off; int64(len(p)) > max {
		n, err := f.f.WriteAt(p[:max], off)
		if err == nil {
			err = io.ErrShortWrite
		}
		return n, err
	}
	return f.f.WriteAt(p, off)
}

// section is a bounded window over a parent Source.
type section struct {
	parent Source
	base   int64
	size   int64
}

func (s *section) Size() int64 {
	return s.size
}

func (s *section) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	if max := s.size - off; int64(len(p)) > max {
		n, err := s.parent.ReadAt(p[:max], s.base+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.parent.ReadAt(p, s.base+off)
}

func (s *section) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.ErrShortWrite
	}
	if max := s.size - off; int64(len(p)) > max {
		n, err := s.parent.WriteAt(p[:max], s.base+off)
		if err == nil {
			err = io.ErrShortWrite
		}
		return n, err
	}
	return s.parent.WriteAt(p, s.base+off)
}
