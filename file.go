package binmap

import (
	"context"

	"github.com/wanglei-coder/binmap/stream"
)

// File is a scanned file on disk.
type File struct {
	*Result
	Path string

	f *stream.File
}

// Open opens name read-only and detects its format without descending into
// members.
func Open(name string, opts Options) (*File, error) {
	return open(name, false, opts, func(s *stream.Stream, opts Options) *Result {
		return Detect(s, opts)
	})
}

// OpenWritable is Open for editing. Header setters write through to the
// file.
func OpenWritable(name string, opts Options) (*File, error) {
	return open(name, true, opts, func(s *stream.Stream, opts Options) *Result {
		return Detect(s, opts)
	})
}

// ScanFile opens name read-only and scans it recursively.
func ScanFile(ctx context.Context, name string, opts Options) (*File, error) {
	return open(name, false, opts, func(s *stream.Stream, opts Options) *Result {
		return Scan(ctx, s, opts)
	})
}

func open(name string, writable bool, opts Options, recognize func(*stream.Stream, Options) *Result) (*File, error) {
	f, err := stream.OpenFile(name, writable)
	if err != nil {
		return nil, err
	}
	r := recognize(f.Stream, opts.withDefaults())
	r.Name = name
	return &File{Result: r, Path: name, f: f}, nil
}

// Stream returns the root stream of the file.
func (f *File) Stream() *stream.Stream {
	return f.f.Stream
}

func (f *File) GetSize() int64 {
	return f.f.Size()
}

func (f *File) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}
