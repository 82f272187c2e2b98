package binmap

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wanglei-coder/binmap/stream"
)

// Result is the outcome of recognizing one stream.
type Result struct {
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	FileType FileType `json:"file_type" yaml:"file_type"`
	// Parent is the format this one was found behind, such as the MS-DOS
	// stub of a PE image. FileTypeUnknown when there is none.
	Parent FileType `json:"parent,omitempty" yaml:"parent,omitempty"`
	// Detector is nil for container members once Scan has moved past
	// them, so their decompressed bytes can be released.
	Detector  Detector  `json:"-" yaml:"-"`
	Children  []*Result `json:"children,omitempty" yaml:"children,omitempty"`
	Truncated bool      `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Depth     int       `json:"depth" yaml:"depth"`

	err error
}

// MemoryMap builds the memory map of the recognized format. It returns nil
// for released members.
func (r *Result) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	if r.Detector == nil {
		return nil
	}
	return r.Detector.MemoryMap(ctx, mode)
}

// Walk visits r and its descendants depth first.
func (r *Result) Walk(fn func(*Result)) {
	fn(r)
	for _, c := range r.Children {
		c.Walk(fn)
	}
}

// Err reports why the first truncated container in the tree was left
// unexpanded: ErrDepthExceeded or ErrScanBudgetExceeded.
func (r *Result) Err() error {
	var err error
	r.Walk(func(n *Result) {
		if err == nil && n.err != nil {
			err = n.err
		}
	})
	return err
}

type newDetector func(*stream.Stream) Detector

// stubFormats sit behind an MS-DOS header and win over it.
var stubFormats = []newDetector{
	func(s *stream.Stream) Detector { return NewPE(s) },
	func(s *stream.Stream) Detector { return NewLE(s) },
	func(s *stream.Stream) Detector { return NewNE(s) },
}

// formats is the dispatch priority. Formats with strong magic come before
// those recognized by structure alone.
var formats = []newDetector{
	func(s *stream.Stream) Detector { return NewELF(s) },
	func(s *stream.Stream) Detector { return NewMachOFat(s) },
	func(s *stream.Stream) Detector { return NewMachO(s) },
	func(s *stream.Stream) Detector { return NewDEX(s) },
	func(s *stream.Stream) Detector { return NewZIP(s) },
	func(s *stream.Stream) Detector { return NewCAB(s) },
	func(s *stream.Stream) Detector { return NewLHA(s) },
	func(s *stream.Stream) Detector { return NewGZIP(s) },
	func(s *stream.Stream) Detector { return NewPNG(s) },
	func(s *stream.Stream) Detector { return NewRIFF(s) },
	func(s *stream.Stream) Detector { return NewMP4(s) },
	func(s *stream.Stream) Detector { return NewIcon(s) },
	func(s *stream.Stream) Detector { return NewMP3(s) },
}

// configurable is implemented by detectors that take archive options.
type configurable interface {
	configure(opts Options)
}

// Detect picks the detector for s. It never fails: streams nothing claims
// come back as Binary.
func Detect(s *stream.Stream, opts Options) *Result {
	opts = opts.withDefaults()
	return detect(s, opts, opts.Logger)
}

func detect(s *stream.Stream, opts Options, log logrus.FieldLogger) *Result {
	r := &Result{}
	dos := NewMSDOS(s)
	if dos.IsValid() {
		for _, newFn := range stubFormats {
			if d := newFn(s); d.IsValid() {
				r.Detector, r.Parent = d, FileTypeMSDOS
				break
			}
		}
	}
	if r.Detector == nil {
		for _, newFn := range formats {
			if d := newFn(s); d.IsValid() {
				r.Detector = d
				break
			}
		}
	}
	if r.Detector == nil && dos.IsValid() {
		r.Detector = dos
	}
	if r.Detector == nil {
		r.Detector = NewBinary(s)
	}
	if c, ok := r.Detector.(configurable); ok {
		c.configure(opts)
	}
	r.FileType = r.Detector.FileType()

	fields := logrus.Fields{"type": r.FileType, "size": s.Size()}
	if r.Parent != FileTypeUnknown {
		fields["parent"] = r.Parent
	}
	log.WithFields(fields).Debug("format detected")
	return r
}

// Scan detects s and descends into the members of containers, down to
// opts.MaxDepth levels and within opts.MaxScanBytes of decompressed data.
// Containers left unexpanded are marked Truncated. Members are scanned one
// at a time and their streams are dropped before Scan returns.
func Scan(ctx context.Context, s *stream.Stream, opts Options) *Result {
	opts = opts.withDefaults()
	sc := &scanner{
		opts:   opts,
		log:    opts.Logger.WithField("scan", uuid.NewString()),
		budget: opts.MaxScanBytes,
	}
	return sc.scan(ctx, s, "", 0)
}

type scanner struct {
	opts   Options
	log    logrus.FieldLogger
	budget int64
}

func (sc *scanner) scan(ctx context.Context, s *stream.Stream, name string, depth int) *Result {
	r := detect(s, sc.opts, sc.log.WithField("depth", depth))
	r.Name, r.Depth = name, depth

	c, ok := r.Detector.(Container)
	if !ok || cancelled(ctx) {
		return r
	}
	if depth >= sc.opts.MaxDepth {
		sc.truncate(r, errors.Wrapf(ErrDepthExceeded, "%s at depth %d", name, depth))
		return r
	}
	for child := range c.Children(ctx, sc.opts.RecordLimit) {
		if cancelled(ctx) {
			break
		}
		if sc.budget -= child.Stream.Size(); sc.budget < 0 {
			sc.truncate(r, errors.Wrapf(ErrScanBudgetExceeded, "%s at %s", name, child.Name))
			break
		}
		sub := sc.scan(ctx, child.Stream, child.Name, depth+1)
		sub.Detector = nil
		r.Children = append(r.Children, sub)
	}
	return r
}

func (sc *scanner) truncate(r *Result, err error) {
	r.Truncated, r.err = true, err
	sc.log.WithFields(logrus.Fields{"name": r.Name, "depth": r.Depth}).Warn(err)
}
