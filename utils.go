package binmap

import (
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/wanglei-coder/binmap/stream"
)

// EntropyCalculator accumulates byte frequencies for a Shannon entropy.
type EntropyCalculator struct {
	size        int
	frequencies [256]uint64
}

func (e *EntropyCalculator) Write(p []byte) (n int, err error) {
	e.size += len(p)
	for _, v := range p {
		e.frequencies[v]++
	}
	return len(p), err
}

// Sum returns the entropy in bits per byte, from 0 to 8.
func (e *EntropyCalculator) Sum() (entropy float64) {
	if e.size == 0 {
		return
	}

	for _, p := range e.frequencies {
		if p > 0 {
			freq := float64(p) / float64(e.size)
			entropy += freq * math.Log2(freq)
		}
	}
	return -entropy
}

// RegionEntropy computes the entropy of the file bytes behind r. Virtual
// regions have none.
func RegionEntropy(s *stream.Stream, r Region) (float64, error) {
	if r.Offset < 0 {
		return 0, nil
	}
	var e EntropyCalculator
	if _, err := io.Copy(&e, s.SectionReader(r.Offset, r.Size)); err != nil {
		return 0, errors.Wrapf(err, "failed to read region %d", r.Index)
	}
	return e.Sum(), nil
}

func Max(x, y uint32) uint32 {
	if x < y {
		return y
	}
	return x
}
