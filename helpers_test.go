package binmap

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wanglei-coder/binmap/stream"
)

// sample builds synthetic files. Writes past the end grow the buffer.
type sample struct {
	b []byte
}

func newSample(size int) *sample {
	return &sample{b: make([]byte, size)}
}

func (s *sample) grow(end int) {
	if end > len(s.b) {
		s.b = append(s.b, make([]byte, end-len(s.b))...)
	}
}

func (s *sample) put(off int, data ...byte) *sample {
	s.grow(off + len(data))
	copy(s.b[off:], data)
	return s
}

func (s *sample) str(off int, v string) *sample {
	return s.put(off, []byte(v)...)
}

func (s *sample) u16(off int, v uint16) *sample {
	s.grow(off + 2)
	binary.LittleEndian.PutUint16(s.b[off:], v)
	return s
}

func (s *sample) u32(off int, v uint32) *sample {
	s.grow(off + 4)
	binary.LittleEndian.PutUint32(s.b[off:], v)
	return s
}

func (s *sample) u64(off int, v uint64) *sample {
	s.grow(off + 8)
	binary.LittleEndian.PutUint64(s.b[off:], v)
	return s
}

func (s *sample) u16be(off int, v uint16) *sample {
	s.grow(off + 2)
	binary.BigEndian.PutUint16(s.b[off:], v)
	return s
}

func (s *sample) u32be(off int, v uint32) *sample {
	s.grow(off + 4)
	binary.BigEndian.PutUint32(s.b[off:], v)
	return s
}

func (s *sample) u64be(off int, v uint64) *sample {
	s.grow(off + 8)
	binary.BigEndian.PutUint64(s.b[off:], v)
	return s
}

func (s *sample) bytes() []byte {
	return append([]byte(nil), s.b...)
}

func (s *sample) stream() *stream.Stream {
	return stream.FromBytes(s.bytes())
}

// flipped returns a copy of b with the byte at off inverted.
func flipped(b []byte, off int) *stream.Stream {
	c := append([]byte(nil), b...)
	c[off] ^= 0xFF
	return stream.FromBytes(c)
}

// requireRegionInvariants checks the properties every memory map keeps.
func requireRegionInvariants(t *testing.T, m *MemoryMap) {
	t.Helper()
	for i, r := range m.Regions {
		require.Equal(t, i, r.Index, "region %q index", r.Name)
		require.Positive(t, r.Size, "region %q size", r.Name)
		if r.Virtual {
			require.EqualValues(t, -1, r.Offset, "virtual region %q offset", r.Name)
			continue
		}
		require.GreaterOrEqual(t, r.Offset, int64(0), "region %q offset", r.Name)
		require.LessOrEqual(t, r.Offset+r.Size, m.BinarySize, "region %q end", r.Name)
	}
}

// requireMap builds the map twice, checks it is stable and valid, and
// returns it.
func requireMap(t *testing.T, d Detector, mode MapMode) *MemoryMap {
	t.Helper()
	m := d.MemoryMap(context.Background(), mode)
	require.Equal(t, m, d.MemoryMap(context.Background(), mode), "memory map is not idempotent")
	requireRegionInvariants(t, m)
	return m
}

// regionNames lists the names of regions of type typ.
func regionNames(m *MemoryMap, typ RegionType) []string {
	var names []string
	for _, r := range m.Regions {
		if r.Type == typ {
			names = append(names, r.Name)
		}
	}
	return names
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// countdownContext reports context.Canceled once Err has been polled polls
// times.
type countdownContext struct {
	context.Context
	polls int
}

func countdown(polls int) context.Context {
	return &countdownContext{Context: context.Background(), polls: polls}
}

func (c *countdownContext) Err() error {
	if c.polls <= 0 {
		return context.Canceled
	}
	c.polls--
	return nil
}
