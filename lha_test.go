package binmap

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

// lhaLevel0 appends a level 0 member header and its data at off.
func (s *sample) lhaLevel0(off int, method, name, data string) *sample {
	total := 24 + len(name)
	return s.put(off, byte(total-2)).
		str(off+2, method).
		u32(off+7, uint32(len(data))).
		u32(off+11, uint32(len(data))).
		put(off+21, byte(len(name))).
		str(off+22, name).
		str(off+total, data)
}

// lhaSample holds two stored members, the end marker and three trailing
// bytes.
func lhaSample() *sample {
	return newSample(0).
		lhaLevel0(0, "-lh0-", "a.txt", "hello").
		lhaLevel0(34, "-lh0-", "b.txt", "world").
		put(68, 0).
		str(69, "xyz")
}

func TestLHA_IsValid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "stored", data: lhaSample().bytes(), want: true},
		{name: "lz5", data: newSample(0).lhaLevel0(0, "-lz5-", "a", "x").bytes(), want: true},
		{name: "unknown method family", data: newSample(0).lhaLevel0(0, "-lq0-", "a", "x").bytes(), want: false},
		{name: "level 3", data: lhaSample().put(20, 3).bytes(), want: false},
		{name: "short", data: lhaSample().bytes()[:lhaMinHeaderSize-1], want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NewLHA(newSample(0).put(0, tt.data...).stream()).IsValid())
		})
	}
}

func TestLHA_MemoryMap(t *testing.T) {
	d := NewLHA(lhaSample().stream())

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "LHA (2 entries)", m.TypeString)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "a.txt", Offset: 0, Address: -1, Size: 29},
		{Index: 1, Type: RegionFileSegment, Name: "a.txt", Offset: 29, Address: -1, Size: 5},
		{Index: 2, Type: RegionHeader, Name: "b.txt", Offset: 34, Address: -1, Size: 29},
		{Index: 3, Type: RegionFileSegment, Name: "b.txt", Offset: 63, Address: -1, Size: 5},
		{Index: 4, Type: RegionFooter, Name: "end", Offset: 68, Address: -1, Size: 1},
		{Index: 5, Type: RegionOverlay, Name: "overlay", Offset: 69, Address: -1, Size: 3},
	}, m.Regions)
}

func TestLHA_CorruptHeaderClearsMap(t *testing.T) {
	d := NewLHA(lhaSample().str(36, "-zz").stream())
	require.True(t, d.IsValid())
	require.Nil(t, d.Records(context.Background(), 0))
	require.Empty(t, d.MemoryMap(context.Background(), MapModeDefault).Regions)

	// data running past the end is just as fatal
	d = NewLHA(lhaSample().u32(34+7, 0x1000).stream())
	require.Empty(t, d.MemoryMap(context.Background(), MapModeDefault).Regions)
}

func TestLHA_Records(t *testing.T) {
	d := NewLHA(lhaSample().stream())
	records := d.Records(context.Background(), 0)
	require.Len(t, records, 2)
	require.Equal(t, "-lh0-", records[1].MethodName)
	require.EqualValues(t, 63, records[1].DataOffset)

	data, err := d.Decompress(records[1])
	require.NoError(t, err)
	require.Equal(t, []byte("world"), data)

	require.Len(t, d.Records(context.Background(), 1), 1)

	children := slices.Collect(d.Children(context.Background(), 0))
	require.Len(t, children, 2)
	require.Equal(t, "a.txt", children[0].Name)

	lz := NewLHA(newSample(0).lhaLevel0(0, "-lh5-", "a", "xyz").stream())
	_, err = lz.Decompress(lz.Records(context.Background(), 0)[0])
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestLHA_Level2(t *testing.T) {
	s := newSample(0).
		u16(0, 34).
		str(2, "-lh0-").
		u32(7, 5).
		u32(11, 5).
		put(20, 2).
		u16(24, 8).
		put(26, lhaExtFileName).
		str(27, "c.txt").
		str(34, "data!").
		put(39, 0)

	d := NewLHA(s.stream())
	require.True(t, d.IsValid())
	records := d.Records(context.Background(), 0)
	require.Equal(t, []Record{{
		FileName:         "c.txt",
		HeaderOffset:     0,
		HeaderSize:       34,
		DataOffset:       34,
		CompressedSize:   5,
		UncompressedSize: 5,
		Method:           'h',
		MethodName:       "-lh0-",
	}}, records)

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, []string{"end"}, regionNames(m, RegionFooter))
	_, ok := m.Overlay()
	require.False(t, ok)
}
