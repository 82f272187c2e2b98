package binmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// iconEntry writes the i-th ICONDIRENTRY.
func (s *sample) iconEntry(i int, w byte, bytesInRes, offset uint32) *sample {
	off := icoDirSize + i*icoDirEntrySize
	return s.put(off, w, w).u16(off+4, 1).u16(off+6, 32).u32(off+8, bytesInRes).u32(off+12, offset)
}

// iconSample declares three images: a bitmap, a PNG, and an empty entry that
// ends the directory walk.
func iconSample() *sample {
	return newSample(0).
		u16(2, IconTypeICO).u16(4, 3).
		iconEntry(0, 16, 40, 54).
		iconEntry(1, 32, 16, 94).
		iconEntry(2, 48, 0, 110).
		u32(54, 40).
		str(94, pngSignature).
		put(109, 0)
}

func TestIcon_IsValid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "icon", data: iconSample().bytes(), want: true},
		{name: "cursor", data: iconSample().u16(2, IconTypeCUR).bytes(), want: true},
		{name: "bad type", data: iconSample().u16(2, 3).bytes(), want: false},
		{name: "reserved", data: iconSample().u16(0, 1).bytes(), want: false},
		{name: "no images", data: iconSample().u16(4, 0).bytes(), want: false},
		{name: "image inside directory", data: iconSample().u32(6+12, 10).bytes(), want: false},
		{name: "image past the end", data: iconSample().u32(6+8, 0x1000).bytes(), want: false},
		{name: "planes", data: iconSample().u16(6+4, 2).bytes(), want: false},
		{name: "short", data: iconSample().bytes()[:20], want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NewIcon(newSample(0).put(0, tt.data...).stream()).IsValid())
		})
	}
}

func TestIcon_MemoryMap(t *testing.T) {
	d := NewIcon(iconSample().stream())
	require.Equal(t, FileTypeICO, d.FileType())
	require.Equal(t, 3, d.Count())

	entries := d.Entries(context.Background())
	require.Len(t, entries, 2)
	require.EqualValues(t, 32, entries[1].Width)
	require.EqualValues(t, 32, entries[1].BitCount)

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "ICO (2 images)", m.TypeString)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "directory", Offset: 0, Address: -1, Size: 54},
		{Index: 1, Type: RegionData, Name: "BMP", Offset: 54, Address: -1, Size: 40},
		{Index: 2, Type: RegionData, Name: "PNG", Offset: 94, Address: -1, Size: 16},
	}, m.Regions)

	require.Empty(t, d.Entries(cancelledContext()))
}

func TestIcon_ReservedEntry(t *testing.T) {
	// the walk stops at the second entry, keeping only the bitmap
	d := NewIcon(iconSample().put(icoDirSize+icoDirEntrySize+3, 1).stream())
	require.True(t, d.IsValid())
	require.Len(t, d.Entries(context.Background()), 1)

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "ICO (1 images)", m.TypeString)
	require.Equal(t, []string{"BMP"}, regionNames(m, RegionData))
}

func TestIcon_Cursor(t *testing.T) {
	// cursor hotspots live in the planes field, so any value is accepted
	d := NewIcon(iconSample().u16(2, IconTypeCUR).u16(6+4, 7).stream())
	require.True(t, d.IsValid())
	require.Equal(t, FileTypeCUR, d.FileType())

	require.True(t, d.SetField("idCount", 1))
	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "CUR (1 images)", m.TypeString)
	require.Equal(t, []string{"BMP"}, regionNames(m, RegionData))
	require.EqualValues(t, 22, m.Regions[0].Size)
}
