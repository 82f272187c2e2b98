package binmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const leHdr = 0x80

// leSample is a VxD-style LE image with two objects over three 256-byte
// pages, the last one short, followed by a 128-byte overlay.
func leSample() *sample {
	return leCommon("LE").
		u32(leHdr+0x2C, 0x80). // e32_lastpagesize
		put(0x160, 0, 0, 1, 0).
		put(0x164, 0, 0, 2, 0).
		put(0x168, 0, 0, 3, 0)
}

// lxSample carries the same layout with 8-byte LX page entries.
func lxSample() *sample {
	return leCommon("LX").
		u32(0x160, 0x000).u16(0x164, 0x100).
		u32(0x168, 0x100).u16(0x16C, 0x100).
		u32(0x170, 0x200).u16(0x174, 0x80)
}

func leCommon(magic string) *sample {
	return mzStub(0x500, leHdr).
		str(leHdr, magic).
		u16(leHdr+0x08, 2).     // e32_cpu
		u16(leHdr+0x0A, 4).     // e32_os
		u32(leHdr+0x14, 3).     // e32_mpages
		u32(leHdr+0x18, 1).     // e32_startobj
		u32(leHdr+0x1C, 0x10).  // e32_eip
		u32(leHdr+0x28, 0x100). // e32_pagesize
		u32(leHdr+0x40, 0xB0).  // e32_objtab
		u32(leHdr+0x44, 2).     // e32_objcnt
		u32(leHdr+0x48, 0xE0).  // e32_objmap
		u32(leHdr+0x80, 0x200). // e32_datapage
		// object table
		u32(0x130, 0x300).u32(0x134, 0x10000).u32(0x13C, 1).u32(0x140, 2).
		u32(0x148, 0x100).u32(0x14C, 0x20000).u32(0x154, 3).u32(0x158, 1)
}

func TestLE_IsValid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want FileType
	}{
		{name: "LE", data: leSample().bytes(), want: FileTypeLE},
		{name: "LX", data: lxSample().bytes(), want: FileTypeLX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewLE(newSample(0).put(0, tt.data...).stream())
			require.True(t, d.IsValid())
			require.Equal(t, tt.want, d.FileType())
			require.Equal(t, EndianLittle, d.Endian())

			require.False(t, NewLE(flipped(tt.data, leHdr)).IsValid())
			require.False(t, NewLE(flipped(tt.data, leHdr+1)).IsValid())
			require.False(t, NewLE(flipped(tt.data, 0)).IsValid())
		})
	}

	bad := leSample().put(leHdr+2, 2).stream()
	require.False(t, NewLE(bad).IsValid(), "byte order byte out of range")

	big := leSample().put(leHdr+2, 1).stream()
	require.Equal(t, EndianBig, NewLE(big).Endian())
}

func TestLE_MemoryMap(t *testing.T) {
	want := []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: -1, Size: 0x200},
		{Index: 1, Type: RegionLoadSegment, Name: "object1", Offset: 0x200, Address: 0x10000, Size: 0x200},
		{Index: 2, Type: RegionLoadSegment, Name: "object1", Offset: -1, Address: 0x10200, Size: 0x100, Virtual: true},
		{Index: 3, Type: RegionLoadSegment, Name: "object2", Offset: 0x400, Address: 0x20000, Size: 0x80},
		{Index: 4, Type: RegionOverlay, Name: "overlay", Offset: 0x480, Address: -1, Size: 0x80},
	}
	tests := []struct {
		name   string
		sample *sample
	}{
		{name: "LE", sample: leSample()},
		{name: "LX", sample: lxSample()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewLE(tt.sample.stream())
			require.Equal(t, "80386", d.Arch())
			require.Equal(t, Mode32, d.Mode())
			require.Equal(t, "Windows 386", d.OSInfo().Name)

			m := requireMap(t, d, MapModeDefault)
			require.EqualValues(t, 0x10010, m.EntryPoint)
			require.EqualValues(t, 0x10000, m.ModuleBase)
			require.EqualValues(t, 0x10100, m.ImageSize)
			require.Equal(t, want, m.Regions)
		})
	}
}

func TestLE_MemoryMapStopsAtBadPage(t *testing.T) {
	d := NewLE(leSample().put(0x168, 0, 0, 0x10, 0).stream())
	m := requireMap(t, d, MapModeDefault)

	require.Equal(t, []string{"object1", "object1"}, regionNames(m, RegionLoadSegment))
	overlay, ok := m.Overlay()
	require.True(t, ok)
	require.EqualValues(t, 0x400, overlay.Offset)
	require.EqualValues(t, 0x100, overlay.Size)
}
