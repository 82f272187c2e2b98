package binmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func (s *sample) segment64(off, size int, name string, vmaddr, vmsize, fileoff, filesize uint64, nsects uint32) *sample {
	return s.u32(off, machoLoadCmdSegment64).
		u32(off+4, uint32(size)).
		str(off+8, name).
		u64(off+0x18, vmaddr).
		u64(off+0x20, vmsize).
		u64(off+0x28, fileoff).
		u64(off+0x30, filesize).
		u32(off+0x40, nsects)
}

func (s *sample) section64(off int, name, segment string, addr, size uint64, offset, flags uint32) *sample {
	return s.str(off, name).
		str(off+0x10, segment).
		u64(off+0x20, addr).
		u64(off+0x28, size).
		u32(off+0x30, offset).
		u32(off+0x40, flags)
}

// machoSample is an x86_64 executable with __PAGEZERO, __TEXT and __DATA
// segments, an LC_MAIN entry point and a 256-byte overlay.
func machoSample() *sample {
	return newSample(0x1200).
		u32(0, MachOMagic64).
		u32(4, 7|1<<24).
		u32(12, 2).
		u32(16, 4).
		u32(20, 0x190).
		segment64(0x20, 0x48, "__PAGEZERO", 0, 0x100000000, 0, 0, 0).
		segment64(0x68, 0x98, "__TEXT", 0x100000000, 0x1000, 0, 0x1000, 1).
		section64(0xB0, "__text", "__TEXT", 0x100000800, 0x100, 0x800, 0).
		segment64(0x100, 0x98, "__DATA", 0x100001000, 0x2000, 0x1000, 0x100, 1).
		section64(0x148, "__bss", "__DATA", 0x100001100, 0x1F00, 0, machoZeroFill).
		u32(0x198, machoLoadCmdMain).
		u32(0x19C, 0x18).
		u64(0x1A0, 0x850)
}

func TestMachO_IsValid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "64-bit", data: machoSample().bytes(), want: true},
		{name: "32-bit big endian", data: newSample(28).put(0, 0xFE, 0xED, 0xFA, 0xCE).bytes(), want: true},
		{name: "truncated header", data: newSample(16).u32(0, MachOMagic64).bytes(), want: false},
		{name: "fat magic", data: newSample(0x40).u32be(0, MachOFatMagic).bytes(), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NewMachO(newSample(0).put(0, tt.data...).stream()).IsValid())
		})
	}
}

func TestMachO_MemoryMap(t *testing.T) {
	d := NewMachO(machoSample().stream())
	require.Equal(t, FileTypeMachO64, d.FileType())
	require.Equal(t, "x86_64", d.Arch())
	require.Equal(t, EndianLittle, d.Endian())
	require.Equal(t, "EXECUTE", d.OSInfo().Type)

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "MACHO64 (EXECUTE)", m.TypeString)
	require.EqualValues(t, 0x100000850, m.EntryPoint)
	require.EqualValues(t, 0x100000000, m.ModuleBase)
	require.EqualValues(t, 0x3000, m.ImageSize)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: -1, Size: 0x1B0},
		{Index: 1, Type: RegionLoadSegment, Name: "__PAGEZERO", Offset: -1, Address: 0, Size: 0x100000000, Virtual: true},
		{Index: 2, Type: RegionLoadSegment, Name: "__TEXT", Offset: 0, Address: 0x100000000, Size: 0x1000},
		{Index: 3, Type: RegionLoadSegment, Name: "__DATA", Offset: 0x1000, Address: 0x100001000, Size: 0x100},
		{Index: 4, Type: RegionLoadSegment, Name: "__DATA", Offset: -1, Address: 0x100001100, Size: 0x1F00, Virtual: true},
		{Index: 5, Type: RegionOverlay, Name: "overlay", Offset: 0x1100, Address: -1, Size: 0x100},
	}, m.Regions)
}

func TestMachO_MemoryMapSections(t *testing.T) {
	d := NewMachO(machoSample().stream())

	m := requireMap(t, d, MapModeSections)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: -1, Size: 0x1B0},
		{Index: 1, Type: RegionFileSegment, Name: "__TEXT.__text", Offset: 0x800, Address: 0x100000800, Size: 0x100},
		{Index: 2, Type: RegionLoadSegment, Name: "__DATA.__bss", Offset: -1, Address: 0x100001100, Size: 0x1F00, Virtual: true},
		{Index: 3, Type: RegionOverlay, Name: "overlay", Offset: 0x1100, Address: -1, Size: 0x100},
	}, m.Regions)
}

func TestMachO_CommandsStopAtDeclaredEnd(t *testing.T) {
	// LC_MAIN no longer fits in sizeofcmds
	d := NewMachO(machoSample().u32(20, 0x180).stream())
	segs := d.Segments(context.Background())
	require.Len(t, segs, 3)
	require.EqualValues(t, -1, d.EntryPoint(context.Background(), segs))

	m := requireMap(t, d, MapModeDefault)
	require.EqualValues(t, -1, m.EntryPoint)
	require.EqualValues(t, 0x1A0, m.Regions[0].Size)

	require.Empty(t, d.Segments(cancelledContext()))
}

func TestMachO32BigEndianThread(t *testing.T) {
	s := newSample(0x200).
		put(0, 0xFE, 0xED, 0xFA, 0xCE).
		u32be(4, 18).
		u32be(12, 2).
		u32be(16, 2).
		u32be(20, 0x78).
		// LC_SEGMENT __TEXT
		u32be(0x1C, machoLoadCmdSegment).
		u32be(0x20, 0x38).
		str(0x24, "__TEXT").
		u32be(0x34, 0x1000).
		u32be(0x38, 0x200).
		u32be(0x40, 0x200).
		// LC_UNIXTHREAD
		u32be(0x54, machoLoadCmdUnixThread).
		u32be(0x58, 0x40).
		u32be(0x54+machoThreadIP32, 0x1080)

	d := NewMachO(s.stream())
	require.True(t, d.IsValid())
	require.Equal(t, FileTypeMachO32, d.FileType())
	require.Equal(t, EndianBig, d.Endian())
	require.Equal(t, "ppc", d.Arch())

	m := requireMap(t, d, MapModeDefault)
	require.EqualValues(t, 0x1080, m.EntryPoint)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: -1, Size: 0x94},
		{Index: 1, Type: RegionLoadSegment, Name: "__TEXT", Offset: 0, Address: 0x1000, Size: 0x200},
	}, m.Regions)

	require.True(t, d.SetField("filetype", 6))
	require.Equal(t, "DYLIB", d.OSInfo().Type)
}
