package binmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// elf64Sample is a little-endian x86-64 Linux executable with two PT_LOAD
// segments, four sections and a 128-byte overlay.
func elf64Sample() *sample {
	s := newSample(0x480).
		put(0, 0x7F, 'E', 'L', 'F', ELFClass64, ELFData2LSB, 1, 3).
		u16(0x10, 2).        // e_type
		u16(0x12, 62).       // e_machine
		u32(0x14, 1).        // e_version
		u64(0x18, 0x401010). // e_entry
		u64(0x20, 0x40).     // e_phoff
		u64(0x28, 0x300).    // e_shoff
		u16(0x34, 0x40).     // e_ehsize
		u16(0x36, 0x38).     // e_phentsize
		u16(0x38, 2).        // e_phnum
		u16(0x3A, 0x40).     // e_shentsize
		u16(0x3C, 4).        // e_shnum
		u16(0x3E, 3)         // e_shstrndx
	s.elf64Prog(0x40, 0, 0x400000, 0x200, 0x200)
	s.elf64Prog(0x78, 0x200, 0x401000, 0x100, 0x300)
	s.elf64Section(0x340, 1, 1, 0x401000, 0x200, 0x100)
	s.elf64Section(0x380, 7, ELFSecNoBits, 0x401100, 0x300, 0x200)
	s.elf64Section(0x3C0, 12, 3, 0, 0x2E0, 0x20)
	return s.str(0x2E0, "\x00.text\x00.bss\x00.shstrtab\x00")
}

func (s *sample) elf64Prog(off int, offset, vaddr, filesz, memsz uint64) *sample {
	return s.u32(off, ELFProgLoad).
		u64(off+0x08, offset).
		u64(off+0x10, vaddr).
		u64(off+0x20, filesz).
		u64(off+0x28, memsz)
}

func (s *sample) elf64Section(off int, name, typ uint32, addr, offset, size uint64) *sample {
	return s.u32(off, name).
		u32(off+0x04, typ).
		u64(off+0x10, addr).
		u64(off+0x18, offset).
		u64(off+0x20, size)
}

func TestELF_IsValid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "ELF64", data: elf64Sample().bytes(), want: true},
		{name: "bad class", data: elf64Sample().put(4, 3).bytes(), want: false},
		{name: "bad data encoding", data: elf64Sample().put(5, 0).bytes(), want: false},
		{name: "bad version", data: elf64Sample().put(6, 0).bytes(), want: false},
		{name: "truncated header", data: elf64Sample().bytes()[:0x30], want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NewELF(newSample(0).put(0, tt.data...).stream()).IsValid())
		})
	}
	for off := 0; off < 4; off++ {
		require.False(t, NewELF(flipped(elf64Sample().bytes(), off)).IsValid(), "flipped magic byte %d", off)
	}
}

func TestELF_MemoryMapSegments(t *testing.T) {
	d := NewELF(elf64Sample().stream())
	require.Equal(t, FileTypeELF64, d.FileType())
	require.Equal(t, "AMD64", d.Arch())
	require.Equal(t, Mode64, d.Mode())
	require.Equal(t, EndianLittle, d.Endian())

	info := d.OSInfo()
	require.Equal(t, "Linux", info.Name)
	require.Equal(t, "EXEC", info.Type)

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "ELF64 (EXEC)", m.TypeString)
	require.EqualValues(t, 0x401010, m.EntryPoint)
	require.EqualValues(t, 0x400000, m.ModuleBase)
	require.EqualValues(t, 0x1300, m.ImageSize)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: -1, Size: 0x40},
		{Index: 1, Type: RegionLoadSegment, Name: "segment0", Offset: 0, Address: 0x400000, Size: 0x200},
		{Index: 2, Type: RegionLoadSegment, Name: "segment1", Offset: 0x200, Address: 0x401000, Size: 0x100},
		{Index: 3, Type: RegionLoadSegment, Name: "segment1", Offset: -1, Address: 0x401100, Size: 0x200, Virtual: true},
		{Index: 4, Type: RegionOverlay, Name: "overlay", Offset: 0x400, Address: -1, Size: 0x80},
	}, m.Regions)

	require.Equal(t, m, d.MemoryMap(context.Background(), MapModeSegments))
}

func TestELF_MemoryMapSections(t *testing.T) {
	d := NewELF(elf64Sample().stream())

	m := requireMap(t, d, MapModeSections)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: -1, Size: 0x40},
		{Index: 1, Type: RegionFileSegment, Name: ".text", Offset: 0x200, Address: 0x401000, Size: 0x100},
		{Index: 2, Type: RegionLoadSegment, Name: ".bss", Offset: -1, Address: 0x401100, Size: 0x200, Virtual: true},
		{Index: 3, Type: RegionFileSegment, Name: ".shstrtab", Offset: 0x2E0, Address: -1, Size: 0x20},
		{Index: 4, Type: RegionOverlay, Name: "overlay", Offset: 0x400, Address: -1, Size: 0x80},
	}, m.Regions)
}

func TestELF_RelocatableMapsSections(t *testing.T) {
	d := NewELF(elf64Sample().u16(0x10, 1).u64(0x20, 0).u16(0x38, 0).stream())
	require.Empty(t, d.Programs(context.Background()))

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "ELF64 (REL)", m.TypeString)
	require.Equal(t, []string{".text", ".shstrtab"}, regionNames(m, RegionFileSegment))
}

func TestELF_MemoryMapStopsAtBadSegment(t *testing.T) {
	d := NewELF(elf64Sample().elf64Prog(0x78, 0x1000, 0x401000, 0x100, 0x300).stream())
	m := requireMap(t, d, MapModeDefault)

	require.Equal(t, []string{"segment0"}, regionNames(m, RegionLoadSegment))
	overlay, ok := m.Overlay()
	require.True(t, ok)
	require.EqualValues(t, 0x400, overlay.Offset)
}

func TestELF_MemoryMapNegativeOffsets(t *testing.T) {
	const huge = 1 << 63
	tests := []struct {
		name     string
		data     *sample
		mode     MapMode
		typ      RegionType
		expected []string
	}{
		{
			name:     "segment",
			data:     elf64Sample().elf64Prog(0x78, huge, 0x401000, 0x100, 0x300),
			mode:     MapModeDefault,
			typ:      RegionLoadSegment,
			expected: []string{"segment0"},
		},
		{
			name: "first section",
			data: elf64Sample().elf64Section(0x340, 1, 1, 0x401000, huge, 0x100),
			mode: MapModeSections,
			typ:  RegionFileSegment,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := requireMap(t, NewELF(tt.data.stream()), tt.mode)
			require.Equal(t, tt.expected, regionNames(m, tt.typ))
			for _, r := range m.Regions {
				require.False(t, r.Virtual && r.Type == RegionFileSegment, "region %q", r.Name)
			}
		})
	}
}

func TestELF32BigEndian(t *testing.T) {
	s := newSample(0x100).
		put(0, 0x7F, 'E', 'L', 'F', ELFClass32, ELFData2MSB, 1).
		u16be(0x10, 2).
		u16be(0x12, 8).
		u32be(0x14, 1).
		u32be(0x18, 0x400054).
		u32be(0x1C, 0x34).
		u16be(0x2A, 0x20).
		u16be(0x2C, 1).
		u32be(0x34, ELFProgLoad).
		u32be(0x3C, 0x400000).
		u32be(0x44, 0x100).
		u32be(0x48, 0x100)

	d := NewELF(s.stream())
	require.True(t, d.IsValid())
	require.Equal(t, FileTypeELF32, d.FileType())
	require.Equal(t, EndianBig, d.Endian())
	require.Equal(t, "MIPS", d.Arch())
	require.Equal(t, "Unix System V", d.OSInfo().Name)

	m := requireMap(t, d, MapModeDefault)
	require.EqualValues(t, 0x400054, m.EntryPoint)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: -1, Size: 0x34},
		{Index: 1, Type: RegionLoadSegment, Name: "segment0", Offset: 0, Address: 0x400000, Size: 0x100},
	}, m.Regions)

	require.True(t, d.SetField("e_entry", 0x400060))
	require.EqualValues(t, 0x400060, d.Entry())
	require.True(t, d.SetField("ei_osabi", 3))
	require.Equal(t, "Linux", d.OSInfo().Name)
}
