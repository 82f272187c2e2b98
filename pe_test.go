package binmap

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	peHdr      = 0x80
	peOptional = peHdr + 4 + 20
	peSecTable = peOptional + 0xE0
	richKey    = 0x12345678
)

// section writes one IMAGE_SECTION_HEADER at index i of the table at off.
func (s *sample) section(off, i int, name string, vsize, va, rawSize, rawPtr, chars uint32) *sample {
	at := off + i*peSectionHeaderSize
	return s.str(at, name).
		u32(at+8, vsize).
		u32(at+12, va).
		u32(at+16, rawSize).
		u32(at+20, rawPtr).
		u32(at+36, chars)
}

// peSample is a PE32 console image with .text, .data and .bss sections and
// a 256-byte overlay.
func peSample() *sample {
	return mzStub(0x900, peHdr).
		str(peHdr, "PE\x00\x00").
		u16(peHdr+4, 0x14c).    // Machine
		u16(peHdr+6, 3).        // NumberOfSections
		u16(peHdr+20, 0xE0).    // SizeOfOptionalHeader
		u16(peHdr+22, 0x0102).  // Characteristics
		u16(peOptional, 0x10b). // Magic
		u32(peOptional+0x10, 0x1010).
		u32(peOptional+0x1C, 0x400000).
		u32(peOptional+0x20, 0x1000).
		u32(peOptional+0x24, 0x200).
		u16(peOptional+0x28, 6).
		u32(peOptional+0x38, 0x4000).
		u32(peOptional+0x3C, 0x200).
		u16(peOptional+0x44, 3).
		u32(peOptional+0x5C, 16).
		section(peSecTable, 0, ".text", 0x300, 0x1000, 0x400, 0x200, 0x60000020).
		section(peSecTable, 1, ".data", 0x800, 0x2000, 0x200, 0x600, 0xC0000040).
		section(peSecTable, 2, ".bss", 0x100, 0x3000, 0, 0, 0xC0000080)
}

func TestPE_IsValid(t *testing.T) {
	buf := peSample().bytes()
	require.True(t, NewPE(peSample().stream()).IsValid())

	tests := []struct {
		name string
		data []byte
	}{
		{name: "optional header magic", data: peSample().u16(peOptional, 0x999).bytes()},
		{name: "optional header too small", data: peSample().u16(peHdr+20, 0x40).bytes()},
		{name: "e_lfanew past the end", data: peSample().u32(0x3C, 0x1000).bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, NewPE(newSample(0).put(0, tt.data...).stream()).IsValid())
		})
	}
	for _, off := range []int{0, peHdr, peHdr + 1, peHdr + 2} {
		require.False(t, NewPE(flipped(buf, off)).IsValid(), "flipped byte %#x", off)
	}
}

func TestPE_MemoryMap(t *testing.T) {
	d := NewPE(peSample().stream())
	require.Equal(t, FileTypePE32, d.FileType())
	require.Equal(t, "I386", d.Arch())
	require.Equal(t, Mode32, d.Mode())

	info := d.OSInfo()
	require.Equal(t, "Windows", info.Name)
	require.Equal(t, "6.0", info.Version)
	require.Equal(t, "EXE", info.Type)

	m := requireMap(t, d, MapModeDefault)
	require.Equal(t, "PE32 (Console)", m.TypeString)
	require.EqualValues(t, 0x400000, m.ModuleBase)
	require.EqualValues(t, 0x401010, m.EntryPoint)
	require.EqualValues(t, 0x4000, m.ImageSize)
	require.Equal(t, []Region{
		{Index: 0, Type: RegionHeader, Name: "header", Offset: 0, Address: 0x400000, Size: 0x200},
		{Index: 1, Type: RegionLoadSegment, Name: ".text", Offset: 0x200, Address: 0x401000, Size: 0x300},
		{Index: 2, Type: RegionLoadSegment, Name: ".data", Offset: 0x600, Address: 0x402000, Size: 0x200},
		{Index: 3, Type: RegionLoadSegment, Name: ".data", Offset: -1, Address: 0x402200, Size: 0x600, Virtual: true},
		{Index: 4, Type: RegionLoadSegment, Name: ".bss", Offset: -1, Address: 0x403000, Size: 0x100, Virtual: true},
		{Index: 5, Type: RegionOverlay, Name: "overlay", Offset: 0x800, Address: -1, Size: 0x100},
	}, m.Regions)

	addr, ok := m.OffsetToAddress(0x210)
	require.True(t, ok)
	require.EqualValues(t, 0x401010, addr)
	off, ok := m.AddressToOffset(0x402010)
	require.True(t, ok)
	require.EqualValues(t, 0x610, off)
}

func TestPE_OverlayIgnoresCertificateTable(t *testing.T) {
	// IMAGE_DIRECTORY_ENTRY_SECURITY holds a file offset into the overlay.
	dir := peOptional + 0x60 + ImageDirectoryEntrySecurity*peDataDirectorySize
	d := NewPE(peSample().u32(dir, 0x800).u32(dir+4, 0x100).stream())
	require.Len(t, d.DataDirectories(), 16)

	m := requireMap(t, d, MapModeDefault)
	overlay, ok := m.Overlay()
	require.True(t, ok)
	require.EqualValues(t, 0x800, overlay.Offset)
}

func TestPE_MemoryMapStopsAtBadSection(t *testing.T) {
	d := NewPE(peSample().section(peSecTable, 1, ".data", 0x800, 0x2000, 0x200, 0x2000, 0).stream())
	m := requireMap(t, d, MapModeDefault)

	require.Equal(t, []string{".text"}, regionNames(m, RegionLoadSegment))
	overlay, ok := m.Overlay()
	require.True(t, ok)
	require.EqualValues(t, 0x600, overlay.Offset)
	require.EqualValues(t, 0x300, overlay.Size)
}

func TestPE_Sections(t *testing.T) {
	d := NewPE(peSample().stream())
	require.Empty(t, d.Sections(cancelledContext()))

	sections := d.Sections(context.Background())
	require.Len(t, sections, 3)
	require.Equal(t, "rx", sections[0].Flags())
	require.Equal(t, "rw", sections[1].Flags())
	require.True(t, sections[2].IsBSS())
	require.False(t, sections[0].IsBSS())
}

func TestPE32Plus(t *testing.T) {
	const opt64 = 0xF0
	d := NewPE(mzStub(0x400, peHdr).
		str(peHdr, "PE\x00\x00").
		u16(peHdr+4, 0x8664).
		u16(peHdr+20, opt64).
		u16(peHdr+22, peFileDLL).
		u16(peOptional, 0x20b).
		u32(peOptional+0x10, 0x2000).
		u64(peOptional+0x18, 0x180000000).
		u32(peOptional+0x3C, 0x400).
		u16(peOptional+0x44, 2).
		stream())
	require.True(t, d.IsValid())
	require.Equal(t, FileTypePE64, d.FileType())
	require.Equal(t, "AMD64", d.Arch())
	require.Equal(t, Mode64, d.Mode())
	require.Equal(t, "DLL", d.OSInfo().Type)

	m := requireMap(t, d, MapModeDefault)
	require.EqualValues(t, 0x180002000, m.EntryPoint)
	require.Equal(t, "PE64 (GUI)", m.TypeString)
	require.Equal(t, []string{"header"}, regionNames(m, RegionHeader))
	require.EqualValues(t, 0x400, m.Regions[0].Size)
}

func TestPE_Fields(t *testing.T) {
	buf := peSample().bytes()
	d := NewPE(newSample(0).put(0, buf...).stream())
	require.Len(t, d.Header(), len(peFileHeaderLayout.Fields)+len(peOptionalHeader32Layout.Fields))

	require.True(t, d.SetField("NumberOfSections", 2))
	require.EqualValues(t, 2, d.NumberOfSections())
	require.True(t, d.SetField("AddressOfEntryPoint", 0x1020))
	require.EqualValues(t, 0x1020, d.AddressOfEntryPoint())
	require.False(t, d.SetField("NoSuchField", 1))
}

// richSample places a Rich header with one entry between the MZ header and
// the PE header.
func richSample() *sample {
	s := peSample().
		u32(0x40, DansSignature^richKey).
		u32(0x44, richKey).
		u32(0x48, richKey).
		u32(0x4C, richKey).
		u32(0x50, 0x00FF0001^richKey).
		u32(0x54, 5^richKey).
		str(0x58, RichSignature).
		u32(0x5C, richKey)
	return s
}

func TestPE_RichHeader(t *testing.T) {
	require.Nil(t, NewPE(peSample().stream()).RichHeader())
	require.Empty(t, NewPE(peSample().stream()).RichHeaderHash())
	require.Zero(t, NewPE(peSample().stream()).RichHeaderChecksum())

	d := NewPE(richSample().stream())
	rh := d.RichHeader()
	require.NotNil(t, rh)
	require.EqualValues(t, richKey, rh.XorKey)
	require.EqualValues(t, 0x40, rh.DansOffset)
	require.EqualValues(t, 0x20, rh.Size())
	require.Equal(t, []CompID{{MinorCV: 1, ProdID: 0xFF, Count: 5, Unmasked: 0x00FF0001}}, rh.CompIDs)

	plain := make([]byte, 0x18)
	binary.LittleEndian.PutUint32(plain, DansSignature)
	binary.LittleEndian.PutUint32(plain[0x10:], 0x00FF0001)
	binary.LittleEndian.PutUint32(plain[0x14:], 5)
	require.Equal(t, fmt.Sprintf("%x", md5.Sum(plain)), d.RichHeaderHash())

	// no DanS marker before Rich
	broken := richSample().u32(0x40, 0)
	require.Nil(t, NewPE(broken.stream()).RichHeader())
}

const (
	symTable  = 0x700
	longName  = "a_long_symbol_name"
	strTable  = symTable + 3*COFFSymbolSize
	longIndex = 4
)

// symbolSample adds a three-record COFF symbol table, one of them auxiliary,
// and names .data through the string table.
func symbolSample() *sample {
	return peSample().
		u32(peHdr+12, symTable).
		u32(peHdr+16, 3).
		section(peSecTable, 1, fmt.Sprintf("/%d\x00\x00", longIndex), 0x800, 0x2000, 0x200, 0x600, 0xC0000040).
		str(symTable, ".text").
		u16(symTable+12, 1).
		put(symTable+16, 3, 1).
		put(symTable+COFFSymbolSize, 0xAA, 0xBB).
		u32(symTable+2*COFFSymbolSize+4, longIndex).
		u32(symTable+2*COFFSymbolSize+8, 0x10).
		u16(symTable+2*COFFSymbolSize+12, 1).
		put(symTable+2*COFFSymbolSize+16, 2, 0).
		u32(strTable, uint32(4+len(longName)+1)).
		str(strTable+4, longName)
}

func TestPE_Symbols(t *testing.T) {
	require.Nil(t, NewPE(peSample().stream()).Symbols(context.Background()))

	d := NewPE(symbolSample().stream())
	require.Equal(t, []Symbol{
		{Name: ".text", SectionNumber: 1, StorageClass: 3},
		{Name: longName, Value: 0x10, SectionNumber: 1, StorageClass: 2},
	}, d.Symbols(context.Background()))

	sections := d.Sections(context.Background())
	require.Equal(t, longName, sections[1].Name)
}

func TestPE_MemoryMapCOFFTables(t *testing.T) {
	// symbol table inside .data
	m := requireMap(t, NewPE(symbolSample().stream()), MapModeDefault)
	require.Equal(t, []Region{
		{Index: 5, Type: RegionData, Name: "COFF symbols", Offset: symTable, Address: -1, Size: 3 * COFFSymbolSize},
		{Index: 6, Type: RegionData, Name: "COFF strings", Offset: strTable, Address: -1, Size: int64(4 + len(longName) + 1)},
	}, m.Regions[5:7])
	overlay, ok := m.Overlay()
	require.True(t, ok)
	require.EqualValues(t, 0x800, overlay.Offset)

	// symbol table at the start of the overlay, with an empty string table
	const table = 0x800
	d := NewPE(peSample().
		u32(peHdr+12, table).
		u32(peHdr+16, 2).
		str(table, "main").
		str(table+COFFSymbolSize, "exit").
		u32(table+2*COFFSymbolSize, 4).
		stream())
	require.Len(t, d.Symbols(context.Background()), 2)

	m = requireMap(t, d, MapModeDefault)
	require.Equal(t, []string{"COFF symbols", "COFF strings"}, regionNames(m, RegionData))
	overlay, ok = m.Overlay()
	require.True(t, ok)
	require.EqualValues(t, table+2*COFFSymbolSize+4, overlay.Offset)
	require.EqualValues(t, 0x900-(table+2*COFFSymbolSize+4), overlay.Size)
}

func TestSectionName(t *testing.T) {
	st := StringTable(append([]byte(longName), 0))
	tests := []struct {
		raw  string
		want string
	}{
		{raw: ".text\x00\x00\x00", want: ".text"},
		{raw: "/4\x00\x00\x00\x00\x00\x00", want: longName},
		{raw: "/400\x00\x00\x00\x00", want: "/400"},
		{raw: "/abc\x00\x00\x00\x00", want: "/abc"},
		{raw: "12345678", want: "12345678"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, sectionName(tt.raw, st))
		})
	}

	_, err := st.String(2)
	require.Error(t, err)
}
