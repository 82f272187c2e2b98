package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var elfIdentLayout = newLayout("e_ident",
	raw("ei_mag", 4),
	u8("ei_class"),
	u8("ei_data"),
	u8("ei_version"),
	u8("ei_osabi"),
	u8("ei_abiversion"),
	raw("ei_pad", 7),
)

var elf32HeaderLayout = newLayout("Elf32_Ehdr",
	at(elfIdentSize, u16("e_type")),
	u16("e_machine"),
	u32("e_version"),
	u32("e_entry"),
	u32("e_phoff"),
	u32("e_shoff"),
	u32("e_flags"),
	u16("e_ehsize"),
	u16("e_phentsize"),
	u16("e_phnum"),
	u16("e_shentsize"),
	u16("e_shnum"),
	u16("e_shstrndx"),
)

var elf64HeaderLayout = newLayout("Elf64_Ehdr",
	at(elfIdentSize, u16("e_type")),
	u16("e_machine"),
	u32("e_version"),
	u64("e_entry"),
	u64("e_phoff"),
	u64("e_shoff"),
	u32("e_flags"),
	u16("e_ehsize"),
	u16("e_phentsize"),
	u16("e_phnum"),
	u16("e_shentsize"),
	u16("e_shnum"),
	u16("e_shstrndx"),
)

var elf32ProgLayout = newLayout("Elf32_Phdr",
	u32("p_type"),
	u32("p_offset"),
	u32("p_vaddr"),
	u32("p_paddr"),
	u32("p_filesz"),
	u32("p_memsz"),
	u32("p_flags"),
	u32("p_align"),
)

var elf64ProgLayout = newLayout("Elf64_Phdr",
	u32("p_type"),
	u32("p_flags"),
	u64("p_offset"),
	u64("p_vaddr"),
	u64("p_paddr"),
	u64("p_filesz"),
	u64("p_memsz"),
	u64("p_align"),
)

var elf32SectionLayout = newLayout("Elf32_Shdr",
	u32("sh_name"),
	u32("sh_type"),
	u32("sh_flags"),
	u32("sh_addr"),
	u32("sh_offset"),
	u32("sh_size"),
	u32("sh_link"),
	u32("sh_info"),
	u32("sh_addralign"),
	u32("sh_entsize"),
)

var elf64SectionLayout = newLayout("Elf64_Shdr",
	u32("sh_name"),
	u32("sh_type"),
	u64("sh_flags"),
	u64("sh_addr"),
	u64("sh_offset"),
	u64("sh_size"),
	u32("sh_link"),
	u32("sh_info"),
	u64("sh_addralign"),
	u64("sh_entsize"),
)

const elfMaxNameLen = 256

var sigELF = signature.MustCompile("7F 'ELF'")

// ELFProgram is a decoded program header.
type ELFProgram struct {
	Type   uint32
	Flags  uint32
	Offset int64
	VAddr  int64
	FileSz int64
	MemSz  int64
}

// ELFSection is a decoded section header.
type ELFSection struct {
	Name   string
	Type   uint32
	Flags  uint64
	Addr   int64
	Offset int64
	Size   int64
}

// ELF decodes ELF32 and ELF64 objects in either byte order.
type ELF struct {
	base
}

func NewELF(s *stream.Stream) *ELF {
	d := &ELF{base: base{s: s, os: "Unix"}}
	d.mode = Mode32
	if s.Uint8(4) == ELFClass64 {
		d.mode = Mode64
	}
	d.endian = endianOf(s.Uint8(5) == ELFData2MSB)
	return d
}

func (d *ELF) IsValid() bool {
	if !sigELF.Match(d.s, 0) {
		return false
	}
	class, data, version := d.s.Uint8(4), d.s.Uint8(5), d.s.Uint8(6)
	if class != ELFClass32 && class != ELFClass64 {
		return false
	}
	if data != ELFData2LSB && data != ELFData2MSB {
		return false
	}
	return version == 1 && d.size() >= d.headerLayout().Size
}

func (d *ELF) Is64() bool {
	return d.mode == Mode64
}

func (d *ELF) FileType() FileType {
	if d.Is64() {
		return FileTypeELF64
	}
	return FileTypeELF32
}

func (d *ELF) headerLayout() *Layout {
	if d.Is64() {
		return elf64HeaderLayout
	}
	return elf32HeaderLayout
}

func (d *ELF) progLayout() *Layout {
	if d.Is64() {
		return elf64ProgLayout
	}
	return elf32ProgLayout
}

func (d *ELF) sectionLayout() *Layout {
	if d.Is64() {
		return elf64SectionLayout
	}
	return elf32SectionLayout
}

func (d *ELF) header() reader {
	return reader{l: d.headerLayout(), s: d.s, order: d.endian}
}

func (d *ELF) Header() []FieldValue {
	fields := elfIdentLayout.Decode(d.s, 0, d.endian)
	return append(fields, d.headerLayout().Decode(d.s, 0, d.endian)...)
}

func (d *ELF) SetField(name string, value uint64) bool {
	if _, ok := elfIdentLayout.Field(name); ok {
		return elfIdentLayout.Write(d.s, 0, name, value, d.endian)
	}
	return d.header().set(name, value)
}

func (d *ELF) OSABI() uint8         { return d.s.Uint8(7) }
func (d *ELF) Type() uint16         { return uint16(d.header().get("e_type")) }
func (d *ELF) Machine() uint16      { return uint16(d.header().get("e_machine")) }
func (d *ELF) Entry() uint64        { return d.header().get("e_entry") }
func (d *ELF) ProgramOffset() int64 { return int64(d.header().get("e_phoff")) }
func (d *ELF) SectionOffset() int64 { return int64(d.header().get("e_shoff")) }
func (d *ELF) ProgramCount() int    { return int(d.header().get("e_phnum")) }
func (d *ELF) SectionCount() int    { return int(d.header().get("e_shnum")) }
func (d *ELF) StringIndex() int     { return int(d.header().get("e_shstrndx")) }

// entrySize returns the declared table entry size, or the layout size when
// the header claims something smaller.
func entrySize(declared uint64, l *Layout) int64 {
	if int64(declared) < l.Size {
		return l.Size
	}
	return int64(declared)
}

func (d *ELF) Arch() string {
	return lookup(elfMachine, d.Machine())
}

func (d *ELF) OSInfo() OSInfo {
	var version string
	if v := d.s.Uint8(8); v != 0 {
		version = fmt.Sprint(v)
	}
	return osInfo(d, lookup(elfOSABI, d.OSABI()), version, lookup(elfType, d.Type()))
}

// Programs reads the program header table, stopping at the first entry
// outside the file.
func (d *ELF) Programs(ctx context.Context) []ELFProgram {
	l := d.progLayout()
	size := entrySize(d.header().get("e_phentsize"), l)
	start := d.ProgramOffset()
	n := d.ProgramCount()
	if start == 0 || n > elfMaxHeaders {
		return nil
	}
	progs := make([]ELFProgram, 0, n)
	for i := 0; i < n; i++ {
		if cancelled(ctx) {
			break
		}
		off := start + int64(i)*size
		if !l.Fits(d.s, off) {
			break
		}
		r := reader{l: l, s: d.s, base: off, order: d.endian}
		progs = append(progs, ELFProgram{
			Type:   uint32(r.get("p_type")),
			Flags:  uint32(r.get("p_flags")),
			Offset: int64(r.get("p_offset")),
			VAddr:  int64(r.get("p_vaddr")),
			FileSz: int64(r.get("p_filesz")),
			MemSz:  int64(r.get("p_memsz")),
		})
	}
	return progs
}

// Sections reads the section header table with names resolved through the
// section name string table.
func (d *ELF) Sections(ctx context.Context) []ELFSection {
	l := d.sectionLayout()
	size := entrySize(d.header().get("e_shentsize"), l)
	start := d.SectionOffset()
	n := d.SectionCount()
	if start == 0 || n > elfMaxHeaders {
		return nil
	}
	var names int64 = -1
	if idx := d.StringIndex(); idx > 0 && idx < n {
		off := start + int64(idx)*size
		if l.Fits(d.s, off) {
			names = int64(l.Read(d.s, off, "sh_offset", d.endian))
		}
	}
	sections := make([]ELFSection, 0, n)
	for i := 0; i < n; i++ {
		if cancelled(ctx) {
			break
		}
		off := start + int64(i)*size
		if !l.Fits(d.s, off) {
			break
		}
		r := reader{l: l, s: d.s, base: off, order: d.endian}
		sec := ELFSection{
			Type:   uint32(r.get("sh_type")),
			Flags:  r.get("sh_flags"),
			Addr:   int64(r.get("sh_addr")),
			Offset: int64(r.get("sh_offset")),
			Size:   int64(r.get("sh_size")),
		}
		if names >= 0 {
			sec.Name = d.s.AnsiString(names+int64(r.get("sh_name")), elfMaxNameLen)
		}
		sections = append(sections, sec)
	}
	return sections
}

func (d *ELF) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.EntryPoint = int64(d.Entry())
	m.TypeString = fmt.Sprintf("%s (%s)", d.FileType(), lookup(elfType, d.Type()))

	ehsize := int64(d.header().get("e_ehsize"))
	if ehsize < d.headerLayout().Size {
		ehsize = d.headerLayout().Size
	}
	m.addHeader("header", 0, -1, ehsize)
	end := ehsize

	var loads []ELFProgram
	for _, p := range d.Programs(ctx) {
		if p.Type == ELFProgLoad {
			loads = append(loads, p)
		}
	}
	if n := int64(d.ProgramCount()); n > 0 {
		phEnd := d.ProgramOffset() + n*entrySize(d.header().get("e_phentsize"), d.progLayout())
		if phEnd <= d.size() && phEnd > end {
			end = phEnd
		}
	}

	if mode == MapModeSections || (mode == MapModeDefault && len(loads) == 0) {
		end = d.mapSections(ctx, m, end)
	} else {
		end = d.mapSegments(ctx, m, loads, end)
	}

	if d.SectionCount() > 0 {
		shEnd := d.SectionOffset() + int64(d.SectionCount())*entrySize(d.header().get("e_shentsize"), d.sectionLayout())
		if shEnd <= d.size() && shEnd > end {
			end = shEnd
		}
	}
	m.addOverlay(end)
	return m
}

func (d *ELF) mapSegments(ctx context.Context, m *MemoryMap, loads []ELFProgram, end int64) int64 {
	low, high := int64(-1), int64(0)
	for i, p := range loads {
		if cancelled(ctx) {
			break
		}
		if p.Offset < 0 || p.Offset > d.size() || p.FileSz < 0 || p.MemSz < 0 {
			break
		}
		m.addMapped(fmt.Sprintf("segment%d", i), p.Offset, p.VAddr, p.FileSz, p.MemSz)
		if low < 0 || p.VAddr < low {
			low = p.VAddr
		}
		if top := p.VAddr + p.MemSz; top > high {
			high = top
		}
		if e := p.Offset + p.FileSz; e <= d.size() && e > end {
			end = e
		}
	}
	if low >= 0 {
		m.ModuleBase = low
		m.ImageSize = high - low
	}
	return end
}

func (d *ELF) mapSections(ctx context.Context, m *MemoryMap, end int64) int64 {
	for i, sec := range d.Sections(ctx) {
		if cancelled(ctx) {
			break
		}
		if sec.Type == ELFSecNull {
			continue
		}
		if sec.Size < 0 || (sec.Type != ELFSecNoBits && (sec.Offset < 0 || sec.Offset > d.size())) {
			break
		}
		name := sec.Name
		if name == "" {
			name = fmt.Sprintf("section%d", i)
		}
		address := int64(-1)
		if sec.Addr != 0 {
			address = sec.Addr
		}
		if sec.Type == ELFSecNoBits {
			m.addVirtual(name, address, sec.Size)
			continue
		}
		m.add(Region{Type: RegionFileSegment, Name: name, Offset: sec.Offset, Address: address, Size: sec.Size})
		if e := sec.Offset + sec.Size; e <= d.size() && e > end {
			end = e
		}
	}
	return end
}
