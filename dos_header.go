package binmap

import (
	"context"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

// dosHeaderLayout is IMAGE_DOS_HEADER.
var dosHeaderLayout = newLayout("IMAGE_DOS_HEADER",
	u16("e_magic"),
	u16("e_cblp"),
	u16("e_cp"),
	u16("e_crlc"),
	u16("e_cparhdr"),
	u16("e_minalloc"),
	u16("e_maxalloc"),
	u16("e_ss"),
	u16("e_sp"),
	u16("e_csum"),
	u16("e_ip"),
	u16("e_cs"),
	u16("e_lfarlc"),
	u16("e_ovno"),
	raw("e_res", 8),
	u16("e_oemid"),
	u16("e_oeminfo"),
	raw("e_res2", 20),
	u32("e_lfanew"),
)

const (
	// dosMinHeaderSize covers the fields up to e_ovno; e_lfanew needs the
	// full 64-byte header.
	dosMinHeaderSize = 0x1C
	dosHeaderSize    = 0x40
	dosPageSize      = 512
	dosParagraph     = 16
)

var (
	sigMZ = signature.MustCompile("'MZ'")
	sigZM = signature.MustCompile("'ZM'")
)

// MSDOS decodes the MZ executable header shared by every DOS-stub format.
type MSDOS struct {
	base
}

func NewMSDOS(s *stream.Stream) *MSDOS {
	return &MSDOS{base: base{s: s, arch: "8086", mode: Mode16, endian: EndianLittle, os: "MSDOS"}}
}

func (d *MSDOS) IsValid() bool {
	if d.size() < dosMinHeaderSize {
		return false
	}
	return sigMZ.Match(d.s, 0) || sigZM.Match(d.s, 0)
}

func (d *MSDOS) FileType() FileType {
	return FileTypeMSDOS
}

func (d *MSDOS) hdr() reader {
	return reader{l: dosHeaderLayout, s: d.s, order: EndianLittle}
}

func (d *MSDOS) Header() []FieldValue {
	if d.size() < dosHeaderSize {
		return dosHeaderLayout.Decode(d.s.Sub(0, dosMinHeaderSize), 0, EndianLittle)[:14]
	}
	return dosHeaderLayout.Decode(d.s, 0, EndianLittle)
}

func (d *MSDOS) SetField(name string, value uint64) bool {
	return d.hdr().set(name, value)
}

func (d *MSDOS) Magic() uint16                    { return uint16(d.hdr().get("e_magic")) }
func (d *MSDOS) BytesOnLastPage() uint16          { return uint16(d.hdr().get("e_cblp")) }
func (d *MSDOS) PagesInFile() uint16              { return uint16(d.hdr().get("e_cp")) }
func (d *MSDOS) Relocations() uint16              { return uint16(d.hdr().get("e_crlc")) }
func (d *MSDOS) HeaderParagraphs() uint16         { return uint16(d.hdr().get("e_cparhdr")) }
func (d *MSDOS) MinExtraParagraphs() uint16       { return uint16(d.hdr().get("e_minalloc")) }
func (d *MSDOS) MaxExtraParagraphs() uint16       { return uint16(d.hdr().get("e_maxalloc")) }
func (d *MSDOS) InitialSS() uint16                { return uint16(d.hdr().get("e_ss")) }
func (d *MSDOS) InitialSP() uint16                { return uint16(d.hdr().get("e_sp")) }
func (d *MSDOS) InitialIP() uint16                { return uint16(d.hdr().get("e_ip")) }
func (d *MSDOS) InitialCS() uint16                { return uint16(d.hdr().get("e_cs")) }
func (d *MSDOS) AddressOfRelocationTable() uint16 { return uint16(d.hdr().get("e_lfarlc")) }

// AddressOfNewEXEHeader returns e_lfanew, or 0 when the header is too short
// to carry it.
func (d *MSDOS) AddressOfNewEXEHeader() uint32 {
	if d.size() < dosHeaderSize {
		return 0
	}
	return uint32(d.hdr().get("e_lfanew"))
}

func (d *MSDOS) SetAddressOfNewEXEHeader(v uint32) bool {
	return d.hdr().set("e_lfanew", uint64(v))
}

// newHeaderOffset returns e_lfanew when it points at a plausible spot for an
// extended header inside the file, else -1.
func (d *MSDOS) newHeaderOffset() int64 {
	lfanew := int64(d.AddressOfNewEXEHeader())
	if lfanew < 4 || lfanew >= d.size() {
		return -1
	}
	return lfanew
}

// headerSize is the size of the MZ header including relocations.
func (d *MSDOS) headerSize() int64 {
	return int64(d.HeaderParagraphs()) * dosParagraph
}

// imageSize is the number of file bytes the MZ header claims.
func (d *MSDOS) imageSize() int64 {
	pages := int64(d.PagesInFile())
	if pages == 0 {
		return 0
	}
	size := pages * dosPageSize
	if last := int64(d.BytesOnLastPage()); last != 0 && last < dosPageSize {
		size -= dosPageSize - last
	}
	return size
}

// EntryPoint is CS:IP relative to the load module, as a linear address.
func (d *MSDOS) EntryPoint() int64 {
	return (int64(d.InitialCS())*dosParagraph + int64(d.InitialIP())) & 0xFFFFF
}

func (d *MSDOS) OSInfo() OSInfo {
	return osInfo(d, "MSDOS", "", "EXE")
}

func (d *MSDOS) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}

	headerSize := d.headerSize()
	imageEnd := d.imageSize()
	if imageEnd < headerSize {
		imageEnd = headerSize
	}
	loadSize := imageEnd - headerSize
	extra := int64(d.MinExtraParagraphs()) * dosParagraph

	m.ModuleBase = 0
	m.ImageSize = loadSize + extra
	m.EntryPoint = d.EntryPoint()

	m.addHeader("header", 0, -1, headerSize)
	m.addMapped("code", headerSize, 0, loadSize, loadSize)
	if extra > 0 {
		m.addVirtual("bss", loadSize, extra)
	}
	m.addOverlay(imageEnd)
	return m
}
