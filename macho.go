package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/stream"
)

var machoHeaderLayout = newLayout("mach_header",
	u32("magic"),
	u32("cputype"),
	u32("cpusubtype"),
	u32("filetype"),
	u32("ncmds"),
	u32("sizeofcmds"),
	u32("flags"),
)

var machoHeader64Layout = newLayout("mach_header_64",
	u32("magic"),
	u32("cputype"),
	u32("cpusubtype"),
	u32("filetype"),
	u32("ncmds"),
	u32("sizeofcmds"),
	u32("flags"),
	u32("reserved"),
)

var machoSegmentLayout = newLayout("segment_command",
	u32("cmd"),
	u32("cmdsize"),
	raw("segname", 16),
	u32("vmaddr"),
	u32("vmsize"),
	u32("fileoff"),
	u32("filesize"),
	u32("maxprot"),
	u32("initprot"),
	u32("nsects"),
	u32("flags"),
)

var machoSegment64Layout = newLayout("segment_command_64",
	u32("cmd"),
	u32("cmdsize"),
	raw("segname", 16),
	u64("vmaddr"),
	u64("vmsize"),
	u64("fileoff"),
	u64("filesize"),
	u32("maxprot"),
	u32("initprot"),
	u32("nsects"),
	u32("flags"),
)

var machoSectionLayout = newLayout("section",
	raw("sectname", 16),
	raw("segname", 16),
	u32("addr"),
	u32("size"),
	u32("offset"),
	u32("align"),
	u32("reloff"),
	u32("nreloc"),
	u32("flags"),
	u32("reserved1"),
	u32("reserved2"),
)

var machoSection64Layout = newLayout("section_64",
	raw("sectname", 16),
	raw("segname", 16),
	u64("addr"),
	u64("size"),
	u32("offset"),
	u32("align"),
	u32("reloff"),
	u32("nreloc"),
	u32("flags"),
	u32("reserved1"),
	u32("reserved2"),
	u32("reserved3"),
)

const (
	machoLoadCommandSize = 8
	machoMaxCommands     = 0x10000
	machoSectionTypeMask = 0xFF
	machoZeroFill        = 0x1
	machoGBZeroFill      = 0xC
	machoThreadIP32      = 56
	machoThreadIP64      = 144
)

// MachOSegment is a decoded LC_SEGMENT or LC_SEGMENT_64.
type MachOSegment struct {
	Name     string
	VMAddr   int64
	VMSize   int64
	FileOff  int64
	FileSize int64
	Sections []MachOSection
}

// MachOSection is a decoded section header inside a segment command.
type MachOSection struct {
	Name    string
	Segment string
	Addr    int64
	Size    int64
	Offset  int64
	Flags   uint32
}

func (s MachOSection) zeroFill() bool {
	t := s.Flags & machoSectionTypeMask
	return t == machoZeroFill || t == machoGBZeroFill
}

// MachO decodes thin Mach-O images of either width and byte order.
type MachO struct {
	base
}

func NewMachO(s *stream.Stream) *MachO {
	d := &MachO{base: base{s: s, os: "Darwin"}}
	switch s.Uint32(0, false) {
	case MachOMagic64:
		d.mode, d.endian = Mode64, EndianLittle
	case MachOCigam64:
		d.mode, d.endian = Mode64, EndianBig
	case MachOCigam32:
		d.mode, d.endian = Mode32, EndianBig
	default:
		d.mode, d.endian = Mode32, EndianLittle
	}
	return d
}

func (d *MachO) IsValid() bool {
	switch d.s.Uint32(0, false) {
	case MachOMagic32, MachOMagic64, MachOCigam32, MachOCigam64:
	default:
		return false
	}
	return d.size() >= d.headerLayout().Size
}

func (d *MachO) Is64() bool {
	return d.mode == Mode64
}

func (d *MachO) FileType() FileType {
	if d.Is64() {
		return FileTypeMachO64
	}
	return FileTypeMachO32
}

func (d *MachO) headerLayout() *Layout {
	if d.Is64() {
		return machoHeader64Layout
	}
	return machoHeaderLayout
}

func (d *MachO) header() reader {
	return reader{l: d.headerLayout(), s: d.s, order: d.endian}
}

func (d *MachO) Header() []FieldValue {
	return d.headerLayout().Decode(d.s, 0, d.endian)
}

func (d *MachO) SetField(name string, value uint64) bool {
	return d.header().set(name, value)
}

func (d *MachO) CPUType() uint32      { return uint32(d.header().get("cputype")) }
func (d *MachO) Type() uint32         { return uint32(d.header().get("filetype")) }
func (d *MachO) CommandCount() uint32 { return uint32(d.header().get("ncmds")) }
func (d *MachO) CommandsSize() uint32 { return uint32(d.header().get("sizeofcmds")) }

func (d *MachO) u32(off int64) uint32 { return d.s.Uint32(off, d.endian.IsBig()) }
func (d *MachO) u64(off int64) uint64 { return d.s.Uint64(off, d.endian.IsBig()) }

// name reads a fixed 16-byte segment or section name.
func (d *MachO) name(off int64) string {
	return cString(d.s.Bytes(off, 16))
}

func (d *MachO) commandsEnd() int64 {
	return d.headerLayout().Size + int64(d.CommandsSize())
}

func (d *MachO) segmentLayout() (cmd uint32, seg, sect *Layout) {
	if d.Is64() {
		return machoLoadCmdSegment64, machoSegment64Layout, machoSection64Layout
	}
	return machoLoadCmdSegment, machoSegmentLayout, machoSectionLayout
}

func (d *MachO) Arch() string {
	return lookup(machoCPU, d.CPUType())
}

func (d *MachO) OSInfo() OSInfo {
	return osInfo(d, "Darwin", "", lookup(machoFileType, d.Type()))
}

// loadCommand is one entry of the load command area.
type loadCommand struct {
	cmd    uint32
	offset int64
	size   int64
}

// commands walks the load commands, stopping at the first command that is
// too small or runs past the declared command area or the file.
func (d *MachO) commands(ctx context.Context) []loadCommand {
	n := d.CommandCount()
	if n > machoMaxCommands {
		n = machoMaxCommands
	}
	end := d.commandsEnd()
	off := d.headerLayout().Size
	var cmds []loadCommand
	for i := uint32(0); i < n; i++ {
		if cancelled(ctx) {
			break
		}
		size := int64(d.u32(off + 4))
		if size < machoLoadCommandSize || off+size > end || !d.s.Contains(off, size) {
			break
		}
		cmds = append(cmds, loadCommand{cmd: d.u32(off), offset: off, size: size})
		off += size
	}
	return cmds
}

// Segments decodes every segment command with its sections.
func (d *MachO) Segments(ctx context.Context) []MachOSegment {
	segCmd, sl, secl := d.segmentLayout()
	var segs []MachOSegment
	for _, lc := range d.commands(ctx) {
		if lc.cmd != segCmd || lc.size < sl.Size {
			continue
		}
		r := reader{l: sl, s: d.s, base: lc.offset, order: d.endian}
		seg := MachOSegment{
			Name:     d.name(lc.offset + sl.Offset("segname")),
			VMAddr:   int64(r.get("vmaddr")),
			VMSize:   int64(r.get("vmsize")),
			FileOff:  int64(r.get("fileoff")),
			FileSize: int64(r.get("filesize")),
		}
		nsects := int64(r.get("nsects"))
		for i := int64(0); i < nsects; i++ {
			off := lc.offset + sl.Size + i*secl.Size
			if off+secl.Size > lc.offset+lc.size {
				break
			}
			sr := reader{l: secl, s: d.s, base: off, order: d.endian}
			seg.Sections = append(seg.Sections, MachOSection{
				Name:    d.name(off),
				Segment: d.name(off + 16),
				Addr:    int64(sr.get("addr")),
				Size:    int64(sr.get("size")),
				Offset:  int64(sr.get("offset")),
				Flags:   uint32(sr.get("flags")),
			})
		}
		segs = append(segs, seg)
	}
	return segs
}

// EntryPoint reads the first LC_MAIN (relative to __TEXT) or LC_UNIXTHREAD
// command. It returns -1 when neither is present.
func (d *MachO) EntryPoint(ctx context.Context, segs []MachOSegment) int64 {
	for _, lc := range d.commands(ctx) {
		switch lc.cmd {
		case machoLoadCmdUnixThread:
			if d.Is64() {
				if lc.size >= machoThreadIP64+8 {
					return int64(d.u64(lc.offset + machoThreadIP64))
				}
			} else if lc.size >= machoThreadIP32+4 {
				return int64(d.u32(lc.offset + machoThreadIP32))
			}
		case machoLoadCmdMain:
			for _, seg := range segs {
				if seg.Name == "__TEXT" {
					return int64(d.u64(lc.offset+8)) + seg.VMAddr
				}
			}
		}
	}
	return -1
}

func (d *MachO) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.TypeString = fmt.Sprintf("%s (%s)", d.FileType(), lookup(machoFileType, d.Type()))
	segs := d.Segments(ctx)
	m.EntryPoint = d.EntryPoint(ctx, segs)

	m.addHeader("header", 0, -1, d.commandsEnd())
	end := d.commandsEnd()

	low, high := int64(-1), int64(0)
	for _, seg := range segs {
		if cancelled(ctx) {
			break
		}
		if seg.FileOff > d.size() {
			break
		}
		// __PAGEZERO reserves address space only.
		if seg.VMSize > 0 && (seg.FileSize > 0 || seg.VMAddr != 0) {
			if low < 0 || seg.VMAddr < low {
				low = seg.VMAddr
			}
		}
		if top := seg.VMAddr + seg.VMSize; top > high {
			high = top
		}
		if e := seg.FileOff + seg.FileSize; e <= d.size() && e > end {
			end = e
		}
		if mode == MapModeSections {
			for _, sec := range seg.Sections {
				name := seg.Name + "." + sec.Name
				if sec.zeroFill() || sec.Offset == 0 {
					m.addVirtual(name, sec.Addr, sec.Size)
					continue
				}
				m.add(Region{Type: RegionFileSegment, Name: name, Offset: sec.Offset, Address: sec.Addr, Size: sec.Size})
			}
			continue
		}
		offset := seg.FileOff
		if seg.FileSize == 0 {
			offset = -1
		}
		m.addMapped(seg.Name, offset, seg.VMAddr, seg.FileSize, seg.VMSize)
	}
	if low >= 0 {
		m.ModuleBase = low
		m.ImageSize = high - low
	}
	m.addOverlay(end)
	return m
}
