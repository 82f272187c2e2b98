package binmap

import (
	"context"
	"iter"
	"strings"

	"github.com/wanglei-coder/binmap/stream"
)

const (
	machoFatHeaderSize  = 8
	machoFatArchSize    = 20
	machoFatArch64Size  = 32
	machoFatMaxAlignLog = 16
)

// FatArch is a fat_arch or fat_arch_64 entry, widened to 64 bits.
type FatArch struct {
	CPUType    uint32
	CPUSubtype uint32
	Offset     uint64
	Size       uint64
	Align      uint32
}

type fatArch32 struct {
	CPUType    uint32 `struc:"uint32"`
	CPUSubtype uint32 `struc:"uint32"`
	Offset     uint32 `struc:"uint32"`
	Size       uint32 `struc:"uint32"`
	Align      uint32 `struc:"uint32"`
}

type fatArch64 struct {
	CPUType    uint32 `struc:"uint32"`
	CPUSubtype uint32 `struc:"uint32"`
	Offset     uint64 `struc:"uint64"`
	Size       uint64 `struc:"uint64"`
	Align      uint32 `struc:"uint32"`
	Reserved   uint32 `struc:"uint32"`
}

// MachOFat decodes universal binaries, a directory of thin Mach-O slices.
type MachOFat struct {
	base
}

func NewMachOFat(s *stream.Stream) *MachOFat {
	return &MachOFat{base: base{s: s, arch: "Universal", endian: EndianBig, os: "Darwin"}}
}

func (d *MachOFat) is64() bool {
	return d.s.Uint32(0, true) == MachOFatMagic64
}

func (d *MachOFat) ArchCount() uint32 {
	return d.s.Uint32(4, true)
}

func (d *MachOFat) entrySize() int64 {
	if d.is64() {
		return machoFatArch64Size
	}
	return machoFatArchSize
}

// IsValid checks the magic, the arch count and every slice. Java class files
// share the magic and fail the slice check.
func (d *MachOFat) IsValid() bool {
	switch d.s.Uint32(0, true) {
	case MachOFatMagic, MachOFatMagic64:
	default:
		return false
	}
	n := d.ArchCount()
	if n == 0 || n > machoMaxFatArches {
		return false
	}
	if !d.s.Contains(0, machoFatHeaderSize+int64(n)*d.entrySize()) {
		return false
	}
	arches, ok := d.Arches(context.Background())
	return ok && len(arches) > 0
}

func (d *MachOFat) FileType() FileType {
	return FileTypeMachOFat
}

func (d *MachOFat) Header() []FieldValue {
	return []FieldValue{
		{Field: Field{Name: "magic", Offset: 0, Width: 4}, Value: uint64(d.s.Uint32(0, true))},
		{Field: Field{Name: "nfat_arch", Offset: 4, Width: 4}, Value: uint64(d.ArchCount())},
	}
}

// Arches decodes the arch table. Any entry whose slice falls outside the
// file or does not hold a thin Mach-O invalidates the whole table.
func (d *MachOFat) Arches(ctx context.Context) ([]FatArch, bool) {
	n := int64(d.ArchCount())
	if n > machoMaxFatArches {
		return nil, false
	}
	size := d.entrySize()
	arches := make([]FatArch, 0, n)
	for i := int64(0); i < n; i++ {
		if cancelled(ctx) {
			return arches, true
		}
		off := machoFatHeaderSize + i*size
		var arch FatArch
		if d.is64() {
			var e fatArch64
			if err := unpackAt(d.s, off, size, EndianBig, &e); err != nil {
				return nil, false
			}
			arch = FatArch{CPUType: e.CPUType, CPUSubtype: e.CPUSubtype, Offset: e.Offset, Size: e.Size, Align: e.Align}
		} else {
			var e fatArch32
			if err := unpackAt(d.s, off, size, EndianBig, &e); err != nil {
				return nil, false
			}
			arch = FatArch{CPUType: e.CPUType, CPUSubtype: e.CPUSubtype, Offset: uint64(e.Offset), Size: uint64(e.Size), Align: e.Align}
		}
		if arch.Align > machoFatMaxAlignLog || arch.Size == 0 {
			return nil, false
		}
		if arch.Offset > uint64(d.size()) || arch.Size > uint64(d.size())-arch.Offset {
			return nil, false
		}
		if !NewMachO(d.s.Sub(int64(arch.Offset), int64(arch.Size))).IsValid() {
			return nil, false
		}
		arches = append(arches, arch)
	}
	return arches, true
}

func (d *MachOFat) OSInfo() OSInfo {
	arches, _ := d.Arches(context.Background())
	names := make([]string, 0, len(arches))
	for _, a := range arches {
		names = append(names, lookup(machoCPU, a.CPUType))
	}
	info := osInfo(d, "Darwin", "", "Universal")
	if len(names) > 0 {
		info.Arch = strings.Join(names, ",")
	}
	return info
}

// Children yields one sub-stream per slice.
func (d *MachOFat) Children(ctx context.Context, limit int) iter.Seq[Child] {
	return func(yield func(Child) bool) {
		arches, ok := d.Arches(ctx)
		if !ok {
			return
		}
		for i, a := range arches {
			if limit > 0 && i >= limit {
				return
			}
			child := Child{Name: lookup(machoCPU, a.CPUType), Stream: d.s.Sub(int64(a.Offset), int64(a.Size))}
			if !yield(child) {
				return
			}
		}
	}
}

func (d *MachOFat) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.ModuleBase = 0
	arches, ok := d.Arches(ctx)
	if !ok {
		m.clear()
		return m
	}
	m.addHeader("header", 0, -1, machoFatHeaderSize+int64(d.ArchCount())*d.entrySize())
	var end int64
	for _, a := range arches {
		if cancelled(ctx) {
			break
		}
		m.addFile(RegionData, lookup(machoCPU, a.CPUType), int64(a.Offset), int64(a.Size))
		if e := int64(a.Offset + a.Size); e > end {
			end = e
		}
	}
	m.addOverlay(end)
	return m
}
