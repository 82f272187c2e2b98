package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var sigPE = signature.MustCompile("'PE' 00 00")

// PE decodes Windows portable executables, both PE32 and PE32+.
type PE struct {
	base
	stub
}

func NewPE(s *stream.Stream) *PE {
	return &PE{
		base: base{s: s, endian: EndianLittle},
		stub: newStub(s),
	}
}

func (d *PE) IsValid() bool {
	if !d.stubValid(sigPE, peSignatureSize+peFileHeaderLayout.Size) {
		return false
	}
	return d.optionalHeaderSane() && d.s.Contains(d.optionalHeaderOffset(), d.optionalHeaderLayout().Size)
}

func (d *PE) FileType() FileType {
	if d.Is64() {
		return FileTypePE64
	}
	return FileTypePE32
}

func (d *PE) Arch() string {
	if d.hdr < 0 {
		return unknown
	}
	return lookup(peMachine, d.Machine())
}

func (d *PE) Mode() Mode {
	if d.Is64() {
		return Mode64
	}
	return Mode32
}

func (d *PE) OSInfo() OSInfo {
	name := "Windows"
	switch d.Subsystem() {
	case 10, 11, 12, 13:
		name = "EFI"
	case 14:
		name = "Xbox"
	}
	var version string
	if major, minor := d.OperatingSystemVersion(); major != 0 || minor != 0 {
		version = fmt.Sprintf("%d.%d", major, minor)
	}
	typ := "EXE"
	switch {
	case d.Characteristics()&peFileDLL != 0:
		typ = "DLL"
	case d.Subsystem() == 1:
		typ = "Driver"
	}
	return osInfo(d, name, version, typ)
}

func (d *PE) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	imageBase := int64(d.ImageBase())
	m.ModuleBase = imageBase
	m.ImageSize = int64(d.SizeOfImage())
	m.EntryPoint = imageBase + int64(d.AddressOfEntryPoint())
	m.TypeString = fmt.Sprintf("%s (%s)", d.FileType(), lookup(peSubsystem, d.Subsystem()))

	headerSize := int64(d.SizeOfHeaders())
	if minimum := d.sectionTableOffset() + int64(d.NumberOfSections())*peSectionHeaderSize; headerSize < minimum {
		headerSize = minimum
	}
	m.addHeader("header", 0, imageBase, headerSize)

	sections := d.Sections(ctx)
	for i := range sections {
		if cancelled(ctx) {
			break
		}
		sec := &sections[i]
		address := imageBase + int64(d.adjustSectionAlignment(sec.VirtualAddress))
		memSize := int64(sec.VirtualSize)
		if memSize == 0 {
			memSize = int64(sec.Size)
		}
		if sec.IsBSS() {
			m.addVirtual(sec.Name, address, memSize)
			continue
		}
		offset := int64(d.adjustFileAlignment(sec.Offset))
		if offset >= d.size() {
			break
		}
		m.addMapped(sec.Name, offset, address, int64(sec.Size), memSize)
	}

	symbols, names := d.coffTables()
	m.addFile(RegionData, "COFF symbols", symbols.offset, symbols.size)
	m.addFile(RegionData, "COFF strings", names.offset, names.size)

	m.addOverlay(d.overlayStart(sections))
	return m
}
