package binmap

import (
	"context"
)

const peSectionHeaderSize = 40

// SectionHeader32 is IMAGE_SECTION_HEADER as stored in the file.
type SectionHeader32 struct {
	Name                 string `struc:"[8]byte"`
	VirtualSize          uint32 `struc:"uint32"`
	VirtualAddress       uint32 `struc:"uint32"`
	SizeOfRawData        uint32 `struc:"uint32"`
	PointerToRawData     uint32 `struc:"uint32"`
	PointerToRelocations uint32 `struc:"uint32"`
	PointerToLineNumbers uint32 `struc:"uint32"`
	NumberOfRelocations  uint16 `struc:"uint16"`
	NumberOfLineNumbers  uint16 `struc:"uint16"`
	Characteristics      uint32 `struc:"uint32"`
}

// Section is a decoded section header with its long name resolved.
type Section struct {
	Name            string
	VirtualSize     uint32
	VirtualAddress  uint32
	Size            uint32
	Offset          uint32
	Characteristics uint32
}

func (s *Section) Flags() (flags string) {
	if (ImageScnMemRead & s.Characteristics) == ImageScnMemRead {
		flags += "r"
	}
	if (ImageScnMemExecute & s.Characteristics) == ImageScnMemExecute {
		flags += "x"
	}
	if (ImageScnMemWrite & s.Characteristics) == ImageScnMemWrite {
		flags += "w"
	}
	return flags
}

// IsBSS reports a section with no file data.
func (s *Section) IsBSS() bool {
	return s.Offset == 0 || s.Size == 0
}

func (d *PE) sectionTableOffset() int64 {
	return d.optionalHeaderOffset() + int64(d.SizeOfOptionalHeader())
}

// Sections reads the section table in file order, stopping at the first
// header that does not lie inside the file.
func (d *PE) Sections(ctx context.Context) []Section {
	if d.hdr < 0 {
		return nil
	}
	n := int64(d.NumberOfSections())
	if n > maxAllowedEntries {
		n = maxAllowedEntries
	}
	st := d.stringTable()
	offset := d.sectionTableOffset()
	sections := make([]Section, 0, n)
	for i := int64(0); i < n; i++ {
		if cancelled(ctx) {
			break
		}
		var sh SectionHeader32
		if err := unpackAt(d.s, offset+i*peSectionHeaderSize, peSectionHeaderSize, EndianLittle, &sh); err != nil {
			break
		}
		sections = append(sections, Section{
			Name:            sectionName(sh.Name, st),
			VirtualSize:     sh.VirtualSize,
			VirtualAddress:  sh.VirtualAddress,
			Size:            sh.SizeOfRawData,
			Offset:          sh.PointerToRawData,
			Characteristics: sh.Characteristics,
		})
	}
	return sections
}

func (d *PE) adjustSectionAlignment(va uint32) uint32 {
	fileAlignment := d.FileAlignment()
	sectionAlignment := d.SectionAlignment()
	if sectionAlignment < 0x1000 {
		sectionAlignment = fileAlignment
	}

	if sectionAlignment != 0 && va%sectionAlignment != 0 {
		return sectionAlignment * (va / sectionAlignment)
	}
	return va
}

func (d *PE) adjustFileAlignment(va uint32) uint32 {
	if d.FileAlignment() < uint32(FileAlignmentHardcodedValue) {
		return va
	}
	return (va / 0x200) * 0x200
}

// sectionContains reports whether rva falls inside the section's mapped
// range.
func (d *PE) sectionContains(rva uint32, s *Section) bool {
	adjustedPointer := d.adjustFileAlignment(s.Offset)
	fileSize := uint32(d.size())
	var size uint32
	if adjustedPointer > fileSize || fileSize-adjustedPointer < s.Size {
		size = s.VirtualSize
	} else {
		size = Max(s.Size, s.VirtualSize)
	}
	va := d.adjustSectionAlignment(s.VirtualAddress)
	return va <= rva && rva < va+size
}

// rvaToOffset translates an RVA through the section table. RVAs outside
// every section map to themselves when inside the file, else -1.
func (d *PE) rvaToOffset(rva uint32, sections []Section) int64 {
	for i := range sections {
		s := &sections[i]
		if d.sectionContains(rva, s) {
			return int64(rva-d.adjustSectionAlignment(s.VirtualAddress)) + int64(d.adjustFileAlignment(s.Offset))
		}
	}
	if int64(rva) < d.size() {
		return int64(rva)
	}
	return -1
}
