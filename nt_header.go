package binmap

// IMAGE_FILE_HEADER follows the 4-byte PE signature.
var peFileHeaderLayout = newLayout("IMAGE_FILE_HEADER",
	u16("Machine"),
	u16("NumberOfSections"),
	u32("TimeDateStamp"),
	u32("PointerToSymbolTable"),
	u32("NumberOfSymbols"),
	u16("SizeOfOptionalHeader"),
	u16("Characteristics"),
)

// There can be 0 or more data directories after the optional header, so the
// layouts stop at NumberOfRvaAndSizes and the directories are read apart.
var peOptionalHeader32Layout = newLayout("IMAGE_OPTIONAL_HEADER32",
	u16("Magic"),
	u8("MajorLinkerVersion"),
	u8("MinorLinkerVersion"),
	u32("SizeOfCode"),
	u32("SizeOfInitializedData"),
	u32("SizeOfUninitializedData"),
	u32("AddressOfEntryPoint"),
	u32("BaseOfCode"),
	u32("BaseOfData"),
	u32("ImageBase"),
	u32("SectionAlignment"),
	u32("FileAlignment"),
	u16("MajorOperatingSystemVersion"),
	u16("MinorOperatingSystemVersion"),
	u16("MajorImageVersion"),
	u16("MinorImageVersion"),
	u16("MajorSubsystemVersion"),
	u16("MinorSubsystemVersion"),
	u32("Win32VersionValue"),
	u32("SizeOfImage"),
	u32("SizeOfHeaders"),
	u32("CheckSum"),
	u16("Subsystem"),
	u16("DllCharacteristics"),
	u32("SizeOfStackReserve"),
	u32("SizeOfStackCommit"),
	u32("SizeOfHeapReserve"),
	u32("SizeOfHeapCommit"),
	u32("LoaderFlags"),
	u32("NumberOfRvaAndSizes"),
)

var peOptionalHeader64Layout = newLayout("IMAGE_OPTIONAL_HEADER64",
	u16("Magic"),
	u8("MajorLinkerVersion"),
	u8("MinorLinkerVersion"),
	u32("SizeOfCode"),
	u32("SizeOfInitializedData"),
	u32("SizeOfUninitializedData"),
	u32("AddressOfEntryPoint"),
	u32("BaseOfCode"),
	u64("ImageBase"),
	u32("SectionAlignment"),
	u32("FileAlignment"),
	u16("MajorOperatingSystemVersion"),
	u16("MinorOperatingSystemVersion"),
	u16("MajorImageVersion"),
	u16("MinorImageVersion"),
	u16("MajorSubsystemVersion"),
	u16("MinorSubsystemVersion"),
	u32("Win32VersionValue"),
	u32("SizeOfImage"),
	u32("SizeOfHeaders"),
	u32("CheckSum"),
	u16("Subsystem"),
	u16("DllCharacteristics"),
	u64("SizeOfStackReserve"),
	u64("SizeOfStackCommit"),
	u64("SizeOfHeapReserve"),
	u64("SizeOfHeapCommit"),
	u32("LoaderFlags"),
	u32("NumberOfRvaAndSizes"),
)

const (
	peSignatureSize     = 4
	peDataDirectorySize = 8
	peMaxDataDirectory  = 16
	peFileDLL           = 0x2000
)

// DataDirectory is one IMAGE_DATA_DIRECTORY entry.
type DataDirectory struct {
	VirtualAddress uint32 `struc:"uint32"`
	Size           uint32 `struc:"uint32"`
}

func (d *PE) fileHeaderOffset() int64 {
	return d.hdr + peSignatureSize
}

func (d *PE) optionalHeaderOffset() int64 {
	return d.fileHeaderOffset() + peFileHeaderLayout.Size
}

func (d *PE) fileHeader() reader {
	return reader{l: peFileHeaderLayout, s: d.s, base: d.fileHeaderOffset(), order: EndianLittle}
}

// optionalHeaderLayout selects PE32 or PE32+ by the optional header magic.
func (d *PE) optionalHeaderLayout() *Layout {
	if d.OptionalHeaderMagic() == ImageNTOptionalHdr64Magic {
		return peOptionalHeader64Layout
	}
	return peOptionalHeader32Layout
}

func (d *PE) optionalHeader() reader {
	return reader{l: d.optionalHeaderLayout(), s: d.s, base: d.optionalHeaderOffset(), order: EndianLittle}
}

func (d *PE) OptionalHeaderMagic() uint16 {
	if d.hdr < 0 {
		return 0
	}
	return d.s.Uint16(d.optionalHeaderOffset(), false)
}

// Is64 reports a PE32+ optional header.
func (d *PE) Is64() bool {
	return d.OptionalHeaderMagic() == ImageNTOptionalHdr64Magic
}

func (d *PE) Machine() uint16              { return uint16(d.fileHeader().get("Machine")) }
func (d *PE) NumberOfSections() uint16     { return uint16(d.fileHeader().get("NumberOfSections")) }
func (d *PE) TimeDateStamp() uint32        { return uint32(d.fileHeader().get("TimeDateStamp")) }
func (d *PE) PointerToSymbolTable() uint32 { return uint32(d.fileHeader().get("PointerToSymbolTable")) }
func (d *PE) NumberOfSymbols() uint32      { return uint32(d.fileHeader().get("NumberOfSymbols")) }
func (d *PE) SizeOfOptionalHeader() uint16 { return uint16(d.fileHeader().get("SizeOfOptionalHeader")) }
func (d *PE) Characteristics() uint16      { return uint16(d.fileHeader().get("Characteristics")) }

func (d *PE) AddressOfEntryPoint() uint32 { return uint32(d.optionalHeader().get("AddressOfEntryPoint")) }
func (d *PE) ImageBase() uint64           { return d.optionalHeader().get("ImageBase") }
func (d *PE) SectionAlignment() uint32    { return uint32(d.optionalHeader().get("SectionAlignment")) }
func (d *PE) FileAlignment() uint32       { return uint32(d.optionalHeader().get("FileAlignment")) }
func (d *PE) SizeOfImage() uint32         { return uint32(d.optionalHeader().get("SizeOfImage")) }
func (d *PE) SizeOfHeaders() uint32       { return uint32(d.optionalHeader().get("SizeOfHeaders")) }
func (d *PE) Subsystem() uint16           { return uint16(d.optionalHeader().get("Subsystem")) }
func (d *PE) NumberOfRvaAndSizes() uint32 { return uint32(d.optionalHeader().get("NumberOfRvaAndSizes")) }

func (d *PE) OperatingSystemVersion() (major, minor uint16) {
	oh := d.optionalHeader()
	return uint16(oh.get("MajorOperatingSystemVersion")), uint16(oh.get("MinorOperatingSystemVersion"))
}

// optionalHeaderSane checks the declared optional header size against the
// fixed part of the layout its magic selects.
func (d *PE) optionalHeaderSane() bool {
	switch d.OptionalHeaderMagic() {
	case ImageNTOptionalHdr32Magic, ImageNTOptionalHdr64Magic:
	default:
		return false
	}
	return int64(d.SizeOfOptionalHeader()) >= d.optionalHeaderLayout().Size
}

// DataDirectories reads the directories that fit inside both the declared
// optional header and the file.
func (d *PE) DataDirectories() []DataDirectory {
	if !d.optionalHeaderSane() {
		return nil
	}
	l := d.optionalHeaderLayout()
	room := (int64(d.SizeOfOptionalHeader()) - l.Size) / peDataDirectorySize
	n := int64(d.NumberOfRvaAndSizes())
	if n > room {
		n = room
	}
	if n > peMaxDataDirectory {
		n = peMaxDataDirectory
	}
	start := d.optionalHeaderOffset() + l.Size
	dirs := make([]DataDirectory, 0, n)
	for i := int64(0); i < n; i++ {
		var dd DataDirectory
		if err := unpackAt(d.s, start+i*peDataDirectorySize, peDataDirectorySize, EndianLittle, &dd); err != nil {
			break
		}
		dirs = append(dirs, dd)
	}
	return dirs
}

// Header dumps IMAGE_FILE_HEADER followed by the optional header.
func (d *PE) Header() []FieldValue {
	if d.hdr < 0 {
		return nil
	}
	fields := peFileHeaderLayout.Decode(d.s, d.fileHeaderOffset(), EndianLittle)
	return append(fields, d.optionalHeaderLayout().Decode(d.s, d.optionalHeaderOffset(), EndianLittle)...)
}

// SetField writes a file header or optional header field by name.
func (d *PE) SetField(name string, value uint64) bool {
	if d.hdr < 0 {
		return false
	}
	if _, ok := peFileHeaderLayout.Field(name); ok {
		return d.fileHeader().set(name, value)
	}
	return d.optionalHeader().set(name, value)
}
