package binmap

// MinFileSize On Windows XP (x32) the smallest PE executable is 97 bytes.
const MinFileSize = 97

const (
	ImageDOSSignature   = 0x5A4D // MZ
	ImageDOSZMSignature = 0x4D5A // ZM
)

const (
	ImageNTHeaderSignature = 0x00004550 // PE\0\0
	ImageOS2Signature      = 0x454E     // NE
	ImageVXDSignature      = 0x454C     // LE
	ImageLXSignature       = 0x584C     // LX
)

const (
	ImageNTOptionalHdr32Magic = 0x10b
	ImageNTOptionalHdr64Magic = 0x20b
)

// IMAGE_DIRECTORY_ENTRY constants
const (
	ImageDirectoryEntryExport        = 0
	ImageDirectoryEntryImport        = 1
	ImageDirectoryEntryResource      = 2
	ImageDirectoryEntryException     = 3
	ImageDirectoryEntrySecurity      = 4
	ImageDirectoryEntryBaseReLoc     = 5
	ImageDirectoryEntryDebug         = 6
	ImageDirectoryEntryArchitecture  = 7
	ImageDirectoryEntryGlobalPtr     = 8
	ImageDirectoryEntryTls           = 9
	ImageDirectoryEntryLoadConfig    = 10
	ImageDirectoryEntryBoundImport   = 11
	ImageDirectoryEntryIat           = 12
	ImageDirectoryEntryDelayImport   = 13
	ImageDirectoryEntryComDescriptor = 14
)

const (
	ImageScnCntUninitializedData = 0x00000080
	ImageScnMemExecute           = 0x20000000
	ImageScnMemRead              = 0x40000000
	ImageScnMemWrite             = 0x80000000
)

const FileAlignmentHardcodedValue = 0x200

// maxAllowedEntries bounds every directory walk regardless of the count a
// header claims.
const maxAllowedEntries = 0x1000

const (
	ELFClass32  = 1
	ELFClass64  = 2
	ELFData2LSB = 1
	ELFData2MSB = 2

	ELFProgLoad   = 1
	ELFSecNull    = 0
	ELFSecNoBits  = 8
	elfIdentSize  = 16
	elfMaxHeaders = 0xFFFF
)

const (
	MachOMagic32  = 0xFEEDFACE
	MachOMagic64  = 0xFEEDFACF
	MachOCigam32  = 0xCEFAEDFE
	MachOCigam64  = 0xCFFAEDFE
	MachOFatMagic = 0xCAFEBABE
	// MachOFatMagic64 uses 32-byte arch entries with 64-bit offsets.
	MachOFatMagic64 = 0xCAFEBABF

	machoLoadCmdReqDyld    = 0x80000000
	machoLoadCmdSegment    = 0x1
	machoLoadCmdUnixThread = 0x5
	machoLoadCmdSegment64  = 0x19
	machoLoadCmdMain       = 0x28 | machoLoadCmdReqDyld
	machoMaxFatArches      = 64
)

const (
	dexHeaderSize       = 0x70
	dexEndianConstant   = 0x12345678
	dexReverseEndianTag = 0x78563412
)

const (
	zipLocalHeaderSignature   = 0x04034b50
	zipCentralHeaderSignature = 0x02014b50
	zipLocalHeaderSize        = 30
	zipCentralHeaderSize      = 46
	zipEndOfCentralSize       = 22
	zipMaxCommentSize         = 0xFFFF
	zipFlagUTF8               = 0x800
	zipFlagDataDescriptor     = 0x8

	ZipMethodStore   = 0
	ZipMethodDeflate = 8
	ZipMethodBZIP2   = 12
	ZipMethodZstd    = 93
)

const (
	gzipHeaderSize  = 10
	gzipTrailerSize = 8
	gzipFlagHCRC    = 0x02
	gzipFlagExtra   = 0x04
	gzipFlagName    = 0x08
	gzipFlagComment = 0x10
	gzipFlagReserve = 0xE0
)

const (
	cabHeaderSize       = 36
	cabFlagPrevCabinet  = 0x0001
	cabFlagNextCabinet  = 0x0002
	cabFlagReserve      = 0x0004
	cabFolderSize       = 8
	cabFileSize         = 16
	cabDataSize         = 8
	CabCompressNone     = 0
	CabCompressMSZIP    = 1
	CabCompressQuantum  = 2
	CabCompressLZX      = 3
	cabCompressTypeMask = 0x000F
	cabMaxBlockSize     = 0x8000
)

const (
	icoDirSize      = 6
	icoDirEntrySize = 16
	icoMaxImages    = 256
	IconTypeICO     = 1
	IconTypeCUR     = 2
)

const pngSignature = "\x89PNG\r\n\x1a\n"
