package binmap

import "fmt"

// FileType identifies a recognized format.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeBinary
	FileTypeMSDOS
	FileTypeNE
	FileTypeLE
	FileTypeLX
	FileTypePE32
	FileTypePE64
	FileTypeELF32
	FileTypeELF64
	FileTypeMachO32
	FileTypeMachO64
	FileTypeMachOFat
	FileTypeDEX
	FileTypeZIP
	FileTypeJAR
	FileTypeAPK
	FileTypeGZIP
	FileTypeLHA
	FileTypeCAB
	FileTypeRIFF
	FileTypeWAV
	FileTypeAVI
	FileTypeWEBP
	FileTypeAIFF
	FileTypeMP4
	FileTypeMOV
	FileTypeM4A
	FileType3GP
	FileTypeMP3
	FileTypeICO
	FileTypeCUR
	FileTypePNG
)

type fileTypeInfo struct {
	name string
	ext  string
}

var fileTypes = map[FileType]fileTypeInfo{
	FileTypeUnknown:  {"Unknown", ""},
	FileTypeBinary:   {"Binary", "bin"},
	FileTypeMSDOS:    {"MSDOS", "exe"},
	FileTypeNE:       {"NE", "exe"},
	FileTypeLE:       {"LE", "vxd"},
	FileTypeLX:       {"LX", "exe"},
	FileTypePE32:     {"PE32", "exe"},
	FileTypePE64:     {"PE64", "exe"},
	FileTypeELF32:    {"ELF32", "elf"},
	FileTypeELF64:    {"ELF64", "elf"},
	FileTypeMachO32:  {"MACHO32", "macho"},
	FileTypeMachO64:  {"MACHO64", "macho"},
	FileTypeMachOFat: {"MACHOFAT", "macho"},
	FileTypeDEX:      {"DEX", "dex"},
	FileTypeZIP:      {"ZIP", "zip"},
	FileTypeJAR:      {"JAR", "jar"},
	FileTypeAPK:      {"APK", "apk"},
	FileTypeGZIP:     {"GZIP", "gz"},
	FileTypeLHA:      {"LHA", "lzh"},
	FileTypeCAB:      {"CAB", "cab"},
	FileTypeRIFF:     {"RIFF", "riff"},
	FileTypeWAV:      {"WAV", "wav"},
	FileTypeAVI:      {"AVI", "avi"},
	FileTypeWEBP:     {"WEBP", "webp"},
	FileTypeAIFF:     {"AIFF", "aiff"},
	FileTypeMP4:      {"MP4", "mp4"},
	FileTypeMOV:      {"MOV", "mov"},
	FileTypeM4A:      {"M4A", "m4a"},
	FileType3GP:      {"3GP", "3gp"},
	FileTypeMP3:      {"MP3", "mp3"},
	FileTypeICO:      {"ICO", "ico"},
	FileTypeCUR:      {"CUR", "cur"},
	FileTypePNG:      {"PNG", "png"},
}

func (t FileType) String() string {
	if info, ok := fileTypes[t]; ok {
		return info.name
	}
	return fmt.Sprintf("FileType(%d)", int(t))
}

// Extension returns the customary file extension without a dot.
func (t FileType) Extension() string {
	return fileTypes[t].ext
}

func (t FileType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// IsExecutable reports whether t carries machine code.
func (t FileType) IsExecutable() bool {
	switch t {
	case FileTypeMSDOS, FileTypeNE, FileTypeLE, FileTypeLX, FileTypePE32, FileTypePE64,
		FileTypeELF32, FileTypeELF64, FileTypeMachO32, FileTypeMachO64, FileTypeMachOFat, FileTypeDEX:
		return true
	}
	return false
}
