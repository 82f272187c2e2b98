package binmap

import "fmt"

// RegionType classifies a memory map region.
type RegionType int

const (
	RegionHeader RegionType = iota
	RegionFileSegment
	RegionLoadSegment
	RegionOverlay
	RegionFooter
	RegionData
)

var regionTypeNames = map[RegionType]string{
	RegionHeader:      "HEADER",
	RegionFileSegment: "FILESEGMENT",
	RegionLoadSegment: "LOADSEGMENT",
	RegionOverlay:     "OVERLAY",
	RegionFooter:      "FOOTER",
	RegionData:        "DATA",
}

func (t RegionType) String() string {
	if name, ok := regionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RegionType(%d)", int(t))
}

func (t RegionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Endian is the byte order of a format.
type Endian int

const (
	EndianUnknown Endian = iota
	EndianLittle
	EndianBig
)

func (e Endian) String() string {
	switch e {
	case EndianLittle:
		return "LE"
	case EndianBig:
		return "BE"
	}
	return "Unknown"
}

func (e Endian) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// IsBig reports whether e is big-endian.
func (e Endian) IsBig() bool {
	return e == EndianBig
}

func endianOf(bigEndian bool) Endian {
	if bigEndian {
		return EndianBig
	}
	return EndianLittle
}

// Mode is the address width of the code a format carries.
type Mode int

const (
	ModeUnknown Mode = iota
	Mode16
	Mode32
	Mode64
)

func (m Mode) String() string {
	switch m {
	case Mode16:
		return "16"
	case Mode32:
		return "32"
	case Mode64:
		return "64"
	}
	return "Unknown"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// MapMode selects which structures a detector maps when a format has more
// than one view of itself.
type MapMode int

const (
	MapModeDefault MapMode = iota
	MapModeSegments
	MapModeSections
)

func (m MapMode) String() string {
	switch m {
	case MapModeSegments:
		return "segments"
	case MapModeSections:
		return "sections"
	}
	return "default"
}

// ParseMapMode converts a name produced by MapMode.String.
func ParseMapMode(s string) (MapMode, bool) {
	switch s {
	case "", "default":
		return MapModeDefault, true
	case "segments":
		return MapModeSegments, true
	case "sections":
		return MapModeSections, true
	}
	return MapModeDefault, false
}

// Region is one entry of a memory map. Offset is -1 for regions with no
// backing file bytes and Address is -1 for regions that are not mapped.
type Region struct {
	Index   int        `json:"index" yaml:"index"`
	Type    RegionType `json:"type" yaml:"type"`
	Name    string     `json:"name" yaml:"name"`
	Offset  int64      `json:"offset" yaml:"offset"`
	Address int64      `json:"address" yaml:"address"`
	Size    int64      `json:"size" yaml:"size"`
	Virtual bool       `json:"virtual" yaml:"virtual"`
}

// End returns the file offset just past the region, or -1 for virtual regions.
func (r Region) End() int64 {
	if r.Offset < 0 {
		return -1
	}
	return r.Offset + r.Size
}

// MemoryMap is the normalized decomposition of a file.
type MemoryMap struct {
	BinarySize int64    `json:"binary_size" yaml:"binary_size"`
	ImageSize  int64    `json:"image_size" yaml:"image_size"`
	EntryPoint int64    `json:"entry_point" yaml:"entry_point"`
	ModuleBase int64    `json:"module_base" yaml:"module_base"`
	FileType   FileType `json:"file_type" yaml:"file_type"`
	Arch       string   `json:"arch" yaml:"arch"`
	Mode       Mode     `json:"mode" yaml:"mode"`
	Endian     Endian   `json:"endian" yaml:"endian"`
	TypeString string   `json:"type" yaml:"type"`
	Regions    []Region `json:"regions" yaml:"regions"`
}

func newMemoryMap(d Detector, size int64) *MemoryMap {
	ft := d.FileType()
	return &MemoryMap{
		BinarySize: size,
		FileType:   ft,
		Arch:       d.Arch(),
		Mode:       d.Mode(),
		Endian:     d.Endian(),
		TypeString: ft.String(),
		EntryPoint: -1,
	}
}

// add appends r with the next index. File-backed regions are clipped to the
// binary and dropped when nothing of them remains.
func (m *MemoryMap) add(r Region) bool {
	if r.Size <= 0 {
		return false
	}
	if r.Offset >= 0 {
		if r.Offset >= m.BinarySize {
			return false
		}
		if r.Size > m.BinarySize-r.Offset {
			r.Size = m.BinarySize - r.Offset
		}
	} else {
		r.Offset = -1
		r.Virtual = true
	}
	r.Index = len(m.Regions)
	m.Regions = append(m.Regions, r)
	return true
}

func (m *MemoryMap) addHeader(name string, offset, address, size int64) bool {
	return m.add(Region{Type: RegionHeader, Name: name, Offset: offset, Address: address, Size: size})
}

func (m *MemoryMap) addFile(typ RegionType, name string, offset, size int64) bool {
	return m.add(Region{Type: typ, Name: name, Offset: offset, Address: -1, Size: size})
}

func (m *MemoryMap) addLoad(name string, offset, address, size int64) bool {
	return m.add(Region{Type: RegionLoadSegment, Name: name, Offset: offset, Address: address, Size: size})
}

func (m *MemoryMap) addVirtual(name string, address, size int64) bool {
	return m.add(Region{Type: RegionLoadSegment, Name: name, Offset: -1, Address: address, Size: size, Virtual: true})
}

// addMapped adds a load segment whose file part may be shorter than its
// memory size; the remainder becomes a virtual region.
func (m *MemoryMap) addMapped(name string, offset, address, fileSize, memSize int64) {
	if fileSize > memSize && memSize > 0 {
		fileSize = memSize
	}
	if offset >= 0 && fileSize > 0 {
		if rest := m.BinarySize - offset; fileSize > rest {
			fileSize = rest
		}
		if fileSize < 0 {
			fileSize = 0
		}
		m.addLoad(name, offset, address, fileSize)
	} else {
		fileSize = 0
	}
	if memSize > fileSize {
		va := int64(-1)
		if address >= 0 {
			va = address + fileSize
		}
		m.addVirtual(name, va, memSize-fileSize)
	}
}

// addOverlay maps the bytes after end as an overlay.
func (m *MemoryMap) addOverlay(end int64) bool {
	if end <= 0 || end >= m.BinarySize {
		return false
	}
	return m.addFile(RegionOverlay, "overlay", end, m.BinarySize-end)
}

// clear drops every region, used when a directory table turns out corrupt.
func (m *MemoryMap) clear() {
	m.Regions = nil
}

// Count returns the number of regions of type t.
func (m *MemoryMap) Count(t RegionType) int {
	n := 0
	for _, r := range m.Regions {
		if r.Type == t {
			n++
		}
	}
	return n
}

// Overlay returns the overlay region, if any.
func (m *MemoryMap) Overlay() (Region, bool) {
	for _, r := range m.Regions {
		if r.Type == RegionOverlay {
			return r, true
		}
	}
	return Region{}, false
}

// OffsetToAddress translates a file offset through the loaded regions.
func (m *MemoryMap) OffsetToAddress(offset int64) (int64, bool) {
	for _, r := range m.Regions {
		if r.Offset < 0 || r.Address < 0 {
			continue
		}
		if r.Offset <= offset && offset < r.Offset+r.Size {
			return r.Address + offset - r.Offset, true
		}
	}
	return -1, false
}

// AddressToOffset translates a mapped address to its file offset.
func (m *MemoryMap) AddressToOffset(address int64) (int64, bool) {
	for _, r := range m.Regions {
		if r.Offset < 0 || r.Address < 0 {
			continue
		}
		if r.Address <= address && address < r.Address+r.Size {
			return r.Offset + address - r.Address, true
		}
	}
	return -1, false
}

// OSInfo describes the platform a file targets.
type OSInfo struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Arch    string `json:"arch" yaml:"arch"`
	Mode    Mode   `json:"mode" yaml:"mode"`
	Endian  Endian `json:"endian" yaml:"endian"`
	Type    string `json:"type" yaml:"type"`
}
