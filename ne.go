package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

// stub is the part shared by formats that sit behind an MZ header.
type stub struct {
	dos *MSDOS
	// hdr is the file offset of the extended header, -1 when e_lfanew is
	// unusable.
	hdr int64
}

func newStub(s *stream.Stream) stub {
	dos := NewMSDOS(s)
	return stub{dos: dos, hdr: dos.newHeaderOffset()}
}

// stubValid reports whether the MZ header is valid and p matches at e_lfanew
// with room for a header of size bytes.
func (st stub) stubValid(p *signature.Pattern, size int64) bool {
	if !st.dos.IsValid() || st.hdr < 0 {
		return false
	}
	if !st.dos.s.Contains(st.hdr, size) {
		return false
	}
	return p.Match(st.dos.s, st.hdr)
}

// DOS returns the stub header.
func (st stub) DOS() *MSDOS {
	return st.dos
}

var neHeaderLayout = newLayout("IMAGE_OS2_HEADER",
	u16("ne_magic"),
	u8("ne_ver"),
	u8("ne_rev"),
	u16("ne_enttab"),
	u16("ne_cbenttab"),
	u32("ne_crc"),
	u16("ne_flags"),
	u16("ne_autodata"),
	u16("ne_heap"),
	u16("ne_stack"),
	u32("ne_csip"),
	u32("ne_sssp"),
	u16("ne_cseg"),
	u16("ne_cmod"),
	u16("ne_cbnrestab"),
	u16("ne_segtab"),
	u16("ne_rsrctab"),
	u16("ne_restab"),
	u16("ne_modtab"),
	u16("ne_imptab"),
	u32("ne_nrestab"),
	u16("ne_cmovent"),
	u16("ne_align"),
	u16("ne_cres"),
	u8("ne_exetyp"),
	u8("ne_flagsothers"),
	u16("ne_pretthunks"),
	u16("ne_psegrefbytes"),
	u16("ne_swaparea"),
	u16("ne_expver"),
)

const (
	neSegmentEntrySize = 8
	neFlagDLL          = 0x8000
	// neMaxAlignShift keeps sector << align inside int64 range for any
	// plausible file.
	neMaxAlignShift = 24
)

var sigNE = signature.MustCompile("'NE'")

// NESegment is one entry of the NE segment table.
type NESegment struct {
	Sector   uint16 `struc:"uint16"`
	Length   uint16 `struc:"uint16"`
	Flags    uint16 `struc:"uint16"`
	MinAlloc uint16 `struc:"uint16"`
}

// NE decodes 16-bit segmented executables for Windows 3.x and OS/2 1.x.
type NE struct {
	base
	stub
}

func NewNE(s *stream.Stream) *NE {
	return &NE{
		base: base{s: s, arch: "8086", mode: Mode16, endian: EndianLittle},
		stub: newStub(s),
	}
}

func (d *NE) IsValid() bool {
	return d.stubValid(sigNE, neHeaderLayout.Size)
}

func (d *NE) FileType() FileType {
	return FileTypeNE
}

func (d *NE) hdrReader() reader {
	return reader{l: neHeaderLayout, s: d.s, base: d.hdr, order: EndianLittle}
}

func (d *NE) Header() []FieldValue {
	if d.hdr < 0 {
		return nil
	}
	return neHeaderLayout.Decode(d.s, d.hdr, EndianLittle)
}

func (d *NE) SetField(name string, value uint64) bool {
	if d.hdr < 0 {
		return false
	}
	return d.hdrReader().set(name, value)
}

func (d *NE) SegmentCount() uint16     { return uint16(d.hdrReader().get("ne_cseg")) }
func (d *NE) SegmentTable() uint16     { return uint16(d.hdrReader().get("ne_segtab")) }
func (d *NE) AlignShift() uint16       { return uint16(d.hdrReader().get("ne_align")) }
func (d *NE) Flags() uint16            { return uint16(d.hdrReader().get("ne_flags")) }
func (d *NE) TargetOS() uint8          { return uint8(d.hdrReader().get("ne_exetyp")) }
func (d *NE) ExpectedVersion() uint16  { return uint16(d.hdrReader().get("ne_expver")) }
func (d *NE) InitialCSIP() uint32      { return uint32(d.hdrReader().get("ne_csip")) }
func (d *NE) NonResidentTable() uint32 { return uint32(d.hdrReader().get("ne_nrestab")) }
func (d *NE) NonResidentSize() uint16  { return uint16(d.hdrReader().get("ne_cbnrestab")) }

func (d *NE) OSInfo() OSInfo {
	var version string
	if v := d.ExpectedVersion(); v != 0 {
		version = fmt.Sprintf("%d.%d", v>>8, v&0xFF)
	}
	typ := "EXE"
	if d.Flags()&neFlagDLL != 0 {
		typ = "DLL"
	}
	return osInfo(d, lookup(neTargetOS, d.TargetOS()), version, typ)
}

// Segments reads the segment table, stopping at the first entry that does
// not lie inside the file.
func (d *NE) Segments(ctx context.Context) []NESegment {
	if d.hdr < 0 {
		return nil
	}
	count := int(d.SegmentCount())
	if count > maxAllowedEntries {
		count = maxAllowedEntries
	}
	table := d.hdr + int64(d.SegmentTable())
	segments := make([]NESegment, 0, count)
	for i := 0; i < count; i++ {
		if cancelled(ctx) {
			break
		}
		var seg NESegment
		if err := unpackAt(d.s, table+int64(i)*neSegmentEntrySize, neSegmentEntrySize, EndianLittle, &seg); err != nil {
			break
		}
		segments = append(segments, seg)
	}
	return segments
}

func (d *NE) segmentLayout(seg NESegment) (offset, fileSize, memSize int64) {
	shift := d.AlignShift()
	if shift == 0 {
		shift = 9
	}
	if shift > neMaxAlignShift {
		shift = neMaxAlignShift
	}
	offset = -1
	if seg.Sector != 0 {
		offset = int64(seg.Sector) << shift
		fileSize = int64(seg.Length)
		if fileSize == 0 {
			fileSize = 0x10000
		}
	}
	memSize = int64(seg.MinAlloc)
	if memSize == 0 {
		memSize = 0x10000
	}
	if memSize < fileSize {
		memSize = fileSize
	}
	return offset, fileSize, memSize
}

// EntryPoint returns CS:IP with the 1-based segment number in the high word,
// matching the addresses given to segments in the memory map.
func (d *NE) EntryPoint() int64 {
	return int64(d.InitialCSIP())
}

func (d *NE) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.TypeString = fmt.Sprintf("NE (%s)", lookup(neTargetOS, d.TargetOS()))
	m.EntryPoint = d.EntryPoint()
	m.ModuleBase = 0x10000

	segments := d.Segments(ctx)
	headerEnd := d.hdr + neHeaderLayout.Size
	first := int64(-1)
	for _, seg := range segments {
		off, _, _ := d.segmentLayout(seg)
		if off >= headerEnd && (first < 0 || off < first) {
			first = off
		}
	}
	if first > 0 {
		headerEnd = first
	}
	m.addHeader("header", 0, -1, headerEnd)

	end := headerEnd
	for i, seg := range segments {
		if cancelled(ctx) {
			break
		}
		offset, fileSize, memSize := d.segmentLayout(seg)
		if offset >= 0 && offset+fileSize > d.size() {
			break
		}
		address := int64(i+1) << 16
		m.addMapped(fmt.Sprintf("seg%d", i+1), offset, address, fileSize, memSize)
		m.ImageSize += memSize
		if offset >= 0 && offset+fileSize > end {
			end = offset + fileSize
		}
	}
	if nrt := int64(d.NonResidentTable()); nrt > 0 {
		if e := nrt + int64(d.NonResidentSize()); e <= d.size() && e > end {
			end = e
		}
	}
	m.addOverlay(end)
	return m
}
