package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var leHeaderLayout = newLayout("IMAGE_VXD_HEADER",
	u16("e32_magic"),
	u8("e32_border"),
	u8("e32_worder"),
	u32("e32_level"),
	u16("e32_cpu"),
	u16("e32_os"),
	u32("e32_ver"),
	u32("e32_mflags"),
	u32("e32_mpages"),
	u32("e32_startobj"),
	u32("e32_eip"),
	u32("e32_stackobj"),
	u32("e32_esp"),
	u32("e32_pagesize"),
	// e32_lastpagesize for LE, e32_pageshift for LX.
	u32("e32_pageshift"),
	u32("e32_fixupsize"),
	u32("e32_fixupsum"),
	u32("e32_ldrsize"),
	u32("e32_ldrsum"),
	u32("e32_objtab"),
	u32("e32_objcnt"),
	u32("e32_objmap"),
	u32("e32_itermap"),
	u32("e32_rsrctab"),
	u32("e32_rsrccnt"),
	u32("e32_restab"),
	u32("e32_enttab"),
	u32("e32_dirtab"),
	u32("e32_dircnt"),
	u32("e32_fpagetab"),
	u32("e32_frectab"),
	u32("e32_impmod"),
	u32("e32_impmodcnt"),
	u32("e32_impproc"),
	u32("e32_pagesum"),
	u32("e32_datapage"),
	u32("e32_preload"),
	u32("e32_nrestab"),
	u32("e32_cbnrestab"),
	u32("e32_nressum"),
	u32("e32_autodata"),
	u32("e32_debuginfo"),
	u32("e32_debuglen"),
	u32("e32_instpreload"),
	u32("e32_instdemand"),
	u32("e32_heapsize"),
	u32("e32_stacksize"),
)

const (
	leObjectEntrySize = 24
	lePageEntrySize   = 4
	lxPageEntrySize   = 8
	leModuleDLL       = 0x8000
	leDefaultPageSize = 0x1000
	leMaxPageShift    = 16
)

var (
	sigLE = signature.MustCompile("'LE'")
	sigLX = signature.MustCompile("'LX'")
)

// LEObject is one entry of the object table.
type LEObject struct {
	Size     uint32 `struc:"uint32"`
	Base     uint32 `struc:"uint32"`
	Flags    uint32 `struc:"uint32"`
	PageMap  uint32 `struc:"uint32"`
	MapSize  uint32 `struc:"uint32"`
	Reserved uint32 `struc:"uint32"`
}

// LE decodes linear executables: LE for Windows VxDs, LX for OS/2 2.x.
type LE struct {
	base
	stub
}

func NewLE(s *stream.Stream) *LE {
	d := &LE{stub: newStub(s)}
	d.base = base{s: s, mode: Mode32, endian: EndianLittle}
	if d.hdr >= 0 && s.Uint8(d.hdr+2) == 1 {
		d.endian = EndianBig
	}
	return d
}

func (d *LE) IsValid() bool {
	if d.hdr < 0 {
		return false
	}
	if !d.stubValid(sigLX, leHeaderLayout.Size) && !d.stubValid(sigLE, leHeaderLayout.Size) {
		return false
	}
	border := d.s.Uint8(d.hdr + 2)
	return border <= 1
}

// IsLX distinguishes the OS/2 flavor by its signature.
func (d *LE) IsLX() bool {
	return d.hdr >= 0 && sigLX.Match(d.s, d.hdr)
}

func (d *LE) FileType() FileType {
	if d.IsLX() {
		return FileTypeLX
	}
	return FileTypeLE
}

func (d *LE) hdrReader() reader {
	return reader{l: leHeaderLayout, s: d.s, base: d.hdr, order: d.endian}
}

func (d *LE) get(name string) uint32 {
	return uint32(d.hdrReader().get(name))
}

func (d *LE) Header() []FieldValue {
	if d.hdr < 0 {
		return nil
	}
	return leHeaderLayout.Decode(d.s, d.hdr, d.endian)
}

func (d *LE) SetField(name string, value uint64) bool {
	if d.hdr < 0 {
		return false
	}
	return d.hdrReader().set(name, value)
}

func (d *LE) CPU() uint16              { return uint16(d.get("e32_cpu")) }
func (d *LE) TargetOS() uint16         { return uint16(d.get("e32_os")) }
func (d *LE) ModuleFlags() uint32      { return d.get("e32_mflags") }
func (d *LE) PageCount() uint32        { return d.get("e32_mpages") }
func (d *LE) StartObject() uint32      { return d.get("e32_startobj") }
func (d *LE) EIP() uint32              { return d.get("e32_eip") }
func (d *LE) ObjectTable() uint32      { return d.get("e32_objtab") }
func (d *LE) ObjectCount() uint32      { return d.get("e32_objcnt") }
func (d *LE) ObjectPageMap() uint32    { return d.get("e32_objmap") }
func (d *LE) DataPages() uint32        { return d.get("e32_datapage") }
func (d *LE) NonResidentTable() uint32 { return d.get("e32_nrestab") }
func (d *LE) NonResidentSize() uint32  { return d.get("e32_cbnrestab") }

func (d *LE) PageSize() int64 {
	if ps := int64(d.get("e32_pagesize")); ps > 0 {
		return ps
	}
	return leDefaultPageSize
}

func (d *LE) Arch() string {
	if d.hdr < 0 {
		return unknown
	}
	return lookup(leCPU, d.CPU())
}

func (d *LE) Mode() Mode {
	if d.CPU() == 0x01 {
		return Mode16
	}
	return Mode32
}

func (d *LE) OSInfo() OSInfo {
	typ := "EXE"
	if d.ModuleFlags()&leModuleDLL != 0 {
		typ = "DLL"
	}
	return osInfo(d, lookup(leTargetOS, d.TargetOS()), "", typ)
}

// Objects reads the object table, stopping at the first entry outside the
// file.
func (d *LE) Objects(ctx context.Context) []LEObject {
	if d.hdr < 0 {
		return nil
	}
	count := int64(d.ObjectCount())
	if count > maxAllowedEntries {
		count = maxAllowedEntries
	}
	table := d.hdr + int64(d.ObjectTable())
	objects := make([]LEObject, 0, count)
	for i := int64(0); i < count; i++ {
		if cancelled(ctx) {
			break
		}
		var obj LEObject
		if err := unpackAt(d.s, table+i*leObjectEntrySize, leObjectEntrySize, d.endian, &obj); err != nil {
			break
		}
		objects = append(objects, obj)
	}
	return objects
}

// page resolves a 1-based page number to its file range.
func (d *LE) page(n uint32) (offset, size int64, ok bool) {
	if n == 0 {
		return 0, 0, false
	}
	pageMap := d.hdr + int64(d.ObjectPageMap())
	data := int64(d.DataPages())
	pageSize := d.PageSize()
	if d.IsLX() {
		entry := pageMap + int64(n-1)*lxPageEntrySize
		if !d.s.Contains(entry, lxPageEntrySize) {
			return 0, 0, false
		}
		shift := d.get("e32_pageshift")
		if shift > leMaxPageShift {
			return 0, 0, false
		}
		offset = data + int64(d.s.Uint32(entry, d.endian.IsBig()))<<shift
		size = int64(d.s.Uint16(entry+4, d.endian.IsBig()))
		return offset, size, true
	}

	entry := pageMap + int64(n-1)*lePageEntrySize
	if !d.s.Contains(entry, lePageEntrySize) {
		return 0, 0, false
	}
	num := int64(d.s.Uint8(entry))<<16 | int64(d.s.Uint8(entry+1))<<8 | int64(d.s.Uint8(entry+2))
	if num == 0 {
		return 0, 0, false
	}
	offset = data + (num-1)*pageSize
	size = pageSize
	if uint32(num) == d.PageCount() {
		if last := int64(d.get("e32_pageshift")); last > 0 && last < pageSize {
			size = last
		}
	}
	return offset, size, true
}

// EntryPoint is the linear address of e32_eip within its start object, or
// -1 when the start object does not exist.
func (d *LE) EntryPoint(objects []LEObject) int64 {
	idx := int(d.StartObject())
	if idx < 1 || idx > len(objects) {
		return -1
	}
	return int64(objects[idx-1].Base) + int64(d.EIP())
}

type pageRun struct {
	offset, address, size int64
}

func (d *LE) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	objects := d.Objects(ctx)
	m.EntryPoint = d.EntryPoint(objects)
	if len(objects) > 0 {
		m.ModuleBase = int64(objects[0].Base)
	}

	headerEnd := d.hdr + leHeaderLayout.Size
	if data := int64(d.DataPages()); data > headerEnd && data <= d.size() {
		headerEnd = data
	}
	m.addHeader("header", 0, -1, headerEnd)

	end := headerEnd
	pageSize := d.PageSize()
walk:
	for i, obj := range objects {
		if cancelled(ctx) {
			break
		}
		name := fmt.Sprintf("object%d", i+1)
		var runs []pageRun
		var mapped int64
		for p := uint32(0); p < obj.MapSize && p < maxAllowedEntries; p++ {
			offset, size, ok := d.page(obj.PageMap + p)
			if !ok || offset+size > d.size() {
				break walk
			}
			address := int64(obj.Base) + int64(p)*pageSize
			if n := len(runs); n > 0 && runs[n-1].offset+runs[n-1].size == offset &&
				runs[n-1].address+runs[n-1].size == address {
				runs[n-1].size += size
			} else {
				runs = append(runs, pageRun{offset: offset, address: address, size: size})
			}
			mapped = int64(p+1) * pageSize
			if offset+size > end {
				end = offset + size
			}
		}
		for _, r := range runs {
			m.addLoad(name, r.offset, r.address, r.size)
		}
		if tail := int64(obj.Size) - mapped; tail > 0 {
			m.addVirtual(name, int64(obj.Base)+mapped, tail)
		}
		if top := int64(obj.Base) + int64(obj.Size) - m.ModuleBase; top > m.ImageSize {
			m.ImageSize = top
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
