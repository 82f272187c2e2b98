package binmap

import (
	"context"
	"fmt"
	"sort"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var dexHeaderLayout = newLayout("header_item",
	raw("magic", 8),
	u32("checksum"),
	raw("signature", 20),
	u32("file_size"),
	u32("header_size"),
	u32("endian_tag"),
	u32("link_size"),
	u32("link_off"),
	u32("map_off"),
	u32("string_ids_size"),
	u32("string_ids_off"),
	u32("type_ids_size"),
	u32("type_ids_off"),
	u32("proto_ids_size"),
	u32("proto_ids_off"),
	u32("field_ids_size"),
	u32("field_ids_off"),
	u32("method_ids_size"),
	u32("method_ids_off"),
	u32("class_defs_size"),
	u32("class_defs_off"),
	u32("data_size"),
	u32("data_off"),
)

const (
	dexMapItemSize = 12
	dexMaxMapItems = 0x100
)

var sigDEX = signature.MustCompile("'dex' 0A .. .. .. 00")

// dexTables lists the fixed-size id tables in header order.
var dexTables = []struct {
	name      string
	size, off string
	item      int64
}{
	{"string_ids", "string_ids_size", "string_ids_off", 4},
	{"type_ids", "type_ids_size", "type_ids_off", 4},
	{"proto_ids", "proto_ids_size", "proto_ids_off", 12},
	{"field_ids", "field_ids_size", "field_ids_off", 8},
	{"method_ids", "method_ids_size", "method_ids_off", 8},
	{"class_defs", "class_defs_size", "class_defs_off", 32},
}

var dexMapTypes = map[uint16]string{
	0x0000: "header_item",
	0x0001: "string_id_item",
	0x0002: "type_id_item",
	0x0003: "proto_id_item",
	0x0004: "field_id_item",
	0x0005: "method_id_item",
	0x0006: "class_def_item",
	0x0007: "call_site_id_item",
	0x0008: "method_handle_item",
	0x1000: "map_list",
	0x1001: "type_list",
	0x1002: "annotation_set_ref_list",
	0x1003: "annotation_set_item",
	0x2000: "class_data_item",
	0x2001: "code_item",
	0x2002: "string_data_item",
	0x2003: "debug_info_item",
	0x2004: "annotation_item",
	0x2005: "encoded_array_item",
	0x2006: "annotations_directory_item",
	0xF000: "hiddenapi_class_data_item",
}

// DEXMapItem is one map_list entry.
type DEXMapItem struct {
	Type   uint16 `struc:"uint16"`
	Unused uint16 `struc:"uint16"`
	Size   uint32 `struc:"uint32"`
	Offset uint32 `struc:"uint32"`
}

// DEX decodes Dalvik executables.
type DEX struct {
	base
}

func NewDEX(s *stream.Stream) *DEX {
	d := &DEX{base: base{s: s, arch: "Dalvik", mode: Mode32, endian: EndianLittle, os: "Android"}}
	if s.Uint32(40, false) == dexReverseEndianTag {
		d.endian = EndianBig
	}
	return d
}

func (d *DEX) IsValid() bool {
	if d.size() < dexHeaderSize || !sigDEX.Match(d.s, 0) {
		return false
	}
	for i := int64(4); i < 7; i++ {
		if c := d.s.Uint8(i); c < '0' || c > '9' {
			return false
		}
	}
	tag := d.s.Uint32(40, false)
	return tag == dexEndianConstant || tag == dexReverseEndianTag
}

func (d *DEX) FileType() FileType {
	return FileTypeDEX
}

func (d *DEX) header() reader {
	return reader{l: dexHeaderLayout, s: d.s, order: d.endian}
}

func (d *DEX) get(name string) int64 {
	return int64(d.header().get(name))
}

func (d *DEX) Header() []FieldValue {
	return dexHeaderLayout.Decode(d.s, 0, d.endian)
}

func (d *DEX) SetField(name string, value uint64) bool {
	return d.header().set(name, value)
}

// Version is the three-digit format version from the magic.
func (d *DEX) Version() string {
	return d.s.AnsiString(4, 3)
}

func (d *DEX) FileSize() int64  { return d.get("file_size") }
func (d *DEX) MapOffset() int64 { return d.get("map_off") }

func (d *DEX) OSInfo() OSInfo {
	return osInfo(d, "Android", d.Version(), "DEX")
}

// MapItems reads map_list, stopping at the first entry outside the file.
func (d *DEX) MapItems(ctx context.Context) []DEXMapItem {
	off := d.MapOffset()
	if off == 0 {
		return nil
	}
	n := int64(d.s.Uint32(off, d.endian.IsBig()))
	if n > dexMaxMapItems {
		n = dexMaxMapItems
	}
	items := make([]DEXMapItem, 0, n)
	for i := int64(0); i < n; i++ {
		if cancelled(ctx) {
			break
		}
		var item DEXMapItem
		if err := unpackAt(d.s, off+4+i*dexMapItemSize, dexMapItemSize, d.endian, &item); err != nil {
			break
		}
		items = append(items, item)
	}
	return items
}

func (d *DEX) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	m.ModuleBase = 0
	m.TypeString = fmt.Sprintf("DEX %s", d.Version())

	fileSize := d.FileSize()
	if fileSize <= 0 || fileSize > d.size() {
		fileSize = d.size()
	}
	m.ImageSize = fileSize

	if mode == MapModeSections {
		d.mapItems(ctx, m, fileSize)
	} else {
		m.addHeader("header", 0, 0, dexHeaderSize)
		for _, t := range dexTables {
			if cancelled(ctx) {
				break
			}
			m.addLoad(t.name, d.get(t.off), d.get(t.off), d.get(t.size)*t.item)
		}
		m.addLoad("data", d.get("data_off"), d.get("data_off"), d.get("data_size"))
		m.addLoad("link", d.get("link_off"), d.get("link_off"), d.get("link_size"))
	}
	m.addOverlay(fileSize)
	return m
}

// mapItems emits one region per map_list item, each extending to the next
// item's offset.
func (d *DEX) mapItems(ctx context.Context, m *MemoryMap, fileSize int64) {
	items := d.MapItems(ctx)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Offset < items[j].Offset })
	for i, item := range items {
		if cancelled(ctx) {
			break
		}
		start := int64(item.Offset)
		end := fileSize
		if i+1 < len(items) {
			end = int64(items[i+1].Offset)
		}
		m.addLoad(lookup(dexMapTypes, item.Type), start, start, end-start)
	}
}
