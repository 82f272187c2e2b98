package binmap

import (
	"bytes"
	"context"
	"fmt"
	"iter"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

var cabHeaderLayout = newLayout("CFHEADER",
	raw("signature", 4),
	u32("reserved1"),
	u32("cbCabinet"),
	u32("reserved2"),
	u32("coffFiles"),
	u32("reserved3"),
	u8("versionMinor"),
	u8("versionMajor"),
	u16("cFolders"),
	u16("cFiles"),
	u16("flags"),
	u16("setID"),
	u16("iCabinet"),
)

const (
	cabMaxName    = 256
	cabMaxFolders = 0x1000
	cabMaxBlocks  = 0x10000
)

var (
	sigCAB   = signature.MustCompile("'MSCF' {u32le:0}")
	sigMSZIP = []byte("CK")
)

// CabFolder is a CFFOLDER entry.
type CabFolder struct {
	CoffCabStart uint32 `struc:"uint32"`
	CCFData      uint16 `struc:"uint16"`
	TypeCompress uint16 `struc:"uint16"`
}

// CabFile is the fixed part of a CFFILE entry.
type CabFile struct {
	CbFile          uint32 `struc:"uint32"`
	UoffFolderStart uint32 `struc:"uint32"`
	IFolder         uint16 `struc:"uint16"`
	Date            uint16 `struc:"uint16"`
	Time            uint16 `struc:"uint16"`
	Attribs         uint16 `struc:"uint16"`
}

type cabData struct {
	Csum     uint32 `struc:"uint32"`
	CbData   uint16 `struc:"uint16"`
	CbUncomp uint16 `struc:"uint16"`
}

// cabBlock locates the payload of one CFDATA block.
type cabBlock struct {
	offset       int64
	size         int64
	uncompressed int64
}

// cabFolderSpan is a decoded folder with its data blocks.
type cabFolderSpan struct {
	CabFolder
	blocks []cabBlock
	start  int64
	end    int64
}

// CAB decodes Microsoft cabinet files.
type CAB struct {
	base
	archive
}

func NewCAB(s *stream.Stream) *CAB {
	return &CAB{base: base{s: s, endian: EndianLittle, os: "Windows"}}
}

func (d *CAB) header() reader {
	return reader{l: cabHeaderLayout, s: d.s, order: EndianLittle}
}

func (d *CAB) IsValid() bool {
	if d.size() < cabHeaderSize || !sigCAB.Match(d.s, 0) {
		return false
	}
	h := d.header()
	return h.get("versionMajor") == 1 && h.get("versionMinor") == 3 && h.get("reserved2") == 0 && h.get("reserved3") == 0
}

func (d *CAB) FileType() FileType {
	return FileTypeCAB
}

func (d *CAB) Header() []FieldValue {
	return cabHeaderLayout.Decode(d.s, 0, EndianLittle)
}

func (d *CAB) SetField(name string, value uint64) bool {
	return d.header().set(name, value)
}

func (d *CAB) CabinetSize() int64 { return int64(d.header().get("cbCabinet")) }
func (d *CAB) FilesOffset() int64 { return int64(d.header().get("coffFiles")) }
func (d *CAB) FolderCount() int   { return int(d.header().get("cFolders")) }
func (d *CAB) FileCount() int     { return int(d.header().get("cFiles")) }
func (d *CAB) Flags() uint16      { return uint16(d.header().get("flags")) }

// reserve returns the per-header, per-folder and per-data reserved sizes and
// the offset of the first CFFOLDER.
func (d *CAB) reserve() (folder, data, foldersAt int64) {
	off := int64(cabHeaderSize)
	if d.Flags()&cabFlagReserve != 0 {
		header := int64(d.s.Uint16(off, false))
		folder = int64(d.s.Uint8(off + 2))
		data = int64(d.s.Uint8(off + 3))
		off += 4 + header
	}
	if d.Flags()&cabFlagPrevCabinet != 0 {
		off = d.skipStrings(off, 2)
	}
	if d.Flags()&cabFlagNextCabinet != 0 {
		off = d.skipStrings(off, 2)
	}
	return folder, data, off
}

func (d *CAB) skipStrings(off int64, n int) int64 {
	for i := 0; i < n; i++ {
		off += int64(len(d.s.AnsiString(off, cabMaxName))) + 1
	}
	return off
}

// folders decodes every CFFOLDER and walks its CFDATA blocks. A folder or
// block outside the cabinet invalidates the whole table.
func (d *CAB) folders(ctx context.Context) ([]cabFolderSpan, bool) {
	folderReserve, dataReserve, off := d.reserve()
	n := d.FolderCount()
	if n > cabMaxFolders {
		return nil, false
	}
	spans := make([]cabFolderSpan, 0, n)
	for i := 0; i < n; i++ {
		if cancelled(ctx) {
			return spans, true
		}
		var f cabFolderSpan
		if err := unpackAt(d.s, off, cabFolderSize, EndianLittle, &f.CabFolder); err != nil {
			return nil, false
		}
		off += cabFolderSize + folderReserve

		f.start = int64(f.CoffCabStart)
		block := f.start
		for j := 0; j < int(f.CCFData) && j < cabMaxBlocks; j++ {
			var h cabData
			if err := unpackAt(d.s, block, cabDataSize, EndianLittle, &h); err != nil {
				return nil, false
			}
			payload := block + cabDataSize + dataReserve
			if h.CbUncomp > cabMaxBlockSize || !d.s.Contains(payload, int64(h.CbData)) {
				return nil, false
			}
			f.blocks = append(f.blocks, cabBlock{offset: payload, size: int64(h.CbData), uncompressed: int64(h.CbUncomp)})
			block = payload + int64(h.CbData)
		}
		f.end = block
		spans = append(spans, f)
	}
	return spans, true
}

// files decodes the CFFILE table, returning each entry with its offset and
// name. Any entry outside the file invalidates the table.
func (d *CAB) files(ctx context.Context, limit int) ([]Record, []CabFile, bool) {
	off := d.FilesOffset()
	n := d.FileCount()
	var records []Record
	var entries []CabFile
	for i := 0; i < n; i++ {
		if cancelled(ctx) || (limit > 0 && len(records) >= limit) {
			break
		}
		var f CabFile
		if err := unpackAt(d.s, off, cabFileSize, EndianLittle, &f); err != nil {
			return nil, nil, false
		}
		name := d.s.AnsiString(off+cabFileSize, cabMaxName)
		size := int64(cabFileSize + len(name) + 1)
		if !d.s.Contains(off, size) {
			return nil, nil, false
		}
		records = append(records, Record{
			FileName:         decodeName([]byte(name), f.Attribs&0x80 != 0),
			HeaderOffset:     off,
			HeaderSize:       size,
			UncompressedSize: int64(f.CbFile),
		})
		entries = append(entries, f)
		off += size
	}
	return records, entries, true
}

// Records lists the files in the cabinet. Data offsets and compressed sizes
// describe the folder stream each file lives in.
func (d *CAB) Records(ctx context.Context, limit int) []Record {
	folders, ok := d.folders(ctx)
	if !ok {
		return nil
	}
	records, entries, ok := d.files(ctx, limit)
	if !ok {
		return nil
	}
	for i := range records {
		idx := int(entries[i].IFolder)
		if idx >= len(folders) {
			// continued from or into another cabinet
			continue
		}
		f := folders[idx]
		method := f.TypeCompress & cabCompressTypeMask
		records[i].DataOffset = f.start
		records[i].CompressedSize = f.end - f.start
		records[i].Method = method
		records[i].MethodName = lookup(cabMethod, method)
	}
	return records
}

// Decompress expands the folder holding rec and cuts the file out of it.
// Stored and MSZIP folders are supported.
func (d *CAB) Decompress(rec Record) ([]byte, error) {
	var f CabFile
	if err := unpackAt(d.s, rec.HeaderOffset, cabFileSize, EndianLittle, &f); err != nil {
		return nil, errors.Wrap(err, "failed to read CFFILE")
	}
	folders, ok := d.folders(context.Background())
	if !ok || int(f.IFolder) >= len(folders) {
		return nil, errors.Wrapf(ErrNotValid, "folder %d of %s", f.IFolder, rec.FileName)
	}
	folder := folders[f.IFolder]
	data, err := d.memoize(folder.start, func() ([]byte, error) {
		return d.expand(folder)
	})
	if err != nil {
		return nil, err
	}
	start, end := int64(f.UoffFolderStart), int64(f.UoffFolderStart)+int64(f.CbFile)
	if end > int64(len(data)) {
		return nil, errors.Wrapf(ErrOutsideBoundary, "%s ends at %d of %d", rec.FileName, end, len(data))
	}
	return data[start:end], nil
}

func (d *CAB) expand(folder cabFolderSpan) ([]byte, error) {
	method := folder.TypeCompress & cabCompressTypeMask
	var out []byte
	for _, b := range folder.blocks {
		if int64(len(out))+b.uncompressed > d.limit() {
			return nil, errors.Wrapf(ErrMemberTooLarge, "limit %d bytes", d.limit())
		}
		payload := d.s.Bytes(b.offset, b.size)
		switch method {
		case CabCompressNone:
			out = append(out, payload...)
		case CabCompressMSZIP:
			if !bytes.HasPrefix(payload, sigMSZIP) {
				return nil, errors.Wrapf(ErrNotValid, "MSZIP block at %#x", b.offset)
			}
			var dict []byte
			if len(out) > cabMaxBlockSize {
				dict = out[len(out)-cabMaxBlockSize:]
			} else {
				dict = out
			}
			fr := flate.NewReaderDict(bytes.NewReader(payload[len(sigMSZIP):]), dict)
			block, err := readCapped(fr, cabMaxBlockSize)
			fr.Close()
			if err != nil {
				return nil, err
			}
			out = append(out, block...)
		default:
			return nil, errors.Wrapf(ErrUnsupportedMethod, "cab method %s", lookup(cabMethod, method))
		}
	}
	return out, nil
}

func (d *CAB) Children(ctx context.Context, limit int) iter.Seq[Child] {
	return archiveChildren(ctx, d, limit)
}

func (d *CAB) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	folders, ok := d.folders(ctx)
	if !ok {
		m.clear()
		return m
	}
	records, _, ok := d.files(ctx, maxAllowedEntries)
	if !ok {
		m.clear()
		return m
	}
	m.TypeString = fmt.Sprintf("CAB (%d files)", len(records))

	_, _, foldersAt := d.reserve()
	m.addHeader("header", 0, -1, foldersAt)
	folderReserve, _, _ := d.reserve()
	m.addHeader("folders", foldersAt, -1, int64(len(folders))*(cabFolderSize+folderReserve))
	for _, rec := range records {
		m.addFile(RegionHeader, rec.FileName, rec.HeaderOffset, rec.HeaderSize)
	}
	for i, f := range folders {
		if cancelled(ctx) {
			break
		}
		m.addFile(RegionData, fmt.Sprintf("folder%d", i), f.start, f.end-f.start)
	}
	end := d.CabinetSize()
	if end > d.size() {
		end = d.size()
	}
	m.addOverlay(end)
	return m
}
