package binmap

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// stringTableMax bounds how much of a COFF string table is loaded.
const stringTableMax = 1 << 20

// cString converts ASCII byte sequence b to string.
// It stops once it finds 0 or reaches end of b.
func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[:i])
}

// StringTable is a COFF string table.
type StringTable []byte

// stringTable loads the COFF string table located right after the COFF
// symbol table, or nil when the image has none.
func (d *PE) stringTable() StringTable {
	if d.PointerToSymbolTable() == 0 {
		return nil
	}
	offset := int64(d.PointerToSymbolTable()) + COFFSymbolSize*int64(d.NumberOfSymbols())
	// string table length includes itself
	l := int64(d.s.Uint32(offset, false))
	if l <= 4 {
		return nil
	}
	if l > stringTableMax {
		l = stringTableMax
	}
	return d.s.Bytes(offset+4, l-4)
}

// String extracts string from COFF string table st at offset start.
func (st StringTable) String(start uint32) (string, error) {
	// start includes 4 bytes of string table length
	if start < 4 {
		return "", errors.Errorf("offset %d is before the start of string table", start)
	}
	start -= 4
	if int(start) > len(st) {
		return "", errors.Errorf("offset %d is beyond the end of string table", start)
	}
	return cString(st[start:]), nil
}

// sectionName resolves "/N" long names through the string table.
func sectionName(raw string, st StringTable) string {
	name := cString([]byte(raw))
	if len(name) == 0 || name[0] != '/' {
		return name
	}
	i, err := strconv.Atoi(name[1:])
	if err != nil || i < 0 {
		return name
	}
	long, err := st.String(uint32(i))
	if err != nil || long == "" {
		return name
	}
	return long
}
