package binmap

import (
	"context"
	"encoding/binary"
)

// COFFSymbolSize is the size of one COFF symbol table record.
const COFFSymbolSize = 18

// COFFSymbol represents single COFF symbol table record.
type COFFSymbol struct {
	Name               [8]uint8 `struc:"[8]byte"`
	Value              uint32   `struc:"uint32"`
	SectionNumber      int16    `struc:"int16"`
	Type               uint16   `struc:"uint16"`
	StorageClass       uint8    `struc:"uint8"`
	NumberOfAuxSymbols uint8    `struc:"uint8"`
}

// isSymNameOffset checks symbol name if it is encoded as offset into string table.
func isSymNameOffset(name [8]byte) (bool, uint32) {
	if name[0] == 0 && name[1] == 0 && name[2] == 0 && name[3] == 0 {
		return true, binary.LittleEndian.Uint32(name[4:])
	}
	return false, 0
}

// FullName finds real name of symbol sym. Normally name is stored
// in sym.Name, but if it is longer then 8 characters, it is stored
// in COFF string table st instead.
func (sym *COFFSymbol) FullName(st StringTable) (string, error) {
	if ok, offset := isSymNameOffset(sym.Name); ok {
		return st.String(offset)
	}
	return cString(sym.Name[:]), nil
}

// coffTables returns the file extent of the COFF symbol table and of the
// string table after it. A missing table has size 0.
func (d *PE) coffTables() (symbols, names largestOffsetAndSize) {
	if d.PointerToSymbolTable() == 0 {
		return
	}
	symbols.offset = int64(d.PointerToSymbolTable())
	symbols.size = COFFSymbolSize * int64(d.NumberOfSymbols())
	names.offset = symbols.offset + symbols.size
	// the length field counts itself
	if l := int64(d.s.Uint32(names.offset, false)); l >= 4 && d.s.Contains(names.offset, l) {
		names.size = l
	}
	return
}

// Symbol is similar to COFFSymbol with Name field replaced
// by Go string. Symbol also does not have NumberOfAuxSymbols.
type Symbol struct {
	Name          string
	Value         uint32
	SectionNumber int16
	Type          uint16
	StorageClass  uint8
}

// Symbols decodes the COFF symbol table, skipping auxiliary records. The
// walk stops at the first record outside the file or with an unresolvable
// name.
func (d *PE) Symbols(ctx context.Context) []Symbol {
	if d.PointerToSymbolTable() == 0 || d.NumberOfSymbols() == 0 {
		return nil
	}
	st := d.stringTable()
	off := int64(d.PointerToSymbolTable())
	n := int64(d.NumberOfSymbols())
	if n > maxAllowedEntries {
		n = maxAllowedEntries
	}

	var symbols []Symbol
	aux := uint8(0)
	for i := int64(0); i < n; i, off = i+1, off+COFFSymbolSize {
		if cancelled(ctx) {
			break
		}
		var sym COFFSymbol
		if err := unpackAt(d.s, off, COFFSymbolSize, EndianLittle, &sym); err != nil {
			break
		}
		if aux > 0 {
			aux--
			continue
		}
		name, err := sym.FullName(st)
		if err != nil {
			break
		}
		aux = sym.NumberOfAuxSymbols
		symbols = append(symbols, Symbol{
			Name:          name,
			Value:         sym.Value,
			SectionNumber: sym.SectionNumber,
			Type:          sym.Type,
			StorageClass:  sym.StorageClass,
		})
	}
	return symbols
}
