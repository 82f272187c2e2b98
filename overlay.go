package binmap

type largestOffsetAndSize struct {
	offset, size int64
}

// overlayStart returns the end of the furthest structure the headers account
// for: optional header, section data, the COFF symbol and string tables and
// data directories other than the certificate table, which by convention
// lives in the overlay. It returns 0 when nothing lies past that point.
func (d *PE) overlayStart(sections []Section) int64 {
	if !d.optionalHeaderSane() {
		return 0
	}
	size := d.size()
	var largest largestOffsetAndSize
	update := func(c largestOffsetAndSize) {
		sum := c.offset + c.size
		if c.offset >= 0 && sum <= size && sum > largest.offset+largest.size {
			largest = c
		}
	}

	update(largestOffsetAndSize{
		offset: d.optionalHeaderOffset(),
		size:   int64(d.SizeOfOptionalHeader()),
	})

	for _, section := range sections {
		update(largestOffsetAndSize{
			offset: int64(section.Offset),
			size:   int64(section.Size),
		})
	}

	for idx, directory := range d.DataDirectories() {
		if idx == ImageDirectoryEntrySecurity || directory.Size == 0 {
			continue
		}
		update(largestOffsetAndSize{
			offset: d.rvaToOffset(directory.VirtualAddress, sections),
			size:   int64(directory.Size),
		})
	}

	symbols, names := d.coffTables()
	update(symbols)
	update(names)

	if size-largest.size > largest.offset {
		return largest.offset + largest.size
	}
	return 0
}
