package binmap

import (
	"encoding/binary"

	"github.com/lunixbochs/struc"

	"github.com/wanglei-coder/binmap/stream"
)

// unpackAt decodes a fixed-size directory entry at offset into v using the
// struc field layout of v. The entry must lie inside s.
func unpackAt(s *stream.Stream, offset, size int64, order Endian, v interface{}) error {
	if !s.Contains(offset, size) {
		return ErrOutsideBoundary
	}
	var bo binary.ByteOrder = binary.LittleEndian
	if order.IsBig() {
		bo = binary.BigEndian
	}
	return struc.UnpackWithOrder(s.SectionReader(offset, size), v, bo)
}
