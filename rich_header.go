package binmap

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

const (
	RichSignature = "Rich"
	DansSignature = 0x536E6144 // DanS
)

// RichHeader is the linker footprint between the DOS stub and the PE
// header.
type RichHeader struct {
	XorKey     uint32
	CompIDs    []CompID
	DansOffset int64
	Raw        []byte
}

type CompID struct {
	MinorCV  uint16
	ProdID   uint16
	Count    uint32
	Unmasked uint32
}

// Size is the length of the header including the Rich marker and key.
func (rh *RichHeader) Size() int64 {
	return int64(len(rh.Raw))
}

// RichHeader decodes the Rich header, or returns nil when the stub has
// none.
func (d *PE) RichHeader() *RichHeader {
	if d.hdr <= dosHeaderSize {
		return nil
	}
	stubData := d.s.Bytes(0, d.hdr)
	richSigOffset := int64(bytes.Index(stubData, []byte(RichSignature)))
	if richSigOffset < dosHeaderSize || !d.s.Contains(richSigOffset+4, 4) {
		return nil
	}

	var rh RichHeader
	rh.XorKey = d.s.Uint32(richSigOffset+4, false)

	var decRichHeader []uint32
	dansSigOffset := int64(-1)
	for off := richSigOffset - 4; off >= dosHeaderSize; off -= 4 {
		res := d.s.Uint32(off, false) ^ rh.XorKey
		if res == DansSignature {
			dansSigOffset = off
			break
		}
		decRichHeader = append(decRichHeader, res)
	}
	if dansSigOffset < 0 {
		return nil
	}

	rh.DansOffset = dansSigOffset
	rh.Raw = d.s.Bytes(dansSigOffset, richSigOffset+8-dansSigOffset)

	for i, j := 0, len(decRichHeader)-1; i < j; i, j = i+1, j-1 {
		decRichHeader[i], decRichHeader[j] = decRichHeader[j], decRichHeader[i]
	}

	// three padding dwords follow DanS
	lenCompIDs := len(decRichHeader)
	if (lenCompIDs-3)%2 != 0 {
		lenCompIDs--
	}
	for i := 3; i < lenCompIDs; i += 2 {
		rh.CompIDs = append(rh.CompIDs, CompID{
			MinorCV:  uint16(decRichHeader[i]),
			ProdID:   uint16(decRichHeader[i] >> 16),
			Count:    decRichHeader[i+1],
			Unmasked: decRichHeader[i],
		})
	}
	return &rh
}

// RichHeaderChecksum recomputes the checksum the linker used as XOR key.
func (d *PE) RichHeaderChecksum() uint32 {
	rh := d.RichHeader()
	if rh == nil {
		return 0
	}

	checksum := uint32(rh.DansOffset)

	// DOS header bytes rotated left by their position, skipping e_lfanew.
	for i := int64(0); i < rh.DansOffset; i++ {
		if i >= 0x3C && i < 0x40 {
			continue
		}
		b := uint32(d.s.Uint8(i))
		checksum += b<<(i%32) | b>>(32-(i%32))
	}

	// Each entry combined with its build number and rotated by its count.
	for _, compID := range rh.CompIDs {
		checksum += compID.Unmasked<<(compID.Count%32) | compID.Unmasked>>(32-(compID.Count%32))
	}

	return checksum
}

// RichHeaderHash is the MD5 of the decoded header up to the Rich marker.
func (d *PE) RichHeaderHash() string {
	rh := d.RichHeader()
	if rh == nil {
		return ""
	}
	richIndex := bytes.Index(rh.Raw, []byte(RichSignature))
	if richIndex == -1 {
		return ""
	}

	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, rh.XorKey)

	rawData := rh.Raw[:richIndex]
	clearData := make([]byte, len(rawData))
	for idx, val := range rawData {
		clearData[idx] = val ^ key[idx%len(key)]
	}
	return fmt.Sprintf("%x", md5.Sum(clearData))
}
