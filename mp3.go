package binmap

import (
	"context"
	"fmt"

	"github.com/wanglei-coder/binmap/signature"
	"github.com/wanglei-coder/binmap/stream"
)

const (
	id3v2HeaderSize  = 10
	id3v2FlagFooter  = 0x10
	id3v1Size        = 128
	mp3HeaderSize    = 4
	mp3MaxFrames     = 1 << 20
	mpegVersion25    = 0
	mpegVersion2     = 2
	mpegVersion1     = 3
	mpegLayer3       = 1
	mpegLayer2       = 2
	mpegLayer1       = 3
	mpegBitrateFree  = 0
	mpegBitrateBad   = 15
	mpegSampleRateRe = 3
)

var (
	sigID3v2 = signature.MustCompile("'ID3'")
	sigID3v1 = signature.MustCompile("'TAG'")
)

// Bitrates in kbps indexed by the 4-bit bitrate field.
var (
	mpeg1Layer1Bitrates  = [16]int{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448}
	mpeg1Layer2Bitrates  = [16]int{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384}
	mpeg1Layer3Bitrates  = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	mpeg2Layer1Bitrates  = [16]int{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256}
	mpeg2Layer23Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}
)

var mpegSampleRates = map[uint32][3]int{
	mpegVersion1:  {44100, 48000, 32000},
	mpegVersion2:  {22050, 24000, 16000},
	mpegVersion25: {11025, 12000, 8000},
}

var mpegVersionNames = map[uint32]string{
	mpegVersion1:  "MPEG-1",
	mpegVersion2:  "MPEG-2",
	mpegVersion25: "MPEG-2.5",
}

// MP3Frame is a decoded MPEG audio frame header.
type MP3Frame struct {
	Version    uint32
	Layer      uint32
	Bitrate    int
	SampleRate int
	Padding    bool
	Length     int64
}

// parseMP3Frame decodes the 32-bit frame header h. ok is false for a bad
// sync word, reserved values, or a free-format bitrate.
func parseMP3Frame(h uint32) (f MP3Frame, ok bool) {
	if h>>21 != 0x7FF {
		return f, false
	}
	f.Version = (h >> 19) & 3
	f.Layer = (h >> 17) & 3
	bitrate := (h >> 12) & 0xF
	rate := (h >> 10) & 3
	f.Padding = (h>>9)&1 == 1
	if f.Version == 1 || f.Layer == 0 || bitrate == mpegBitrateFree || bitrate == mpegBitrateBad || rate == mpegSampleRateRe {
		return f, false
	}

	var table [16]int
	switch {
	case f.Version == mpegVersion1 && f.Layer == mpegLayer1:
		table = mpeg1Layer1Bitrates
	case f.Version == mpegVersion1 && f.Layer == mpegLayer2:
		table = mpeg1Layer2Bitrates
	case f.Version == mpegVersion1:
		table = mpeg1Layer3Bitrates
	case f.Layer == mpegLayer1:
		table = mpeg2Layer1Bitrates
	default:
		table = mpeg2Layer23Bitrates
	}
	f.Bitrate = table[bitrate]
	f.SampleRate = mpegSampleRates[f.Version][rate]
	f.Length = mp3FrameLength(f)
	return f, f.Length > 0
}

// mp3FrameLength is the byte length of a frame including its header.
func mp3FrameLength(f MP3Frame) int64 {
	var pad int64
	if f.Padding {
		pad = 1
	}
	br, sr := int64(f.Bitrate)*1000, int64(f.SampleRate)
	if sr == 0 {
		return 0
	}
	switch {
	case f.Layer == mpegLayer1:
		return (12*br/sr + pad) * 4
	case f.Layer == mpegLayer3 && f.Version != mpegVersion1:
		return 72*br/sr + pad
	}
	return 144*br/sr + pad
}

// MP3 decodes MPEG audio streams with optional ID3 tags.
type MP3 struct {
	base
}

func NewMP3(s *stream.Stream) *MP3 {
	return &MP3{base: base{s: s, endian: EndianBig}}
}

// ID3v2Size returns the size of a leading ID3v2 tag, or 0.
func (d *MP3) ID3v2Size() int64 {
	if !sigID3v2.Match(d.s, 0) || !d.s.Contains(0, id3v2HeaderSize) {
		return 0
	}
	var size int64
	for i := int64(6); i < 10; i++ {
		b := d.s.Uint8(i)
		if b&0x80 != 0 {
			return 0
		}
		size = size<<7 | int64(b)
	}
	size += id3v2HeaderSize
	if d.s.Uint8(5)&id3v2FlagFooter != 0 {
		size += id3v2HeaderSize
	}
	return size
}

// HasID3v1 reports whether the stream ends with a 128-byte ID3v1 tag.
func (d *MP3) HasID3v1() bool {
	return d.size() >= id3v1Size && sigID3v1.Match(d.s, d.size()-id3v1Size)
}

// audioEnd is where frame data must stop.
func (d *MP3) audioEnd() int64 {
	if d.HasID3v1() {
		return d.size() - id3v1Size
	}
	return d.size()
}

func (d *MP3) frameAt(off int64) (MP3Frame, bool) {
	if !d.s.Contains(off, mp3HeaderSize) {
		return MP3Frame{}, false
	}
	return parseMP3Frame(d.s.Uint32(off, true))
}

func (d *MP3) IsValid() bool {
	start := d.ID3v2Size()
	first, ok := d.frameAt(start)
	if !ok {
		return false
	}
	second, ok := d.frameAt(start + first.Length)
	return ok && second.Version == first.Version && second.Layer == first.Layer
}

func (d *MP3) FileType() FileType {
	return FileTypeMP3
}

// FirstFrame decodes the frame following any ID3v2 tag.
func (d *MP3) FirstFrame() (MP3Frame, bool) {
	return d.frameAt(d.ID3v2Size())
}

func (d *MP3) Header() []FieldValue {
	off := d.ID3v2Size()
	h := d.s.Uint32(off, true)
	field := func(name string, v uint32) FieldValue {
		return FieldValue{Field: Field{Name: name, Offset: off, Width: mp3HeaderSize}, Value: uint64(v)}
	}
	return []FieldValue{
		field("sync", h>>21),
		field("version", (h>>19)&3),
		field("layer", (h>>17)&3),
		field("protection", (h>>16)&1),
		field("bitrate_index", (h>>12)&0xF),
		field("frequency_index", (h>>10)&3),
		field("padding", (h>>9)&1),
		field("channel_mode", (h>>6)&3),
	}
}

// Frames walks consecutive frames from the first one, stopping at a header
// that does not decode or a frame running past the audio data.
func (d *MP3) Frames(ctx context.Context) []MP3Frame {
	var frames []MP3Frame
	end := d.audioEnd()
	for off := d.ID3v2Size(); off < end && len(frames) < mp3MaxFrames; {
		if cancelled(ctx) {
			break
		}
		f, ok := d.frameAt(off)
		if !ok || off+f.Length > end {
			break
		}
		frames = append(frames, f)
		off += f.Length
	}
	return frames
}

func (d *MP3) MemoryMap(ctx context.Context, mode MapMode) *MemoryMap {
	m := newMemoryMap(d, d.size())
	if !d.IsValid() {
		return m
	}
	off := d.ID3v2Size()
	m.addHeader("ID3v2", 0, -1, off)
	frames := d.Frames(ctx)
	for i, f := range frames {
		m.addFile(RegionFileSegment, fmt.Sprintf("frame%d", i), off, f.Length)
		off += f.Length
	}
	if first, ok := d.FirstFrame(); ok {
		m.TypeString = fmt.Sprintf("MP3 (%s layer %d, %d kbps, %d Hz, %d frames)",
			mpegVersionNames[first.Version], 4-first.Layer, first.Bitrate, first.SampleRate, len(frames))
	}
	if !d.HasID3v1() {
		m.addOverlay(off)
		return m
	}
	tag := d.audioEnd()
	if off < tag {
		m.addFile(RegionOverlay, "overlay", off, tag-off)
	}
	m.addFile(RegionFooter, "ID3v1", tag, id3v1Size)
	return m
}
