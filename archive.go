package binmap

import (
	"context"
	"io"
	"iter"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"

	"github.com/wanglei-coder/binmap/stream"
)

// Record is one member of an archive, in container order.
type Record struct {
	FileName         string `json:"file_name" yaml:"file_name"`
	HeaderOffset     int64  `json:"header_offset" yaml:"header_offset"`
	HeaderSize       int64  `json:"header_size" yaml:"header_size"`
	DataOffset       int64  `json:"data_offset" yaml:"data_offset"`
	CompressedSize   int64  `json:"compressed_size" yaml:"compressed_size"`
	UncompressedSize int64  `json:"uncompressed_size" yaml:"uncompressed_size"`
	Method           uint16 `json:"method" yaml:"method"`
	MethodName       string `json:"method_name" yaml:"method_name"`
}

// Archive is implemented by container formats whose members can be listed
// and decompressed.
type Archive interface {
	Detector
	Records(ctx context.Context, limit int) []Record
	Decompress(rec Record) ([]byte, error)
}

// archive holds the decompression policy shared by archive detectors.
type archive struct {
	maxMember int64
	cache     *lru.Cache[int64, []byte]
}

func (a *archive) configure(opts Options) {
	opts = opts.withDefaults()
	a.maxMember = opts.MaxMemberSize
}

func (a *archive) limit() int64 {
	if a.maxMember <= 0 {
		return DefaultMaxMemberSize
	}
	return a.maxMember
}

// memoize returns the cached member at key or fills it with fill. Members
// over maxCachedMember are returned without being cached.
func (a *archive) memoize(key int64, fill func() ([]byte, error)) ([]byte, error) {
	if a.cache == nil {
		a.cache, _ = lru.New[int64, []byte](defaultCacheEntries)
	}
	if data, ok := a.cache.Get(key); ok {
		return data, nil
	}
	data, err := fill()
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= maxCachedMember {
		a.cache.Add(key, data)
	}
	return data, nil
}

// readCapped reads r to the end, failing once more than max bytes arrive.
func readCapped(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress member")
	}
	if int64(len(data)) > max {
		return nil, errors.Wrapf(ErrMemberTooLarge, "limit %d bytes", max)
	}
	return data, nil
}

// storedData copies a member that is kept uncompressed.
func (a *archive) storedData(s *stream.Stream, rec Record) ([]byte, error) {
	if rec.CompressedSize > a.limit() {
		return nil, errors.Wrapf(ErrMemberTooLarge, "%s is %d bytes", rec.FileName, rec.CompressedSize)
	}
	if !s.Contains(rec.DataOffset, rec.CompressedSize) {
		return nil, errors.Wrapf(ErrOutsideBoundary, "%s data at %#x", rec.FileName, rec.DataOffset)
	}
	return s.Bytes(rec.DataOffset, rec.CompressedSize), nil
}

// decodeName converts a member name. Names that are not valid UTF-8 are
// taken as CP437, the DOS code page archivers historically used.
func decodeName(b []byte, utf8Flag bool) string {
	if utf8Flag || utf8.Valid(b) {
		return string(b)
	}
	name, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(name)
}

// archiveChildren decompresses up to limit members, one per yield. Members
// that fail to decompress are skipped.
func archiveChildren(ctx context.Context, a Archive, limit int) iter.Seq[Child] {
	return func(yield func(Child) bool) {
		for _, rec := range a.Records(ctx, limit) {
			if cancelled(ctx) {
				return
			}
			if rec.UncompressedSize == 0 && rec.CompressedSize == 0 {
				continue
			}
			data, err := a.Decompress(rec)
			if err != nil {
				continue
			}
			if !yield(Child{Name: rec.FileName, Stream: stream.FromBytes(data)}) {
				return
			}
		}
	}
}
