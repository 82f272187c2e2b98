package binmap

import (
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxDepth      = 8
	DefaultRecordLimit   = 4096
	DefaultMaxMemberSize = 64 << 20
	DefaultMaxScanBytes  = 1 << 30
	defaultCacheEntries  = 16
	maxCachedMember      = 4 << 20
)

// Options tunes dispatch and archive handling. The zero value is usable.
type Options struct {
	// MaxDepth bounds how many containers Scan descends through.
	MaxDepth int
	// RecordLimit caps the records and children read from one archive.
	RecordLimit int
	// MaxMemberSize caps the bytes a single member may decompress to.
	MaxMemberSize int64
	// MaxScanBytes caps the decompressed bytes one Scan may expand in
	// total.
	MaxScanBytes int64
	Logger       logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.RecordLimit <= 0 {
		o.RecordLimit = DefaultRecordLimit
	}
	if o.MaxMemberSize <= 0 {
		o.MaxMemberSize = DefaultMaxMemberSize
	}
	if o.MaxScanBytes <= 0 {
		o.MaxScanBytes = DefaultMaxScanBytes
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}
