package binmap

import "github.com/pkg/errors"

var (
	ErrNotValid           = errors.New("stream does not match the format")
	ErrOutsideBoundary    = errors.New("reading data outside boundary")
	ErrUnsupportedMethod  = errors.New("unsupported compression method")
	ErrMemberTooLarge     = errors.New("member exceeds the decompression limit")
	ErrDepthExceeded      = errors.New("nesting depth exceeded")
	ErrScanBudgetExceeded = errors.New("scan exceeded its decompression budget")
)
