package ebml

import "github.com/go-ebml/ebml/internal/ebmlerr"

// Sentinel errors, one per semantic error kind. Use errors.Is against
// these to classify a failure the way the design's error-kind table
// describes: ErrNoMatch is the only kind a caller is expected to
// recover from locally; the rest are fatal to the operation that
// raised them.
var (
	ErrNoMatch       = ebmlerr.ErrNoMatch
	ErrUnexpectedEOD = ebmlerr.ErrUnexpectedEOD
	ErrDecode        = ebmlerr.ErrDecode
	ErrEncode        = ebmlerr.ErrEncode
	ErrWrite         = ebmlerr.ErrWrite
	ErrResize        = ebmlerr.ErrResize
	ErrRead          = ebmlerr.ErrRead
)

func wrapf(kind ebmlerr.Kind, context string, cause error) error {
	return ebmlerr.Wrap(kind, context, cause)
}

func newErr(kind ebmlerr.Kind, context string) error {
	return ebmlerr.New(kind, context)
}
