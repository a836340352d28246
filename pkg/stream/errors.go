package stream

import (
	stderrors "errors"

	"github.com/pingcap/errors"
)

// ErrEndOfStream is raised when a read requests bytes beyond the stream's
// recorded payload size (spec section 7: end_of_stream).
var ErrEndOfStream = errors.New("stream: end of stream")

// FormatError reports a malformed or rejected stream header (spec section
// 7: stream_format_error).
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "stream: " + e.Reason }

func newFormatError(reason string) error {
	return errors.Trace(&FormatError{Reason: reason})
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return stderrors.As(err, &fe)
}
