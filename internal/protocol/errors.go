package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedLine    = errors.New("protocol: malformed line")
	ErrTypeCoercion     = errors.New("protocol: type coercion failed")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrEmptyLine        = errors.New("protocol: empty line")
)

// LineError ties a line-level failure to the tokens that caused it.
type LineError struct {
	Err   error
	Label string
	Value string
	Raw   string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%v label=%q value=%q", e.Err, e.Label, e.Value)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
