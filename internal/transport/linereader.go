package transport

import (
	"bytes"
	"errors"
	"io"
)

// MaxLineLen bounds a single line. Teleinfo lines are a few dozen bytes; a
// longer run without a line break is noise and is returned as is.
const MaxLineLen = 512

var ErrClosed = errors.New("transport: line reader closed")

// LineReader reads line-break terminated chunks from a timed reader. A
// serial port returns (0, nil) when its read timeout expires; the partial
// line read so far is then returned, possibly empty, like a timed readline.
type LineReader struct {
	r   io.Reader
	buf []byte
	tmp []byte
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, tmp: make([]byte, 64)}
}

// ReadLine returns the next line including its line break and any
// embedded control bytes. io.EOF is only returned once buffered data is
// drained.
func (lr *LineReader) ReadLine() ([]byte, error) {
	if lr.r == nil {
		return nil, ErrClosed
	}
	for {
		if i := bytes.IndexByte(lr.buf, '\n'); i >= 0 {
			return lr.take(i + 1), nil
		}
		if len(lr.buf) >= MaxLineLen {
			return lr.take(len(lr.buf)), nil
		}
		n, err := lr.r.Read(lr.tmp)
		if n > 0 {
			lr.buf = append(lr.buf, lr.tmp[:n]...)
			continue
		}
		if err != nil {
			if len(lr.buf) > 0 && errors.Is(err, io.EOF) {
				return lr.take(len(lr.buf)), nil
			}
			return nil, err
		}
		return lr.take(len(lr.buf)), nil
	}
}

func (lr *LineReader) take(n int) []byte {
	line := make([]byte, n)
	copy(line, lr.buf[:n])
	lr.buf = append(lr.buf[:0], lr.buf[n:]...)
	return line
}
