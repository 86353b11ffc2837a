package protocol

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

const (
	FrameStart byte = 0x02
	FrameEnd   byte = 0x03
)

// Line is one tokenized teleinfo line.
type Line struct {
	Label    string
	Value    string
	Checksum string
	HasStart bool
	HasEnd   bool
	Raw      []byte
}

// Group is the checksummed part of the line.
func (l Line) Group() string {
	return l.Label + " " + l.Value
}

// Expected returns the checksum character derived from the line contents.
func (l Line) Expected() byte {
	return Checksum(l.Group())
}

// ChecksumValid reports whether the transmitted control character matches.
func (l Line) ChecksumValid() bool {
	return len(l.Checksum) == 1 && l.Checksum[0] == l.Expected()
}

// ParseLine splits raw into label, value and checksum. Frame markers may sit
// anywhere in raw; they are recorded on the Line and removed before splitting.
// The checksum character can itself be a space, so at most three fields are
// split off.
func ParseLine(raw []byte) (Line, error) {
	line := Line{
		Raw:      raw,
		HasStart: bytes.IndexByte(raw, FrameStart) >= 0,
		HasEnd:   bytes.IndexByte(raw, FrameEnd) >= 0,
	}

	clean := stripMarkers(raw)
	if !utf8.Valid(clean) {
		return line, &LineError{Err: ErrMalformedLine, Raw: string(raw)}
	}
	text := strings.TrimRight(string(clean), "\r\n")
	if strings.TrimSpace(text) == "" {
		return line, ErrEmptyLine
	}

	parts := strings.SplitN(text, " ", 3)
	if len(parts) < 3 || parts[0] == "" || parts[2] == "" {
		lerr := &LineError{Err: ErrMalformedLine, Label: parts[0], Raw: text}
		if len(parts) > 1 {
			lerr.Value = parts[1]
		}
		return line, lerr
	}
	line.Label = parts[0]
	line.Value = parts[1]
	line.Checksum = parts[2]
	// Trailing padding after the checksum character is ignored.
	if len(line.Checksum) > 1 && strings.TrimSpace(line.Checksum[1:]) == "" {
		line.Checksum = line.Checksum[:1]
	}
	return line, nil
}

func stripMarkers(raw []byte) []byte {
	if bytes.IndexByte(raw, FrameStart) < 0 && bytes.IndexByte(raw, FrameEnd) < 0 {
		return raw
	}
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b == FrameStart || b == FrameEnd {
			continue
		}
		out = append(out, b)
	}
	return out
}
