package protocol

// Decoded is a tokenized, coerced and checksum-checked line.
type Decoded struct {
	Line       Line
	Value      Value
	ChecksumOK bool
}

// Decode runs a raw line through tokenizing, coercion and checksum checks.
// A checksum mismatch is not an error: it is reported through ChecksumOK so
// the caller still records the field. Exempt labels always pass.
func (l Labels) Decode(raw []byte) (Decoded, error) {
	line, err := ParseLine(raw)
	if err != nil {
		return Decoded{Line: line}, err
	}
	value, err := l.Coerce(line.Label, line.Value)
	if err != nil {
		if lerr, ok := err.(*LineError); ok {
			lerr.Raw = string(raw)
		}
		return Decoded{Line: line}, err
	}
	return Decoded{
		Line:       line,
		Value:      value,
		ChecksumOK: line.ChecksumValid() || l.IsChecksumExempt(line.Label),
	}, nil
}
