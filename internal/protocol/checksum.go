package protocol

// Checksum returns the control character of a line group. The group is the
// label, one space and the value exactly as transmitted, before coercion.
func Checksum(group string) byte {
	var sum int
	for _, r := range group {
		sum += int(r)
	}
	return byte(sum&0x3F) + 0x20
}

// ChecksumFor is Checksum over "label value".
func ChecksumFor(label, value string) byte {
	return Checksum(label + " " + value)
}
