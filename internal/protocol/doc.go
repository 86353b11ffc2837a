// Package protocol owns the teleinfo line contract and parsing primitives.
//
// Ownership boundary:
// - control byte markers (frame start/end)
// - checksum derivation
// - line tokenizing
// - label classification and value coercion
package protocol
