// Package transport owns the byte stream coming from the meter.
//
// Ownership boundary:
// - serial port setup (symbol rate, 7-bit characters, read timeout)
// - line reads tolerant of read timeouts
// - initial frame synchronization
package transport
