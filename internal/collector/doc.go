// Package collector owns the read loop: meter lines in, frames out.
//
// Ownership boundary:
// - startup ordering (sink connect gate before the first read)
// - per-line error absorption
// - frame emission in stream order
//
// The loop is single threaded. A frame is written before the next line is
// read.
package collector
