// Package bencode implements the canonical bencode encoding used for torrent
// metadata and fast-resume data.
//
// Decoded values use a fixed set of Go types:
//
//	integer      int64, or *big.Int when the value does not fit in 64 bits
//	byte string  []byte
//	list         []any
//	dictionary   map[string]any (keys hold raw bytes)
package bencode

import (
	"fmt"
)

// SyntaxError reports malformed bencode input.
type SyntaxError struct {
	Offset int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Reason, e.Offset)
}

// RawMessage is an already encoded value. Encode writes it verbatim, which lets
// callers splice an info section back in without re-encoding it.
type RawMessage []byte

// UnsupportedTypeError is returned by Encode for values outside the bencode domain.
type UnsupportedTypeError struct {
	Value any
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("bencode: unsupported type %T", e.Value)
}
