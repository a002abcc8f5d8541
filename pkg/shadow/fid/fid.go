// Package fid implements the bounded-length opaque object identity used by the
// shadow migration engine to name objects within one filesystem instance.
package fid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// MaxSize is the maximum number of identity bytes a FID can carry.
const MaxSize = 64

// EncodedSize is the size of a FID in its fixed on-disk form:
// a little-endian uint16 length followed by MaxSize bytes.
const EncodedSize = 2 + MaxSize

var (
	// ErrTooLong is returned when a handle exceeds MaxSize.
	ErrTooLong = errors.New("fid: handle exceeds maximum size")

	// ErrShortBuffer is returned when decoding from fewer than EncodedSize bytes.
	ErrShortBuffer = errors.New("fid: short buffer")
)

// FID is a length-prefixed byte array with a declared maximum capacity.
// The zero value is the empty handle. FIDs are comparable and can be used as
// map keys.
type FID struct {
	n    uint16
	data [MaxSize]byte
}

// New copies b into a FID.
func New(b []byte) (FID, error) {
	var f FID
	if len(b) > MaxSize {
		return f, ErrTooLong
	}
	f.n = uint16(len(b))
	copy(f.data[:], b)
	return f, nil
}

// MustNew is like New but panics on oversized input. Intended for tests and
// constants.
func MustNew(b []byte) FID {
	f, err := New(b)
	if err != nil {
		panic(err)
	}
	return f
}

// FromUint64s builds a FID from a sequence of integers, each encoded as 8
// little-endian bytes. Used by collaborators whose identity is (dev, ino) or
// similar.
func FromUint64s(vals ...uint64) FID {
	var f FID
	for _, v := range vals {
		if int(f.n)+8 > MaxSize {
			break
		}
		binary.LittleEndian.PutUint64(f.data[f.n:], v)
		f.n += 8
	}
	return f
}

// Len returns the number of identity bytes.
func (f FID) Len() int { return int(f.n) }

// IsZero reports whether f is the empty handle.
func (f FID) IsZero() bool { return f.n == 0 }

// Bytes returns a copy of the identity bytes.
func (f FID) Bytes() []byte {
	out := make([]byte, f.n)
	copy(out, f.data[:f.n])
	return out
}

// Hex returns the lowercase hexadecimal form used in file names.
func (f FID) Hex() string {
	return hex.EncodeToString(f.data[:f.n])
}

// String implements fmt.Stringer.
func (f FID) String() string {
	if f.n == 0 {
		return "<nil>"
	}
	return f.Hex()
}

// ParseHex parses the output of Hex.
func ParseHex(s string) (FID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return FID{}, fmt.Errorf("fid: invalid hex handle %q: %w", s, err)
	}
	return New(b)
}

// Encode writes the fixed-size form of f into dst, which must hold at least
// EncodedSize bytes.
func (f FID) Encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], f.n)
	copy(dst[2:EncodedSize], f.data[:])
}

// Decode reads a FID in fixed-size form, validating the length prefix.
func Decode(src []byte) (FID, error) {
	var f FID
	if len(src) < EncodedSize {
		return f, ErrShortBuffer
	}
	n := binary.LittleEndian.Uint16(src[0:2])
	if n > MaxSize {
		return f, ErrTooLong
	}
	f.n = n
	copy(f.data[:n], src[2:2+int(n)])
	return f, nil
}
