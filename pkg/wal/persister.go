package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Log errors
var (
	// ErrClosed is returned when operations are attempted on a closed log.
	ErrClosed = errors.New("log is closed")

	// ErrCorrupted is returned when a log file fails its header check.
	ErrCorrupted = errors.New("log file corrupted")

	// ErrVersionMismatch is returned when the log file version doesn't match.
	ErrVersionMismatch = errors.New("log file version mismatch")
)

// HeaderSize is the size of the fixed header at the start of every log file.
//
//	Header (16 bytes):
//	  - Magic: 4 bytes
//	  - Version: uint16
//	  - Endian marker: uint16 (0x0102 written in little-endian order)
//	  - Record size: uint32
//	  - Reserved: 4 bytes
const HeaderSize = 16

const endianMarker = uint16(0x0102)

// Format describes a fixed-record log file.
type Format struct {
	Magic      [4]byte
	Version    uint16
	RecordSize int
}

// Header returns the encoded header for f.
func (f Format) Header() []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:4], f.Magic[:])
	binary.LittleEndian.PutUint16(b[4:6], f.Version)
	binary.LittleEndian.PutUint16(b[6:8], endianMarker)
	binary.LittleEndian.PutUint32(b[8:12], uint32(f.RecordSize))
	return b
}

// Check validates an on-disk header against f.
func (f Format) Check(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: short header (%d bytes)", ErrCorrupted, len(b))
	}
	if string(b[0:4]) != string(f.Magic[:]) {
		return fmt.Errorf("%w: bad magic %q", ErrCorrupted, b[0:4])
	}
	if binary.LittleEndian.Uint16(b[6:8]) != endianMarker {
		return fmt.Errorf("%w: endianness marker mismatch", ErrCorrupted)
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != f.Version {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, v, f.Version)
	}
	if rs := binary.LittleEndian.Uint32(b[8:12]); int(rs) != f.RecordSize {
		return fmt.Errorf("%w: record size %d, want %d", ErrCorrupted, rs, f.RecordSize)
	}
	return nil
}
