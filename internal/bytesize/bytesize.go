// Package bytesize reads and prints the byte counts found in configuration
// files and CLI output ("128KiB", "1Mi", "4 MB", 65536).
package bytesize

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes. Binary suffixes (Ki, KiB, Mi...) multiply by
// 1024, decimal ones (K, KB, M...) by 1000.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = humanize.KByte
	MB ByteSize = humanize.MByte
	GB ByteSize = humanize.GByte

	KiB ByteSize = humanize.KiByte
	MiB ByteSize = humanize.MiByte
	GiB ByteSize = humanize.GiByte
	TiB ByteSize = humanize.TiByte
)

// ParseByteSize parses a human-readable size such as "1Mi" or "100 MB".
func ParseByteSize(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler. The output parses back to
// the same value for whole multiples of a binary unit.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.compact()), nil
}

// compact prints the largest binary unit that divides b exactly.
func (b ByteSize) compact() string {
	for _, u := range []struct {
		size ByteSize
		name string
	}{{TiB, "Ti"}, {GiB, "Gi"}, {MiB, "Mi"}, {KiB, "Ki"}} {
		if b >= u.size && b%u.size == 0 {
			return fmt.Sprintf("%d%s", b/u.size, u.name)
		}
	}
	return fmt.Sprintf("%d", uint64(b))
}

// String returns a rounded human-readable form such as "128 KiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Int64 returns b as an int64.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
