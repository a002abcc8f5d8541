package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"65536", 64 * KiB},
		{"128KiB", 128 * KiB},
		{"1Mi", MiB},
		{"1 MiB", MiB},
		{"4MB", 4 * MB},
		{"2k", 2 * KB},
		{"1.5GiB", GiB + GiB/2},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12 parsecs"} {
		_, err := ParseByteSize(in)
		assert.Error(t, err, in)
	}
}

func TestByteSize_TextRoundTrip(t *testing.T) {
	for _, b := range []ByteSize{0, 512, 128 * KiB, 3 * MiB, 2 * GiB, 1000} {
		text, err := b.MarshalText()
		require.NoError(t, err)
		var got ByteSize
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, b, got, string(text))
	}

	text, _ := (128 * KiB).MarshalText()
	assert.Equal(t, "128Ki", string(text))
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "128 KiB", (128 * KiB).String())
	assert.Equal(t, "10 B", ByteSize(10).String())
	assert.Equal(t, int64(MiB), MiB.Int64())
}
