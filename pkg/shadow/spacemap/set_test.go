package spacemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	Ki = int64(1024)
	Mi = 1024 * Ki
)

func TestSet_Remove(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
		want       []Range
	}{
		{"truncate head", 0, 10, []Range{{10, 100}}},
		{"truncate tail", 90, 200, []Range{{0, 90}}},
		{"delete whole", 0, 100, []Range{}},
		{"delete superset", -5, 500, []Range{}},
		{"split inside", 10, 20, []Range{{0, 10}, {20, 100}}},
		{"outside", 100, 200, []Range{{0, 100}}},
		{"empty span", 50, 50, []Range{{0, 100}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSet()
			s.Insert(0, 100)
			s.Remove(tt.start, tt.end)
			assert.Equal(t, tt.want, s.Ranges())
		})
	}
}

func TestSet_RemoveAcrossRanges(t *testing.T) {
	s := NewSet()
	s.Insert(0, 10)
	s.Insert(20, 30)
	s.Insert(40, 50)

	assert.True(t, s.Remove(5, 45))
	assert.Equal(t, []Range{{0, 5}, {45, 50}}, s.Ranges())
	assert.False(t, s.Remove(10, 40))
}

func TestSet_InsertMerges(t *testing.T) {
	s := NewSet()
	s.Insert(0, 10)
	s.Insert(20, 30)
	s.Insert(10, 20)
	assert.Equal(t, []Range{{0, 30}}, s.Ranges())

	s.Insert(25, 40)
	s.Insert(50, 60)
	assert.Equal(t, []Range{{0, 40}, {50, 60}}, s.Ranges())
	assert.EqualValues(t, 50, s.Bytes())
}

func TestSet_LookupOverlap(t *testing.T) {
	s := NewSet()
	s.Insert(10, 20)
	s.Insert(30, 40)

	r, ok := s.LookupOverlap(0, 100)
	assert.True(t, ok)
	assert.Equal(t, Range{10, 20}, r)

	r, ok = s.LookupOverlap(15, 35)
	assert.True(t, ok)
	assert.Equal(t, Range{10, 20}, r)

	r, ok = s.LookupOverlap(20, 35)
	assert.True(t, ok)
	assert.Equal(t, Range{30, 40}, r)

	_, ok = s.LookupOverlap(20, 30)
	assert.False(t, ok)
	_, ok = s.LookupOverlap(40, 100)
	assert.False(t, ok)
	_, ok = s.LookupOverlap(15, 15)
	assert.False(t, ok)
}

func TestSet_EmptyAfterRemovingEverything(t *testing.T) {
	s := NewSet()
	s.Insert(0, 10*Mi)
	for off := int64(0); off < 10*Mi; off += 128 * Ki {
		s.Remove(off, off+128*Ki)
	}
	assert.True(t, s.Empty())
	_, ok := s.LookupOverlap(0, 10*Mi)
	assert.False(t, ok)
}

func TestSet_TenMegabyteScenario(t *testing.T) {
	s := NewSet()
	s.Insert(0, 10*Mi)

	s.Remove(0, 128*Ki)
	s.Remove(128*Ki, 256*Ki)
	assert.Equal(t, []Range{{256 * Ki, 10 * Mi}}, s.Ranges())

	s.Remove(5*Mi, 6*Mi)
	assert.Equal(t, []Range{{256 * Ki, 5 * Mi}, {6 * Mi, 10 * Mi}}, s.Ranges())
}
