package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GetReturnsExactSize(t *testing.T) {
	p := New(4096)
	buf := p.Get()
	assert.Len(t, buf, 4096)
	assert.Equal(t, 4096, cap(buf))
	p.Put(buf)
	assert.Equal(t, 4096, p.Size())
}

func TestPool_PutIgnoresForeignBuffers(t *testing.T) {
	p := New(1024)
	p.Put(make([]byte, 512))
	p.Put(make([]byte, 10, 2048))
	p.Put(nil)

	buf := p.Get()
	assert.Len(t, buf, 1024)
}

func TestPool_PutRestoresLength(t *testing.T) {
	p := New(256)
	buf := p.Get()
	p.Put(buf[:10])

	// A recycled buffer may or may not come back, but it is always full length.
	assert.Len(t, p.Get(), 256)
}

func TestPool_Oversized(t *testing.T) {
	p := New(MaxPooledSize + 1)
	buf := p.Get()
	assert.Len(t, buf, MaxPooledSize+1)
	p.Put(buf)

	st := p.Stats()
	assert.Equal(t, int64(1), st.Gets)
	assert.Equal(t, int64(1), st.Allocs)
}

func TestPool_Stats(t *testing.T) {
	p := New(64)
	for range 5 {
		p.Put(p.Get())
	}
	st := p.Stats()
	assert.Equal(t, int64(5), st.Gets)
	assert.GreaterOrEqual(t, st.Allocs, int64(1))
	assert.LessOrEqual(t, st.Allocs, int64(5))
}

func TestNew_PanicsOnBadSize(t *testing.T) {
	assert.Panics(t, func() { New(0) })
	assert.Panics(t, func() { New(-1) })
}

func TestFor_SharesPoolsBySize(t *testing.T) {
	a := For(1 << 16)
	b := For(1 << 16)
	c := For(1 << 17)
	require.NotNil(t, a)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestPool_Concurrent(t *testing.T) {
	p := For(8192)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			for range 100 {
				buf := p.Get()
				buf[0] = seed
				buf[len(buf)-1] = seed
				if buf[0] != seed || buf[len(buf)-1] != seed {
					t.Error("buffer shared between goroutines")
				}
				p.Put(buf)
			}
		}(byte(i))
	}
	wg.Wait()
}
