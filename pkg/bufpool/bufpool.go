// Package bufpool recycles the fixed-size buffers used to copy file data
// chunk by chunk.
//
// Every engine copies in units of its chunk size, and several engines in
// one process usually share a size, so pools are kept per size and shared:
//
//	p := bufpool.For(chunk)
//	buf := p.Get()
//	defer p.Put(buf)
//
// All operations are safe for concurrent use.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// MaxPooledSize is the largest buffer kept for reuse. Larger buffers are
// allocated on every Get and dropped on Put.
const MaxPooledSize = 16 << 20

// Pool hands out buffers of exactly Size bytes.
type Pool struct {
	size int
	pool sync.Pool

	gets   atomic.Int64
	allocs atomic.Int64
}

// Stats counts pool activity.
type Stats struct {
	Gets   int64
	Allocs int64
}

// New creates a pool of size-byte buffers. size must be positive.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: non-positive buffer size")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		p.allocs.Add(1)
		buf := make([]byte, p.size)
		return &buf
	}
	return p
}

// Size returns the length of the buffers handed out.
func (p *Pool) Size() int { return p.size }

// Get returns a buffer of Size bytes. Its contents are undefined.
func (p *Pool) Get() []byte {
	p.gets.Add(1)
	if p.size > MaxPooledSize {
		p.allocs.Add(1)
		return make([]byte, p.size)
	}
	return *p.pool.Get().(*[]byte)
}

// Put returns buf for reuse. Buffers that did not come from this pool are
// ignored.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size || p.size > MaxPooledSize {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Stats returns the number of Get calls and of buffers allocated.
func (p *Pool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Allocs: p.allocs.Load()}
}

var shared sync.Map // int -> *Pool

// For returns the process-wide pool for size-byte buffers.
func For(size int) *Pool {
	if p, ok := shared.Load(size); ok {
		return p.(*Pool)
	}
	p, _ := shared.LoadOrStore(size, New(size))
	return p.(*Pool)
}
