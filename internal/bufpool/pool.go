// Package bufpool recycles byte buffers: a sync.Pool per shape, reset on
// Put so a reused buffer never leaks a prior caller's bytes.
package bufpool

import (
	"bytes"
	"sync"
)

// BytesPool hands out byte slices of a fixed capacity.
type BytesPool struct {
	pool *sync.Pool
	size int
}

// NewBytesPool returns a BytesPool whose Get returns slices of length size.
func NewBytesPool(size int) *BytesPool {
	return &BytesPool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a slice of the pool's configured size.
func (p *BytesPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put zeroes b and returns it to the pool. b must have been obtained from
// Get (or have the same capacity); mismatched capacities are dropped
// rather than pooled.
func (p *BytesPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	clear(b)
	p.pool.Put(b)
}

// BufferPool hands out reset *bytes.Buffer values.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool returns an empty BufferPool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get returns an empty *bytes.Buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets buf and returns it to the pool.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	p.pool.Put(buf)
}
