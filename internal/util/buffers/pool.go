// Package buffers provides a reusable byte-buffer pool to avoid
// per-chunk heap allocation on the streaming hot path, adapted from the
// reference system's internal/util/buffers/pool.go. Unlike the
// reference's single fixed ChunkSize, a transfer's part size is chosen
// per-job (§4.C), so Pool is parametrized by size at construction time
// rather than hardcoded.
package buffers

import (
	"sync"
	"sync/atomic"
)

// Pool hands out []byte buffers of a fixed size, sized once per
// transfer to that transfer's chosen part size P.
type Pool struct {
	size        int
	allocations int64
	reuses      int64
	pool        sync.Pool
}

// NewPool returns a Pool whose Get always returns buffers of exactly
// size bytes.
func NewPool(size int) *Pool {
	return &Pool{size: size}
}

// Get retrieves a buffer of Pool's size with zeroed content (fresh
// allocations are zeroed, and Put clears returned buffers). The
// caller must return it via Put once the part it backs has been
// acknowledged by the Object-Store Client.
func (p *Pool) Get() *[]byte {
	if buf, ok := p.pool.Get().(*[]byte); ok {
		atomic.AddInt64(&p.reuses, 1)
		return buf
	}
	atomic.AddInt64(&p.allocations, 1)
	buf := make([]byte, p.size)
	return &buf
}

// Put returns buf to the pool. Buffers of the wrong size are dropped
// rather than pooled, so a Pool can't silently accumulate mismatched
// allocations if misused.
func (p *Pool) Put(buf *[]byte) {
	if buf == nil || len(*buf) != p.size {
		return
	}
	clear(*buf)
	p.pool.Put(buf)
}

// Stats reports allocation/reuse counters for monitoring.
type Stats struct {
	Size        int
	Allocations int64
	Reuses      int64
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:        p.size,
		Allocations: atomic.LoadInt64(&p.allocations),
		Reuses:      atomic.LoadInt64(&p.reuses),
	}
}
