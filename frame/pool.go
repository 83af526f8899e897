package frame

import (
	"sync"
	"sync/atomic"
)

// BufferPool recycles byte slices used to encode messages, so that a frame
// loop does not allocate a fresh wire buffer every frame.
type BufferPool struct {
	pools     []*sync.Pool
	allocs    atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	oversized atomic.Int64
}

// poolSizes are the discrete capacities handed out by the pool. They cover
// depth or color planes from thumbnails up to 2K RGBA frames.
var poolSizes = []int{
	64 << 10,
	256 << 10,
	1 << 20,
	4 << 20,
	16 << 20,
}

var defaultPool = NewBufferPool()

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	p := &BufferPool{pools: make([]*sync.Pool, len(poolSizes))}
	for i := range poolSizes {
		p.pools[i] = &sync.Pool{}
	}
	return p
}

func poolIndex(size int) int {
	for i, s := range poolSizes {
		if size <= s {
			return i
		}
	}
	return -1
}

// Get returns a zero-length slice with capacity of at least size.
func (p *BufferPool) Get(size int) []byte {
	p.allocs.Add(1)
	idx := poolIndex(size)
	if idx < 0 {
		p.oversized.Add(1)
		return make([]byte, 0, size)
	}
	if v := p.pools[idx].Get(); v != nil {
		p.hits.Add(1)
		return (*v.(*[]byte))[:0]
	}
	p.misses.Add(1)
	return make([]byte, 0, poolSizes[idx])
}

// Put returns a slice obtained from Get. Slices whose capacity is not one
// of the pool sizes are dropped.
func (p *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	idx := poolIndex(cap(buf))
	if idx < 0 || cap(buf) != poolSizes[idx] {
		return
	}
	buf = buf[:0]
	p.pools[idx].Put(&buf)
}

// Stats returns (allocations, hits, misses); oversized requests count as
// allocations only.
func (p *BufferPool) Stats() (allocs, hits, misses int64) {
	return p.allocs.Load(), p.hits.Load(), p.misses.Load()
}

// GetBuffer takes a slice from the default pool.
func GetBuffer(size int) []byte {
	return defaultPool.Get(size)
}

// PutBuffer returns a slice to the default pool.
func PutBuffer(buf []byte) {
	defaultPool.Put(buf)
}
