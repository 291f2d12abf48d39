package pool

import (
	"fmt"
	"math/bits"
	"sync"
)

// Buffer is a pooled byte buffer. Call Release to return it to the pool.
type Buffer struct {
	b    []byte
	pool *sync.Pool
}

func (buf *Buffer) Bytes() []byte {
	return buf.b
}

func (buf *Buffer) Len() int {
	return len(buf.b)
}

// Release returns the buffer to its pool. The caller MUST NOT access
// the buffer after calling Release.
func (buf *Buffer) Release() {
	buf.pool.Put(buf)
}

// allocators[i] serves buffers of size (0, 2^i].
var allocators = initAllocators()

func initAllocators() []*sync.Pool {
	pools := make([]*sync.Pool, 17) // up to 64KiB pooled
	for i := range pools {
		size := 1 << i
		pool := new(sync.Pool)
		pool.New = func() interface{} {
			return &Buffer{
				b:    make([]byte, size),
				pool: pool,
			}
		}
		pools[i] = pool
	}
	return pools
}

// GetBuf returns a *Buffer of exactly size bytes. The caller MUST call
// Buffer.Release after use. Sizes beyond the pooled range fall back to
// plain allocation.
func GetBuf(size int) *Buffer {
	if size <= 0 {
		panic(fmt.Sprintf("invalid buffer size %d", size))
	}

	i := bits.Len(uint(size - 1))
	if i >= len(allocators) {
		pool := new(sync.Pool)
		return &Buffer{b: make([]byte, size), pool: pool}
	}

	buf := allocators[i].Get().(*Buffer)
	buf.b = buf.b[:size]
	return buf
}
