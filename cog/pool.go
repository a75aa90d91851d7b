package cog

import (
	"bytes"
	"sync"
)

// Buffer pools for compressed block bytes and decompression output, which
// are allocated once per decoded tile otherwise.

const (
	smallBufferSize  = 64 * 1024       // 64KB
	mediumBufferSize = 256 * 1024      // 256KB
	largeBufferSize  = 1024 * 1024     // 1MB
	xlargeBufferSize = 4 * 1024 * 1024 // 4MB
)

var bufferClasses = []struct {
	size int
	pool *sync.Pool
}{
	{smallBufferSize, newSlicePool(smallBufferSize)},
	{mediumBufferSize, newSlicePool(mediumBufferSize)},
	{largeBufferSize, newSlicePool(largeBufferSize)},
	{xlargeBufferSize, newSlicePool(xlargeBufferSize)},
}

func newSlicePool(size int) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

// getBuffer returns a byte slice of length size, pooled when size fits one
// of the size classes. Return it with putBuffer.
func getBuffer(size int) []byte {
	for _, c := range bufferClasses {
		if size <= c.size {
			return (*c.pool.Get().(*[]byte))[:size]
		}
	}
	return make([]byte, size)
}

// putBuffer returns a buffer obtained from getBuffer. Buffers of other
// capacities are dropped.
func putBuffer(buf []byte) {
	buf = buf[:cap(buf)]
	for _, c := range bufferClasses {
		if len(buf) == c.size {
			c.pool.Put(&buf)
			return
		}
	}
}

var bytesBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBytesBuffer() *bytes.Buffer {
	buf := bytesBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBytesBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > xlargeBufferSize {
		return
	}
	bytesBufferPool.Put(buf)
}
