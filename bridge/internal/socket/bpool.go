package socket

import (
	"bytes"
	"sync"
)

// initialBufferSize is the Gateway Transport's fixed-size receive buffer
// per spec.md §4.6: 4 KiB, grown automatically by bytes.Buffer when a
// partial message requires reassembly across more than one underlying
// WebSocket frame.
const initialBufferSize = 4096

// bpool is a synchronized pool of reusable receive/send buffers.
var bpool sync.Pool

// get returns a buffer from the pool, pre-grown to the initial size.
func get() *bytes.Buffer {
	if b, ok := bpool.Get().(*bytes.Buffer); ok {
		return b
	}

	b := new(bytes.Buffer)
	b.Grow(initialBufferSize)

	return b
}

// put resets and returns a buffer to the pool.
func put(b *bytes.Buffer) {
	b.Reset()
	bpool.Put(b)
}
