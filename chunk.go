/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream

import (
	"github.com/valyala/bytebufferpool"
	"go.uber.org/atomic"
)

// Chunk is one exclusively owned block of received body bytes with a read cursor.
// Ownership moves transport -> Bridge -> Stream; whoever holds the chunk last must call
// Release to return the backing buffer to the pool. A chunk is never shared between owners,
// only the release state may be observed from another goroutine.
type Chunk struct {
	buf      *bytebufferpool.ByteBuffer
	off      int
	released atomic.Bool
}

// NewChunk copies b into a pooled buffer and returns a chunk owning it.
func NewChunk(b []byte) *Chunk {
	buf := bytebufferpool.Get()
	buf.Write(b) //nolint:errcheck // ByteBuffer.Write never fails
	return &Chunk{buf: buf}
}

// Len returns the number of unread bytes left in the chunk.
func (c *Chunk) Len() int {
	if c.released.Load() {
		return 0
	}
	return len(c.buf.B) - c.off
}

// ReadInto copies up to len(dst) unread bytes into dst, advances the read cursor
// and returns the number of bytes copied.
func (c *Chunk) ReadInto(dst []byte) int {
	if c.released.Load() {
		return 0
	}
	n := copy(dst, c.buf.B[c.off:])
	c.off += n
	return n
}

// Released reports whether the backing buffer was already returned to the pool.
func (c *Chunk) Released() bool {
	return c.released.Load()
}

// Release returns the backing buffer to the pool. Calling it again is a no-op.
func (c *Chunk) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	buf := c.buf
	c.buf = nil
	bytebufferpool.Put(buf)
}
