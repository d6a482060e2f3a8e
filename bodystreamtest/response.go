/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystreamtest

import (
	"net/http"
	"sync"
)

// Connection is a fake bodystream.Connection that records force-closes.
type Connection struct {
	mu         sync.Mutex
	open       bool
	closeCalls int
}

// IsOpen implements bodystream.Connection.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close implements bodystream.Connection.
func (c *Connection) Close() {
	c.mu.Lock()
	c.open = false
	c.closeCalls++
	c.mu.Unlock()
}

// CloseCalls returns how many times Close was called.
func (c *Connection) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// ResponseWriter is a fake bodystream.ResponseWriter that records everything written to it.
type ResponseWriter struct {
	mu            sync.Mutex
	statusCode    int
	header        http.Header
	continueCalls int
	headWritten   bool
	ended         bool
	onEndSent     []func()
}

// NewResponseWriter creates a new fake ResponseWriter.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{header: make(http.Header)}
}

// HeadWritten implements bodystream.ResponseWriter.
func (w *ResponseWriter) HeadWritten() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.headWritten
}

// MarkHeadWritten makes HeadWritten report true, as if a handler already started responding.
func (w *ResponseWriter) MarkHeadWritten() {
	w.mu.Lock()
	w.headWritten = true
	w.mu.Unlock()
}

// SetStatusCode implements bodystream.ResponseWriter.
func (w *ResponseWriter) SetStatusCode(code int) {
	w.mu.Lock()
	w.statusCode = code
	w.mu.Unlock()
}

// StatusCode returns the status code set on the response, 0 if none was set.
func (w *ResponseWriter) StatusCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusCode
}

// AddHeader implements bodystream.ResponseWriter.
func (w *ResponseWriter) AddHeader(name, value string) {
	w.mu.Lock()
	w.header.Add(name, value)
	w.mu.Unlock()
}

// Header returns the first value of the named response header.
func (w *ResponseWriter) Header(name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header.Get(name)
}

// WriteContinue implements bodystream.ResponseWriter.
func (w *ResponseWriter) WriteContinue() {
	w.mu.Lock()
	w.continueCalls++
	w.mu.Unlock()
}

// ContinueCalls returns how many times an interim "100 Continue" response was written.
func (w *ResponseWriter) ContinueCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.continueCalls
}

// OnEndSent implements bodystream.ResponseWriter.
func (w *ResponseWriter) OnEndSent(fn func()) {
	w.mu.Lock()
	w.onEndSent = append(w.onEndSent, fn)
	w.mu.Unlock()
}

// End implements bodystream.ResponseWriter. The registered post-flush hooks run
// synchronously, as if the response was flushed right away.
func (w *ResponseWriter) End() {
	w.mu.Lock()
	w.ended = true
	w.headWritten = true
	hooks := w.onEndSent
	w.onEndSent = nil
	w.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Ended reports whether the final response was sent.
func (w *ResponseWriter) Ended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ended
}
