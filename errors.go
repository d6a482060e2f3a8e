/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream

import (
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/bytefmt"
)

// ErrStreamClosed is returned by Stream operations after Close was called.
var ErrStreamClosed = errors.New("body stream is closed")

// ErrInvalidRange is returned by Stream.ReadBuffer when the requested
// offset/length range does not fit into the destination buffer.
var ErrInvalidRange = errors.New("offset and length are out of buffer range")

// ErrReadInHandlerContext is returned when a blocking read is attempted from the
// transport's delivery goroutine. Such a read could never be woken up.
var ErrReadInHandlerContext = errors.New("blocking body read attempted in delivery context")

// ConnectionError represents a terminal transport failure reported by the producer side,
// or a connection that was already closed when reading began. Once it occurs, every
// subsequent read fails with the same error.
type ConnectionError struct {
	Err error
}

// Error returns a string representation of ConnectionError.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection is broken: %s", e.Err.Error())
}

// Unwrap returns the original transport failure.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ReadTimeoutError occurs when no chunk, end-of-body or failure arrived within the read
// timeout. The timeout is fatal for the connection: it is force-closed, and every
// subsequent read on the same bridge fails with the same error.
type ReadTimeoutError struct {
	Timeout time.Duration
}

// Error returns a string representation of ReadTimeoutError.
func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("body read timed out after %s", e.Timeout)
}

// RequestBodyTooLargeError occurs when the number of received body bytes exceeds
// the configured limit. The stream is unusable afterwards.
type RequestBodyTooLargeError struct {
	MaxSizeBytes uint64
}

// Error returns a string representation of RequestBodyTooLargeError.
func (e *RequestBodyTooLargeError) Error() string {
	return fmt.Sprintf("request body must not be larger than %s", bytefmt.ByteSize(e.MaxSizeBytes))
}

// InterruptedError occurs when the reader's context is canceled while it is parked
// waiting for a chunk. Unlike a timeout it is not cached: the connection stays usable.
type InterruptedError struct {
	Err error
}

// Error returns a string representation of InterruptedError.
func (e *InterruptedError) Error() string {
	return fmt.Sprintf("body read interrupted: %s", e.Err.Error())
}

// Unwrap returns the context error that interrupted the wait.
func (e *InterruptedError) Unwrap() error {
	return e.Err
}
