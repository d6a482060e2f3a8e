/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/acronis/go-appkit/log"
)

// HeaderExpect is the name of the request header asking for an interim response.
const HeaderExpect = "Expect"

const expectContinueValue = "100-continue"

// continueState tracks the interim "100 Continue" response. The only legal transition
// is continueRequired -> continueSent, made once on the first body read.
type continueState int

const (
	continueNotRequired continueState = iota
	continueRequired
	continueSent
)

// Stream adapts a Bridge to a synchronous byte-stream contract for application code.
// It implements io.Reader, io.ByteReader and io.Closer, enforces the configured maximum
// body size and answers "Expect: 100-continue" lazily on the first read.
//
// Stream is intended for a single reading goroutine and is not safe for concurrent use.
type Stream struct {
	bridge *Bridge
	src    BodySource
	limit  uint64 // 0 means unlimited

	closed    bool
	finished  bool
	held      *Chunk
	contState continueState
	termErr   error // cached terminal failure, every subsequent read returns it
}

var _ io.ReadCloser = (*Stream)(nil)
var _ io.ByteReader = (*Stream)(nil)

// NewStream creates a new Stream reading the request's body through a new Bridge.
func NewStream(src BodySource, opts Opts) *Stream {
	s := &Stream{
		bridge: NewBridge(src, opts),
		src:    src,
		limit:  opts.MaxBodySizeBytes,
	}
	if strings.EqualFold(src.Header(HeaderExpect), expectContinueValue) {
		s.contState = continueRequired
	}
	return s
}

// NewStreamWithChunk creates a new Stream that serves held first and only then starts
// fetching chunks through the bridge. It is meant for callers that already pulled the
// first chunk off the wire themselves.
func NewStreamWithChunk(src BodySource, opts Opts, held *Chunk) *Stream {
	return &Stream{
		bridge: NewBridge(src, opts),
		src:    src,
		limit:  opts.MaxBodySizeBytes,
		held:   held,
	}
}

// ReadByte reads and returns the next body byte, blocking until it is available.
// It returns io.EOF once the body is fully consumed.
func (s *Stream) ReadByte() (byte, error) {
	var one [1]byte
	if _, err := s.ReadBuffer(one[:], 0, 1); err != nil {
		return 0, err
	}
	return one[0], nil
}

// Read implements io.Reader. It blocks until at least one byte is available and
// returns io.EOF once the body is fully consumed.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadBuffer(p, 0, len(p))
}

// ReadBuffer reads up to length body bytes into dst starting at offset off.
// It blocks until at least one byte is available, returns io.EOF once the body is fully
// consumed, and fails with ErrInvalidRange if the requested range does not fit into dst.
func (s *Stream) ReadBuffer(dst []byte, off, length int) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.termErr != nil {
		return 0, s.termErr
	}
	if off < 0 || length < 0 || off+length > len(dst) {
		return 0, ErrInvalidRange
	}

	if s.contState == continueRequired {
		s.contState = continueSent
		s.src.Response().WriteContinue()
	}

	if err := s.fill(); err != nil {
		return 0, err
	}

	if s.limit != 0 && s.src.BytesRead() > s.limit {
		return 0, s.rejectTooLarge()
	}
	if s.finished {
		return 0, io.EOF
	}
	if length == 0 {
		return 0, nil
	}

	copied := s.held.ReadInto(dst[off : off+length])
	if s.held.Len() == 0 {
		s.held.Release()
		s.held = nil
	}
	return copied, nil
}

// fill makes sure a chunk is buffered, fetching one through the bridge when none is held.
// An absent result means the body ended.
func (s *Stream) fill() error {
	if s.held != nil || s.finished {
		return nil
	}
	c, err := s.bridge.ReadBlocking(context.Background())
	if err != nil {
		return err
	}
	if c == nil {
		s.finished = true
		return nil
	}
	s.held = c
	return nil
}

// rejectTooLarge ends the stream's usability after the received bytes exceeded the limit.
// If the response head was not sent yet, the client gets a 413 and the connection is
// closed after the response is flushed; otherwise the connection is just force-closed.
func (s *Stream) rejectTooLarge() error {
	err := &RequestBodyTooLargeError{MaxSizeBytes: s.limit}
	s.termErr = err
	s.bridge.logger.Warn("request body exceeded the limit",
		log.Uint64("limit_bytes", s.limit), log.Uint64("bytes_read", s.src.BytesRead()))
	if s.bridge.metrics != nil {
		s.bridge.metrics.TooLargeTotal.Inc()
	}

	resp := s.src.Response()
	conn := s.src.Connection()
	if resp.HeadWritten() {
		// Too late for a status code, drop the connection.
		conn.Close()
		return err
	}
	resp.SetStatusCode(http.StatusRequestEntityTooLarge)
	resp.AddHeader("Connection", "close")
	resp.OnEndSent(conn.Close)
	resp.End()
	return err
}

// Available returns a non-blocking estimate of the number of bytes that can be read
// without waiting for the transport. It is 0 once the body is fully consumed.
func (s *Stream) Available() (int64, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.finished {
		return 0, nil
	}
	if s.held != nil && s.held.Len() > 0 {
		return int64(s.held.Len()) + s.bridge.AvailableHint(), nil
	}
	return s.bridge.AvailableHint(), nil
}

// Close drains and discards the rest of the body so the connection's read side is clean
// for reuse or teardown. Buffered chunks are released even when draining fails; the drain
// failure is returned after cleanup. Calling Close again is a no-op.
func (s *Stream) Close() (err error) {
	if s.closed {
		return nil
	}
	s.closed = true
	defer func() {
		if s.held != nil {
			s.held.Release()
			s.held = nil
		}
		s.finished = true
	}()
	for !s.finished {
		if fillErr := s.fill(); fillErr != nil {
			return fillErr
		}
		if s.held != nil {
			s.held.Release()
			s.held = nil
		}
	}
	return nil
}
