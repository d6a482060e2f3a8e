/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream

import (
	"context"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/rs/xid"
)

// HeaderContentLength is the name of the request header carrying the declared body length.
const HeaderContentLength = "Content-Length"

// Opts represents an options for Bridge and Stream.
type Opts struct {
	// ReadTimeout bounds every single blocking read.
	// Exceeding it force-closes the connection. DefaultReadTimeout is used if it's not positive.
	ReadTimeout time.Duration

	// MaxBodySizeBytes is the maximum number of body bytes Stream will consume
	// before rejecting the request. 0 means no limit.
	MaxBodySizeBytes uint64

	// ZeroChunkMarksEOF makes a delivered zero-length chunk an end-of-body marker
	// instead of data (used by HTTP/2-style transports).
	ZeroChunkMarksEOF bool

	// Logger is used for logging timeouts, transport failures and oversized bodies.
	// Logging is disabled if it's not specified.
	Logger log.FieldLogger

	// RequestID is added to all log entries. A new ID is generated if it's empty.
	RequestID string

	// MetricsCollector collects metrics of body reading. Metrics are not collected
	// if it's not specified.
	MetricsCollector *MetricsCollector
}

// Bridge hands body chunks pushed by the transport's delivery goroutine over to a single
// goroutine doing blocking reads. It keeps at most one chunk in the primary slot, spills
// bursts into an overflow queue preserving arrival order, and grants the transport one
// chunk of flow-control credit at a time.
//
// Bridge is safe for one concurrent producer (the transport) and one concurrent consumer.
// It is not safe for multiple concurrent ReadBlocking callers.
type Bridge struct {
	src     BodySource
	timeout time.Duration
	zeroEOF bool
	logger  log.FieldLogger
	metrics *MetricsCollector

	mu       sync.Mutex
	notifyCh chan struct{}
	primary  *Chunk
	overflow []*Chunk
	waiting  bool
	eof      bool
	err      error

	declaredLen int64
}

// NewBridge creates a new Bridge for one request's body and registers it as the only
// consumer of the transport's chunk delivery. If the connection is already closed, the
// bridge starts in a failed state; if the body was already fully received, it starts at EOF.
// Otherwise delivery is paused and a single chunk of credit is requested.
func NewBridge(src BodySource, opts Opts) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	reqID := opts.RequestID
	if reqID == "" {
		reqID = xid.New().String()
	}
	timeout := opts.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	b := &Bridge{
		src:         src,
		timeout:     timeout,
		zeroEOF:     opts.ZeroChunkMarksEOF,
		logger:      logger.With(log.String("request_id", reqID)),
		metrics:     opts.MetricsCollector,
		notifyCh:    make(chan struct{}),
		declaredLen: parseDeclaredLength(src.Header(HeaderContentLength)),
	}

	switch {
	case !src.Connection().IsOpen():
		b.err = &ConnectionError{Err: net.ErrClosed}
	case src.Ended():
		b.eof = true
	default:
		src.Pause()
		src.OnChunk(b.handleChunk)
		src.OnEnd(b.handleEnd)
		src.OnError(b.handleError)
		src.Fetch(1)
	}
	return b
}

// parseDeclaredLength parses the Content-Length header for use as a hint only.
// A missing header yields 0, an unparseable one "assume very large" instead of failing.
func parseDeclaredLength(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return math.MaxInt64
	}
	return n
}

// handleChunk is called by the transport's delivery goroutine for every arriving chunk.
// It never blocks: it stores the chunk, wakes a parked reader and returns.
func (b *Bridge) handleChunk(c *Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.eof || b.err != nil {
		// No chunk may be added after a terminal state; drop it on the floor.
		c.Release()
		return
	}
	if b.zeroEOF && c.Len() == 0 {
		// A zero-length chunk is the transport's end-of-body marker, not data.
		c.Release()
		b.eof = true
		b.wakeWaiter()
		return
	}

	if b.metrics != nil {
		b.metrics.ChunksReceived.Inc()
		b.metrics.BytesReceived.Add(float64(c.Len()))
	}
	if b.primary == nil {
		b.primary = c
	} else {
		b.overflow = append(b.overflow, c)
	}
	b.wakeWaiter()
}

func (b *Bridge) handleEnd() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eof = true
	b.wakeWaiter()
}

func (b *Bridge) handleError(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = &ConnectionError{Err: cause}
	}
	// No consumer fetch will follow the failure, release buffered chunks right here.
	b.releaseBuffered()
	b.logger.Error("request body delivery failed", log.Error(cause))
	b.wakeWaiter()
}

// releaseBuffered frees the primary slot and the overflow queue. Must be called under mu.
func (b *Bridge) releaseBuffered() {
	if b.primary != nil {
		b.primary.Release()
		b.primary = nil
	}
	for _, c := range b.overflow {
		c.Release()
	}
	b.overflow = nil
}

// wakeWaiter wakes the parked reader, if any. Must be called under mu.
func (b *Bridge) wakeWaiter() {
	if !b.waiting {
		return
	}
	close(b.notifyCh)
	b.notifyCh = make(chan struct{})
}

// ReadBlocking returns the next body chunk, blocking until one is delivered, the body
// ends, the read timeout expires or ctx is canceled. It returns (nil, nil) once the body
// is fully consumed. Ownership of the returned chunk passes to the caller, which must
// Release it after use.
//
// A timed-out read leaves the connection in an unknown state, so the connection is
// force-closed and the error is cached: every subsequent call fails the same way.
// Calling ReadBlocking from the transport's delivery goroutine fails with
// ErrReadInHandlerContext instead of deadlocking.
func (b *Bridge) ReadBlocking(ctx context.Context) (*Chunk, error) {
	deadline := time.Now().Add(b.timeout)
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.primary == nil && !b.eof && b.err == nil {
		rem := time.Until(deadline)
		if rem <= 0 {
			b.logger.Warn("request body read timed out, closing connection",
				log.Duration("timeout", b.timeout))
			if b.metrics != nil {
				b.metrics.ReadTimeouts.Inc()
			}
			b.src.Connection().Close()
			err := &ReadTimeoutError{Timeout: b.timeout}
			b.err = err
			return nil, err
		}
		if b.src.InHandlerContext() {
			return nil, ErrReadInHandlerContext
		}

		b.waiting = true
		notify := b.notifyCh
		b.mu.Unlock()

		timer := time.NewTimer(rem)
		select {
		case <-notify:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			b.mu.Lock()
			b.waiting = false
			return nil, &InterruptedError{Err: ctx.Err()}
		}

		b.mu.Lock()
		b.waiting = false
	}

	if b.err != nil {
		return nil, b.err
	}

	ret := b.primary
	b.primary = nil
	if len(b.overflow) != 0 {
		b.primary = b.overflow[0]
		b.overflow[0] = nil
		b.overflow = b.overflow[1:]
	} else if !b.eof {
		// Buffered data is fully drained, grant the transport one more chunk of credit.
		b.src.Fetch(1)
	}
	if b.metrics != nil && ret != nil {
		b.metrics.WaitDurations.Observe(time.Since(start).Seconds())
	}
	return ret, nil
}

// AvailableHint returns a non-blocking estimate of readable bytes: the primary chunk's
// remaining length if one is buffered, otherwise the declared Content-Length.
// The declared length is a best-effort hint and may overstate what will actually arrive.
func (b *Bridge) AvailableHint() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.primary != nil {
		return int64(b.primary.Len())
	}
	return b.declaredLen
}
