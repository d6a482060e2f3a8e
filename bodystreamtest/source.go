/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystreamtest

import (
	"bytes"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/acronis/go-bodystream"
)

type event struct {
	chunk *bodystream.Chunk
	// uncredited chunk delivery bypasses flow control,
	// emulating a transport whose credit unit covers several chunks
	uncredited bool
	end        bool
	err        error
	fn         func()
}

// Source is an in-memory bodystream.BodySource. A test acts as the remote peer by calling
// Push/End/Fail; a dedicated delivery goroutine plays the transport's event loop and
// invokes the installed callbacks honoring Pause/Fetch flow control.
type Source struct {
	// Conn is the fake connection the source reports from Connection().
	Conn *Connection

	// Resp is the fake response writer the source reports from Response().
	Resp *ResponseWriter

	bytesRead atomic.Uint64
	loopGID   atomic.Uint64

	mu         sync.Mutex
	cond       *sync.Cond
	headers    map[string]string
	queue      []event
	pushed     []*bodystream.Chunk
	paused     bool
	credit     int
	fetchCalls int
	endSeen    bool
	stopped    bool
	onChunk    func(*bodystream.Chunk)
	onEnd      func()
	onError    func(error)
}

// NewSource creates a new Source and starts its delivery goroutine.
// Call Stop when the test is done to shut the goroutine down.
func NewSource() *Source {
	s := &Source{
		Conn:    &Connection{open: true},
		Resp:    NewResponseWriter(),
		headers: make(map[string]string),
	}
	s.cond = sync.NewCond(&s.mu)
	started := make(chan struct{})
	go s.loop(started)
	<-started
	return s
}

// Stop shuts the delivery goroutine down. Undelivered events are discarded.
func (s *Source) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Signal()
	s.mu.Unlock()
}

// SetHeader sets a request header the source will report from Header.
func (s *Source) SetHeader(name, value string) {
	s.mu.Lock()
	s.headers[strings.ToLower(name)] = value
	s.mu.Unlock()
}

// Push schedules body bytes for delivery as one chunk. The source's BytesRead counter
// grows immediately: the bytes were received from the wire whether or not they were
// consumed yet.
func (s *Source) Push(b []byte) {
	s.pushChunk(b, false)
}

// PushString is a convenience form of Push.
func (s *Source) PushString(str string) {
	s.Push([]byte(str))
}

// PushUncredited schedules a chunk that is delivered without consuming flow-control
// credit. It lets tests fill the bridge's overflow queue the way a bursty transport would.
func (s *Source) PushUncredited(b []byte) {
	s.pushChunk(b, true)
}

func (s *Source) pushChunk(b []byte, uncredited bool) {
	s.bytesRead.Add(uint64(len(b)))
	c := bodystream.NewChunk(b)
	s.mu.Lock()
	s.pushed = append(s.pushed, c)
	s.enqueue(event{chunk: c, uncredited: uncredited})
	s.mu.Unlock()
}

// End schedules the end-of-body signal.
func (s *Source) End() {
	s.mu.Lock()
	s.endSeen = true
	s.enqueue(event{end: true})
	s.mu.Unlock()
}

// Fail schedules a terminal transport failure.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	s.enqueue(event{err: err})
	s.mu.Unlock()
}

// RunInLoop schedules fn to be executed on the delivery goroutine. It lets tests exercise
// code paths that must only run, or must never run, in the delivery context.
func (s *Source) RunInLoop(fn func()) {
	s.mu.Lock()
	s.enqueue(event{fn: fn})
	s.mu.Unlock()
}

// PushedChunks returns every chunk the source has created, in push order.
// Tests use it to verify that chunk ownership ended with a Release on every path.
func (s *Source) PushedChunks() []*bodystream.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*bodystream.Chunk(nil), s.pushed...)
}

// FetchCalls returns how many times Fetch was called.
func (s *Source) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// enqueue must be called under mu.
func (s *Source) enqueue(ev event) {
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

// Header implements bodystream.BodySource.
func (s *Source) Header(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[strings.ToLower(name)]
}

// BytesRead implements bodystream.BodySource.
func (s *Source) BytesRead() uint64 {
	return s.bytesRead.Load()
}

// Ended implements bodystream.BodySource. It reports true once the end of the body was
// scripted and no chunk is pending delivery.
func (s *Source) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endSeen {
		return false
	}
	for _, ev := range s.queue {
		if ev.chunk != nil {
			return false
		}
	}
	return true
}

// Pause implements bodystream.BodySource.
func (s *Source) Pause() {
	s.mu.Lock()
	s.paused = true
	s.credit = 0
	s.mu.Unlock()
}

// Fetch implements bodystream.BodySource. It only grants credit and signals the delivery
// goroutine; nothing is delivered synchronously.
func (s *Source) Fetch(n int) {
	s.mu.Lock()
	s.credit += n
	s.fetchCalls++
	s.cond.Signal()
	s.mu.Unlock()
}

// OnChunk implements bodystream.BodySource.
func (s *Source) OnChunk(fn func(*bodystream.Chunk)) {
	s.mu.Lock()
	s.onChunk = fn
	s.cond.Signal()
	s.mu.Unlock()
}

// OnEnd implements bodystream.BodySource.
func (s *Source) OnEnd(fn func()) {
	s.mu.Lock()
	s.onEnd = fn
	s.cond.Signal()
	s.mu.Unlock()
}

// OnError implements bodystream.BodySource.
func (s *Source) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.cond.Signal()
	s.mu.Unlock()
}

// InHandlerContext implements bodystream.BodySource.
func (s *Source) InHandlerContext() bool {
	return goroutineID() == s.loopGID.Load()
}

// Connection implements bodystream.BodySource.
func (s *Source) Connection() bodystream.Connection {
	return s.Conn
}

// Response implements bodystream.BodySource.
func (s *Source) Response() bodystream.ResponseWriter {
	return s.Resp
}

func (s *Source) loop(started chan<- struct{}) {
	s.loopGID.Store(goroutineID())
	close(started)
	for {
		s.mu.Lock()
		for !s.stopped && !s.deliverableLocked() {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		if ev.chunk != nil && s.paused && !ev.uncredited {
			s.credit--
		}
		onChunk, onEnd, onError := s.onChunk, s.onEnd, s.onError
		s.mu.Unlock()

		// Callbacks run outside of s.mu: they take the bridge's own lock.
		switch {
		case ev.fn != nil:
			ev.fn()
		case ev.chunk != nil:
			onChunk(ev.chunk)
		case ev.err != nil:
			onError(ev.err)
		case ev.end:
			onEnd()
		}
	}
}

// deliverableLocked must be called under mu.
func (s *Source) deliverableLocked() bool {
	if len(s.queue) == 0 {
		return false
	}
	ev := s.queue[0]
	switch {
	case ev.fn != nil:
		return true
	case ev.chunk != nil:
		return s.onChunk != nil && (!s.paused || s.credit > 0 || ev.uncredited)
	case ev.err != nil:
		return s.onError != nil
	default:
		return s.onEnd != nil
	}
}

// goroutineID extracts the current goroutine's ID from the stack header
// ("goroutine 123 [running]: ..."). It is a well-known test-only trick; the ID is never
// used for anything but equality comparison with the delivery goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(header, ' '); i > 0 {
		if id, err := strconv.ParseUint(string(header[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
