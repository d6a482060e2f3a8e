/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream

// BodySource is the transport-side view of a single request's body delivery.
// Implementations are expected to invoke the installed callbacks from one dedicated
// delivery goroutine and never concurrently with each other.
type BodySource interface {
	// Header returns the value of the named request header or "" if it is absent.
	Header(name string) string

	// BytesRead returns the total number of body bytes received from the wire so far,
	// including bytes that are still buffered and not yet consumed by the reader.
	BytesRead() uint64

	// Ended reports whether the whole body was already received by the transport.
	Ended() bool

	// Pause suspends automatic chunk delivery until credit is granted with Fetch.
	Pause()

	// Fetch grants the transport credit to deliver n more chunks. It only signals the
	// delivery goroutine and must not deliver synchronously.
	Fetch(n int)

	// OnChunk installs the single chunk consumer. Ownership of every delivered chunk
	// passes to the callback.
	OnChunk(fn func(*Chunk))

	// OnEnd installs the end-of-body callback.
	OnEnd(fn func())

	// OnError installs the terminal-failure callback.
	OnError(fn func(error))

	// InHandlerContext reports whether the calling goroutine is the delivery goroutine.
	// A blocking read issued from that goroutine could never be woken up, so the bridge
	// rejects it instead of deadlocking.
	InHandlerContext() bool

	Connection() Connection
	Response() ResponseWriter
}

// Connection is the subset of a transport connection the body stream needs:
// an open check for construction time and a force-close for fatal conditions.
type Connection interface {
	IsOpen() bool
	Close()
}

// ResponseWriter is the minimal response surface needed to answer
// "Expect: 100-continue" and to reject an oversized request body.
type ResponseWriter interface {
	// HeadWritten reports whether the response status line and headers were already sent.
	HeadWritten() bool

	SetStatusCode(code int)
	AddHeader(name, value string)

	// WriteContinue writes an interim "100 Continue" response. It does not count as
	// writing the response head.
	WriteContinue()

	// OnEndSent registers fn to be invoked after the final response has been flushed.
	OnEndSent(fn func())

	// End sends the final response.
	End()
}
