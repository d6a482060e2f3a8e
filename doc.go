/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package bodystream exposes a blocking, pull-based read contract over an HTTP request body
// that is delivered asynchronously, chunk by chunk, by a non-blocking transport.
//
// Bridge is the single registered consumer of the transport's chunk delivery for one request.
// It hands arriving chunks over to a reading goroutine with one-chunk flow-control credit,
// so steady-state buffering stays bounded while the reader is slow.
//
// Stream adapts a Bridge to the familiar io.Reader/io.ByteReader/io.Closer surface and
// additionally enforces a maximum body size, answers "Expect: 100-continue" lazily on the
// first read, and drains the remaining body on Close so the connection can be reused.
//
// The transport itself (event loop, HTTP parsing, connection lifecycle) is out of scope and
// is consumed through the narrow BodySource, Connection and ResponseWriter interfaces.
// The bodystreamtest subpackage provides an in-memory BodySource implementation for tests.
package bodystream
