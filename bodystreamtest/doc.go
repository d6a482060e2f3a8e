/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package bodystreamtest provides an in-memory implementation of bodystream.BodySource
// that allows writing tests for code reading request bodies.
// It was inspired by httptest (https://golang.org/pkg/net/http/httptest) from Go standard library.
//
// Source runs a single delivery goroutine standing in for the transport's event loop.
// Tests script the body with Push/End/Fail and the goroutine delivers it honoring
// Pause/Fetch flow control, exactly like a real non-blocking transport would.
package bodystreamtest
