/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream_test

import (
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/acronis/go-appkit/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-bodystream"
	"github.com/acronis/go-bodystream/bodystreamtest"
)

func TestStreamReadsWholeBody(t *testing.T) {
	tests := []struct {
		name    string
		bufSize int
	}{
		{name: "big destination buffer", bufSize: 64},
		{name: "destination smaller than chunks", bufSize: 3},
		{name: "single byte destination", bufSize: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := bodystreamtest.NewSource()
			defer src.Stop()
			stream := bodystream.NewStream(src, bodystream.Opts{})

			src.PushString("lorem ")
			src.PushUncredited([]byte("ipsum "))
			src.PushUncredited([]byte("dolor"))
			src.End()

			var got []byte
			buf := make([]byte, tt.bufSize)
			for {
				n, err := stream.Read(buf)
				got = append(got, buf[:n]...)
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
			}
			require.Equal(t, "lorem ipsum dolor", string(got))

			for _, pushed := range src.PushedChunks() {
				require.True(t, pushed.Released(), "fully consumed chunks must be released")
			}
			require.NoError(t, stream.Close())
		})
	}
}

func TestStreamReadByte(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	stream := bodystream.NewStream(src, bodystream.Opts{})

	src.PushString("ab")
	src.End()

	b, err := stream.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte('a'), b)

	b, err = stream.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte('b'), b)

	_, err = stream.ReadByte()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamReadBufferArguments(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	stream := bodystream.NewStream(src, bodystream.Opts{})

	src.PushString("abcdef")
	src.End()

	dst := make([]byte, 4)

	_, err := stream.ReadBuffer(dst, 2, 3)
	require.ErrorIs(t, err, bodystream.ErrInvalidRange)
	_, err = stream.ReadBuffer(dst, -1, 2)
	require.ErrorIs(t, err, bodystream.ErrInvalidRange)
	_, err = stream.ReadBuffer(dst, 0, -1)
	require.ErrorIs(t, err, bodystream.ErrInvalidRange)

	// Zero length touches nothing and reads nothing.
	n, err := stream.ReadBuffer(dst, 1, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, make([]byte, 4), dst)

	// Reading into the middle of dst fills exactly the requested range.
	n, err = stream.ReadBuffer(dst, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []byte{0, 'a', 'b', 0}, dst)
}

func TestStreamExpectContinue(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	src.SetHeader("Expect", "100-Continue") // match must be case-insensitive
	stream := bodystream.NewStream(src, bodystream.Opts{})

	require.Equal(t, 0, src.Resp.ContinueCalls(), "continue must not be sent before the first read")

	src.PushString("body")
	src.End()

	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "body", string(buf[:n]))
	require.Equal(t, 1, src.Resp.ContinueCalls())

	_, err = stream.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 1, src.Resp.ContinueCalls(), "continue must be sent exactly once")
}

func TestStreamBodyTooLarge(t *testing.T) {
	mc := bodystream.NewMetricsCollector()
	src := bodystreamtest.NewSource()
	defer src.Stop()
	src.SetHeader("Content-Length", "20")
	stream := bodystream.NewStream(src, bodystream.Opts{MaxBodySizeBytes: 10, MetricsCollector: mc})

	// 15 received bytes exceed the 10-byte limit after buffering.
	src.PushString("123456789012345")

	buf := make([]byte, 16)
	_, err := stream.Read(buf)
	var tooLargeErr *bodystream.RequestBodyTooLargeError
	require.ErrorAs(t, err, &tooLargeErr)
	require.Equal(t, uint64(10), tooLargeErr.MaxSizeBytes)

	require.Equal(t, http.StatusRequestEntityTooLarge, src.Resp.StatusCode())
	require.Equal(t, "close", src.Resp.Header("Connection"))
	require.True(t, src.Resp.Ended())
	require.Equal(t, 1, src.Conn.CloseCalls(), "connection must be closed after the response is flushed")
	testutil.RequireSamplesCountInCounter(t, mc.TooLargeTotal, 1)

	// The stream is unusable afterwards, and the rejection happens exactly once.
	_, err2 := stream.Read(buf)
	require.Equal(t, err, err2)
	require.Equal(t, http.StatusRequestEntityTooLarge, src.Resp.StatusCode())
	require.Equal(t, 1, src.Conn.CloseCalls())
	testutil.RequireSamplesCountInCounter(t, mc.TooLargeTotal, 1)
}

func TestStreamBodyTooLargeAfterHeadWritten(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	stream := bodystream.NewStream(src, bodystream.Opts{MaxBodySizeBytes: 10})
	src.Resp.MarkHeadWritten()

	src.PushString("123456789012345")

	_, err := stream.Read(make([]byte, 16))
	var tooLargeErr *bodystream.RequestBodyTooLargeError
	require.ErrorAs(t, err, &tooLargeErr)

	// The response head is out already, the only option left is dropping the connection.
	require.Equal(t, 1, src.Conn.CloseCalls())
	require.Equal(t, 0, src.Resp.StatusCode())
	require.False(t, src.Resp.Ended())
}

func TestStreamAvailable(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	src.SetHeader("Content-Length", "11")
	stream := bodystream.NewStream(src, bodystream.Opts{})

	n, err := stream.Available()
	require.NoError(t, err)
	require.Equal(t, int64(11), n)

	src.PushString("hello world")
	src.End()

	buf := make([]byte, 5)
	_, err = stream.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, " world", string(got))

	n, err = stream.Available()
	require.NoError(t, err)
	require.Equal(t, int64(0), n, "nothing is available once the body is fully consumed")

	require.NoError(t, stream.Close())
	_, err = stream.Available()
	require.ErrorIs(t, err, bodystream.ErrStreamClosed)
}

func TestStreamCloseDrainsRemainingBody(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	stream := bodystream.NewStream(src, bodystream.Opts{})

	src.PushString("never ")
	src.PushUncredited([]byte("consumed"))
	src.End()

	require.NoError(t, stream.Close())
	for _, pushed := range src.PushedChunks() {
		require.True(t, pushed.Released(), "close must drain and release the whole pending body")
	}

	_, err := stream.Read(make([]byte, 1))
	require.ErrorIs(t, err, bodystream.ErrStreamClosed)

	// Closing again has no effect.
	require.NoError(t, stream.Close())
}

func TestStreamCloseReleasesHeldChunkOnDrainFailure(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	stream := bodystream.NewStream(src, bodystream.Opts{})

	src.PushString("partially read")

	// Hold a part of the first chunk, then break the transport.
	buf := make([]byte, 4)
	_, err := stream.Read(buf)
	require.NoError(t, err)
	cause := errors.New("peer went away")
	src.Fail(cause)

	err = stream.Close()
	var connErr *bodystream.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.ErrorIs(t, err, cause)

	for _, pushed := range src.PushedChunks() {
		require.True(t, pushed.Released(), "held chunk must be released even when draining fails")
	}
	require.NoError(t, stream.Close())
}

func TestStreamWithPreReceivedChunk(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	first := bodystream.NewChunk([]byte("head "))
	stream := bodystream.NewStreamWithChunk(src, bodystream.Opts{}, first)

	src.PushString("tail")
	src.End()

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, "head tail", string(got))
	require.True(t, first.Released())
	require.NoError(t, stream.Close())
}

func TestStreamReadTimeoutIsFatal(t *testing.T) {
	src := bodystreamtest.NewSource()
	defer src.Stop()
	stream := bodystream.NewStream(src, bodystream.Opts{ReadTimeout: 50 * time.Millisecond})

	_, err := stream.Read(make([]byte, 1))
	var timeoutErr *bodystream.ReadTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 1, src.Conn.CloseCalls())

	// The cached bridge failure surfaces on every following read.
	_, err2 := stream.Read(make([]byte, 1))
	require.Equal(t, err, err2)
}
