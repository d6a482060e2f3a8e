/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystreamtest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-bodystream"
)

func TestSourceHeaderIsCaseInsensitive(t *testing.T) {
	src := NewSource()
	defer src.Stop()

	src.SetHeader("Content-Length", "5")
	require.Equal(t, "5", src.Header("content-length"))
	require.Equal(t, "5", src.Header("CONTENT-LENGTH"))
	require.Equal(t, "", src.Header("Expect"))
}

func TestSourceHonorsFlowControl(t *testing.T) {
	src := NewSource()
	defer src.Stop()

	var mu sync.Mutex
	var got []string
	src.Pause()
	src.OnChunk(func(c *bodystream.Chunk) {
		buf := make([]byte, c.Len())
		c.ReadInto(buf)
		c.Release()
		mu.Lock()
		got = append(got, string(buf))
		mu.Unlock()
	})

	src.PushString("first")
	src.PushString("second")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Empty(t, got, "nothing may be delivered while paused without credit")
	mu.Unlock()

	src.Fetch(1)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "first"
	}, time.Second, 5*time.Millisecond)

	src.Fetch(1)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && got[1] == "second"
	}, time.Second, 5*time.Millisecond)
}

func TestSourceInHandlerContext(t *testing.T) {
	src := NewSource()
	defer src.Stop()

	inLoop := make(chan bool, 1)
	src.RunInLoop(func() {
		inLoop <- src.InHandlerContext()
	})
	require.True(t, <-inLoop, "the delivery goroutine must be recognized as the handler context")
	require.False(t, src.InHandlerContext())
}

func TestSourceEnded(t *testing.T) {
	src := NewSource()
	defer src.Stop()

	require.False(t, src.Ended())
	src.PushString("tail")
	src.End()
	require.False(t, src.Ended(), "a pending chunk means the body is not fully processed yet")

	delivered := make(chan struct{})
	src.OnEnd(func() { close(delivered) })
	src.OnChunk(func(c *bodystream.Chunk) { c.Release() })
	<-delivered
	require.True(t, src.Ended())
}
