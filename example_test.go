/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream_test

import (
	"fmt"
	"io"
	"time"

	"github.com/acronis/go-bodystream"
	"github.com/acronis/go-bodystream/bodystreamtest"
)

func Example() {
	// bodystreamtest.Source stands in for the real non-blocking transport.
	src := bodystreamtest.NewSource()
	defer src.Stop()
	src.SetHeader("Content-Length", "13")

	stream := bodystream.NewStream(src, bodystream.Opts{
		ReadTimeout:      5 * time.Second,
		MaxBodySizeBytes: 1024,
	})

	// The transport pushes the body chunk by chunk from its delivery goroutine.
	src.PushString("hello, ")
	src.PushString("world!")
	src.End()

	// Application code consumes it with ordinary blocking reads.
	body, err := io.ReadAll(stream)
	if err != nil {
		fmt.Println("read error:", err)
		return
	}
	fmt.Println(string(body))

	if err := stream.Close(); err != nil {
		fmt.Println("close error:", err)
	}

	// Output:
	// hello, world!
}
