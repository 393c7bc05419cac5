// Package tunnel implements the post-CONNECT full-duplex byte relay
// It carries opaque bytes — no parsing, no
// logging of payload.
package tunnel

import (
	"io"
	"net"
	"sync"
)

// Relay copies bytes bidirectionally between a and b until either side
// errors or closes, then closes both sockets and returns. Both
// directions are armed concurrently so neither side can starve the
// other, matching the "activate(0); activate(1)" handoff in the
// original implementation.
func Relay(a, b net.Conn) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = a.Close()
			_ = b.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(b, a)
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(a, b)
		closeBoth()
	}()
	wg.Wait()
}
