// Package ports hands out ephemeral TCP ports for a daemon to bind.
//
// The ports are not reserved: every listener used to discover a port is closed
// before Allocate returns, so another process can grab one of them before the
// daemon binds it. Callers absorb that race by retrying the whole start cycle.
package ports

import (
	"fmt"
	"net"
)

// LocalIP is the loopback address every fixture port is bound on.
const LocalIP = "127.0.0.1"

// Allocator produces ports that were unbound at the time of the call.
type Allocator interface {
	// Allocate returns n distinct ports.
	Allocate(n int) ([]int, error)
}

// OS asks the operating system for ephemeral ports by binding port 0.
type OS struct{}

// NewOS returns the default allocator.
func NewOS() Allocator {
	return OS{}
}

// Allocate binds n listeners at once so the returned ports are distinct, then
// closes all of them.
func (OS) Allocate(n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}

	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	result := make([]int, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(LocalIP, "0"))
		if err != nil {
			return nil, fmt.Errorf("failed to bind ephemeral port: %w", err)
		}
		listeners = append(listeners, l)
		result = append(result, l.Addr().(*net.TCPAddr).Port)
	}

	return result, nil
}

// Available returns a single unused local port.
func Available() (int, error) {
	p, err := OS{}.Allocate(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// Func adapts a plain function to the Allocator interface.
type Func func(n int) ([]int, error)

// Allocate calls f(n).
func (f Func) Allocate(n int) ([]int, error) {
	return f(n)
}
