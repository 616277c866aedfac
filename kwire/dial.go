package kwire

import (
	"context"
	"net"
	"time"
)

// Dialer opens a TCP connection to a broker address. It exists as an
// interface, rather than hard-wiring net.Dialer, so tests can substitute
// an in-memory pipe or a dialer that fails/hangs on demand to simulate
// broker and network faults.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// tcpDialer is the Dialer used in production: a plain TCP dial with a
// connect timeout.
type tcpDialer struct {
	timeout time.Duration
}

// NewTCPDialer returns a Dialer that opens plain TCP connections, aborting
// a dial attempt after timeout.
func NewTCPDialer(timeout time.Duration) Dialer {
	return tcpDialer{timeout: timeout}
}

func (d tcpDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.timeout}
	return nd.DialContext(ctx, "tcp", addr)
}
