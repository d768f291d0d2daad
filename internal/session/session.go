// Package session implements the two connection-level exchanges of the ABX
// feed protocol.
//
// A stream session opens one connection, sends the stream-all request and
// reads records until the server closes the connection. A resend session
// opens a fresh connection for exactly one sequence number and reads exactly
// one record. Connections are never shared or pooled.
//
// Every connection is bounded by a deadline (Options.Timeout) covering dial,
// write and read. Cancelling the context interrupts a blocked read.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultTimeout bounds each connection when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

var (
	// ErrStreamUnavailable wraps any transport failure of the stream session.
	ErrStreamUnavailable = errors.New("stream unavailable")

	// ErrShortRead is reported when the server closes before a full record arrives.
	ErrShortRead = errors.New("short read")

	// ErrRecoveryFailed wraps any failure of a resend session.
	ErrRecoveryFailed = errors.New("recovery failed")
)

// Endpoint is the address of a feed server.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the host:port form used for dialing.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Addr()
}

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures both session types.
type Options struct {
	// Timeout bounds dial, write and read on each connection.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// Dialer overrides the network dialer (for testing).
	Dialer Dialer
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) dialer() Dialer {
	if o.Dialer != nil {
		return o.Dialer
	}
	return &net.Dialer{}
}

// open dials ep and writes req, leaving a deadline on the returned connection.
func open(ctx context.Context, opts Options, ep Endpoint, req []byte) (net.Conn, error) {
	timeout := opts.timeout()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := opts.dialer().DialContext(dialCtx, "tcp", ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write request: %w", err)
	}

	return conn, nil
}

// interruptOnCancel expires conn's deadline once ctx is done, waking any
// blocked read. The returned func detaches it.
func interruptOnCancel(ctx context.Context, conn net.Conn) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}
