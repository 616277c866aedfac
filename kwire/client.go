package kwire

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/mistsys/kafkagroup/kerrors"
	"github.com/mistsys/kafkagroup/klog"
	"github.com/mistsys/kafkagroup/kschema"
)

// defaultRetryBackoff is the backoff schedule call applies to every RPC:
// a short handful of increasing waits, then give up and surface the error.
// The teacher's join_loop instead spins with a single fixed sleep; this
// uses eapache/go-resiliency's retrier, already a transitive dependency
// of the corpus, for the same effect with jitter-free, bounded backoff.
var defaultRetryBackoff = []time.Duration{
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// Client issues the RPCs the consumer core needs and owns the broker
// connection pool backing them. A Client is not safe for concurrent use:
// like the rest of this module, it assumes a single goroutine drives the
// consumer core's Poll loop.
type Client struct {
	dialer         Dialer
	clientID       string
	connectTimeout time.Duration
	requestTimeout time.Duration
	maxDecodeLen   int32
	logger         klog.Logger
	retryBackoff   []time.Duration

	conns         map[string]net.Conn
	correlationID int32
}

// Option configures a Client.
type Option func(*Client)

// WithConnectTimeout bounds how long dialing a broker may take.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithRequestTimeout bounds how long a single request/response round trip
// may take once connected, on top of whatever wait time the request body
// itself encodes (e.g. Fetch's MaxWaitTime).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithMaxDecodeLen bounds array/string lengths accepted while decoding
// responses.
func WithMaxDecodeLen(n int32) Option {
	return func(c *Client) { c.maxDecodeLen = n }
}

// WithLogger attaches a structured logger.
func WithLogger(l klog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetryBackoff overrides the retry schedule used by every RPC.
func WithRetryBackoff(backoff []time.Duration) Option {
	return func(c *Client) { c.retryBackoff = backoff }
}

// NewClient returns a Client dialing brokers through dialer and
// identifying itself as clientID in every request header.
func NewClient(dialer Dialer, clientID string, opts ...Option) *Client {
	c := &Client{
		dialer:         dialer,
		clientID:       clientID,
		connectTimeout: 10 * time.Second,
		requestTimeout: 30 * time.Second,
		maxDecodeLen:   kschema.DefaultMaxLen,
		logger:         klog.Nop,
		retryBackoff:   defaultRetryBackoff,
		conns:          make(map[string]net.Conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}

// CloseBroker drops and closes the pooled connection to addr, if any, so
// the next call dials fresh. Used after a network error to avoid reusing
// a conn that may be half-broken.
func (c *Client) CloseBroker(addr string) {
	if conn, ok := c.conns[addr]; ok {
		conn.Close()
		delete(c.conns, addr)
	}
}

func (c *Client) connFor(ctx context.Context, addr string) (net.Conn, error) {
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	conn, err := c.dialer.Dial(dialCtx, addr)
	if err != nil {
		return nil, &kerrors.NetworkError{Op: fmt.Sprintf("dial %s", addr), Err: err}
	}
	c.conns[addr] = conn
	return conn, nil
}

// call issues one request/response RPC against addr, retrying dial and
// transport failures (but not decoded protocol errors) per the
// configured backoff schedule. extraWait is added to the per-call
// deadline on top of requestTimeout, for RPCs that themselves carry a
// broker-side wait time (Fetch's MaxWaitTime, JoinGroup's
// RebalanceTimeout).
func (c *Client) call(ctx context.Context, addr string, apiKey, apiVersion int16, req, resp interface{}, extraWait time.Duration) error {
	body, err := kschema.Encode(req)
	if err != nil {
		return &kerrors.FatalError{Context: "encoding request", Err: err}
	}

	correlationID := atomic.AddInt32(&c.correlationID, 1)
	clientID := c.clientID
	header := requestHeader{
		APIKey:        apiKey,
		APIVersion:    apiVersion,
		CorrelationID: correlationID,
		ClientID:      &clientID,
	}
	headerBytes, err := kschema.Encode(header)
	if err != nil {
		return &kerrors.FatalError{Context: "encoding request header", Err: err}
	}
	frame := append(headerBytes, body...)

	r := retrier.New(c.retryBackoff, retrier.DefaultClassifier{})
	deadline := c.requestTimeout + extraWait

	attemptErr := r.Run(func() error {
		conn, err := c.connFor(ctx, addr)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := writeFrame(conn, now.Add(deadline), frame); err != nil {
			c.CloseBroker(addr)
			return &kerrors.NetworkError{Op: fmt.Sprintf("write to %s", addr), Err: err}
		}
		respBytes, err := readFrame(conn, now.Add(deadline), c.maxLen())
		if err != nil {
			c.CloseBroker(addr)
			return &kerrors.NetworkError{Op: fmt.Sprintf("read from %s", addr), Err: err}
		}

		var respHeader struct {
			CorrelationID int32
		}
		if len(respBytes) < 4 {
			return &kerrors.FatalError{Context: "decoding response header", Err: fmt.Errorf("short frame")}
		}
		dec := &kschema.Decoder{MaxLen: c.maxLen()}
		if err := dec.Decode(respBytes[:4], &respHeader); err != nil {
			return &kerrors.FatalError{Context: "decoding response header", Err: err}
		}
		if respHeader.CorrelationID != correlationID {
			return &kerrors.FatalError{Context: "decoding response header", Err: fmt.Errorf("correlation id mismatch: got %d, want %d", respHeader.CorrelationID, correlationID)}
		}
		if err := dec.Decode(respBytes[4:], resp); err != nil {
			return &kerrors.FatalError{Context: "decoding response body", Err: err}
		}
		return nil
	})
	return attemptErr
}

func (c *Client) maxLen() int32 {
	if c.maxDecodeLen <= 0 {
		return kschema.DefaultMaxLen
	}
	return c.maxDecodeLen
}
