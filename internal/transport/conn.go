// Package transport carries encoded lines to the device over a single TCP connection.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultAddress is where the device listens when it runs as an access point.
const DefaultAddress = "192.168.4.1:8080"

// PingMessage is the greeting sent by Ping.
const PingMessage = "Hello from PC\n"

var (
	ErrTransport = errors.New("transport failure")
	ErrClosed    = errors.New("connection closed")
)

var defaultOptions = dialOptions{
	dialTimeout: 5 * time.Second,
	keepAlive:   15 * time.Second,
}

type dialOptions struct {
	dialTimeout time.Duration
	keepAlive   time.Duration
}

type Option func(*dialOptions)

func WithDialTimeout(d time.Duration) Option {
	return func(o *dialOptions) {
		o.dialTimeout = d
	}
}

func WithKeepAlive(d time.Duration) Option {
	return func(o *dialOptions) {
		o.keepAlive = d
	}
}

// Conn is a long-lived connection to the device. Writes are in order and never retried.
// Not safe for concurrent use.
type Conn struct {
	log    *zap.Logger
	conn   net.Conn
	closed bool
}

func Dial(ctx context.Context, log *zap.Logger, addr string, opts ...Option) (*Conn, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	conn, err := dial(ctx, addr, options)
	if err != nil {
		return nil, err
	}
	log.Info("Connected", zap.String("address", conn.RemoteAddr().String()))
	return &Conn{log: log, conn: conn}, nil
}

func dial(ctx context.Context, addr string, options dialOptions) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   options.dialTimeout,
		KeepAlive: options.keepAlive,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrTransport, addr, err)
	}
	return conn, nil
}

// Send writes p as a whole. A write that blocks on socket buffers is waited for; a hard
// failure is returned wrapped in ErrTransport.
func (c *Conn) Send(p []byte) error {
	if c.closed {
		return fmt.Errorf("%w: %w", ErrTransport, ErrClosed)
	}
	for len(p) > 0 {
		n, err := c.conn.Write(p)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		p = p[n:]
	}
	return nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection without any handshake with the device.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.log.Info("Connection closed")
	return c.conn.Close()
}

// Ping opens a throwaway connection, sends PingMessage and waits up to timeout for one reply
// line. The reply is returned without its line terminator.
func Ping(ctx context.Context, addr string, timeout time.Duration, opts ...Option) (string, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	conn, err := dial(ctx, addr, options)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	err = conn.SetDeadline(deadline)
	if err != nil {
		return "", fmt.Errorf("failed to set deadline: %w", err)
	}
	_, err = conn.Write([]byte(PingMessage))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	// a reply cut short by the peer closing is still a reply
	if err != nil && reply == "" {
		return "", fmt.Errorf("%w: failed to read reply: %w", ErrTransport, err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}
