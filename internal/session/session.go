// Package session runs one request/reply exchange against a line-oriented
// control service: connect, write the command plus CRLF, read until the peer
// closes. There is no framing besides EOF, so the read side is bounded by an
// idle timeout between reads and by the caller's context.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

const (
	lineTerminator = "\r\n"
	readChunk      = 4096
)

// DefaultMaxReply is the reply cap used by NewClient and the zero Client.
const DefaultMaxReply = 1 << 20

var (
	// ErrConnectionRefused: nothing listens on the service port.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrConnectFailed: the dial failed for any other reason, including
	// resolution errors and the connect timeout.
	ErrConnectFailed = errors.New("connect failed")
	// ErrTimeout: the peer stayed silent for a whole read timeout. Bytes
	// received before that are dropped.
	ErrTimeout = errors.New("timeout")
	// ErrCanceled: the caller's context ended before the peer closed.
	ErrCanceled = errors.New("canceled")
	// ErrConnectionLost: a write or read failed after connecting.
	ErrConnectionLost = errors.New("connection lost")
	// ErrReplyTooLarge: the reply grew past Client.MaxReply.
	ErrReplyTooLarge = errors.New("reply too large")
)

// State is the terminal state of a session.
type State int

const (
	StateSucceeded State = iota // peer closed, reply complete (possibly empty)
	StateTimedOut               // ErrTimeout
	StateRefused                // ErrConnectionRefused or ErrConnectFailed
	StateCanceled               // ErrCanceled
	StateFailed                 // anything else
)

func (s State) String() string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StateTimedOut:
		return "timed-out"
	case StateRefused:
		return "connection-refused"
	case StateCanceled:
		return "canceled"
	default:
		return "failed"
	}
}

// StateOf maps an Execute error to the session's terminal state.
func StateOf(err error) State {
	switch {
	case err == nil:
		return StateSucceeded
	case errors.Is(err, ErrTimeout):
		return StateTimedOut
	case errors.Is(err, ErrConnectionRefused), errors.Is(err, ErrConnectFailed):
		return StateRefused
	case errors.Is(err, ErrCanceled):
		return StateCanceled
	default:
		return StateFailed
	}
}

// Client executes sessions. The zero value is usable.
type Client struct {
	// MaxReply caps the reply size; 0 means DefaultMaxReply, <0 disables the cap.
	MaxReply int
}

// NewClient returns a Client capped at DefaultMaxReply.
func NewClient() *Client { return &Client{MaxReply: DefaultMaxReply} }

// Execute opens exactly one connection to addr, sends payload followed by
// CRLF and returns every byte the peer wrote before closing its side.
//
// A zero-byte reply followed by EOF is a success. On any error, bytes read so
// far are discarded. The connection is closed on every return path, and also
// as soon as ctx is done.
func (c *Client) Execute(ctx context.Context, addr, payload string, t model.Timeouts) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err, "connect", addr)
	}

	d := net.Dialer{Timeout: t.Connect}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dialError(ctx, addr, err)
	}
	defer func() { _ = conn.Close() }()

	// Closing is final, unlike a deadline which the read loop would overwrite.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if t.Read > 0 {
		_ = conn.SetWriteDeadline(deadline(ctx, t.Read))
	}
	if _, err := io.WriteString(conn, payload+lineTerminator); err != nil {
		return nil, ioError(ctx, "send", addr, err)
	}

	reply, err := c.readReply(ctx, conn, t.Read)
	if err != nil {
		return nil, ioError(ctx, "receive", addr, err)
	}
	return reply, nil
}

func (c *Client) readReply(ctx context.Context, conn net.Conn, idle time.Duration) ([]byte, error) {
	limit := c.MaxReply
	if limit == 0 {
		limit = DefaultMaxReply
	}
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		if idle > 0 {
			_ = conn.SetReadDeadline(deadline(ctx, idle))
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			if limit > 0 && buf.Len()+n > limit {
				return nil, ErrReplyTooLarge
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// deadline is now+d, clipped to the context deadline.
func deadline(ctx context.Context, d time.Duration) time.Time {
	t := time.Now().Add(d)
	if cd, ok := ctx.Deadline(); ok && cd.Before(t) {
		return cd
	}
	return t
}

func contextError(err error, op, addr string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, op, addr, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrCanceled, op, addr, err)
}

func dialError(ctx context.Context, addr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr, "connect", addr)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %s: %w", ErrConnectionRefused, addr, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnectFailed, addr, err)
}

func ioError(ctx context.Context, op, addr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return contextError(ctxErr, op, addr)
	}
	if errors.Is(err, ErrReplyTooLarge) {
		return fmt.Errorf("%s %s: %w", op, addr, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, op, addr, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrConnectionLost, op, addr, err)
}
