package transport

import (
	"context"
	"errors"
	"fmt"
)

// Conn is one established connection to the coordinator, carrying
// whole wire frames in both directions.
// Implemented by FramedConn, grpcConn and pipeConn.
type Conn interface {
	// Send writes one frame. Safe for concurrent use.
	Send(data []byte) error

	// Receive blocks until the next inbound frame arrives. It returns
	// io.EOF when the coordinator ends the stream and ErrConnectionClosed
	// after Close.
	Receive() ([]byte, error)

	// Close tears the connection down and unblocks Receive.
	Close() error

	// RemoteAddr returns the coordinator address for logging.
	RemoteAddr() string
}

// Dialer establishes coordinator connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNoEndpoint       = errors.New("coordinator endpoint is required")
)

// Dial stages reported in DialError.
const (
	StageDial   = "dial"
	StageTLS    = "tls"
	StageStream = "stream"
)

// DialError describes a failed connection attempt.
type DialError struct {
	Stage    string
	Endpoint string
	Err      error
}

func (e *DialError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("coordinator %s: %s failed", e.Endpoint, e.Stage)
	}
	return fmt.Sprintf("coordinator %s: %s: %v", e.Endpoint, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Compile-time interface satisfaction checks.
var (
	_ Conn            = (*FramedConn)(nil)
	_ Conn            = (*grpcConn)(nil)
	_ Conn            = (*pipeConn)(nil)
	_ Dialer          = (*FramedDialer)(nil)
	_ Dialer          = (*GRPCDialer)(nil)
	_ Dialer          = DialerFunc(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
