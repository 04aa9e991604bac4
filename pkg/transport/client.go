package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/labgrid-ui/lgsync/pkg/log"
)

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 30 * time.Second

// ClientConfig configures coordinator dialers.
type ClientConfig struct {
	// TLS enables TLS when non-nil.
	TLS *TLSConfig

	// MaxMessageSize is the maximum frame size (default: 1 MiB).
	MaxMessageSize uint32

	// ConnectTimeout is applied when the dial context has no deadline
	// (default: 30s).
	ConnectTimeout time.Duration

	// KeepAlive is the TCP (framed) or HTTP/2 (gRPC) keepalive period.
	// Zero uses the defaults.
	KeepAlive time.Duration

	// ProtocolLogger receives frame capture events. Optional.
	ProtocolLogger log.Logger

	// ConnectionID names the connection in capture events.
	// Called once per dial; optional.
	ConnectionID func() string
}

func (c *ClientConfig) applyDefaults() {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

func (c *ClientConfig) connID() string {
	if c.ConnectionID == nil {
		return ""
	}
	return c.ConnectionID()
}

// FramedDialer connects over TCP (optionally TLS) and exchanges
// length-prefixed CBOR frames.
type FramedDialer struct {
	config  ClientConfig
	tlsConf *tls.Config
}

// NewFramedDialer creates a dialer for the framed transport.
func NewFramedDialer(config ClientConfig) (*FramedDialer, error) {
	config.applyDefaults()

	d := &FramedDialer{config: config}
	if config.TLS != nil {
		tlsConf, err := NewClientTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		d.tlsConf = tlsConf
	}
	return d, nil
}

// Dial establishes a connection to endpoint (host:port).
func (d *FramedDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{KeepAlive: d.config.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, &DialError{Stage: StageDial, Endpoint: endpoint, Err: err}
	}

	if d.tlsConf != nil {
		conf := d.tlsConf.Clone()
		if conf.ServerName == "" {
			host, _, _ := net.SplitHostPort(endpoint)
			conf.ServerName = host
		}
		tlsConn := tls.Client(conn, conf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, &DialError{Stage: StageTLS, Endpoint: endpoint, Err: err}
		}
		conn = tlsConn
	}

	framer := NewFramerWithMaxSize(conn, d.config.MaxMessageSize)
	framer.SetLogger(d.config.ProtocolLogger, d.config.connID())

	return &FramedConn{
		conn:    conn,
		framer:  framer,
		remote:  endpoint,
		closeCh: make(chan struct{}),
	}, nil
}

// FramedConn is a coordinator connection over a byte stream.
type FramedConn struct {
	conn    net.Conn
	framer  *Framer
	remote  string
	closeCh chan struct{}

	closeOnce sync.Once
	readMu    sync.Mutex
}

// NewFramedConn wraps an established net.Conn.
func NewFramedConn(conn net.Conn, maxMessageSize uint32) *FramedConn {
	if maxMessageSize == 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &FramedConn{
		conn:    conn,
		framer:  NewFramerWithMaxSize(conn, maxMessageSize),
		remote:  conn.RemoteAddr().String(),
		closeCh: make(chan struct{}),
	}
}

// RemoteAddr returns the dialed endpoint.
func (c *FramedConn) RemoteAddr() string {
	return c.remote
}

// Send writes one frame to the coordinator.
func (c *FramedConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads the next frame from the coordinator.
func (c *FramedConn) Receive() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	data, err := c.framer.ReadFrame()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

// Close closes the connection. Safe to call more than once.
func (c *FramedConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
