package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/labgrid-ui/lgsync/pkg/coordpb"
	"github.com/labgrid-ui/lgsync/pkg/log"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// gRPC service and method names of the coordinator.
const (
	CoordinatorService = "labgrid.Coordinator"
	ClientStreamMethod = "/" + CoordinatorService + "/ClientStream"
)

// DefaultGRPCKeepAlive is the HTTP/2 ping interval on idle connections.
const DefaultGRPCKeepAlive = 20 * time.Second

// rawCodec hands protobuf messages encoded by package coordpb to gRPC
// untouched. Messages are []byte when sending and *[]byte when receiving.
type rawCodec struct{}

func (rawCodec) Name() string { return "proto" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, fmt.Errorf("raw codec: unsupported message type %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: unsupported message type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

// GRPCDialer connects to the coordinator's gRPC service.
//
// Stream frames (message id 0) are translated to ClientInMessages on the
// ClientStream bidi stream, and ClientOutMessages back into stream
// frames. Request frames become unary calls named after their method;
// the protobuf reply is re-framed as a Response and delivered through
// Receive, so callers see the same frame protocol as on the framed
// transport.
type GRPCDialer struct {
	config ClientConfig
	creds  credentials.TransportCredentials
}

// NewGRPCDialer creates a dialer for the gRPC transport.
func NewGRPCDialer(config ClientConfig) (*GRPCDialer, error) {
	config.applyDefaults()
	if config.KeepAlive == 0 {
		config.KeepAlive = DefaultGRPCKeepAlive
	}

	d := &GRPCDialer{config: config, creds: insecure.NewCredentials()}
	if config.TLS != nil {
		tlsConf, err := NewClientTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		d.creds = credentials.NewTLS(tlsConf)
	}
	return d, nil
}

// Dial connects and opens the client stream.
func (d *GRPCDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	cc, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(d.creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                d.config.KeepAlive,
			Timeout:             d.config.KeepAlive / 2,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(rawCodec{}),
			grpc.MaxCallRecvMsgSize(int(d.config.MaxMessageSize)),
			grpc.MaxCallSendMsgSize(int(d.config.MaxMessageSize)),
		),
	)
	if err != nil {
		return nil, &DialError{Stage: StageDial, Endpoint: endpoint, Err: err}
	}

	if err := waitReady(ctx, cc); err != nil {
		cc.Close()
		return nil, &DialError{Stage: StageDial, Endpoint: endpoint, Err: err}
	}

	// The stream outlives the dial context.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := cc.NewStream(streamCtx, &grpc.StreamDesc{
		StreamName:    "ClientStream",
		ServerStreams: true,
		ClientStreams: true,
	}, ClientStreamMethod)
	if err != nil {
		cancel()
		cc.Close()
		return nil, &DialError{Stage: StageStream, Endpoint: endpoint, Err: err}
	}

	connID := d.config.connID()
	if connID == "" {
		connID = uuid.NewString()
	}

	c := &grpcConn{
		cc:      cc,
		stream:  stream,
		ctx:     streamCtx,
		cancel:  cancel,
		remote:  endpoint,
		inbound: make(chan []byte, 64),
		recvErr: make(chan error, 1),
		closeCh: make(chan struct{}),
		tap:     frameTap{logger: d.config.ProtocolLogger, connID: connID},
	}
	go c.readStream()
	return c, nil
}

func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("client connection shut down")
		}
		if !cc.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

type grpcConn struct {
	cc     *grpc.ClientConn
	stream grpc.ClientStream
	ctx    context.Context
	cancel context.CancelFunc
	remote string
	tap    frameTap

	sendMu  sync.Mutex
	inbound chan []byte
	recvErr chan error
	closeCh chan struct{}

	// mu orders calls.Add against Close's calls.Wait.
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	calls     sync.WaitGroup
}

func (c *grpcConn) RemoteAddr() string {
	return c.remote
}

func (c *grpcConn) Send(data []byte) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}

	id, err := wire.PeekMessageID(data)
	if err != nil {
		return err
	}

	if id == wire.StreamMessageID {
		in, err := wire.DecodeStreamIn(data)
		if err != nil {
			return err
		}
		msgs, err := coordpb.EncodeClientIn(in)
		if err != nil {
			return err
		}
		c.tap.emit(data, log.DirectionOut)
		c.sendMu.Lock()
		defer c.sendMu.Unlock()
		for _, msg := range msgs {
			if err := c.stream.SendMsg(msg); err != nil {
				return err
			}
		}
		return nil
	}

	req, err := wire.DecodeRequest(data)
	if err != nil {
		return err
	}
	body, err := coordpb.EncodeRequest(req.Method, req.Payload)
	if err != nil {
		return err
	}
	if !c.startCall() {
		return ErrConnectionClosed
	}
	c.tap.emit(data, log.DirectionOut)
	go c.invoke(req.MessageID, req.Method, body)
	return nil
}

func (c *grpcConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// startCall registers an in-flight unary call unless the connection is
// closing.
func (c *grpcConn) startCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.calls.Add(1)
	return true
}

func (c *grpcConn) invoke(id uint32, method wire.Method, body []byte) {
	defer c.calls.Done()

	var reply []byte
	err := c.cc.Invoke(c.ctx, "/"+CoordinatorService+"/"+method.String(), body, &reply)

	var frame []byte
	if err != nil {
		st := status.Convert(err)
		frame, err = wire.EncodeResponse(id, statusFromCode(st.Code()), nil, st.Message())
	} else {
		var result any
		result, err = coordpb.DecodeResult(method, reply)
		if err != nil {
			frame, err = wire.EncodeResponse(id, wire.StatusInternal, nil, err.Error())
		} else {
			frame, err = wire.EncodeResponse(id, wire.StatusOK, result, "")
		}
	}
	if err != nil {
		return
	}
	c.deliver(frame)
}

func (c *grpcConn) readStream() {
	decoder := coordpb.NewStreamDecoder()
	for {
		var msg []byte
		if err := c.stream.RecvMsg(&msg); err != nil {
			c.recvErr <- err
			return
		}
		out, err := decoder.Decode(msg)
		if err != nil {
			c.recvErr <- err
			return
		}
		if out.SyncID == 0 && len(out.Updates) == 0 {
			continue
		}
		frame, err := wire.EncodeStreamOut(out)
		if err != nil {
			c.recvErr <- err
			return
		}
		c.deliver(frame)
	}
}

func (c *grpcConn) deliver(frame []byte) {
	select {
	case c.inbound <- frame:
	case <-c.closeCh:
	}
}

func (c *grpcConn) Receive() ([]byte, error) {
	select {
	case frame := <-c.inbound:
		c.tap.emit(frame, log.DirectionIn)
		return frame, nil
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	case err := <-c.recvErr:
		// Replies that raced the stream end are still delivered.
		select {
		case frame := <-c.inbound:
			c.recvErr <- err
			c.tap.emit(frame, log.DirectionIn)
			return frame, nil
		default:
		}
		c.recvErr <- err
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
}

func (c *grpcConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closeCh)
		c.cancel()
		c.calls.Wait()
		err = c.cc.Close()
	})
	return err
}

// statusFromCode maps gRPC codes onto wire statuses.
func statusFromCode(code codes.Code) wire.Status {
	switch code {
	case codes.OK:
		return wire.StatusOK
	case codes.Canceled:
		return wire.StatusCancelled
	case codes.InvalidArgument, codes.OutOfRange:
		return wire.StatusInvalidArgument
	case codes.DeadlineExceeded:
		return wire.StatusDeadlineExceeded
	case codes.NotFound:
		return wire.StatusNotFound
	case codes.AlreadyExists:
		return wire.StatusAlreadyExists
	case codes.PermissionDenied, codes.Unauthenticated:
		return wire.StatusPermissionDenied
	case codes.FailedPrecondition, codes.Aborted:
		return wire.StatusFailedPrecondition
	case codes.Unavailable:
		return wire.StatusUnavailable
	case codes.Internal, codes.DataLoss:
		return wire.StatusInternal
	default:
		return wire.StatusUnknown
	}
}
