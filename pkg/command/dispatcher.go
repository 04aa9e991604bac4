package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Sender writes frames to the coordinator connection.
type Sender interface {
	Send(data []byte) error
}

// Dispatcher correlates commands with coordinator responses.
//
// Submit queues a command; Run drains the queue onto a connection;
// HandleResponse completes the matching handle. When the connection is
// lost, Disconnect completes everything outstanding with ErrCommandLost.
type Dispatcher struct {
	mu sync.Mutex

	nextID  uint32
	online  bool
	closed  bool
	queue   []*Handle
	pending map[uint32]*Handle
	wake    chan struct{}

	last     Result
	hasLast  bool
	onResult func(Result)

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. It starts offline.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pending: make(map[uint32]*Handle),
		wake:    make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for this dispatcher.
func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = logger
}

// OnResult sets a callback invoked for every completed command.
func (d *Dispatcher) OnResult(fn func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResult = fn
}

// Submit queues cmd and returns its handle. It never blocks on I/O.
// Invalid arguments complete the handle at once with an *ArgumentError;
// while offline it completes at once with ErrCommandLost.
func (d *Dispatcher) Submit(cmd Command) *Handle {
	if err := Validate(cmd); err != nil {
		h := newHandle(cmd, 0)
		d.finish(h, nil, err)
		return h
	}

	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		h := newHandle(cmd, 0)
		d.finish(h, nil, ErrDispatcherClosed)
		return h
	}
	if !d.online {
		d.mu.Unlock()
		h := newHandle(cmd, 0)
		d.finish(h, nil, fmt.Errorf("%w: not connected", ErrCommandLost))
		return h
	}

	d.nextID++
	if d.nextID == wire.StreamMessageID {
		d.nextID++
	}
	h := newHandle(cmd, d.nextID)

	frame, err := wire.EncodeRequest(&wire.Request{
		MessageID: h.id,
		Method:    cmd.Method(),
		Payload:   cmd.Payload(),
	})
	if err != nil {
		d.mu.Unlock()
		d.finish(h, nil, fmt.Errorf("encode %s: %w", cmd.Method(), err))
		return h
	}
	h.frame = frame
	d.queue = append(d.queue, h)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return h
}

// Open marks the dispatcher online so submits are queued for the next
// Run. Run opens implicitly.
func (d *Dispatcher) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.online = true
	return nil
}

// Run marks the dispatcher online and writes queued commands to conn
// until ctx is done or a send fails. A failed command completes with
// ErrCommandLost and the send error is returned.
func (d *Dispatcher) Run(ctx context.Context, conn Sender) error {
	if err := d.Open(); err != nil {
		return err
	}

	for {
		h, frame, ok := d.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
				continue
			}
		}

		if err := conn.Send(frame); err != nil {
			d.mu.Lock()
			delete(d.pending, h.id)
			d.mu.Unlock()
			d.finish(h, nil, fmt.Errorf("%w: %v", ErrCommandLost, err))
			return fmt.Errorf("send %s: %w", h.cmd.Method(), err)
		}
	}
}

// dequeue moves the head of the queue to the pending map and hands out
// its encoded frame. The frame is only touched under d.mu.
func (d *Dispatcher) dequeue() (*Handle, []byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 || !d.online {
		return nil, nil, false
	}
	h := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	d.pending[h.id] = h
	frame := h.frame
	h.frame = nil
	return h, frame, true
}

// HandleResponse completes the command matching resp. Critical statuses
// complete it with ErrCommandLost and return ErrCriticalStatus so the
// caller can drop the connection.
func (d *Dispatcher) HandleResponse(resp *wire.Response) error {
	d.mu.Lock()
	h, ok := d.pending[resp.MessageID]
	delete(d.pending, resp.MessageID)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: messageId=%d", ErrUnexpectedReply, resp.MessageID)
	}

	switch {
	case resp.Status.IsSuccess():
		d.finish(h, resp.Payload, nil)
	case resp.Status.IsCritical():
		d.finish(h, nil, fmt.Errorf("%w: %s", ErrCommandLost, resp.Status))
		return fmt.Errorf("%w: %s", ErrCriticalStatus, resp.Status)
	default:
		d.finish(h, nil, &CommandFailure{
			Method:  h.cmd.Method(),
			Target:  h.cmd.Target(),
			Status:  resp.Status,
			Message: resp.Message,
		})
	}
	return nil
}

// Disconnect takes the dispatcher offline and completes every queued and
// pending command with ErrCommandLost.
func (d *Dispatcher) Disconnect() {
	d.mu.Lock()
	d.online = false
	lost := d.drainLocked()
	d.mu.Unlock()

	for _, h := range lost {
		d.finish(h, nil, ErrCommandLost)
	}
}

// Close disconnects and rejects further submits with ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.online = false
	lost := d.drainLocked()
	d.mu.Unlock()

	for _, h := range lost {
		d.finish(h, nil, ErrCommandLost)
	}
}

func (d *Dispatcher) drainLocked() []*Handle {
	lost := make([]*Handle, 0, len(d.queue)+len(d.pending))
	lost = append(lost, d.queue...)
	for _, h := range d.pending {
		lost = append(lost, h)
	}
	d.queue = nil
	d.pending = make(map[uint32]*Handle)
	return lost
}

// Pending returns the number of commands queued or awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) + len(d.pending)
}

// Online reports whether commands are currently accepted.
func (d *Dispatcher) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

// LastResult returns the most recently completed command.
func (d *Dispatcher) LastResult() (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

func (d *Dispatcher) finish(h *Handle, payload []byte, err error) {
	result, ok := h.complete(payload, err)
	if !ok {
		return
	}

	d.mu.Lock()
	d.last = result
	d.hasLast = true
	fn := d.onResult
	logger := d.logger
	d.mu.Unlock()

	if logger != nil {
		if err != nil {
			logger.Warn("command failed",
				"method", result.Method.String(),
				"target", result.Target,
				"msgID", result.MessageID,
				"error", err)
		} else {
			logger.Debug("command completed",
				"method", result.Method.String(),
				"target", result.Target,
				"msgID", result.MessageID,
				"roundTrip", result.RoundTrip())
		}
	}
	if fn != nil {
		fn(result)
	}
}
