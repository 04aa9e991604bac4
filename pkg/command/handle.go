package command

import (
	"context"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Result is the outcome of a completed command.
type Result struct {
	MessageID uint32
	Method    wire.Method
	Target    string

	// Payload is the raw result on success.
	Payload cbor.RawMessage

	// Err is nil on success, *CommandFailure on rejection, or wraps
	// ErrCommandLost / ErrDispatcherClosed.
	Err error

	Submitted time.Time
	Completed time.Time
}

// RoundTrip returns the time from submit to completion.
func (r Result) RoundTrip() time.Duration {
	return r.Completed.Sub(r.Submitted)
}

// Handle tracks one submitted command.
type Handle struct {
	cmd       Command
	id        uint32
	frame     []byte // guarded by Dispatcher.mu
	submitted time.Time

	done   chan struct{}
	once   sync.Once
	result Result
}

func newHandle(cmd Command, id uint32) *Handle {
	return &Handle{
		cmd:       cmd,
		id:        id,
		submitted: time.Now(),
		done:      make(chan struct{}),
	}
}

// Command returns the submitted command.
func (h *Handle) Command() Command {
	return h.cmd
}

// MessageID returns the correlation id; zero if the command was never sent.
func (h *Handle) MessageID() uint32 {
	return h.id
}

// Done is closed when the command completes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the command completes or ctx is done and returns the
// command error. Giving up on ctx does not cancel the command.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the command error, or nil while pending or on success.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.result.Err
	default:
		return nil
	}
}

// Result returns the outcome and whether the command has completed.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// complete records the outcome once. Later calls are ignored.
func (h *Handle) complete(payload cbor.RawMessage, err error) (Result, bool) {
	completed := false
	h.once.Do(func() {
		h.result = Result{
			MessageID: h.id,
			Method:    h.cmd.Method(),
			Target:    h.cmd.Target(),
			Payload:   payload,
			Err:       err,
			Submitted: h.submitted,
			Completed: time.Now(),
		}
		close(h.done)
		completed = true
	})
	return h.result, completed
}

// Decode decodes the result payload of a completed command into T.
func Decode[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T
	if err := h.Wait(ctx); err != nil {
		return zero, err
	}
	return wire.DecodePayload[T](h.result.Payload)
}
