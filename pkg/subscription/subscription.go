package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/labgrid-ui/lgsync/pkg/snapshot"
)

// Subscription errors.
var (
	ErrResourceExhausted = errors.New("maximum subscriptions reached")
	ErrClosed            = errors.New("subscription closed")
)

// Default subscription limits.
const (
	DefaultMaxSubscriptions = 256
	DefaultMaxPending       = 1024
)

// Config holds subscription manager configuration.
type Config struct {
	// MaxSubscriptions is the maximum number of open handles.
	MaxSubscriptions int

	// MaxPending is the queue length per handle before it lags.
	MaxPending int
}

// DefaultConfig returns the default subscription configuration.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions: DefaultMaxSubscriptions,
		MaxPending:       DefaultMaxPending,
	}
}

// Handle is a registered interest in a filtered slice of the snapshot.
// Notifications are delivered in apply order. After Close nothing more is
// delivered.
type Handle struct {
	id     uint32
	filter Filter
	mgr    *Manager

	mu         sync.Mutex
	queue      []snapshot.Notification
	maxPending int
	closed     bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newHandle(id uint32, filter Filter, mgr *Manager, maxPending int) *Handle {
	return &Handle{
		id:         id,
		filter:     filter,
		mgr:        mgr,
		maxPending: maxPending,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// ID returns the handle id.
func (h *Handle) ID() uint32 {
	return h.id
}

// Filter returns the filter the handle was created with.
func (h *Handle) Filter() Filter {
	return h.filter
}

// C returns a channel that receives a value whenever notifications are
// queued. Drain with TryNext after each signal.
func (h *Handle) C() <-chan struct{} {
	return h.signal
}

// Done is closed when the handle is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Pending returns the number of queued notifications.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// TryNext returns the next queued notification without blocking.
func (h *Handle) TryNext() (snapshot.Notification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return snapshot.Notification{}, false
	}
	n := h.queue[0]
	h.queue[0] = snapshot.Notification{}
	h.queue = h.queue[1:]
	return n, true
}

// Next blocks until a notification is available, the handle is closed or
// ctx is done.
func (h *Handle) Next(ctx context.Context) (snapshot.Notification, error) {
	for {
		if n, ok := h.TryNext(); ok {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return snapshot.Notification{}, ctx.Err()
		case <-h.done:
			return snapshot.Notification{}, ErrClosed
		case <-h.signal:
		}
	}
}

// Close unregisters the handle. Safe to call more than once.
func (h *Handle) Close() {
	h.once.Do(func() {
		if h.mgr != nil {
			h.mgr.remove(h.id)
		}
		h.shutdown()
	})
}

func (h *Handle) shutdown() {
	h.mu.Lock()
	h.closed = true
	h.queue = nil
	h.mu.Unlock()
	close(h.done)
}

// deliver queues a notification if it passes the filter. It never blocks.
// On overflow the queue collapses into one Lagged marker.
func (h *Handle) deliver(n snapshot.Notification) {
	n, ok := h.filter.Apply(n)
	if !ok {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if len(h.queue) >= h.maxPending {
		h.queue = append(h.queue[:0], snapshot.Notification{Revision: n.Revision, Lagged: true})
	} else {
		h.queue = append(h.queue, n)
	}
	h.mu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}
