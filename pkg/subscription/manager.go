package subscription

import (
	"errors"
	"slices"
	"sync"

	"github.com/labgrid-ui/lgsync/pkg/snapshot"
)

// ErrManagerClosed is returned by Subscribe after CloseAll.
var ErrManagerClosed = errors.New("subscription manager closed")

// Manager fans notifications out to subscription handles. It implements
// snapshot.Publisher.
type Manager struct {
	mu sync.RWMutex

	config        Config
	subscriptions map[uint32]*Handle
	nextID        uint32
	closed        bool

	onCount func(count int)
}

// NewManager creates a new subscription manager with default configuration.
func NewManager() *Manager {
	return NewManagerWithConfig(DefaultConfig())
}

// NewManagerWithConfig creates a new subscription manager with custom configuration.
func NewManagerWithConfig(config Config) *Manager {
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultMaxPending
	}

	return &Manager{
		config:        config,
		subscriptions: make(map[uint32]*Handle),
	}
}

// Subscribe registers a new handle. Only notifications published after
// Subscribe returns are delivered to it.
func (m *Manager) Subscribe(filter Filter) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if len(m.subscriptions) >= m.config.MaxSubscriptions {
		return nil, ErrResourceExhausted
	}

	m.nextID++
	h := newHandle(m.nextID, filter, m, m.config.MaxPending)
	m.subscriptions[h.id] = h
	m.countChanged()
	return h, nil
}

// OnCountChange sets a callback for changes of the number of open handles.
// It runs under the manager lock and must not call back into the Manager.
func (m *Manager) OnCountChange(fn func(count int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCount = fn
}

// countChanged must be called with m.mu held for writing.
func (m *Manager) countChanged() {
	if m.onCount != nil {
		m.onCount(len(m.subscriptions))
	}
}

// Publish delivers n to every matching handle, in id order. It never
// blocks on subscribers.
func (m *Manager) Publish(n snapshot.Notification) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint32, 0, len(m.subscriptions))
	for id := range m.subscriptions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		m.subscriptions[id].deliver(n)
	}
}

// Count returns the number of open handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// CloseAll closes every handle and rejects further subscriptions.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	subs := m.subscriptions
	m.subscriptions = make(map[uint32]*Handle)
	m.closed = true
	if len(subs) > 0 {
		m.countChanged()
	}
	m.mu.Unlock()

	for _, h := range subs {
		h.once.Do(h.shutdown)
	}
}

func (m *Manager) remove(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[id]; !ok {
		return
	}
	delete(m.subscriptions, id)
	m.countChanged()
}

var _ snapshot.Publisher = (*Manager)(nil)
