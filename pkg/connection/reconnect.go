package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 30 * time.Second

// Manager errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrAlreadyStarted   = errors.New("connection manager already started")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection and no retry pending.
	StateDisconnected State = iota

	// StateConnecting indicates the first connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes a connection. It returns nil once the
// connection is up; later loss is reported through NotifyConnectionLost.
type ConnectFunc func(ctx context.Context) error

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Backoff paces retries. Defaults to NewBackoff().
	Backoff *Backoff

	// ConnectTimeout bounds each attempt (default: 30s).
	ConnectTimeout time.Duration

	// DisableReconnect stops the manager after the first failure or loss.
	DisableReconnect bool
}

type callbacks struct {
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration, lastErr error)
}

// Manager drives a connection through its lifecycle and retries with
// backoff until it is closed.
type Manager struct {
	mu sync.Mutex

	state          State
	backoff        *Backoff
	connectFn      ConnectFunc
	connectTimeout time.Duration
	autoReconnect  bool
	started        bool

	// lostEarly records a loss reported while an attempt was still
	// returning, so the attempt's success is not mistaken for a live link.
	lostEarly bool
	lastErr   error

	cb callbacks

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	reconnectCh chan struct{}
}

// NewManager creates a manager with the default policy.
func NewManager(connectFn ConnectFunc) *Manager {
	return NewManagerWithConfig(connectFn, ManagerConfig{})
}

// NewManagerWithConfig creates a manager with custom settings.
func NewManagerWithConfig(connectFn ConnectFunc, cfg ManagerConfig) *Manager {
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoff()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		state:          StateDisconnected,
		backoff:        cfg.Backoff,
		connectFn:      connectFn,
		connectTimeout: cfg.ConnectTimeout,
		autoReconnect:  !cfg.DisableReconnect,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// LastError returns the error of the most recent failed attempt.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Start launches the background loop and makes the first attempt
// immediately. Failures go to the backoff path; Start itself only fails
// if the manager is closed or already started.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.setState(StateConnecting)

	m.wg.Add(1)
	go m.loop()
	return nil
}

// Connect performs one synchronous attempt without retrying.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.mu.Unlock()

	m.setState(StateConnecting)
	if err := m.attempt(ctx); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return nil
}

// NotifyConnectionLost reports that an established connection failed.
// With auto-reconnect enabled the manager starts retrying.
func (m *Manager) NotifyConnectionLost(err error) {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
	case StateConnecting, StateReconnecting:
		m.lostEarly = true
		m.lastErr = err
		m.mu.Unlock()
		return
	default:
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.mu.Unlock()

	m.lost()
}

// Close stops the loop and waits for it to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.setState(StateClosed)
	m.cancel()
	m.wg.Wait()
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.onStateChange = fn
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.onConnected = fn
}

// OnDisconnected sets a callback for connection loss.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each delayed retry.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration, lastErr error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.onReconnecting = fn
}

// BackoffAttempts returns the number of retries since the last success.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

func (m *Manager) callbacks() callbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cb
}

// setState transitions unless closed and reports the change.
func (m *Manager) setState(s State) bool {
	m.mu.Lock()
	old := m.state
	if old == StateClosed || old == s {
		m.mu.Unlock()
		return false
	}
	m.state = s
	fn := m.cb.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(old, s)
	}
	return true
}

// attempt runs connectFn once with the per-attempt timeout and records
// the outcome.
func (m *Manager) attempt(ctx context.Context) error {
	m.mu.Lock()
	m.lostEarly = false
	m.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err := m.connectFn(attemptCtx)
	cancel()

	m.mu.Lock()
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	early := m.lostEarly
	m.lostEarly = false
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.mu.Unlock()

	m.backoff.Reset()
	m.setState(StateConnected)
	if fn := m.callbacks().onConnected; fn != nil {
		fn()
	}
	if early {
		m.lost()
	}
	return nil
}

func (m *Manager) lost() {
	m.mu.Lock()
	next := StateDisconnected
	if m.autoReconnect {
		next = StateReconnecting
	}
	m.mu.Unlock()

	if !m.setState(next) {
		return
	}
	if fn := m.callbacks().onDisconnected; fn != nil {
		fn()
	}
	if next == StateReconnecting {
		m.trigger()
	}
}

func (m *Manager) trigger() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()

	// First attempt runs without delay.
	if m.attempt(m.ctx) != nil {
		m.failed()
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.retry()
		}
	}
}

// failed moves a failed attempt to the retry path or gives up.
func (m *Manager) failed() {
	m.mu.Lock()
	auto := m.autoReconnect
	m.mu.Unlock()

	if !auto {
		m.setState(StateDisconnected)
		return
	}
	m.setState(StateReconnecting)
	m.trigger()
}

// retry attempts with backoff until connected, closed or disabled.
func (m *Manager) retry() {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		m.mu.Lock()
		state, auto, lastErr := m.state, m.autoReconnect, m.lastErr
		m.mu.Unlock()

		if state != StateReconnecting {
			return
		}
		if !auto {
			m.setState(StateDisconnected)
			return
		}

		delay := m.backoff.Next()
		if fn := m.callbacks().onReconnecting; fn != nil {
			fn(m.backoff.Attempts(), delay, lastErr)
		}

		timer.Reset(delay)
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}

		if m.attempt(m.ctx) == nil {
			return
		}
	}
}
