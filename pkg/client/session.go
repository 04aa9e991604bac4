package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labgrid-ui/lgsync/pkg/command"
	"github.com/labgrid-ui/lgsync/pkg/config"
	"github.com/labgrid-ui/lgsync/pkg/connection"
	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/log"
	"github.com/labgrid-ui/lgsync/pkg/metrics"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/subscription"
	"github.com/labgrid-ui/lgsync/pkg/transport"
)

// Connectivity is the connection status exposed to consumers.
type Connectivity uint8

const (
	Disconnected Connectivity = iota
	Connected
	Reconnecting
)

// String returns the connectivity name.
func (c Connectivity) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var connectivityNames = []string{
	Disconnected.String(), Connected.String(), Reconnecting.String(),
}

// Session errors.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")

	// ErrResyncTimeout ends a connection whose resync did not complete in time.
	ErrResyncTimeout = errors.New("resync timed out")
)

// Option configures a Session.
type Option func(*Session)

// WithDialer sets the dialer. By default one is built from the config
// transport and TLS settings.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithLogger sets the operational logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProtocolLogger captures frames, messages and state changes.
func WithProtocolLogger(logger log.Logger) Option {
	return func(s *Session) { s.protocolLogger = logger }
}

// WithMetrics records session metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithBackoff sets the reconnect backoff.
func WithBackoff(b *connection.Backoff) Option {
	return func(s *Session) { s.backoff = b }
}

// Session is a synchronized view of one coordinator.
//
// It keeps a connection up with backoff, rebuilds the snapshot by a full
// resync on every connection, applies the change stream in order, fans
// changes out to subscribers and dispatches commands.
type Session struct {
	cfg            config.Config
	logger         *slog.Logger
	protocolLogger log.Logger
	metrics        *metrics.Metrics
	dialer         transport.Dialer
	backoff        *connection.Backoff

	store      *snapshot.Store
	subs       *subscription.Manager
	dispatcher *command.Dispatcher
	manager    *connection.Manager

	// inject feeds locally obtained events (reservation polls) to the pump.
	inject chan []event.Event

	mu           sync.Mutex
	started      bool
	closed       bool
	runCtx       context.Context
	cancel       context.CancelFunc
	current      *liveConn
	dialConnID   string
	syncID       uint64
	connectivity Connectivity
	watchers     []watcher
	nextWatcher  int
	place        string
	envFile      string

	connWG sync.WaitGroup
}

type watcher struct {
	id int
	fn func(Connectivity)
}

// New creates a session. It does not connect until Start.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Session{
		cfg:     cfg,
		logger:  slog.Default(),
		inject:  make(chan []event.Event, 16),
		place:   cfg.Place,
		envFile: cfg.EnvFile,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dialer == nil {
		d, err := s.defaultDialer()
		if err != nil {
			return nil, err
		}
		s.dialer = d
	}

	s.subs = subscription.NewManager()
	s.subs.OnCountChange(s.metrics.SetSubscriptions)
	s.store = snapshot.NewStore(snapshot.PublisherFunc(s.subs.Publish))

	s.dispatcher = command.NewDispatcher()
	s.dispatcher.SetLogger(s.logger)
	s.dispatcher.OnResult(s.onCommandResult)

	s.manager = connection.NewManagerWithConfig(s.connect, connection.ManagerConfig{
		Backoff:        s.backoff,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	s.manager.OnStateChange(s.onManagerState)
	s.manager.OnReconnecting(s.onReconnecting)

	s.metrics.SetConnectivity(Disconnected.String(), connectivityNames...)
	return s, nil
}

func (s *Session) defaultDialer() (transport.Dialer, error) {
	cc := transport.ClientConfig{
		MaxMessageSize: s.cfg.MaxMessageSize,
		ConnectTimeout: s.cfg.ConnectTimeout,
		ProtocolLogger: s.protocolLogger,
		ConnectionID:   s.pendingConnID,
	}
	if s.cfg.TLS.Enabled {
		cc.TLS = &transport.TLSConfig{
			CAFile:             s.cfg.TLS.CAFile,
			CertFile:           s.cfg.TLS.CertFile,
			KeyFile:            s.cfg.TLS.KeyFile,
			ServerName:         s.cfg.TLS.ServerName,
			InsecureSkipVerify: s.cfg.TLS.InsecureSkipVerify,
		}
	}

	if s.cfg.Transport == config.TransportFramed {
		d, err := transport.NewFramedDialer(cc)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	d, err := transport.NewGRPCDialer(cc)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// pendingConnID names the connection being dialed, so frame capture and
// session events share one id.
func (s *Session) pendingConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialConnID
}

// Start begins connecting in the background. A coordinator that is down
// is not an error: the session keeps retrying with backoff. Cancelling
// ctx closes the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return connection.ErrAlreadyStarted
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	context.AfterFunc(ctx, func() { _ = s.Close() })

	s.logger.Info("session starting",
		"coordinator", s.cfg.Coordinator,
		"transport", s.cfg.Transport,
		"name", s.cfg.ClientName())
	return s.manager.Start()
}

// Close stops reconnecting, tears down the connection, fails every
// outstanding command with command.ErrCommandLost, clears the snapshot
// and closes all subscriptions.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	s.manager.Close()
	if cancel != nil {
		cancel()
	}
	s.connWG.Wait()

	s.dispatcher.Close()
	s.store.Reset()
	s.subs.CloseAll()
	s.setConnectivity(Disconnected)
	s.logger.Info("session closed", "coordinator", s.cfg.Coordinator)
	return nil
}

// Connectivity returns the current connection status.
func (s *Session) Connectivity() Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectivity
}

// ConnectivityChanges registers fn for connectivity transitions and
// returns a function that unregisters it. fn runs on an internal
// goroutine and must not block.
func (s *Session) ConnectivityChanges(fn func(Connectivity)) (unregister func()) {
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers = append(s.watchers, watcher{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, w := range s.watchers {
			if w.id == id {
				s.watchers = append(s.watchers[:i:i], s.watchers[i+1:]...)
				return
			}
		}
	}
}

// LastConnectError returns the error of the most recent failed attempt.
func (s *Session) LastConnectError() error {
	return s.manager.LastError()
}

func (s *Session) setConnectivity(c Connectivity) {
	s.mu.Lock()
	if s.connectivity == c {
		s.mu.Unlock()
		return
	}
	old := s.connectivity
	s.connectivity = c
	watchers := make([]func(Connectivity), 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w.fn)
	}
	s.mu.Unlock()

	s.metrics.SetConnectivity(c.String(), connectivityNames...)
	s.logger.Info("connectivity changed", "from", old.String(), "to", c.String())
	s.logStateFor("", log.StateEntityConnection, old.String(), c.String(), "")

	for _, fn := range watchers {
		fn(c)
	}
}

// onManagerState maps reconnect manager states onto Connectivity.
func (s *Session) onManagerState(_, state connection.State) {
	switch state {
	case connection.StateConnected:
		s.setConnectivity(Connected)
	case connection.StateReconnecting:
		s.setConnectivity(Reconnecting)
	case connection.StateConnecting:
		// The first attempt reads as disconnected; retries keep reconnecting.
	default:
		s.setConnectivity(Disconnected)
	}
}

func (s *Session) onReconnecting(attempt int, delay time.Duration, lastErr error) {
	s.metrics.IncReconnects()
	s.logger.Info("reconnecting",
		"coordinator", s.cfg.Coordinator,
		"attempt", attempt,
		"delay", delay,
		"error", lastErr)
}

func (s *Session) onCommandResult(r command.Result) {
	outcome := metrics.OutcomeSuccess
	switch {
	case r.Err == nil:
	case errors.Is(r.Err, command.ErrCommandLost), errors.Is(r.Err, command.ErrDispatcherClosed):
		outcome = metrics.OutcomeLost
	default:
		outcome = metrics.OutcomeFailure
	}
	s.metrics.RecordCommand(r.Method.String(), outcome, r.RoundTrip())

	reason := ""
	if r.Err != nil {
		reason = r.Err.Error()
	}
	s.logStateFor(r.Target, log.StateEntityCommand, r.Method.String(), outcome, reason)
}
