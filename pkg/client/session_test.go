package client

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labgrid-ui/lgsync/internal/coordinatortest"
	"github.com/labgrid-ui/lgsync/pkg/command"
	"github.com/labgrid-ui/lgsync/pkg/config"
	"github.com/labgrid-ui/lgsync/pkg/connection"
	"github.com/labgrid-ui/lgsync/pkg/log"
	"github.com/labgrid-ui/lgsync/pkg/metrics"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/subscription"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

const waitFor = 2 * time.Second

var usbRule = wire.ResourceMatch{
	Exporter: "*",
	Group:    "*",
	Class:    "usb",
	Params:   map[string]string{"serial": "ABC"},
}

var r1 = wire.Path{Exporter: "exporterA", Group: "groupX", Class: "usb", Name: "r1"}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Coordinator = "coordinator.test:20408"
	cfg.Hostname = "bench"
	cfg.Username = "alice"
	cfg.ReservationPollInterval = 0
	return cfg
}

func newSession(t *testing.T, co *coordinatortest.Coordinator, cfg config.Config, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{
		WithDialer(co.Dialer()),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithBackoff(connection.NewBackoffWithConfig(connection.BackoffConfig{
			Initial: 5 * time.Millisecond,
			Max:     20 * time.Millisecond,
		})),
	}, opts...)

	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		co.Close()
	})
	return s
}

func startLive(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	waitLive(t, s)
}

func waitLive(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == snapshot.StateLive
	}, waitFor, 2*time.Millisecond)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func farm() *coordinatortest.Coordinator {
	co := coordinatortest.New()
	co.PutPlace(wire.Place{Name: "p1", Matches: []wire.ResourceMatch{usbRule}})
	co.PutPlace(wire.Place{Name: "p2", Aliases: []string{"bench-two"}})
	return co
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Coordinator = ""
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrNoCoordinator)
}

func TestSessionInitialSync(t *testing.T) {
	co := farm()
	co.PutResource(wire.Resource{Path: r1, Params: map[string]any{"serial": "ABC"}, Avail: true})
	s := newSession(t, co, testConfig())

	startLive(t, s)

	places := s.Places()
	require.Len(t, places, 2)
	assert.Equal(t, "p1", places[0].Name)
	assert.Equal(t, []wire.Path{r1}, places[0].Resources)

	p2, ok := s.Place("bench-two")
	require.True(t, ok, "places resolve by alias")
	assert.Equal(t, "p2", p2.Name)

	res, ok := s.Resource(r1)
	require.True(t, ok)
	assert.Equal(t, "p1", res.Place)
	assert.Len(t, s.ResourcesByExporter("exporterA"), 1)

	assert.Equal(t, Connected, s.Connectivity())
	require.Eventually(t, func() bool {
		return len(co.Clients()) == 1 && co.Clients()[0] == "bench/alice"
	}, waitFor, 2*time.Millisecond)
}

func TestSessionAttachDetachScenario(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)

	co.PutResource(wire.Resource{Path: r1, Params: map[string]any{"serial": "ABC"}})
	require.Eventually(t, func() bool {
		p, _ := s.Place("p1")
		return len(p.Resources) == 1
	}, waitFor, 2*time.Millisecond)

	co.RemoveResource(r1)
	require.Eventually(t, func() bool {
		p, _ := s.Place("p1")
		return len(p.Resources) == 0
	}, waitFor, 2*time.Millisecond)

	_, ok := s.Resource(r1)
	assert.False(t, ok)
}

func TestSessionAcquireConfirmedByEvent(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)

	rev := s.Revision()
	require.NoError(t, s.Acquire(testCtx(t), "p1"))

	// The confirming update precedes the response on the same stream.
	assert.Equal(t, rev+1, s.Revision())
	p, _ := s.Place("p1")
	assert.Equal(t, "bench/alice", p.Acquired)

	last, ok := s.LastCommandResult()
	require.True(t, ok)
	assert.Equal(t, wire.MethodAcquirePlace, last.Method)
	assert.NoError(t, last.Err)
}

func TestSessionCommandFailureIsNotRetried(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)

	require.NoError(t, s.Acquire(testCtx(t), "p1"))
	err := s.Acquire(testCtx(t), "p1")

	assert.True(t, command.IsFailedPrecondition(err))
	assert.NotErrorIs(t, err, command.ErrCommandLost)
	assert.Contains(t, err.Error(), "already acquired")

	acquires := 0
	for _, m := range co.Requests() {
		if m == wire.MethodAcquirePlace {
			acquires++
		}
	}
	assert.Equal(t, 2, acquires)

	assert.True(t, command.IsNotFound(s.Release(testCtx(t), "nope")))
}

func TestSessionAcquireWhileDisconnected(t *testing.T) {
	co := farm()
	co.SetDown(true)
	s := newSession(t, co, testConfig())
	require.NoError(t, s.Start(context.Background()))

	err := s.Acquire(testCtx(t), "p1")
	assert.ErrorIs(t, err, command.ErrCommandLost)

	co.SetDown(false)
	waitLive(t, s)

	rev := s.Revision()
	require.NoError(t, s.Acquire(testCtx(t), "p1"))
	assert.Equal(t, rev+1, s.Revision())
}

func TestSessionDisconnectLosesPendingCommands(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)
	rev := s.Revision()

	co.HoldRequests(true)
	handles := []*command.Handle{
		s.Submit(command.Acquire{Place: "p1"}),
		s.Submit(command.SetComment{Place: "p2", Comment: "rack 4"}),
	}
	require.Eventually(t, func() bool { return co.HeldRequests() == 2 }, waitFor, 2*time.Millisecond)

	co.DisconnectAll()

	for _, h := range handles {
		assert.ErrorIs(t, h.Wait(testCtx(t)), command.ErrCommandLost)
	}

	// The last view stays readable and a resync without changes does not
	// bump the revision.
	assert.Len(t, s.Places(), 2)
	waitLive(t, s)
	assert.Equal(t, rev, s.Revision())
	assert.Len(t, s.Places(), 2)
}

func TestSessionConnectivityChanges(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())

	var mu sync.Mutex
	var seen []Connectivity
	unregister := s.ConnectivityChanges(func(c Connectivity) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	defer unregister()

	startLive(t, s)
	co.DisconnectAll()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 3
	}, waitFor, 2*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []Connectivity{Connected, Reconnecting, Connected}, seen[:3])
	mu.Unlock()
	assert.Equal(t, 2, co.Dials())
}

func TestSessionResyncTimeout(t *testing.T) {
	co := farm()
	co.HoldSync(true)
	cfg := testConfig()
	cfg.ResyncTimeout = 30 * time.Millisecond
	s := newSession(t, co, cfg)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return co.Dials() >= 3 }, waitFor, 2*time.Millisecond)
	assert.NotEqual(t, snapshot.StateLive, s.State())

	co.HoldSync(false)
	waitLive(t, s)
	assert.Len(t, s.Places(), 2)
}

func TestSessionDropsUndecodableFrame(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)

	bad := wire.Place{Name: "bad"}
	frame, err := wire.EncodeStreamOut(&wire.StreamOut{
		Updates: []wire.Update{{Place: &bad, PlaceName: "bad"}},
	})
	require.NoError(t, err)
	co.SendRaw(frame)
	co.SendRaw([]byte{0xff})

	co.PutPlace(wire.Place{Name: "p3"})
	require.Eventually(t, func() bool {
		_, ok := s.Place("p3")
		return ok
	}, waitFor, 2*time.Millisecond)

	_, ok := s.Place("bad")
	assert.False(t, ok)
	assert.Equal(t, 1, co.Dials(), "a bad frame must not drop the connection")
}

func TestSessionCriticalStatusReconnects(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)

	co.Reject(wire.MethodAcquirePlace, wire.StatusUnavailable, "")
	err := s.Acquire(testCtx(t), "p1")
	assert.ErrorIs(t, err, command.ErrCommandLost)

	require.Eventually(t, func() bool { return co.Dials() == 2 }, waitFor, 2*time.Millisecond)
	waitLive(t, s)
}

func TestSessionSubscribe(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)

	h, view, err := s.Subscribe(subscription.Place("p1"))
	require.NoError(t, err)
	defer h.Close()

	_, ok := view.Place("p1")
	require.True(t, ok)
	assert.Equal(t, s.Revision(), view.Revision)

	require.NoError(t, s.SetComment(testCtx(t), "p2", "not for p1"))
	require.NoError(t, s.Acquire(testCtx(t), "p1"))

	n, err := h.Next(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, view.Revision+2, n.Revision, "first delivery follows the view")
	require.Len(t, n.Changes, 1)
	assert.Equal(t, "p1", n.Changes[0].Key)
	_, more := h.TryNext()
	assert.False(t, more)
}

func subscriptionGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == metrics.Namespace+"_subscriptions" {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("subscriptions gauge not registered")
	return 0
}

func TestSessionSubscriptionGaugeFollowsHandles(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	s := newSession(t, farm(), testConfig(), WithMetrics(m))
	startLive(t, s)

	h1, _, err := s.Subscribe(subscription.Everything())
	require.NoError(t, err)
	h2, _, err := s.Subscribe(subscription.Place("p1"))
	require.NoError(t, err)
	assert.Equal(t, 2.0, subscriptionGauge(t, reg))

	h1.Close()
	assert.Equal(t, 1.0, subscriptionGauge(t, reg))

	require.NoError(t, s.Close())
	assert.Equal(t, 0.0, subscriptionGauge(t, reg))
	h2.Close()
	assert.Equal(t, 0.0, subscriptionGauge(t, reg))
}

func TestSessionPlaceManagement(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)
	ctx := testCtx(t)

	require.NoError(t, s.CreatePlace(ctx, "p9"))
	assert.True(t, command.IsAlreadyExists(s.CreatePlace(ctx, "p9")))

	require.NoError(t, s.AddMatch(ctx, "p9", "exporterA/groupX/usb", ""))
	require.NoError(t, s.AddAlias(ctx, "p9", "nine"))
	require.NoError(t, s.SetTags(ctx, "p9", map[string]string{"board": "rpi4"}))

	p, ok := s.Place("nine")
	require.True(t, ok)
	assert.Equal(t, "p9", p.Name)
	assert.Equal(t, "rpi4", p.Tags["board"])
	require.Len(t, p.Matches, 1)

	assert.Error(t, s.AddMatch(ctx, "p9", "not-a-pattern", ""))

	co.PutResource(wire.Resource{Path: r1})
	require.Eventually(t, func() bool {
		r, _ := s.Resource(r1)
		return r.Place == "p9"
	}, waitFor, 2*time.Millisecond)

	require.NoError(t, s.RemoveMatch(ctx, "p9", "exporterA/groupX/usb", ""))
	r, _ := s.Resource(r1)
	assert.Empty(t, r.Place)

	require.NoError(t, s.DeletePlace(ctx, "p9"))
	_, ok = s.Place("p9")
	assert.False(t, ok)
}

func TestSessionRemoveMatchNeedsRename(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)
	ctx := testCtx(t)

	require.NoError(t, s.AddMatch(ctx, "p2", "exporterA/groupX/usb/r1", "console"))

	err := s.RemoveMatch(ctx, "p2", "exporterA/groupX/usb/r1", "")
	assert.True(t, command.IsNotFound(err), "got %v", err)

	require.NoError(t, s.RemoveMatch(ctx, "p2", "exporterA/groupX/usb/r1", "console"))
	p, ok := s.Place("p2")
	require.True(t, ok)
	assert.Empty(t, p.Matches)
}

func TestSessionRejectsBlankArguments(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)
	ctx := testCtx(t)
	rev := s.Revision()

	for name, err := range map[string]error{
		"acquire":   s.Acquire(ctx, "   "),
		"create":    s.CreatePlace(ctx, ""),
		"delete":    s.DeletePlace(ctx, "\t"),
		"alias":     s.AddAlias(ctx, "p1", " "),
		"allow":     s.Allow(ctx, "p1", ""),
		"cancel":    s.CancelReservation(ctx, " "),
		"add-match": s.AddMatch(ctx, "", "exporterA/groupX/usb", ""),
		"tags":      s.SetTags(ctx, "p1", map[string]string{" ": "x"}),
	} {
		var argErr *command.ArgumentError
		assert.ErrorAs(t, err, &argErr, name)
		assert.ErrorIs(t, err, command.ErrInvalidArgument, name)
	}

	_, ok := s.Place("")
	assert.False(t, ok)
	assert.Equal(t, rev, s.Revision(), "nothing reached the coordinator")
}

func TestSessionReservations(t *testing.T) {
	co := farm()
	co.PutReservation(wire.Reservation{Owner: "bench/bob", Token: "OLD", State: wire.ReservationWaiting})
	cfg := testConfig()
	cfg.ReservationPollInterval = 10 * time.Millisecond
	s := newSession(t, co, cfg)
	startLive(t, s)

	require.Eventually(t, func() bool {
		_, ok := s.Reservation("OLD")
		return ok
	}, waitFor, 2*time.Millisecond)

	r, err := s.CreateReservation(testCtx(t), map[string]map[string]string{"main": {"board": "rpi4"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, "bench/alice", r.Owner)
	require.Eventually(t, func() bool {
		_, ok := s.Reservation(r.Token)
		return ok
	}, waitFor, 2*time.Millisecond)

	require.NoError(t, s.CancelReservation(testCtx(t), r.Token))
	co.DeleteReservation("OLD")
	require.Eventually(t, func() bool {
		return len(s.Reservations()) == 0
	}, waitFor, 2*time.Millisecond)

	_, err = s.PollReservation(testCtx(t), "OLD")
	assert.True(t, command.IsNotFound(err))
}

func TestSessionClose(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	startLive(t, s)

	h, _, err := s.Subscribe(subscription.Everything())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, snapshot.StateEmpty, s.State())
	assert.Empty(t, s.Places())
	assert.Equal(t, Disconnected, s.Connectivity())

	select {
	case <-h.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription not closed")
	}
	assert.ErrorIs(t, s.Submit(command.GetPlaces{}).Err(), command.ErrDispatcherClosed)
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestSessionStartTwice(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), connection.ErrAlreadyStarted)
}

func TestSessionContextCancelCloses(t *testing.T) {
	co := farm()
	s := newSession(t, co, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	waitLive(t, s)

	cancel()
	require.Eventually(t, func() bool {
		return s.State() == snapshot.StateEmpty
	}, waitFor, 2*time.Millisecond)
}

func TestSessionScriptEnv(t *testing.T) {
	cfg := testConfig()
	cfg.Place = "p1"
	s := newSession(t, coordinatortest.New(), cfg)

	assert.Equal(t, []string{"LG_COORDINATOR=coordinator.test:20408", "LG_PLACE=p1"}, s.ScriptEnv())

	s.SelectPlace("p2")
	s.SetEnvFile("/home/alice/rpi.yaml")
	assert.Equal(t, "p2", s.SelectedPlace())
	assert.Equal(t, "/home/alice/rpi.yaml", s.EnvFile())
	assert.Equal(t, []string{
		"LG_COORDINATOR=coordinator.test:20408",
		"LG_PLACE=p2",
		"LG_ENV=/home/alice/rpi.yaml",
	}, s.ScriptEnv())
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureLogger) snapshot() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]log.Event(nil), c.events...)
}

func TestSessionProtocolCapture(t *testing.T) {
	co := farm()
	capture := &captureLogger{}
	s := newSession(t, co, testConfig(), WithProtocolLogger(capture))
	startLive(t, s)
	require.NoError(t, s.Acquire(testCtx(t), "p1"))

	var startup, request, response, live bool
	for _, ev := range capture.snapshot() {
		if m := ev.Message; m != nil {
			if m.StreamKind != nil && *m.StreamKind == wire.StreamStartupDone {
				startup = true
			}
			if m.Type == log.MessageTypeRequest && m.Method != nil && *m.Method == wire.MethodAcquirePlace {
				request = true
			}
			if m.Type == log.MessageTypeResponse {
				response = true
			}
		}
		if sc := ev.StateChange; sc != nil && sc.Entity == log.StateEntitySnapshot && sc.NewState == snapshot.StateLive.String() {
			live = true
		}
	}
	assert.True(t, startup)
	assert.True(t, request)
	assert.True(t, response)
	assert.True(t, live)
}
