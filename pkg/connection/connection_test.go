package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second, // stays at max
		}
		for i, exp := range expected {
			assert.Equal(t, exp, b.Current(), "attempt %d", i)
			b.Next()
		}
	})

	t.Run("JitterBounds", func(t *testing.T) {
		b := NewBackoff()

		var distinct = map[time.Duration]bool{}
		for range 50 {
			d := b.Peek()
			assert.GreaterOrEqual(t, d, InitialBackoff)
			assert.LessOrEqual(t, d, InitialBackoff+InitialBackoff/4)
			distinct[d] = true
		}
		assert.Greater(t, len(distinct), 1, "jitter should vary")
	})

	t.Run("NeverExceedsCap", func(t *testing.T) {
		b := NewBackoff()
		for range 100 {
			assert.LessOrEqual(t, b.Next(), b.MaxDelay())
		}
		assert.Equal(t, MaxBackoff+MaxBackoff/4, b.MaxDelay())
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for range 5 {
			b.Next()
		}
		assert.Greater(t, b.Current(), InitialBackoff)
		assert.Equal(t, 5, b.Attempts())

		b.Reset()
		assert.Equal(t, InitialBackoff, b.Current())
		assert.Zero(t, b.Attempts())
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    10 * time.Millisecond,
			Max:        40 * time.Millisecond,
			Multiplier: 3,
			Jitter:     -1,
		})
		assert.Equal(t, 10*time.Millisecond, b.Next())
		assert.Equal(t, 30*time.Millisecond, b.Next())
		assert.Equal(t, 40*time.Millisecond, b.Next())
		assert.Equal(t, 40*time.Millisecond, b.Next())
	})

	t.Run("InvalidConfigUsesDefaults", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Multiplier: 0.5})
		assert.Equal(t, InitialBackoff, b.Current())
		b.Next()
		assert.Equal(t, 2*InitialBackoff, b.Current())
	})
}

func TestSequence(t *testing.T) {
	seq := Sequence(BackoffConfig{})
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}, seq)
}

// fastManager returns a manager with millisecond backoff.
func fastManager(fn ConnectFunc) *Manager {
	return NewManagerWithConfig(fn, ManagerConfig{
		Backoff: NewBackoffWithConfig(BackoffConfig{
			Initial: time.Millisecond,
			Max:     5 * time.Millisecond,
			Jitter:  -1,
		}),
		ConnectTimeout: time.Second,
	})
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestManagerConnect(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := fastManager(func(ctx context.Context) error { return nil })
		defer m.Close()

		rec := &stateRecorder{}
		m.OnStateChange(rec.record)

		require.NoError(t, m.Connect(context.Background()))
		assert.True(t, m.IsConnected())
		assert.Equal(t, []State{StateConnecting, StateConnected}, rec.get())

		assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyConnected)
	})

	t.Run("Failure", func(t *testing.T) {
		boom := errors.New("refused")
		m := fastManager(func(ctx context.Context) error { return boom })
		defer m.Close()

		assert.ErrorIs(t, m.Connect(context.Background()), boom)
		assert.Equal(t, StateDisconnected, m.State())
		assert.ErrorIs(t, m.LastError(), boom)
	})

	t.Run("AttemptTimeout", func(t *testing.T) {
		m := NewManagerWithConfig(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, ManagerConfig{ConnectTimeout: 10 * time.Millisecond})
		defer m.Close()

		assert.ErrorIs(t, m.Connect(context.Background()), context.DeadlineExceeded)
	})

	t.Run("Closed", func(t *testing.T) {
		m := fastManager(func(ctx context.Context) error { return nil })
		m.Close()

		assert.ErrorIs(t, m.Connect(context.Background()), ErrManagerClosed)
		assert.ErrorIs(t, m.Start(), ErrManagerClosed)
		assert.Equal(t, StateClosed, m.State())
	})
}

func TestManagerStartRetriesUntilConnected(t *testing.T) {
	var calls atomic.Int32
	m := fastManager(func(ctx context.Context) error {
		if calls.Add(1) < 4 {
			return errors.New("coordinator down")
		}
		return nil
	})
	defer m.Close()

	var retries atomic.Int32
	m.OnReconnecting(func(attempt int, delay time.Duration, lastErr error) {
		retries.Add(1)
		assert.Error(t, lastErr)
	})

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrAlreadyStarted)

	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int32(3), retries.Load())
	assert.Zero(t, m.BackoffAttempts(), "backoff resets on success")
}

func TestManagerReconnectAfterLoss(t *testing.T) {
	var calls atomic.Int32
	m := fastManager(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	defer m.Close()

	var disconnected atomic.Int32
	m.OnDisconnected(func() { disconnected.Add(1) })

	require.NoError(t, m.Start())
	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)

	m.NotifyConnectionLost(errors.New("stream reset"))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), disconnected.Load())
}

func TestManagerLossDuringConnect(t *testing.T) {
	var calls atomic.Int32
	var m *Manager
	m = fastManager(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			// The link dies before the attempt has returned.
			m.NotifyConnectionLost(errors.New("early eof"))
		}
		return nil
	})
	defer m.Close()

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)
}

func TestManagerNoAutoReconnect(t *testing.T) {
	var calls atomic.Int32
	m := NewManagerWithConfig(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, ManagerConfig{DisableReconnect: true})
	defer m.Close()

	require.NoError(t, m.Start())
	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)

	m.NotifyConnectionLost(nil)
	assert.Equal(t, StateDisconnected, m.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManagerCloseStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	m := fastManager(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("down")
	})

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)

	m.Close()
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
	assert.Equal(t, StateClosed, m.State())

	// Loss reports after close are ignored.
	m.NotifyConnectionLost(errors.New("late"))
	assert.Equal(t, StateClosed, m.State())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
