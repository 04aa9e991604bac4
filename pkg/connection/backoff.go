package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Default reconnect policy.
const (
	// InitialBackoff is the delay before the first retry.
	InitialBackoff = 500 * time.Millisecond

	// MaxBackoff caps the base delay.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the factor by which the base delay grows.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the base delay.
	JitterFactor = 0.25
)

// Backoff calculates exponential backoff delays with jitter.
//
//	delay = base + random(0, base * jitter)
//
// The base starts at Initial, is multiplied after each attempt and is
// capped at Max. Reset returns it to Initial.
type Backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	attempts   int

	// rand returns a value in [0, 1).
	rand func() float64
}

// BackoffConfig allows customizing backoff parameters.
// Zero fields take the defaults.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewBackoff creates a backoff calculator with the default policy.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor})
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
// A negative Jitter disables jitter.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rand:       rand.Float64,
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.max)

	return delay
}

// Peek returns the current delay (with jitter) without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJitter(b.current)
}

// Reset returns the backoff to its initial delay.
// Called after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base delay (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// MaxDelay returns the largest delay Next can return.
func (b *Backoff) MaxDelay() time.Duration {
	return b.max + time.Duration(float64(b.max)*b.jitter)
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rand())
}

// Sequence returns the base delays (without jitter) of a fresh backoff
// with cfg, from the first attempt up to and including the cap.
func Sequence(cfg BackoffConfig) []time.Duration {
	b := NewBackoffWithConfig(cfg)
	var seq []time.Duration
	for {
		d := b.Current()
		seq = append(seq, d)
		if d >= b.max {
			return seq
		}
		b.Next()
	}
}
