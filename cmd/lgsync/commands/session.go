// Package commands implements the lgsync CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/labgrid-ui/lgsync/pkg/client"
	"github.com/labgrid-ui/lgsync/pkg/config"
	"github.com/labgrid-ui/lgsync/pkg/log"
	"github.com/labgrid-ui/lgsync/pkg/metrics"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/transport"
)

// ErrNotLive is returned when the first resync does not finish in time.
var ErrNotLive = errors.New("snapshot not live")

// SessionFlags are the flags shared by every command that talks to the
// coordinator.
type SessionFlags struct {
	ConfigFile  string
	Coordinator string
	Transport   string
	Capture     string
	Verbose     bool
	Debug       bool
	Wait        time.Duration
}

// AddFlags registers the session flags on fs.
func (f *SessionFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.ConfigFile, "config", "c", "", "configuration file (YAML or JSON)")
	fs.StringVarP(&f.Coordinator, "coordinator", "x", "", "coordinator address host:port (overrides config and LG_COORDINATOR)")
	fs.StringVar(&f.Transport, "transport", "", "transport: grpc or framed")
	fs.StringVar(&f.Capture, "protocol-log", "", "append a protocol capture to this .lglog file")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "log connectivity changes")
	fs.BoolVar(&f.Debug, "debug", false, "log protocol events at debug level")
	fs.DurationVar(&f.Wait, "wait", 10*time.Second, "how long to wait for the first snapshot")
}

// Config loads the configuration and applies flag overrides.
func (f *SessionFlags) Config() (config.Config, error) {
	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	if f.Coordinator != "" {
		cfg.Coordinator = f.Coordinator
	}
	if f.Transport != "" {
		cfg.Transport = f.Transport
	}
	return cfg, cfg.Validate()
}

// Logger returns the operational logger for the flags.
func (f *SessionFlags) Logger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case f.Debug:
		level = slog.LevelDebug
	case f.Verbose:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Env holds what a running command needs.
type Env struct {
	Session  *client.Session
	Registry *prometheus.Registry
	Logger   *slog.Logger

	capture *log.FileLogger
}

// Close closes the session and the capture file.
func (e *Env) Close() {
	_ = e.Session.Close()
	if e.capture != nil {
		_ = e.capture.Close()
		written, dropped := e.capture.Stats()
		e.Logger.Debug("protocol capture closed", "path", e.capture.Path(), "events", written, "dropped", dropped)
	}
}

// Open creates and starts a session from the flags. Extra options are
// applied after the ones derived from the flags.
func Open(ctx context.Context, f *SessionFlags, opts ...client.Option) (*Env, error) {
	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}

	env := &Env{
		Registry: prometheus.NewRegistry(),
		Logger:   f.Logger(),
	}
	m, err := metrics.New(env.Registry)
	if err != nil {
		return nil, err
	}

	var loggers []log.Logger
	if f.Capture != "" {
		env.capture, err = log.NewFileLogger(f.Capture)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, env.capture)
	}
	if f.Debug {
		loggers = append(loggers, log.NewSlogAdapter(env.Logger))
	}

	base := []client.Option{
		client.WithLogger(env.Logger),
		client.WithMetrics(m),
	}
	if pl := log.Combine(loggers...); pl != nil {
		base = append(base, client.WithProtocolLogger(pl))
	}

	env.Session, err = client.New(cfg, append(base, opts...)...)
	if err != nil {
		if env.capture != nil {
			_ = env.capture.Close()
		}
		return nil, err
	}
	if err := env.Session.Start(ctx); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// WaitLive blocks until the snapshot is live or timeout passes.
func WaitLive(ctx context.Context, s *client.Session, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.State() == snapshot.StateLive {
			return nil
		}
		select {
		case <-ctx.Done():
			if err := s.LastConnectError(); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrNotLive, describeConnectError(err), err)
			}
			return fmt.Errorf("%w after %s", ErrNotLive, timeout)
		case <-ticker.C:
		}
	}
}

func describeConnectError(err error) string {
	var de *transport.DialError
	if errors.As(err, &de) {
		return "connect failed at " + de.Stage
	}
	return "connect failed"
}
