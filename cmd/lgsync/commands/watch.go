package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/labgrid-ui/lgsync/pkg/client"
	"github.com/labgrid-ui/lgsync/pkg/inspect"
	"github.com/labgrid-ui/lgsync/pkg/metrics"
	"github.com/labgrid-ui/lgsync/pkg/subscription"
)

// WatchOptions configure RunWatch.
type WatchOptions struct {
	// Target is a place name or an exporter name. Empty watches everything.
	Target string

	// Exporter makes Target an exporter name.
	Exporter bool

	// MetricsAddr serves /metrics on this address when set.
	MetricsAddr string
}

// WatchFilter returns the subscription filter for the options.
func (o WatchOptions) WatchFilter() subscription.Filter {
	switch {
	case o.Target == "":
		return subscription.Everything()
	case o.Exporter:
		return subscription.Exporter(o.Target)
	default:
		return subscription.Place(o.Target)
	}
}

// RunWatch prints the current view and then every change until ctx is
// done. Connectivity changes are printed inline.
func RunWatch(ctx context.Context, env *Env, f *inspect.Formatter, opts WatchOptions, w io.Writer) error {
	s := env.Session

	if opts.MetricsAddr != "" {
		srv := serveMetrics(opts.MetricsAddr, env.Registry, env.Logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	connectivity := make(chan client.Connectivity, 8)
	unregister := s.ConnectivityChanges(func(c client.Connectivity) {
		select {
		case connectivity <- c:
		default:
		}
	})
	defer unregister()

	h, view, err := s.Subscribe(opts.WatchFilter())
	if err != nil {
		return err
	}
	defer h.Close()

	WriteStatus(w, f, view)

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-connectivity:
			fmt.Fprintf(w, "connectivity: %s\n", c)
		case <-h.Done():
			return nil
		case <-h.C():
			for {
				n, ok := h.TryNext()
				if !ok {
					break
				}
				fmt.Fprint(w, f.FormatNotification(n))
			}
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
