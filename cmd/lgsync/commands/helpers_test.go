package commands

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labgrid-ui/lgsync/internal/coordinatortest"
	"github.com/labgrid-ui/lgsync/pkg/client"
	"github.com/labgrid-ui/lgsync/pkg/config"
	"github.com/labgrid-ui/lgsync/pkg/connection"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

const waitFor = 2 * time.Second

var r1 = wire.Path{Exporter: "exporterA", Group: "groupX", Class: "usb", Name: "r1"}

func farm() *coordinatortest.Coordinator {
	co := coordinatortest.New()
	co.PutPlace(wire.Place{
		Name:    "p1",
		Tags:    map[string]string{"board": "imx8"},
		Matches: []wire.ResourceMatch{{Exporter: "*", Group: "*", Class: "usb"}},
	})
	co.PutPlace(wire.Place{Name: "p2", Aliases: []string{"bench-two"}})
	co.PutResource(wire.Resource{Path: r1, Avail: true})
	return co
}

func liveSession(t *testing.T, co *coordinatortest.Coordinator) *client.Session {
	t.Helper()
	cfg := config.Default()
	cfg.Coordinator = "coordinator.test:20408"
	cfg.Hostname = "bench"
	cfg.Username = "alice"
	cfg.ReservationPollInterval = 0

	s, err := client.New(cfg,
		client.WithDialer(co.Dialer()),
		client.WithLogger(slog.New(slog.DiscardHandler)),
		client.WithBackoff(connection.NewBackoffWithConfig(connection.BackoffConfig{
			Initial: 5 * time.Millisecond,
			Max:     20 * time.Millisecond,
		})),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		co.Close()
	})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return s.State() == snapshot.StateLive
	}, waitFor, 2*time.Millisecond)
	return s
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}
