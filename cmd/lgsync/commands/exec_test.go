package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labgrid-ui/lgsync/pkg/command"
	"github.com/labgrid-ui/lgsync/pkg/inspect"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

func TestExecuteAcquire(t *testing.T) {
	s := liveSession(t, farm())
	var out bytes.Buffer

	err := Execute(testCtx(t), s, inspect.NewFormatter(), []string{"acquire", "p1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "AcquirePlace p1: ok\n", out.String())

	p, ok := s.Place("p1")
	require.True(t, ok)
	assert.Equal(t, "bench/alice", p.Acquired)
}

func TestExecuteRejected(t *testing.T) {
	co := farm()
	co.Reject(wire.MethodAcquirePlace, wire.StatusPermissionDenied, "not allowed")
	s := liveSession(t, co)

	err := Execute(testCtx(t), s, inspect.NewFormatter(), []string{"acquire", "p1"}, &bytes.Buffer{})
	require.Error(t, err)

	var failure *command.CommandFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, wire.StatusPermissionDenied, failure.Status)
	assert.Contains(t, err.Error(), "rejected by coordinator (PERMISSION_DENIED)")
	assert.Contains(t, err.Error(), "not allowed")
}

func TestExecuteUsageErrors(t *testing.T) {
	s := liveSession(t, farm())
	f := inspect.NewFormatter()

	err := Execute(testCtx(t), s, f, []string{"frobnicate"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, inspect.ErrUnknownCommand)
	assert.True(t, IsUsageError(err))

	err = Execute(testCtx(t), s, f, nil, &bytes.Buffer{})
	assert.True(t, IsUsageError(err))
}

func TestExecuteReservationLifecycle(t *testing.T) {
	s := liveSession(t, farm())
	f := inspect.NewFormatter()
	var out bytes.Buffer

	require.NoError(t, Execute(testCtx(t), s, f, []string{"reserve", "board=imx8"}, &out))
	assert.Contains(t, out.String(), "Reservation 'RES0001':")
	assert.Contains(t, out.String(), "filters[main]: board=imx8")

	require.Eventually(t, func() bool {
		_, ok := s.Reservation("RES0001")
		return ok
	}, waitFor, 2*time.Millisecond, "created reservation reaches the snapshot")

	out.Reset()
	require.NoError(t, Execute(testCtx(t), s, f, []string{"poll-reservation", "RES0001"}, &out))
	assert.Contains(t, out.String(), "state: waiting")

	out.Reset()
	require.NoError(t, Execute(testCtx(t), s, f, []string{"cancel-reservation", "RES0001"}, &out))
	assert.Equal(t, "CancelReservation RES0001: ok\n", out.String())
}
