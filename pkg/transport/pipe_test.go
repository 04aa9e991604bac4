package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeOrdered(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	for i := byte(1); i <= 5; i++ {
		require.NoError(t, a.Send([]byte{i}))
	}
	for i := byte(1); i <= 5; i++ {
		frame, err := b.Receive()
		require.NoError(t, err)
		assert.Equal(t, []byte{i}, frame)
	}
}

func TestPipeCopiesFrames(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	buf := []byte{1, 2, 3}
	require.NoError(t, a.Send(buf))
	buf[0] = 9

	frame, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, frame)
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe()

	require.NoError(t, b.Send([]byte("last")))
	require.NoError(t, b.Close())

	frame, err := a.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("last"), frame)

	_, err = a.Receive()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, a.Send([]byte("x")), ErrConnectionClosed)
}
