package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labgrid-ui/lgsync/pkg/log"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// prefixed builds a raw frame with an arbitrary length prefix.
func prefixed(length uint32, payload []byte) []byte {
	return append(binary.BigEndian.AppendUint32(nil, length), payload...)
}

func acquireFrame(t *testing.T, id uint32, place string) []byte {
	t.Helper()
	data, err := wire.EncodeRequest(&wire.Request{
		MessageID: id,
		Method:    wire.MethodAcquirePlace,
		Payload:   wire.PlaceRef{Name: place},
	})
	require.NoError(t, err)
	return data
}

func TestFrameRoundTrip(t *testing.T) {
	for name, payload := range map[string][]byte{
		"single byte":  {0xa0},
		"request":      acquireFrame(t, 7, "rpi-4"),
		"full listing": bytes.Repeat([]byte{0x5a}, 512*1024),
		"at the limit": bytes.Repeat([]byte{0x01}, DefaultMaxMessageSize),
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewFrameWriter(&buf).WriteFrame(payload))
			assert.Equal(t, FrameSize(len(payload)), buf.Len())
			assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(buf.Bytes()[:LengthPrefixSize]))

			got, err := NewFrameReader(&buf).ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestFrameWriterRejects(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriterWithMaxSize(&buf, 16)

	assert.ErrorIs(t, fw.WriteFrame(nil), ErrMessageEmpty)
	assert.ErrorIs(t, fw.WriteFrame(make([]byte, 17)), ErrMessageTooLarge)
	assert.Zero(t, buf.Len(), "rejected frames write nothing")
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"clean end of stream", nil, io.EOF},
		{"zero length", prefixed(0, nil), ErrMessageEmpty},
		{"oversize length", prefixed(DefaultMaxMessageSize+1, nil), ErrMessageTooLarge},
		{"short prefix", []byte{0x00, 0x00}, ErrFrameTruncated},
		{"short payload", prefixed(10, []byte{1, 2, 3}), ErrFrameTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.data)).ReadFrame()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFrameReaderSequence(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	for id := uint32(1); id <= 3; id++ {
		require.NoError(t, fw.WriteFrame(acquireFrame(t, id, "rpi-4")))
	}

	fr := NewFrameReader(&buf)
	for id := uint32(1); id <= 3; id++ {
		frame, err := fr.ReadFrame()
		require.NoError(t, err)
		got, err := wire.PeekMessageID(frame)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
	_, err := fr.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

// lockedBuffer serializes Writes like a socket does.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestFrameWriterConcurrentFramesStayWhole(t *testing.T) {
	var out lockedBuffer
	fw := NewFrameWriter(&out)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('a' + w)}, 100+w)
			for range perWriter {
				assert.NoError(t, fw.WriteFrame(payload))
			}
		}()
	}
	wg.Wait()

	fr := NewFrameReader(&out.buf)
	for range writers * perWriter {
		frame, err := fr.ReadFrame()
		require.NoError(t, err)
		w := int(frame[0] - 'a')
		assert.Len(t, frame, 100+w)
		assert.Equal(t, bytes.Repeat(frame[:1], len(frame)), frame, "frame bytes interleaved")
	}
}

func TestFramerOverPipe(t *testing.T) {
	a, b := io.Pipe()
	c, d := io.Pipe()
	client := NewFramer(struct {
		io.Reader
		io.Writer
	}{c, b})
	server := NewFramer(struct {
		io.Reader
		io.Writer
	}{a, d})

	req := acquireFrame(t, 9, "rpi-4")
	go func() {
		frame, err := server.ReadFrame()
		if err != nil {
			return
		}
		_ = server.WriteFrame(frame)
	}()

	require.NoError(t, client.WriteFrame(req))
	echo, err := client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, req, echo)
}

// capturingLogger records protocol events.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

func TestFramerCapturesBothDirections(t *testing.T) {
	var wireBytes bytes.Buffer
	capture := &capturingLogger{}
	f := NewFramer(&wireBytes)
	f.SetLogger(capture, "conn-1")

	req := acquireFrame(t, 3, "rpi-4")
	require.NoError(t, f.WriteFrame(req))
	_, err := f.ReadFrame()
	require.NoError(t, err)

	events := capture.Events()
	require.Len(t, events, 2)
	assert.Equal(t, log.DirectionOut, events[0].Direction)
	assert.Equal(t, log.DirectionIn, events[1].Direction)
	for _, ev := range events {
		assert.Equal(t, "conn-1", ev.ConnectionID)
		assert.Equal(t, log.LayerTransport, ev.Layer)
		assert.Equal(t, log.CategoryMessage, ev.Category)
		require.NotNil(t, ev.Frame)
		assert.Equal(t, FrameSize(len(req)), ev.Frame.Size)
		assert.Equal(t, req, ev.Frame.Data)
		assert.False(t, ev.Frame.Truncated)
	}
}

func TestFramerCaptureTruncatesLargeFrames(t *testing.T) {
	var wireBytes bytes.Buffer
	capture := &capturingLogger{}
	fw := NewFrameWriter(&wireBytes)
	fw.SetLogger(capture, "conn-2")

	payload := bytes.Repeat([]byte{0x7f}, MaxLogFrameDataSize*2)
	require.NoError(t, fw.WriteFrame(payload))

	events := capture.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Frame.Truncated)
	assert.Len(t, events[0].Frame.Data, MaxLogFrameDataSize)
	assert.Equal(t, FrameSize(len(payload)), events[0].Frame.Size)
}

func TestFramerWithoutCapture(t *testing.T) {
	var wireBytes bytes.Buffer
	f := NewFramer(&wireBytes)
	f.SetLogger(nil, "")

	require.NoError(t, f.WriteFrame([]byte{0xa0}))
	_, err := f.ReadFrame()
	assert.NoError(t, err)
}

func BenchmarkFrameRoundTrip(b *testing.B) {
	payload := bytes.Repeat([]byte{0x42}, 4096)
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fr := NewFrameReader(&buf)

	b.ReportAllocs()
	for b.Loop() {
		if err := fw.WriteFrame(payload); err != nil {
			b.Fatal(err)
		}
		if _, err := fr.ReadFrame(); err != nil {
			b.Fatal(err)
		}
	}
}
