package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/labgrid-ui/lgsync/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum message size (1 MiB).
	// A full listing of a large farm arrives as a single stream batch.
	DefaultMaxMessageSize = 1 << 20

	// MaxLogFrameDataSize is the maximum frame data size copied into
	// capture events (4 KB). Larger frames are truncated in the capture.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty message.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// frameTap reports frames to an optional protocol logger.
type frameTap struct {
	logger log.Logger
	connID string
}

func (t *frameTap) emit(data []byte, direction log.Direction) {
	if t.logger == nil {
		return
	}
	captured := data
	truncated := len(data) > MaxLogFrameDataSize
	if truncated {
		captured = data[:MaxLogFrameDataSize]
	}
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      captured,
			Truncated: truncated,
		},
	})
}

// FrameWriter writes length-prefixed frames to an underlying writer.
// Prefix and payload go out in a single Write so concurrent writers never
// interleave partial frames.
type FrameWriter struct {
	mu             sync.Mutex
	w              io.Writer
	maxMessageSize uint32
	buf            []byte
	tap            frameTap
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{w: w, maxMessageSize: maxSize}
}

// SetLogger configures frame capture for this writer.
// Pass nil to disable it.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.tap = frameTap{logger: logger, connID: connID}
}

// WriteFrame writes one length-prefixed frame. Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint64(len(data)) > uint64(fw.maxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.buf = binary.BigEndian.AppendUint32(fw.buf[:0], uint32(len(data)))
	fw.buf = append(fw.buf, data...)
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	fw.tap.emit(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames from an underlying reader.
// It is not safe for concurrent use.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte
	tap            frameTap
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: r, maxMessageSize: maxSize}
}

// SetLogger configures frame capture for this reader.
// Pass nil to disable it.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.tap = frameTap{logger: logger, connID: connID}
}

// ReadFrame reads one frame and returns its payload.
// io.EOF is returned unchanged when the stream ends on a frame boundary.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, err
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, ErrFrameTruncated
		default:
			return nil, fmt.Errorf("failed to read length prefix: %w", err)
		}
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	fr.tap.emit(payload, log.DirectionIn)
	return payload, nil
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize creates a framer with a custom max message size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures frame capture for both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
