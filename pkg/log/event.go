package log

import (
	"time"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one coordinator connection (UUID).
	// A session that reconnects gets a new ID per connection.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the coordinator address.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Place is set when the event concerns a single place.
	Place string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/snapshot state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerSession is the reconciliation and command layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded coordinator message at the wire layer.
type MessageEvent struct {
	// Type distinguishes requests, responses and stream messages.
	Type MessageType `cbor:"1,keyasint"`

	// MessageID correlates request/response pairs (0 for stream messages).
	MessageID uint32 `cbor:"2,keyasint"`

	// For requests and responses: the method called.
	Method *wire.Method `cbor:"3,keyasint,omitempty"`

	// For responses: the status code.
	Status *wire.Status `cbor:"6,keyasint,omitempty"`

	// For outgoing stream messages: StartupDone, Subscribe or Sync.
	StreamKind *wire.StreamKind `cbor:"7,keyasint,omitempty"`

	// For stream batches: the sync id completed by the batch.
	SyncID *uint64 `cbor:"8,keyasint,omitempty"`

	// For stream batches: the number of updates carried.
	Updates int `cbor:"9,keyasint,omitempty"`

	// RoundTrip is the time from request send to response receipt (response only).
	RoundTrip *time.Duration `cbor:"10,keyasint,omitempty"`
}

// MessageType distinguishes request/response/stream messages.
type MessageType uint8

const (
	// MessageTypeRequest indicates a unary request.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a unary response.
	MessageTypeResponse MessageType = 1
	// MessageTypeStream indicates a stream message in either direction.
	MessageTypeStream MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and snapshot lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySnapshot indicates a reconciler state change.
	StateEntitySnapshot StateEntity = 1
	// StateEntityCommand indicates a command completion.
	StateEntityCommand StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySnapshot:
		return "SNAPSHOT"
	case StateEntityCommand:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
