package wire

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for coordinator messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for coordinator messages.
var decMode cbor.DecMode

// Untyped maps inside resource params decode with string keys.
var typeMapStringAny = reflect.TypeOf(map[string]any(nil))

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical, // Deterministic key ordering
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding: unknown keys from newer coordinators are ignored
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet, // last wins
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    typeMapStringAny,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodeRequest encodes a request message to CBOR bytes.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// RawRequest is a decoded request whose payload is left undecoded until the
// method is known.
type RawRequest struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Method    Method          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// DecodeRequest decodes CBOR bytes into a request message.
func DecodeRequest(data []byte) (*RawRequest, error) {
	var req RawRequest
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.MessageID == StreamMessageID {
		return nil, fmt.Errorf("invalid request: messageId 0 is reserved for stream messages")
	}
	if !req.Method.IsValid() {
		return nil, fmt.Errorf("invalid request: invalid method: %d", req.Method)
	}
	return &req, nil
}

// EncodeResponse encodes a response message to CBOR bytes.
// A nil result leaves the payload empty.
func EncodeResponse(id uint32, status Status, result any, message string) ([]byte, error) {
	resp := Response{MessageID: id, Status: status, Message: message}
	if result != nil {
		raw, err := Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		resp.Payload = raw
	}
	return Marshal(&resp)
}

// DecodeResponse decodes CBOR bytes into a response message.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.MessageID == StreamMessageID {
		return nil, fmt.Errorf("not a response: messageId=0")
	}
	return &resp, nil
}

// EncodeStreamIn encodes a client stream message. The message id is forced
// to StreamMessageID.
func EncodeStreamIn(kind StreamKind, payload any) ([]byte, error) {
	return Marshal(&StreamIn{MessageID: StreamMessageID, Kind: kind, Payload: payload})
}

// DecodeStreamIn decodes a client stream message, typing the payload by kind.
func DecodeStreamIn(data []byte) (*StreamIn, error) {
	var raw struct {
		MessageID uint32          `cbor:"1,keyasint"`
		Kind      StreamKind      `cbor:"2,keyasint"`
		Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	}
	if err := Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode stream message: %w", err)
	}
	if raw.MessageID != StreamMessageID {
		return nil, fmt.Errorf("not a stream message: messageId=%d", raw.MessageID)
	}

	msg := &StreamIn{Kind: raw.Kind}
	var err error
	switch raw.Kind {
	case StreamStartupDone:
		msg.Payload, err = DecodePayload[StartupDone](raw.Payload)
	case StreamSubscribe:
		msg.Payload, err = DecodePayload[Subscribe](raw.Payload)
	case StreamSync:
		msg.Payload, err = DecodePayload[Sync](raw.Payload)
	default:
		return nil, fmt.Errorf("unknown stream kind %d", raw.Kind)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeStreamOut encodes a coordinator change batch.
func EncodeStreamOut(out *StreamOut) ([]byte, error) {
	wireMsg := *out
	wireMsg.MessageID = StreamMessageID
	return Marshal(&wireMsg)
}

// DecodeStreamOut decodes a coordinator change batch. Individual updates
// are not validated here.
func DecodeStreamOut(data []byte) (*StreamOut, error) {
	var out StreamOut
	if err := Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode stream batch: %w", err)
	}
	if out.MessageID != StreamMessageID {
		return nil, fmt.Errorf("not a stream message: messageId=%d", out.MessageID)
	}
	return &out, nil
}

// DecodePayload decodes a raw payload into T. An empty payload yields the
// zero value.
func DecodePayload[T any](raw cbor.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode payload: %w", err)
	}
	return v, nil
}

// PeekMessageID reads key 1 of a frame without decoding the rest.
// Zero means the frame belongs to the change stream.
func PeekMessageID(data []byte) (uint32, error) {
	var peek struct {
		MessageID uint32 `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return 0, fmt.Errorf("failed to peek message: %w", err)
	}
	return peek.MessageID, nil
}

// Clone creates a deep copy of v by re-encoding it.
func Clone[T any](v T) (T, error) {
	var result T
	data, err := Marshal(v)
	if err != nil {
		return result, err
	}
	err = Unmarshal(data, &result)
	return result, err
}

// Equal compares two values by their CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
