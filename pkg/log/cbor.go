package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Capture files hold Events back to back as CBOR items with integer
// keys. Timestamps are tagged RFC 3339 strings with nanoseconds so a
// capture sorts and diffs the same on every host.
var (
	captureEnc cbor.EncMode
	captureDec cbor.DecMode
)

func init() {
	var err error

	captureEnc, err = cbor.EncOptions{
		Sort:        cbor.SortCoreDeterministic,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
		TimeTag:     cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic("log: capture encoder: " + err.Error())
	}

	captureDec, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
		TimeTag:   cbor.DecTagOptional,
	}.DecMode()
	if err != nil {
		panic("log: capture decoder: " + err.Error())
	}
}

// EncodeEvent encodes one Event.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEnc.Marshal(event)
}

// DecodeEvent decodes one Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := captureDec.Unmarshal(data, &event)
	return event, err
}

// NewEncoder returns an encoder writing Events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return captureEnc.NewEncoder(w)
}

// NewDecoder returns a decoder reading Events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return captureDec.NewDecoder(r)
}
