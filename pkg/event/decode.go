package event

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// DecodeError reports a stream frame that could not be turned into
// events. The frame is dropped as a whole; the stream continues.
type DecodeError struct {
	// Index is the offending update, or -1 for frame-level errors.
	Index int

	// Size is the frame length in bytes.
	Size int

	Err error
}

func (e *DecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("decode stream frame (%d bytes): %v", e.Size, e.Err)
	}
	return fmt.Sprintf("decode stream frame (%d bytes): update %d: %v", e.Size, e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoding errors.
var (
	ErrNotStream     = errors.New("not a stream message")
	ErrEmptyName     = errors.New("place without name")
	ErrEmptyPath     = errors.New("resource without path")
	ErrEmptyToken    = errors.New("reservation without token")
	ErrEmptyResponse = errors.New("empty response payload")
)

// Decode turns one coordinator stream frame into events, in wire order.
// A frame that completes a Sync yields a trailing SyncComplete.
func Decode(frame []byte) ([]Event, error) {
	out, err := wire.DecodeStreamOut(frame)
	if err != nil {
		return nil, &DecodeError{Index: -1, Size: len(frame), Err: err}
	}
	if out.MessageID != wire.StreamMessageID {
		return nil, &DecodeError{Index: -1, Size: len(frame), Err: ErrNotStream}
	}

	events := make([]Event, 0, len(out.Updates)+1)
	for i := range out.Updates {
		ev, err := FromUpdate(&out.Updates[i])
		if err != nil {
			return nil, &DecodeError{Index: i, Size: len(frame), Err: err}
		}
		events = append(events, ev)
	}
	if out.SyncID != 0 {
		events = append(events, SyncComplete{ID: out.SyncID})
	}
	return events, nil
}

// FromUpdate converts a single wire update.
func FromUpdate(u *wire.Update) (Event, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	switch {
	case u.PlaceName != "":
		return PlaceRemoved{Name: u.PlaceName}, nil

	case u.Path != nil:
		if err := u.Path.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmptyPath, err)
		}
		return ResourceRemoved{Path: *u.Path}, nil

	case u.Place != nil:
		if u.Place.Name == "" {
			return nil, ErrEmptyName
		}
		if u.Op == wire.UpdateAdded {
			return PlaceAdded{Place: *u.Place}, nil
		}
		return PlaceUpdated{Place: *u.Place}, nil

	default:
		if err := u.Resource.Path.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmptyPath, err)
		}
		if u.Op == wire.UpdateAdded {
			return ResourceAdded{Resource: *u.Resource}, nil
		}
		return ResourceUpdated{Resource: *u.Resource}, nil
	}
}

// DecodeReservations turns a GetReservations result into events. Every
// listed reservation yields a ReservationChanged; every token in known
// that is no longer listed yields a removal.
func DecodeReservations(payload cbor.RawMessage, known []string) ([]Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyResponse
	}
	list, err := wire.DecodePayload[wire.ReservationList](payload)
	if err != nil {
		return nil, fmt.Errorf("decode reservations: %w", err)
	}

	events := make([]Event, 0, len(list.Reservations))
	listed := make(map[string]bool, len(list.Reservations))
	for i := range list.Reservations {
		r := list.Reservations[i]
		if r.Token == "" {
			return nil, ErrEmptyToken
		}
		listed[r.Token] = true
		events = append(events, ReservationChanged{Token: r.Token, Reservation: &r})
	}

	gone := slices.Clone(known)
	slices.Sort(gone)
	for _, token := range gone {
		if !listed[token] {
			events = append(events, ReservationChanged{Token: token})
		}
	}
	return events, nil
}
