package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys shared by all envelopes.
const (
	KeyMessageID = 1
	KeyKind      = 2 // Method (request), Status (response), stream kind or sync id
	KeyPayload   = 3
)

// StreamMessageID marks a frame that belongs to the change stream rather
// than to a request/response exchange.
const StreamMessageID uint32 = 0

// Request is a unary call from client to coordinator.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32, never 0
//	  2: method,      // uint8
//	  3: payload      // method-specific
//	}
type Request struct {
	MessageID uint32 `cbor:"1,keyasint"`
	Method    Method `cbor:"2,keyasint"`
	Payload   any    `cbor:"3,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == StreamMessageID {
		return fmt.Errorf("messageId 0 is reserved for stream messages")
	}
	if !r.Method.IsValid() {
		return fmt.Errorf("invalid method: %d", r.Method)
	}
	return nil
}

// Response answers a Request with the same MessageID.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32: matches request
//	  2: status,      // uint8: 0=OK, or error code
//	  3: payload,     // method-specific result (raw CBOR)
//	  4: message      // error detail
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Message   string          `cbor:"4,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// StreamKind identifies a client-to-coordinator stream message.
type StreamKind uint8

const (
	StreamStartupDone StreamKind = 1
	StreamSubscribe   StreamKind = 2
	StreamSync        StreamKind = 3
)

// String returns the stream kind name.
func (k StreamKind) String() string {
	switch k {
	case StreamStartupDone:
		return "StartupDone"
	case StreamSubscribe:
		return "Subscribe"
	case StreamSync:
		return "Sync"
	default:
		return "Unknown"
	}
}

// StreamIn is a client-to-coordinator stream message.
//
// CBOR encoding:
//
//	{1: 0, 2: kind, 3: payload}
type StreamIn struct {
	MessageID uint32     `cbor:"1,keyasint"`
	Kind      StreamKind `cbor:"2,keyasint"`
	Payload   any        `cbor:"3,keyasint,omitempty"`
}

// StartupDone announces the client to the coordinator.
type StartupDone struct {
	Version string `cbor:"1,keyasint"`
	Name    string `cbor:"2,keyasint"` // host/user
}

// ProtocolVersion is sent in StartupDone.
const ProtocolVersion = "1"

// Subscribe asks the coordinator to stream place and/or resource changes.
type Subscribe struct {
	Unsubscribe  bool `cbor:"1,keyasint,omitempty"`
	AllPlaces    bool `cbor:"2,keyasint,omitempty"`
	AllResources bool `cbor:"3,keyasint,omitempty"`
}

// Sync asks the coordinator to echo ID once everything queued before it
// has been streamed.
type Sync struct {
	ID uint64 `cbor:"1,keyasint"`
}

// StreamOut is a coordinator-to-client change batch.
//
// CBOR encoding:
//
//	{
//	  1: 0,          // stream message
//	  2: syncId,     // uint64, omitted unless this batch completes a Sync
//	  3: updates     // array of Update
//	}
type StreamOut struct {
	MessageID uint32   `cbor:"1,keyasint"`
	SyncID    uint64   `cbor:"2,keyasint,omitempty"`
	Updates   []Update `cbor:"3,keyasint,omitempty"`
}

// UpdateOp describes what happened to the entity carried by an Update.
type UpdateOp uint8

const (
	// UpdateUpsert is an add-or-change the coordinator did not classify.
	UpdateUpsert UpdateOp = iota
	UpdateAdded
	UpdateChanged
	UpdateRemoved
)

// String returns the update op name.
func (o UpdateOp) String() string {
	switch o {
	case UpdateUpsert:
		return "upsert"
	case UpdateAdded:
		return "added"
	case UpdateChanged:
		return "changed"
	case UpdateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Update is one change in a StreamOut batch. Exactly one of Resource,
// Place, Path (resource removal) or PlaceName (place removal) is set.
//
// CBOR encoding:
//
//	{1: op, 2: resource, 3: place, 4: path, 5: placeName}
type Update struct {
	Op        UpdateOp  `cbor:"1,keyasint,omitempty"`
	Resource  *Resource `cbor:"2,keyasint,omitempty"`
	Place     *Place    `cbor:"3,keyasint,omitempty"`
	Path      *Path     `cbor:"4,keyasint,omitempty"`
	PlaceName string    `cbor:"5,keyasint,omitempty"`
}

// Validate checks that exactly one entity slot is populated and that it
// agrees with Op.
func (u *Update) Validate() error {
	set := 0
	if u.Resource != nil {
		set++
	}
	if u.Place != nil {
		set++
	}
	if u.Path != nil {
		set++
	}
	if u.PlaceName != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("update carries %d entities, want 1", set)
	}
	if u.Op > UpdateRemoved {
		return fmt.Errorf("invalid update op %d", u.Op)
	}
	removal := u.Path != nil || u.PlaceName != ""
	if removal && u.Op != UpdateRemoved && u.Op != UpdateUpsert {
		return fmt.Errorf("removal key with op %s", u.Op)
	}
	if !removal && u.Op == UpdateRemoved {
		return fmt.Errorf("removed op carries a full entity")
	}
	return nil
}

// Request payloads.

// PlaceRef is the payload of calls that only name a place.
type PlaceRef struct {
	Name string `cbor:"1,keyasint"`
}

// PlaceAlias is the payload of AddPlaceAlias and DeletePlaceAlias.
type PlaceAlias struct {
	Placename string `cbor:"1,keyasint"`
	Alias     string `cbor:"2,keyasint"`
}

// PlaceTags is the payload of SetPlaceTags.
type PlaceTags struct {
	Placename string            `cbor:"1,keyasint"`
	Tags      map[string]string `cbor:"2,keyasint"`
}

// PlaceComment is the payload of SetPlaceComment.
type PlaceComment struct {
	Placename string `cbor:"1,keyasint"`
	Comment   string `cbor:"2,keyasint"`
}

// PlaceMatch is the payload of AddPlaceMatch and DeletePlaceMatch.
type PlaceMatch struct {
	Placename string `cbor:"1,keyasint"`
	Pattern   string `cbor:"2,keyasint"`
	Rename    string `cbor:"3,keyasint,omitempty"`
}

// ReleasePlace is the payload of ReleasePlace.
type ReleasePlace struct {
	Placename string `cbor:"1,keyasint"`
	FromUser  string `cbor:"2,keyasint,omitempty"`
}

// AllowPlace is the payload of AllowPlace.
type AllowPlace struct {
	Placename string `cbor:"1,keyasint"`
	User      string `cbor:"2,keyasint"`
}

// CreateReservation is the payload of CreateReservation.
type CreateReservation struct {
	Filters map[string]map[string]string `cbor:"1,keyasint"`
	Prio    float64                      `cbor:"2,keyasint,omitempty"`
}

// ReservationToken is the payload of CancelReservation and PollReservation.
type ReservationToken struct {
	Token string `cbor:"1,keyasint"`
}

// Response payloads.

// PlaceList is the result of GetPlaces.
type PlaceList struct {
	Places []Place `cbor:"1,keyasint"`
}

// ReservationList is the result of GetReservations.
type ReservationList struct {
	Reservations []Reservation `cbor:"1,keyasint"`
}

// ReservationResult is the result of CreateReservation and PollReservation.
type ReservationResult struct {
	Reservation Reservation `cbor:"1,keyasint"`
}
