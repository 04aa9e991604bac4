package event

import (
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Event is one decoded change from the coordinator stream.
// The set of implementations is closed.
type Event interface {
	// Key returns the key of the entity the event is about.
	Key() string

	// Kind returns the entity kind.
	Kind() Kind

	isEvent()
}

// Kind is the kind of entity an event or change refers to.
type Kind uint8

const (
	KindPlace Kind = iota + 1
	KindResource
	KindReservation
	KindSync
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPlace:
		return "place"
	case KindResource:
		return "resource"
	case KindReservation:
		return "reservation"
	case KindSync:
		return "sync"
	default:
		return "unknown"
	}
}

// PlaceAdded reports a new place.
type PlaceAdded struct {
	Place wire.Place
}

// PlaceUpdated reports a changed place. An update for an unknown place
// is applied as an addition.
type PlaceUpdated struct {
	Place wire.Place
}

// PlaceRemoved reports a deleted place.
type PlaceRemoved struct {
	Name string
}

// ResourceAdded reports a newly exported resource.
type ResourceAdded struct {
	Resource wire.Resource
}

// ResourceUpdated reports a changed resource. An update for an unknown
// resource is applied as an addition.
type ResourceUpdated struct {
	Resource wire.Resource
}

// ResourceRemoved reports a resource the exporter no longer provides.
type ResourceRemoved struct {
	Path wire.Path
}

// ReservationChanged reports a new or changed reservation. A nil
// Reservation means the token is gone.
type ReservationChanged struct {
	Token       string
	Reservation *wire.Reservation
}

// SyncComplete marks the end of a resync: everything the coordinator
// had queued before Sync{ID} has been delivered.
type SyncComplete struct {
	ID uint64
}

func (e PlaceAdded) Key() string         { return e.Place.Name }
func (e PlaceUpdated) Key() string       { return e.Place.Name }
func (e PlaceRemoved) Key() string       { return e.Name }
func (e ResourceAdded) Key() string      { return e.Resource.Path.String() }
func (e ResourceUpdated) Key() string    { return e.Resource.Path.String() }
func (e ResourceRemoved) Key() string    { return e.Path.String() }
func (e ReservationChanged) Key() string { return e.Token }
func (e SyncComplete) Key() string       { return "" }

func (PlaceAdded) Kind() Kind         { return KindPlace }
func (PlaceUpdated) Kind() Kind       { return KindPlace }
func (PlaceRemoved) Kind() Kind       { return KindPlace }
func (ResourceAdded) Kind() Kind      { return KindResource }
func (ResourceUpdated) Kind() Kind    { return KindResource }
func (ResourceRemoved) Kind() Kind    { return KindResource }
func (ReservationChanged) Kind() Kind { return KindReservation }
func (SyncComplete) Kind() Kind       { return KindSync }

func (PlaceAdded) isEvent()         {}
func (PlaceUpdated) isEvent()       {}
func (PlaceRemoved) isEvent()       {}
func (ResourceAdded) isEvent()      {}
func (ResourceUpdated) isEvent()    {}
func (ResourceRemoved) isEvent()    {}
func (ReservationChanged) isEvent() {}
func (SyncComplete) isEvent()       {}
