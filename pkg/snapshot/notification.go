package snapshot

import (
	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// ChangeOp says what happened to an entity.
type ChangeOp uint8

const (
	OpAdded ChangeOp = iota + 1
	OpChanged
	OpRemoved
)

// String returns the op name.
func (o ChangeOp) String() string {
	switch o {
	case OpAdded:
		return "added"
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change describes one entity that differs after an apply.
type Change struct {
	Kind event.Kind
	Op   ChangeOp
	Key  string

	// Path is the resource key for resource changes.
	Path wire.Path

	// The entity after the change. Nil for removals.
	Place       *Place
	Resource    *Resource
	Reservation *wire.Reservation

	// PrevPlace is the place a resource was attached to before the
	// change. Resource.Place holds the attachment after it.
	PrevPlace string
}

// Notification is emitted once per apply that changed the snapshot.
type Notification struct {
	// Revision is the snapshot revision the changes lead to.
	Revision uint64

	// Resync is set for the notification that completes a full resync.
	// Changes then hold the difference to the previous snapshot.
	Resync bool

	// Lagged is set when a subscriber fell behind and intermediate
	// notifications were dropped. Changes is empty; re-read the snapshot.
	Lagged bool

	Changes []Change
}

// Publisher receives notifications. Publish is called while the store
// is locked for writing and must not block or call back into the store.
type Publisher interface {
	Publish(n Notification)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(n Notification)

// Publish calls f.
func (f PublisherFunc) Publish(n Notification) {
	f(n)
}

// Touches reports whether the change concerns the named place: the place
// itself, a resource attached to it before or after the change, or a
// reservation allocating it.
func (c Change) Touches(place string) bool {
	switch c.Kind {
	case event.KindPlace:
		return c.Key == place
	case event.KindResource:
		if c.PrevPlace == place {
			return true
		}
		return c.Resource != nil && c.Resource.Place == place
	case event.KindReservation:
		if c.Reservation == nil {
			return false
		}
		for _, places := range c.Reservation.Allocations {
			for _, name := range places {
				if name == place {
					return true
				}
			}
		}
	}
	return false
}

// Exporter returns the exporter of a resource change, or "".
func (c Change) Exporter() string {
	if c.Kind != event.KindResource {
		return ""
	}
	return c.Path.Exporter
}
