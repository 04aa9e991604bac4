package subscription

import (
	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
)

type filterKind uint8

const (
	filterEverything filterKind = iota
	filterAllPlaces
	filterPlace
	filterExporter
)

// Filter selects the changes a subscriber is interested in.
type Filter struct {
	kind filterKind
	name string
}

// Everything selects every change.
func Everything() Filter {
	return Filter{kind: filterEverything}
}

// AllPlaces selects changes of any place.
func AllPlaces() Filter {
	return Filter{kind: filterAllPlaces}
}

// Place selects one place, the resources attached to it before or after
// a change, and reservations allocating it.
func Place(name string) Filter {
	return Filter{kind: filterPlace, name: name}
}

// Exporter selects the resources of one exporter.
func Exporter(name string) Filter {
	return Filter{kind: filterExporter, name: name}
}

// String describes the filter.
func (f Filter) String() string {
	switch f.kind {
	case filterAllPlaces:
		return "places"
	case filterPlace:
		return "place:" + f.name
	case filterExporter:
		return "exporter:" + f.name
	default:
		return "all"
	}
}

// Match reports whether a single change passes the filter.
func (f Filter) Match(c snapshot.Change) bool {
	switch f.kind {
	case filterAllPlaces:
		return c.Kind == event.KindPlace
	case filterPlace:
		return c.Touches(f.name)
	case filterExporter:
		return c.Exporter() == f.name
	default:
		return true
	}
}

// Apply reduces a notification to the matching changes. It returns false
// when nothing is left. Lagged markers always pass.
func (f Filter) Apply(n snapshot.Notification) (snapshot.Notification, bool) {
	if n.Lagged || f.kind == filterEverything {
		return n, true
	}
	var kept []snapshot.Change
	for _, c := range n.Changes {
		if f.Match(c) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return snapshot.Notification{}, false
	}
	n.Changes = kept
	return n, true
}
