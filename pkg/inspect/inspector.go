package inspect

import (
	"errors"
	"slices"

	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// ErrReservationNotFound is returned for unknown reservation tokens.
var ErrReservationNotFound = errors.New("reservation not found")

// Inspector answers questions about one snapshot view.
type Inspector struct {
	view snapshot.View
}

// NewInspector creates a new Inspector for the given view.
func NewInspector(view snapshot.View) *Inspector {
	return &Inspector{view: view}
}

// View returns the underlying view.
func (i *Inspector) View() snapshot.View {
	return i.view
}

// PlaceInfo is a place with its attached resources and reservation
// resolved for display.
type PlaceInfo struct {
	Place       snapshot.Place
	Resources   []snapshot.Resource
	Reservation *wire.Reservation
}

// Summary counts the entities of a view.
type Summary struct {
	Revision     uint64
	State        snapshot.State
	Places       int
	Acquired     int
	Resources    int
	Available    int
	Unattached   int
	Reservations int
}

// InspectPlace returns the details of a place, resolving aliases and
// unique prefixes.
func (i *Inspector) InspectPlace(name string) (*PlaceInfo, error) {
	p, err := ResolvePlace(i.view.Places, name)
	if err != nil {
		return nil, err
	}

	info := &PlaceInfo{
		Place:     p,
		Resources: i.view.ResourcesOf(p.Name),
	}
	if p.Reservation != "" {
		if r, ok := i.reservation(p.Reservation); ok {
			info.Reservation = &r
		}
	}
	return info, nil
}

// Resources returns the resources matched by sel in path order.
func (i *Inspector) Resources(sel Selector) []snapshot.Resource {
	var out []snapshot.Resource
	for _, r := range i.view.Resources {
		if sel.Match(r.Path) {
			out = append(out, r)
		}
	}
	return out
}

// Places returns the places whose tags contain every given tag.
// An empty tag set returns all places.
func (i *Inspector) Places(tags map[string]string) []snapshot.Place {
	if len(tags) == 0 {
		return i.view.Places
	}
	var out []snapshot.Place
	for _, p := range i.view.Places {
		if hasTags(p.Tags, tags) {
			out = append(out, p)
		}
	}
	return out
}

func hasTags(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// Exporters returns the exporter names seen in the view, sorted.
func (i *Inspector) Exporters() []string {
	var out []string
	for _, r := range i.view.Resources {
		if !slices.Contains(out, r.Path.Exporter) {
			out = append(out, r.Path.Exporter)
		}
	}
	slices.SortFunc(out, wire.NaturalCompare)
	return out
}

// Reservation returns a reservation by token.
func (i *Inspector) Reservation(token string) (wire.Reservation, error) {
	r, ok := i.reservation(token)
	if !ok {
		return wire.Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

func (i *Inspector) reservation(token string) (wire.Reservation, bool) {
	idx := slices.IndexFunc(i.view.Reservations, func(r wire.Reservation) bool {
		return r.Token == token
	})
	if idx < 0 {
		return wire.Reservation{}, false
	}
	return i.view.Reservations[idx], true
}

// Summarize counts the entities of the view.
func (i *Inspector) Summarize() Summary {
	s := Summary{
		Revision:     i.view.Revision,
		State:        i.view.State,
		Places:       len(i.view.Places),
		Resources:    len(i.view.Resources),
		Reservations: len(i.view.Reservations),
	}
	for _, p := range i.view.Places {
		if p.IsAcquired() {
			s.Acquired++
		}
	}
	for _, r := range i.view.Resources {
		if r.Avail {
			s.Available++
		}
		if r.Place == "" {
			s.Unattached++
		}
	}
	return s
}
