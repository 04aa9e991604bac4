package snapshot

import (
	"slices"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// View is an immutable copy of the snapshot at one revision.
type View struct {
	Revision     uint64
	State        State
	Places       []Place
	Resources    []Resource
	Reservations []wire.Reservation
}

// Place returns a place of the view by name.
func (v View) Place(name string) (Place, bool) {
	i, found := slices.BinarySearchFunc(v.Places, name, func(p Place, n string) int {
		switch {
		case p.Name < n:
			return -1
		case p.Name > n:
			return 1
		}
		return 0
	})
	if !found {
		return Place{}, false
	}
	return v.Places[i], true
}

// ResourcesOf returns the resources attached to a place.
func (v View) ResourcesOf(place string) []Resource {
	var out []Resource
	for _, r := range v.Resources {
		if r.Place == place {
			out = append(out, r)
		}
	}
	return out
}

// Attachments returns the place each attached resource belongs to.
func (v View) Attachments() map[wire.Path]string {
	out := make(map[wire.Path]string)
	for _, r := range v.Resources {
		if r.Place != "" {
			out[r.Path] = r.Place
		}
	}
	return out
}
