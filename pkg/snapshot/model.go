package snapshot

import (
	"maps"
	"slices"
	"strings"

	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Place is a place together with the resources currently attached to it.
type Place struct {
	wire.Place

	// Resources are the attached resources in path order.
	Resources []wire.Path
}

// Resource is an exported resource and its attachment.
type Resource struct {
	wire.Resource

	// Place is the place the resource is attached to, or "".
	Place string
}

type placeEntry struct {
	place    wire.Place
	attached map[wire.Path]struct{}
}

type resourceEntry struct {
	res   wire.Resource
	owner string
}

// model is the authoritative state. It is not safe for concurrent use;
// Store serializes access.
type model struct {
	places       map[string]*placeEntry
	names        []string // sorted place names
	resources    map[wire.Path]*resourceEntry
	reservations map[string]wire.Reservation
}

func newModel() *model {
	return &model{
		places:       make(map[string]*placeEntry),
		resources:    make(map[wire.Path]*resourceEntry),
		reservations: make(map[string]wire.Reservation),
	}
}

func (m *model) empty() bool {
	return len(m.places) == 0 && len(m.resources) == 0 && len(m.reservations) == 0
}

// ownerOf returns the first place, by name, whose rules select r.
func (m *model) ownerOf(r wire.Resource) string {
	for _, name := range m.names {
		for _, rule := range m.places[name].place.Matches {
			if rule.Matches(r) {
				return name
			}
		}
	}
	return ""
}

// tracker collects the changes of one apply step. Place and resource
// views are materialized at the end so they reflect the final state.
// Resources are tracked by their full path, never by its string form.
type tracker struct {
	primary     *Change
	resourceOps map[wire.Path]ChangeOp
	prevOwners  map[wire.Path]string
	touched     map[string]bool
}

func newTracker() *tracker {
	return &tracker{
		resourceOps: make(map[wire.Path]ChangeOp),
		prevOwners:  make(map[wire.Path]string),
		touched:     make(map[string]bool),
	}
}

func (t *tracker) touch(place string) {
	if place != "" {
		t.touched[place] = true
	}
}

// attach moves a resource to owner and records the attachment change.
func (m *model) attach(key wire.Path, e *resourceEntry, owner string, t *tracker) {
	if e.owner == owner {
		return
	}
	if prev, ok := m.places[e.owner]; ok {
		delete(prev.attached, key)
	}
	if next, ok := m.places[owner]; ok {
		next.attached[key] = struct{}{}
	}
	if _, seen := t.prevOwners[key]; !seen {
		t.prevOwners[key] = e.owner
	}
	if _, ok := t.resourceOps[key]; !ok {
		t.resourceOps[key] = OpChanged
	}
	t.touch(e.owner)
	t.touch(owner)
	e.owner = owner
}

// reattachAll recomputes the owner of every resource.
func (m *model) reattachAll(t *tracker) {
	for key, e := range m.resources {
		m.attach(key, e, m.ownerOf(e.res), t)
	}
}

func (m *model) upsertPlace(p wire.Place, t *tracker) {
	op := OpAdded
	if old, ok := m.places[p.Name]; ok {
		if wire.Equal(old.place, p) {
			return
		}
		op = OpChanged
		old.place = p.Clone()
	} else {
		m.places[p.Name] = &placeEntry{place: p.Clone(), attached: make(map[wire.Path]struct{})}
		i, _ := slices.BinarySearch(m.names, p.Name)
		m.names = slices.Insert(m.names, i, p.Name)
	}
	t.primary = &Change{Kind: event.KindPlace, Op: op, Key: p.Name}
	m.reattachAll(t)
}

func (m *model) removePlace(name string, t *tracker) {
	entry, ok := m.places[name]
	if !ok {
		return
	}
	t.primary = &Change{Kind: event.KindPlace, Op: OpRemoved, Key: name}
	for key := range entry.attached {
		e := m.resources[key]
		if _, seen := t.prevOwners[key]; !seen {
			t.prevOwners[key] = name
		}
		t.resourceOps[key] = OpChanged
		e.owner = ""
	}
	delete(m.places, name)
	if i, found := slices.BinarySearch(m.names, name); found {
		m.names = slices.Delete(m.names, i, i+1)
	}
	for key := range entry.attached {
		e := m.resources[key]
		m.attach(key, e, m.ownerOf(e.res), t)
	}
}

func (m *model) upsertResource(r wire.Resource, t *tracker) {
	key := r.Path
	e, ok := m.resources[key]
	if ok {
		if wire.Equal(e.res, r) {
			return
		}
		e.res = r.Clone()
		t.resourceOps[key] = OpChanged
		t.prevOwners[key] = e.owner
	} else {
		e = &resourceEntry{res: r.Clone()}
		m.resources[key] = e
		t.resourceOps[key] = OpAdded
		t.prevOwners[key] = ""
	}
	m.attach(key, e, m.ownerOf(e.res), t)
	t.primary = &Change{Kind: event.KindResource, Key: key.String(), Path: key}
}

func (m *model) removeResource(key wire.Path, t *tracker) {
	e, ok := m.resources[key]
	if !ok {
		return
	}
	if place, ok := m.places[e.owner]; ok {
		delete(place.attached, key)
		t.touch(e.owner)
	}
	delete(m.resources, key)
	t.resourceOps[key] = OpRemoved
	t.prevOwners[key] = e.owner
	t.primary = &Change{Kind: event.KindResource, Key: key.String(), Path: key}
}

// setReservation returns the change, if any.
func (m *model) setReservation(token string, r *wire.Reservation) *Change {
	old, ok := m.reservations[token]
	if r == nil {
		if !ok {
			return nil
		}
		delete(m.reservations, token)
		return &Change{Kind: event.KindReservation, Op: OpRemoved, Key: token, Reservation: nil}
	}
	if ok && wire.Equal(old, *r) {
		return nil
	}
	m.reservations[token] = r.Clone()
	op := OpAdded
	if ok {
		op = OpChanged
	}
	view := r.Clone()
	return &Change{Kind: event.KindReservation, Op: op, Key: token, Reservation: &view}
}

// apply mutates the model and returns the resulting changes in order:
// the entity the event names, then resources whose attachment moved,
// then other places whose resource list changed.
func (m *model) apply(ev event.Event) []Change {
	t := newTracker()

	switch e := ev.(type) {
	case event.PlaceAdded:
		m.upsertPlace(e.Place, t)
	case event.PlaceUpdated:
		m.upsertPlace(e.Place, t)
	case event.PlaceRemoved:
		m.removePlace(e.Name, t)
	case event.ResourceAdded:
		m.upsertResource(e.Resource, t)
	case event.ResourceUpdated:
		m.upsertResource(e.Resource, t)
	case event.ResourceRemoved:
		m.removeResource(e.Path, t)
	case event.ReservationChanged:
		if c := m.setReservation(e.Token, e.Reservation); c != nil {
			return []Change{*c}
		}
		return nil
	}

	return m.materialize(t)
}

func (m *model) materialize(t *tracker) []Change {
	if t.primary == nil && len(t.resourceOps) == 0 && len(t.touched) == 0 {
		return nil
	}

	var changes []Change
	primaryKey := ""
	if t.primary != nil && t.primary.Kind == event.KindPlace {
		c := *t.primary
		if c.Op != OpRemoved {
			view := m.placeView(c.Key)
			c.Place = &view
		}
		changes = append(changes, c)
		primaryKey = c.Key
	}

	keys := slices.SortedFunc(maps.Keys(t.resourceOps), wire.ComparePaths)
	if t.primary != nil && t.primary.Kind == event.KindResource {
		// The named resource goes first.
		if i := slices.Index(keys, t.primary.Path); i > 0 {
			keys = slices.Insert(slices.Delete(keys, i, i+1), 0, t.primary.Path)
		}
	}
	for _, key := range keys {
		changes = append(changes, m.resourceChange(key, t.resourceOps[key], t.prevOwners[key]))
	}

	names := slices.Sorted(maps.Keys(t.touched))
	for _, name := range names {
		if name == primaryKey {
			continue
		}
		if _, ok := m.places[name]; !ok {
			continue
		}
		view := m.placeView(name)
		changes = append(changes, Change{Kind: event.KindPlace, Op: OpChanged, Key: name, Place: &view})
	}
	return changes
}

func (m *model) resourceChange(key wire.Path, op ChangeOp, prev string) Change {
	c := Change{Kind: event.KindResource, Op: op, Key: key.String(), Path: key, PrevPlace: prev}
	if op != OpRemoved {
		view := m.resourceView(key)
		c.Resource = &view
	}
	return c
}

func (m *model) placeView(name string) Place {
	e := m.places[name]
	paths := slices.SortedFunc(maps.Keys(e.attached), wire.ComparePaths)
	return Place{Place: e.place.Clone(), Resources: paths}
}

func (m *model) resourceView(key wire.Path) Resource {
	e := m.resources[key]
	return Resource{Resource: e.res.Clone(), Place: e.owner}
}

// clone copies the reservation table only; places and resources are
// rebuilt from the resync stream.
func (m *model) cloneReservations() map[string]wire.Reservation {
	out := make(map[string]wire.Reservation, len(m.reservations))
	for k, v := range m.reservations {
		out[k] = v.Clone()
	}
	return out
}

// diff returns the changes that turn old into m.
func (m *model) diff(old *model) []Change {
	var changes []Change

	names := unionKeys(old.places, m.places)
	slices.Sort(names)
	for _, name := range names {
		before, hadBefore := old.places[name]
		after, hasAfter := m.places[name]
		switch {
		case !hasAfter:
			changes = append(changes, Change{Kind: event.KindPlace, Op: OpRemoved, Key: name})
		case !hadBefore:
			view := m.placeView(name)
			changes = append(changes, Change{Kind: event.KindPlace, Op: OpAdded, Key: name, Place: &view})
		case !wire.Equal(before.place, after.place) || !maps.Equal(before.attached, after.attached):
			view := m.placeView(name)
			changes = append(changes, Change{Kind: event.KindPlace, Op: OpChanged, Key: name, Place: &view})
		}
	}

	paths := unionKeys(old.resources, m.resources)
	slices.SortFunc(paths, wire.ComparePaths)
	for _, key := range paths {
		before, hadBefore := old.resources[key]
		after, hasAfter := m.resources[key]
		switch {
		case !hasAfter:
			changes = append(changes, m.resourceChange(key, OpRemoved, before.owner))
		case !hadBefore:
			changes = append(changes, m.resourceChange(key, OpAdded, ""))
		case before.owner != after.owner || !wire.Equal(before.res, after.res):
			changes = append(changes, m.resourceChange(key, OpChanged, before.owner))
		}
	}

	tokens := unionKeys(old.reservations, m.reservations)
	slices.Sort(tokens)
	for _, token := range tokens {
		before, hadBefore := old.reservations[token]
		after, hasAfter := m.reservations[token]
		switch {
		case !hasAfter:
			changes = append(changes, Change{Kind: event.KindReservation, Op: OpRemoved, Key: token})
		case !hadBefore:
			view := after.Clone()
			changes = append(changes, Change{Kind: event.KindReservation, Op: OpAdded, Key: token, Reservation: &view})
		case !wire.Equal(before, after):
			view := after.Clone()
			changes = append(changes, Change{Kind: event.KindReservation, Op: OpChanged, Key: token, Reservation: &view})
		}
	}

	return changes
}

func unionKeys[K comparable, V any](a, b map[K]V) []K {
	keys := slices.Collect(maps.Keys(a))
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// placeByAlias finds a place by name or alias, case-insensitively for
// aliases.
func (m *model) placeByAlias(name string) (string, bool) {
	if _, ok := m.places[name]; ok {
		return name, true
	}
	for _, n := range m.names {
		for _, alias := range m.places[n].place.Aliases {
			if strings.EqualFold(alias, name) {
				return n, true
			}
		}
	}
	return "", false
}
