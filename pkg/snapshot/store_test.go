package snapshot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// recorder collects published notifications.
type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Publish(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func (r *recorder) last(t *testing.T) Notification {
	t.Helper()
	notes := r.all()
	require.NotEmpty(t, notes)
	return notes[len(notes)-1]
}

func usb(name, serial string) wire.Resource {
	return wire.Resource{
		Path:   wire.Path{Exporter: "exporterA", Group: "groupX", Class: "usb", Name: name},
		Params: map[string]any{"serial": serial},
		Avail:  true,
	}
}

func placeWithRule(name string, rule wire.ResourceMatch) wire.Place {
	return wire.Place{Name: name, Matches: []wire.ResourceMatch{rule}}
}

var serialABC = wire.ResourceMatch{Exporter: "*", Group: "*", Class: "usb", Params: map[string]string{"serial": "ABC"}}

// liveStore returns a store that completed an empty resync.
func liveStore(t *testing.T) (*Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewStore(rec)
	s.BeginSync(1)
	require.NoError(t, s.Apply(event.SyncComplete{ID: 1}))
	require.Equal(t, StateLive, s.State())
	return s, rec
}

func TestStoreStateTransitions(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, StateEmpty, s.State())

	assert.ErrorIs(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p"}}), ErrNoSession)

	s.BeginSync(1)
	assert.Equal(t, StateSyncing, s.State())

	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p"}}))
	assert.Equal(t, 1, s.Buffered())
	_, ok := s.Place("p")
	assert.False(t, ok, "events are buffered while syncing")

	assert.ErrorIs(t, s.Apply(event.SyncComplete{ID: 7}), ErrSyncMismatch)
	assert.Equal(t, StateSyncing, s.State())

	require.NoError(t, s.Apply(event.SyncComplete{ID: 1}))
	assert.Equal(t, StateLive, s.State())
	_, ok = s.Place("p")
	assert.True(t, ok)

	assert.ErrorIs(t, s.Apply(event.SyncComplete{ID: 1}), ErrNotSyncing)

	s.MarkStale()
	assert.Equal(t, StateStale, s.State())
	_, ok = s.Place("p")
	assert.True(t, ok, "stale snapshot keeps the last view")
	assert.ErrorIs(t, s.Apply(event.PlaceRemoved{Name: "p"}), ErrStale)

	s.BeginSync(2)
	assert.Equal(t, StateSyncing, s.State())

	s.Reset()
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, s.Places())
}

func TestStoreMarkStaleFromEmpty(t *testing.T) {
	s := NewStore(nil)
	s.MarkStale()
	assert.Equal(t, StateEmpty, s.State())
}

func TestStoreAttachDetachScenario(t *testing.T) {
	s, rec := liveStore(t)

	require.NoError(t, s.Apply(event.PlaceAdded{Place: placeWithRule("p1", serialABC)}))
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: usb("r1", "ABC")}))

	p1, ok := s.Place("p1")
	require.True(t, ok)
	require.Len(t, p1.Resources, 1)
	assert.Equal(t, "r1", p1.Resources[0].Name)

	n := rec.last(t)
	require.Len(t, n.Changes, 2)
	assert.Equal(t, event.KindResource, n.Changes[0].Kind)
	assert.Equal(t, OpAdded, n.Changes[0].Op)
	assert.Equal(t, "p1", n.Changes[0].Resource.Place)
	assert.Empty(t, n.Changes[0].PrevPlace)
	assert.Equal(t, event.KindPlace, n.Changes[1].Kind)
	assert.Equal(t, OpChanged, n.Changes[1].Op)

	require.NoError(t, s.Apply(event.ResourceRemoved{Path: usb("r1", "ABC").Path}))
	p1, _ = s.Place("p1")
	assert.Empty(t, p1.Resources)

	n = rec.last(t)
	require.Len(t, n.Changes, 2)
	assert.Equal(t, OpRemoved, n.Changes[0].Op)
	assert.Equal(t, "p1", n.Changes[0].PrevPlace)
	assert.Equal(t, "exporterA", n.Changes[0].Exporter())
	assert.True(t, n.Changes[0].Touches("p1"))
}

func TestStoreForwardReference(t *testing.T) {
	s, _ := liveStore(t)

	// The resource arrives before the place that claims it.
	require.NoError(t, s.Apply(event.ResourceUpdated{Resource: usb("r1", "ABC")}))
	r, ok := s.Resource(usb("r1", "ABC").Path)
	require.True(t, ok)
	assert.Empty(t, r.Place)

	require.NoError(t, s.Apply(event.PlaceUpdated{Place: placeWithRule("p1", serialABC)}))
	r, _ = s.Resource(usb("r1", "ABC").Path)
	assert.Equal(t, "p1", r.Place)
}

func TestStoreMismatchDropsAttachment(t *testing.T) {
	s, rec := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: placeWithRule("p1", serialABC)}))
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: usb("r1", "ABC")}))

	// Serial changes so the rule no longer applies.
	require.NoError(t, s.Apply(event.ResourceUpdated{Resource: usb("r1", "XYZ")}))

	p1, _ := s.Place("p1")
	assert.Empty(t, p1.Resources)

	n := rec.last(t)
	require.Len(t, n.Changes, 2)
	assert.Equal(t, OpChanged, n.Changes[0].Op)
	assert.Equal(t, "p1", n.Changes[0].PrevPlace)
	assert.Empty(t, n.Changes[0].Resource.Place)
	assert.Equal(t, "p1", n.Changes[1].Key)
}

func TestStoreIdempotentUpdate(t *testing.T) {
	s, rec := liveStore(t)
	ev := event.ResourceUpdated{Resource: usb("r1", "ABC")}

	require.NoError(t, s.Apply(ev))
	rev := s.Revision()
	count := len(rec.all())

	require.NoError(t, s.Apply(ev))
	assert.Equal(t, rev, s.Revision())
	assert.Len(t, rec.all(), count)

	changed := usb("r1", "ABC")
	changed.Avail = false
	require.NoError(t, s.Apply(event.ResourceUpdated{Resource: changed}))
	assert.Equal(t, rev+1, s.Revision())
	assert.Len(t, rec.all(), count+1)
}

func TestStoreRemoveUnknownIsSilent(t *testing.T) {
	s, rec := liveStore(t)
	rev := s.Revision()

	require.NoError(t, s.Apply(event.PlaceRemoved{Name: "ghost"}))
	require.NoError(t, s.Apply(event.ResourceRemoved{Path: usb("ghost", "").Path}))
	require.NoError(t, s.Apply(event.ReservationChanged{Token: "ghost"}))

	assert.Equal(t, rev, s.Revision())
	assert.Empty(t, rec.all())
}

func TestStoreResourcesKeyedByPathComponents(t *testing.T) {
	s, rec := liveStore(t)
	first := wire.Resource{Path: wire.Path{Exporter: "lab/a", Group: "g", Class: "usb", Name: "r"}, Avail: true}
	second := wire.Resource{Path: wire.Path{Exporter: "lab", Group: "a/g", Class: "usb", Name: "r"}}
	require.Equal(t, first.Path.String(), second.Path.String())

	require.NoError(t, s.Apply(event.ResourceAdded{Resource: first}))
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: second}))
	require.Len(t, s.Resources(), 2)
	last := rec.last(t)
	require.Len(t, last.Changes, 1)
	assert.Equal(t, OpAdded, last.Changes[0].Op)
	assert.Equal(t, second.Path, last.Changes[0].Path)

	require.NoError(t, s.Apply(event.ResourceRemoved{Path: first.Path}))
	_, ok := s.Resource(first.Path)
	assert.False(t, ok)
	got, ok := s.Resource(second.Path)
	require.True(t, ok)
	assert.Equal(t, second.Path, got.Path)
	assert.False(t, got.Avail)
	assert.Len(t, s.Resources(), 1)
}

func TestStoreOverlappingRulesFirstNameWins(t *testing.T) {
	s, _ := liveStore(t)
	anyUSB := wire.ResourceMatch{Exporter: "*", Group: "*", Class: "usb"}

	require.NoError(t, s.Apply(event.PlaceAdded{Place: placeWithRule("zeta", anyUSB)}))
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: usb("r1", "ABC")}))

	r, _ := s.Resource(usb("r1", "ABC").Path)
	assert.Equal(t, "zeta", r.Place)

	require.NoError(t, s.Apply(event.PlaceAdded{Place: placeWithRule("alpha", anyUSB)}))
	r, _ = s.Resource(usb("r1", "ABC").Path)
	assert.Equal(t, "alpha", r.Place)

	zeta, _ := s.Place("zeta")
	assert.Empty(t, zeta.Resources, "a resource belongs to at most one place")

	// Removing the winner hands the resource back.
	require.NoError(t, s.Apply(event.PlaceRemoved{Name: "alpha"}))
	r, _ = s.Resource(usb("r1", "ABC").Path)
	assert.Equal(t, "zeta", r.Place)
}

func TestStorePlaceRemovalReleasesResources(t *testing.T) {
	s, rec := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: placeWithRule("p1", serialABC)}))
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: usb("r1", "ABC")}))

	require.NoError(t, s.Apply(event.PlaceRemoved{Name: "p1"}))

	n := rec.last(t)
	require.Len(t, n.Changes, 2)
	assert.Equal(t, Change{Kind: event.KindPlace, Op: OpRemoved, Key: "p1"}, n.Changes[0])
	assert.Equal(t, "p1", n.Changes[1].PrevPlace)
	assert.Empty(t, n.Changes[1].Resource.Place)
}

func TestStoreAcquireConfirmationBumpsRevisionOnce(t *testing.T) {
	s, rec := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p1"}}))
	rev := s.Revision()

	require.NoError(t, s.Apply(event.PlaceUpdated{Place: wire.Place{Name: "p1", Acquired: "host/alice"}}))
	assert.Equal(t, rev+1, s.Revision())

	n := rec.last(t)
	require.Len(t, n.Changes, 1)
	assert.True(t, n.Changes[0].Place.IsAcquired())
	assert.Equal(t, rev+1, n.Revision)
}

func TestStoreOutOfOrderUpdatesLastWins(t *testing.T) {
	s, _ := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: placeWithRule("p1", serialABC)}))

	require.NoError(t, s.Apply(event.ResourceUpdated{Resource: usb("r1", "ABC")}))
	require.NoError(t, s.Apply(event.ResourceUpdated{Resource: usb("r1", "OLD")}))

	r, _ := s.Resource(usb("r1", "ABC").Path)
	assert.Empty(t, r.Place)
	p1, _ := s.Place("p1")
	assert.Empty(t, p1.Resources)
}

func TestStoreReservations(t *testing.T) {
	s, rec := liveStore(t)
	res := wire.Reservation{Owner: "alice", Token: "T1", State: wire.ReservationWaiting}

	require.NoError(t, s.Apply(event.ReservationChanged{Token: "T1", Reservation: &res}))
	got, ok := s.Reservation("T1")
	require.True(t, ok)
	assert.Equal(t, res, got)

	n := rec.last(t)
	assert.Equal(t, OpAdded, n.Changes[0].Op)

	require.NoError(t, s.Apply(event.ReservationChanged{Token: "T1"}))
	_, ok = s.Reservation("T1")
	assert.False(t, ok)
	assert.Equal(t, OpRemoved, rec.last(t).Changes[0].Op)
}

func TestStoreResync(t *testing.T) {
	s, rec := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "keep"}}))
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "gone"}}))
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: usb("r1", "ABC")}))
	res := wire.Reservation{Token: "T1", State: wire.ReservationAllocated}
	require.NoError(t, s.Apply(event.ReservationChanged{Token: "T1", Reservation: &res}))
	before := s.Revision()

	s.MarkStale()
	s.BeginSync(2)
	require.NoError(t, s.Apply(event.PlaceUpdated{Place: wire.Place{Name: "keep"}}))
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "new"}}))
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: usb("r1", "ABC")}))
	require.NoError(t, s.Apply(event.SyncComplete{ID: 2}))

	assert.Equal(t, before+1, s.Revision(), "one revision per resync")

	n := rec.last(t)
	assert.True(t, n.Resync)
	require.Len(t, n.Changes, 2)
	assert.Equal(t, Change{Kind: event.KindPlace, Op: OpRemoved, Key: "gone"}, n.Changes[0])
	assert.Equal(t, "new", n.Changes[1].Key)
	assert.Equal(t, OpAdded, n.Changes[1].Op)

	_, ok := s.Reservation("T1")
	assert.True(t, ok, "reservations survive a resync")
}

func TestStoreResyncWithoutChangesIsSilent(t *testing.T) {
	s, rec := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p"}}))
	before := s.Revision()
	count := len(rec.all())

	s.MarkStale()
	s.BeginSync(2)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p"}}))
	require.NoError(t, s.Apply(event.SyncComplete{ID: 2}))

	assert.Equal(t, before, s.Revision())
	assert.Len(t, rec.all(), count)
	assert.Equal(t, StateLive, s.State())
}

func TestStoreResetPublishesRemovals(t *testing.T) {
	s, rec := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p"}}))
	rev := s.Revision()

	s.Reset()
	assert.Equal(t, rev+1, s.Revision())
	assert.Equal(t, OpRemoved, rec.last(t).Changes[0].Op)
}

func TestStoreReadsReturnCopies(t *testing.T) {
	s, _ := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p", Tags: map[string]string{"board": "rpi"}}}))

	p, _ := s.Place("p")
	p.Tags["board"] = "changed"

	again, _ := s.Place("p")
	assert.Equal(t, "rpi", again.Tags["board"])
}

func TestStoreQueries(t *testing.T) {
	s, _ := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "b", Aliases: []string{"Board-B"}}}))
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "a"}}))
	for _, name := range []string{"usb10", "usb2", "usb1"} {
		require.NoError(t, s.Apply(event.ResourceAdded{Resource: usb(name, "x")}))
	}
	other := usb("serial0", "x")
	other.Path.Exporter = "exporterB"
	require.NoError(t, s.Apply(event.ResourceAdded{Resource: other}))

	places := s.Places()
	require.Len(t, places, 2)
	assert.Equal(t, "a", places[0].Name)

	p, ok := s.PlaceByAlias("board-b")
	require.True(t, ok)
	assert.Equal(t, "b", p.Name)

	var names []string
	for _, r := range s.ResourcesByExporter("exporterA") {
		names = append(names, r.Path.Name)
	}
	assert.Equal(t, []string{"usb1", "usb2", "usb10"}, names)
	assert.Len(t, s.Resources(), 4)

	v := s.View()
	assert.Equal(t, s.Revision(), v.Revision)
	vp, ok := v.Place("b")
	require.True(t, ok)
	assert.Equal(t, "b", vp.Name)
	_, ok = v.Place("c")
	assert.False(t, ok)
}

func TestStoreObserveExcludesApplies(t *testing.T) {
	s, _ := liveStore(t)
	require.NoError(t, s.Apply(event.PlaceAdded{Place: wire.Place{Name: "p"}}))

	var seen View
	s.Observe(func(v View) { seen = v })
	assert.Equal(t, s.Revision(), seen.Revision)
	assert.Len(t, seen.Places, 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "EMPTY", StateEmpty.String())
	assert.Equal(t, "SYNCING", StateSyncing.String())
	assert.Equal(t, "LIVE", StateLive.String())
	assert.Equal(t, "STALE", StateStale.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
