package snapshot

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// State is the reconciler state.
type State uint8

const (
	// StateEmpty means no session has delivered data yet.
	StateEmpty State = iota

	// StateSyncing means a full resync is in progress; events are buffered.
	StateSyncing

	// StateLive means events are applied as they arrive.
	StateLive

	// StateStale means the session was lost; the last view is kept frozen.
	StateStale
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateSyncing:
		return "SYNCING"
	case StateLive:
		return "LIVE"
	case StateStale:
		return "STALE"
	default:
		return "UNKNOWN"
	}
}

// Apply errors. None of them leave the store modified.
var (
	ErrNoSession    = errors.New("snapshot has no session")
	ErrStale        = errors.New("snapshot is stale")
	ErrSyncMismatch = errors.New("sync id does not match the running resync")
	ErrNotSyncing   = errors.New("no resync in progress")
)

// Store is the authoritative snapshot. A single writer applies events;
// any number of readers may query it concurrently.
type Store struct {
	mu sync.RWMutex

	state    State
	revision uint64
	syncID   uint64
	buffer   []event.Event
	model    *model

	publisher Publisher
}

// NewStore creates an empty store. publisher may be nil.
func NewStore(publisher Publisher) *Store {
	return &Store{
		state:     StateEmpty,
		model:     newModel(),
		publisher: publisher,
	}
}

// BeginSync starts a resync with the given id. Events applied until the
// matching SyncComplete are buffered. Calling it during a resync restarts
// the resync and discards the buffer.
func (s *Store) BeginSync(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateSyncing
	s.syncID = id
	s.buffer = nil
}

// Apply applies one event. In StateSyncing the event is buffered; a
// SyncComplete with the running id rebuilds the snapshot from the buffer
// and enters StateLive. In StateLive the event is applied at once.
// Applies that change nothing neither bump the revision nor notify.
func (s *Store) Apply(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateEmpty:
		return ErrNoSession
	case StateStale:
		return ErrStale
	case StateSyncing:
		if done, ok := ev.(event.SyncComplete); ok {
			if done.ID != s.syncID {
				return fmt.Errorf("%w: got %d, want %d", ErrSyncMismatch, done.ID, s.syncID)
			}
			s.finishSync()
			return nil
		}
		s.buffer = append(s.buffer, ev)
		return nil
	}

	if _, ok := ev.(event.SyncComplete); ok {
		return ErrNotSyncing
	}
	s.publish(s.model.apply(ev), false)
	return nil
}

// finishSync rebuilds the model from the buffered events. Reservations
// are carried over since they are refreshed by polling, not streamed.
func (s *Store) finishSync() {
	next := newModel()
	next.reservations = s.model.cloneReservations()
	for _, ev := range s.buffer {
		next.apply(ev)
	}

	changes := next.diff(s.model)
	s.model = next
	s.buffer = nil
	s.state = StateLive
	s.publish(changes, true)
}

// publish bumps the revision and hands the notification on. Called with
// the write lock held.
func (s *Store) publish(changes []Change, resync bool) {
	if len(changes) == 0 {
		return
	}
	s.revision++
	if s.publisher != nil {
		s.publisher.Publish(Notification{Revision: s.revision, Resync: resync, Changes: changes})
	}
}

// MarkStale freezes the snapshot after a lost session. A running resync
// is abandoned. No-op in StateEmpty.
func (s *Store) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEmpty {
		return
	}
	s.state = StateStale
	s.buffer = nil
	s.syncID = 0
}

// Reset clears the snapshot and returns to StateEmpty. The revision stays
// monotonic: clearing a non-empty snapshot is published as removals.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.model
	s.model = newModel()
	s.state = StateEmpty
	s.buffer = nil
	s.syncID = 0
	if !old.empty() {
		s.publish(s.model.diff(old), false)
	}
}

// State returns the reconciler state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Revision returns the number of changing applies so far.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Len returns the number of places and resources.
func (s *Store) Len() (places, resources int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.model.names), len(s.model.resources)
}

// Buffered returns the number of events held for a running resync.
func (s *Store) Buffered() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffer)
}

// Place returns a place by name.
func (s *Store) Place(name string) (Place, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.model.places[name]; !ok {
		return Place{}, false
	}
	return s.model.placeView(name), true
}

// PlaceByAlias returns a place by name or alias.
func (s *Store) PlaceByAlias(name string) (Place, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.model.placeByAlias(name)
	if !ok {
		return Place{}, false
	}
	return s.model.placeView(found), true
}

// Places returns all places sorted by name.
func (s *Store) Places() []Place {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.placeList()
}

// Resource returns a resource by path.
func (s *Store) Resource(path wire.Path) (Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.model.resources[path]; !ok {
		return Resource{}, false
	}
	return s.model.resourceView(path), true
}

// Resources returns all resources in path order.
func (s *Store) Resources() []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.resourceList(func(Resource) bool { return true })
}

// ResourcesByExporter returns the resources of one exporter in path order.
func (s *Store) ResourcesByExporter(exporter string) []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.resourceList(func(r Resource) bool { return r.Path.Exporter == exporter })
}

// Reservation returns a reservation by token.
func (s *Store) Reservation(token string) (wire.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.model.reservations[token]
	if !ok {
		return wire.Reservation{}, false
	}
	return r.Clone(), true
}

// Reservations returns all reservations sorted by token.
func (s *Store) Reservations() []wire.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.reservationList()
}

// ReservationTokens returns the known reservation tokens.
func (s *Store) ReservationTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.model.reservations))
}

// View returns a consistent copy of the whole snapshot.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view()
}

// Observe calls fn with a consistent view while applies are excluded.
// Anything fn registers with the publisher sees exactly the
// notifications after the view. fn must not call back into the store.
func (s *Store) Observe(fn func(View)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.view())
}

func (s *Store) view() View {
	return View{
		Revision:     s.revision,
		State:        s.state,
		Places:       s.model.placeList(),
		Resources:    s.model.resourceList(func(Resource) bool { return true }),
		Reservations: s.model.reservationList(),
	}
}

func (m *model) placeList() []Place {
	out := make([]Place, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, m.placeView(name))
	}
	return out
}

func (m *model) resourceList(keep func(Resource) bool) []Resource {
	out := make([]Resource, 0, len(m.resources))
	for key := range m.resources {
		r := m.resourceView(key)
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Resource) int {
		return wire.ComparePaths(a.Path, b.Path)
	})
	return out
}

func (m *model) reservationList() []wire.Reservation {
	tokens := slices.Sorted(maps.Keys(m.reservations))
	out := make([]wire.Reservation, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, m.reservations[token].Clone())
	}
	return out
}
