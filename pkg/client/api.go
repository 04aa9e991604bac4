package client

import (
	"context"

	"github.com/labgrid-ui/lgsync/pkg/command"
	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/subscription"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Snapshot reads. None of them block on the network.

// State returns the reconciler state.
func (s *Session) State() snapshot.State {
	return s.store.State()
}

// Revision returns the snapshot revision.
func (s *Session) Revision() uint64 {
	return s.store.Revision()
}

// View returns a consistent copy of the whole snapshot.
func (s *Session) View() snapshot.View {
	return s.store.View()
}

// Places returns all places sorted by name.
func (s *Session) Places() []snapshot.Place {
	return s.store.Places()
}

// Place returns a place by name, falling back to aliases.
func (s *Session) Place(name string) (snapshot.Place, bool) {
	if p, ok := s.store.Place(name); ok {
		return p, true
	}
	return s.store.PlaceByAlias(name)
}

// Resources returns all resources in path order.
func (s *Session) Resources() []snapshot.Resource {
	return s.store.Resources()
}

// Resource returns one resource.
func (s *Session) Resource(path wire.Path) (snapshot.Resource, bool) {
	return s.store.Resource(path)
}

// ResourcesByExporter returns the resources of one exporter.
func (s *Session) ResourcesByExporter(exporter string) []snapshot.Resource {
	return s.store.ResourcesByExporter(exporter)
}

// Reservations returns all known reservations sorted by token.
func (s *Session) Reservations() []wire.Reservation {
	return s.store.Reservations()
}

// Reservation returns one reservation.
func (s *Session) Reservation(token string) (wire.Reservation, bool) {
	return s.store.Reservation(token)
}

// Subscribe registers interest in the changes selected by filter. The
// returned view is the snapshot state the first delivered notification
// applies to.
func (s *Session) Subscribe(filter subscription.Filter) (*subscription.Handle, snapshot.View, error) {
	var (
		h    *subscription.Handle
		view snapshot.View
		err  error
	)
	s.store.Observe(func(v snapshot.View) {
		h, err = s.subs.Subscribe(filter)
		view = v
	})
	if err != nil {
		return nil, snapshot.View{}, err
	}
	return h, view, nil
}

// Commands.

// Submit sends cmd and returns its handle without waiting. While
// disconnected the handle completes at once with command.ErrCommandLost.
func (s *Session) Submit(cmd command.Command) *command.Handle {
	return s.dispatcher.Submit(cmd)
}

// LastCommandResult returns the most recently completed command.
func (s *Session) LastCommandResult() (command.Result, bool) {
	return s.dispatcher.LastResult()
}

func (s *Session) run(ctx context.Context, cmd command.Command) error {
	return s.Submit(cmd).Wait(ctx)
}

// Acquire acquires a place for this client.
func (s *Session) Acquire(ctx context.Context, place string) error {
	return s.run(ctx, command.Acquire{Place: place})
}

// Release releases a place held by this client.
func (s *Session) Release(ctx context.Context, place string) error {
	return s.run(ctx, command.Release{Place: place})
}

// ReleaseFrom releases a place held by another host/user.
func (s *Session) ReleaseFrom(ctx context.Context, place, user string) error {
	return s.run(ctx, command.Release{Place: place, FromUser: user})
}

// CreatePlace creates an empty place.
func (s *Session) CreatePlace(ctx context.Context, name string) error {
	return s.run(ctx, command.CreatePlace{Name: name})
}

// DeletePlace deletes a place.
func (s *Session) DeletePlace(ctx context.Context, name string) error {
	return s.run(ctx, command.DeletePlace{Name: name})
}

// AddMatch adds a match rule (exporter/group/class[/name]) to a place.
// Malformed patterns are rejected without contacting the coordinator.
func (s *Session) AddMatch(ctx context.Context, place, pattern, rename string) error {
	if _, err := wire.ParseResourceMatch(pattern); err != nil {
		return err
	}
	return s.run(ctx, command.AddMatch{Place: place, Pattern: pattern, Rename: rename})
}

// RemoveMatch removes a match rule from a place. rename must match the
// rename the rule was added with.
func (s *Session) RemoveMatch(ctx context.Context, place, pattern, rename string) error {
	if _, err := wire.ParseResourceMatch(pattern); err != nil {
		return err
	}
	return s.run(ctx, command.RemoveMatch{Place: place, Pattern: pattern, Rename: rename})
}

// AddAlias adds an alias to a place.
func (s *Session) AddAlias(ctx context.Context, place, alias string) error {
	return s.run(ctx, command.AddAlias{Place: place, Alias: alias})
}

// DeleteAlias removes an alias from a place.
func (s *Session) DeleteAlias(ctx context.Context, place, alias string) error {
	return s.run(ctx, command.DeleteAlias{Place: place, Alias: alias})
}

// SetTags sets place tags. An empty value deletes the tag.
func (s *Session) SetTags(ctx context.Context, place string, tags map[string]string) error {
	return s.run(ctx, command.SetTags{Place: place, Tags: tags})
}

// SetComment sets the place comment.
func (s *Session) SetComment(ctx context.Context, place, comment string) error {
	return s.run(ctx, command.SetComment{Place: place, Comment: comment})
}

// Allow lets another host/user use a place acquired by this client.
func (s *Session) Allow(ctx context.Context, place, user string) error {
	return s.run(ctx, command.Allow{Place: place, User: user})
}

// CreateReservation queues a reservation and records it in the snapshot.
func (s *Session) CreateReservation(ctx context.Context, filters map[string]map[string]string, prio float64) (wire.Reservation, error) {
	return s.reservationCall(ctx, command.CreateReservation{Filters: filters, Prio: prio})
}

// PollReservation refreshes one reservation and keeps it alive.
func (s *Session) PollReservation(ctx context.Context, token string) (wire.Reservation, error) {
	return s.reservationCall(ctx, command.PollReservation{Token: token})
}

// CancelReservation cancels a reservation.
func (s *Session) CancelReservation(ctx context.Context, token string) error {
	if err := s.run(ctx, command.CancelReservation{Token: token}); err != nil {
		return err
	}
	s.offer(event.ReservationChanged{Token: token})
	return nil
}

func (s *Session) reservationCall(ctx context.Context, cmd command.Command) (wire.Reservation, error) {
	result, err := command.Decode[wire.ReservationResult](ctx, s.Submit(cmd))
	if err != nil {
		return wire.Reservation{}, err
	}
	r := result.Reservation
	if r.Token != "" {
		s.offer(event.ReservationChanged{Token: r.Token, Reservation: &r})
	}
	return r, nil
}

// Selection, for launching scripts against a place.

// Coordinator returns the coordinator address.
func (s *Session) Coordinator() string {
	return s.cfg.Coordinator
}

// ClientName returns the host/user name announced to the coordinator.
func (s *Session) ClientName() string {
	return s.cfg.ClientName()
}

// SelectPlace sets the selected place.
func (s *Session) SelectPlace(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.place = name
}

// SelectedPlace returns the selected place name.
func (s *Session) SelectedPlace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.place
}

// SetEnvFile sets the selected environment file.
func (s *Session) SetEnvFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envFile = path
}

// EnvFile returns the selected environment file.
func (s *Session) EnvFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.envFile
}

// ScriptEnv returns the environment assignments for a script run against
// the selection. Unset selections are omitted.
func (s *Session) ScriptEnv() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := []string{"LG_COORDINATOR=" + s.cfg.Coordinator}
	if s.place != "" {
		env = append(env, "LG_PLACE="+s.place)
	}
	if s.envFile != "" {
		env = append(env, "LG_ENV="+s.envFile)
	}
	return env
}
