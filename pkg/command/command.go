package command

import (
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Command is a user intent sent to the coordinator as one unary call.
type Command interface {
	// Method is the coordinator call.
	Method() wire.Method

	// Payload is the request payload.
	Payload() any

	// Target names the place or reservation the command acts on, for
	// logging. Empty for listing calls.
	Target() string
}

// Acquire acquires a place for the current host/user.
type Acquire struct {
	Place string
}

// Release releases a place. FromUser releases another user's acquisition.
type Release struct {
	Place    string
	FromUser string
}

// CreatePlace creates an empty place.
type CreatePlace struct {
	Name string
}

// DeletePlace deletes a place.
type DeletePlace struct {
	Name string
}

// AddMatch adds a resource match rule (exporter/group/class[/name]).
type AddMatch struct {
	Place   string
	Pattern string
	Rename  string
}

// RemoveMatch removes a resource match rule. Rename must equal the rename
// the rule was added with.
type RemoveMatch struct {
	Place   string
	Pattern string
	Rename  string
}

// AddAlias adds an alias to a place.
type AddAlias struct {
	Place string
	Alias string
}

// DeleteAlias removes an alias from a place.
type DeleteAlias struct {
	Place string
	Alias string
}

// SetTags replaces the tags of a place. An empty value deletes a tag.
type SetTags struct {
	Place string
	Tags  map[string]string
}

// SetComment sets the comment of a place.
type SetComment struct {
	Place   string
	Comment string
}

// Allow lets another user use an acquired place.
type Allow struct {
	Place string
	User  string
}

// CreateReservation queues a reservation for places matching filters.
type CreateReservation struct {
	Filters map[string]map[string]string
	Prio    float64
}

// CancelReservation cancels a reservation.
type CancelReservation struct {
	Token string
}

// PollReservation refreshes a reservation and keeps it alive.
type PollReservation struct {
	Token string
}

// GetReservations lists all reservations.
type GetReservations struct{}

// GetPlaces lists all places.
type GetPlaces struct{}

func (Acquire) Method() wire.Method           { return wire.MethodAcquirePlace }
func (Release) Method() wire.Method           { return wire.MethodReleasePlace }
func (CreatePlace) Method() wire.Method       { return wire.MethodAddPlace }
func (DeletePlace) Method() wire.Method       { return wire.MethodDeletePlace }
func (AddMatch) Method() wire.Method          { return wire.MethodAddPlaceMatch }
func (RemoveMatch) Method() wire.Method       { return wire.MethodDeletePlaceMatch }
func (AddAlias) Method() wire.Method          { return wire.MethodAddPlaceAlias }
func (DeleteAlias) Method() wire.Method       { return wire.MethodDeletePlaceAlias }
func (SetTags) Method() wire.Method           { return wire.MethodSetPlaceTags }
func (SetComment) Method() wire.Method        { return wire.MethodSetPlaceComment }
func (Allow) Method() wire.Method             { return wire.MethodAllowPlace }
func (CreateReservation) Method() wire.Method { return wire.MethodCreateReservation }
func (CancelReservation) Method() wire.Method { return wire.MethodCancelReservation }
func (PollReservation) Method() wire.Method   { return wire.MethodPollReservation }
func (GetReservations) Method() wire.Method   { return wire.MethodGetReservations }
func (GetPlaces) Method() wire.Method         { return wire.MethodGetPlaces }

func (c Acquire) Payload() any { return &wire.PlaceRef{Name: c.Place} }
func (c Release) Payload() any {
	return &wire.ReleasePlace{Placename: c.Place, FromUser: c.FromUser}
}
func (c CreatePlace) Payload() any { return &wire.PlaceRef{Name: c.Name} }
func (c DeletePlace) Payload() any { return &wire.PlaceRef{Name: c.Name} }
func (c AddMatch) Payload() any {
	return &wire.PlaceMatch{Placename: c.Place, Pattern: c.Pattern, Rename: c.Rename}
}
func (c RemoveMatch) Payload() any {
	return &wire.PlaceMatch{Placename: c.Place, Pattern: c.Pattern, Rename: c.Rename}
}
func (c AddAlias) Payload() any    { return &wire.PlaceAlias{Placename: c.Place, Alias: c.Alias} }
func (c DeleteAlias) Payload() any { return &wire.PlaceAlias{Placename: c.Place, Alias: c.Alias} }
func (c SetTags) Payload() any     { return &wire.PlaceTags{Placename: c.Place, Tags: c.Tags} }
func (c SetComment) Payload() any {
	return &wire.PlaceComment{Placename: c.Place, Comment: c.Comment}
}
func (c Allow) Payload() any { return &wire.AllowPlace{Placename: c.Place, User: c.User} }
func (c CreateReservation) Payload() any {
	return &wire.CreateReservation{Filters: c.Filters, Prio: c.Prio}
}
func (c CancelReservation) Payload() any { return &wire.ReservationToken{Token: c.Token} }
func (c PollReservation) Payload() any   { return &wire.ReservationToken{Token: c.Token} }
func (GetReservations) Payload() any     { return nil }
func (GetPlaces) Payload() any           { return nil }

func (c Acquire) Target() string           { return c.Place }
func (c Release) Target() string           { return c.Place }
func (c CreatePlace) Target() string       { return c.Name }
func (c DeletePlace) Target() string       { return c.Name }
func (c AddMatch) Target() string          { return c.Place }
func (c RemoveMatch) Target() string       { return c.Place }
func (c AddAlias) Target() string          { return c.Place }
func (c DeleteAlias) Target() string       { return c.Place }
func (c SetTags) Target() string           { return c.Place }
func (c SetComment) Target() string        { return c.Place }
func (c Allow) Target() string             { return c.Place }
func (CreateReservation) Target() string   { return "" }
func (c CancelReservation) Target() string { return c.Token }
func (c PollReservation) Target() string   { return c.Token }
func (GetReservations) Target() string     { return "" }
func (GetPlaces) Target() string           { return "" }
