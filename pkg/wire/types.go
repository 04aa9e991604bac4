package wire

import (
	"fmt"
	"maps"
	"path"
	"slices"
)

// Path identifies an exported resource: (exporter, group, class, name).
// A name alone is not unique across exporters or groups.
//
// CBOR encoding:
//
//	{1: exporter, 2: group, 3: class, 4: name}
type Path struct {
	Exporter string `cbor:"1,keyasint"`
	Group    string `cbor:"2,keyasint"`
	Class    string `cbor:"3,keyasint"`
	Name     string `cbor:"4,keyasint"`
}

// IsZero returns true if no component is set.
func (p Path) IsZero() bool {
	return p == Path{}
}

// Validate checks that every component is present.
func (p Path) Validate() error {
	if p.Exporter == "" || p.Group == "" || p.Class == "" || p.Name == "" {
		return fmt.Errorf("incomplete resource path %q", p.String())
	}
	return nil
}

// Resource is a single exported hardware capability.
//
// CBOR encoding:
//
//	{1: path, 2: params, 3: extra, 4: acquired, 5: avail}
type Resource struct {
	Path Path `cbor:"1,keyasint"`

	// Params are exporter supplied key/value parameters (device path, serial...).
	// Values are bool, integers, floats, strings or arrays of those.
	Params map[string]any `cbor:"2,keyasint,omitempty"`

	// Extra carries exporter metadata that is not used for matching.
	Extra map[string]any `cbor:"3,keyasint,omitempty"`

	// Acquired names the place currently holding the resource, if any.
	Acquired string `cbor:"4,keyasint,omitempty"`

	// Avail is set by the exporter when the resource is usable.
	Avail bool `cbor:"5,keyasint,omitempty"`
}

// Clone returns a copy that shares no maps with r.
func (r Resource) Clone() Resource {
	r.Params = maps.Clone(r.Params)
	r.Extra = maps.Clone(r.Extra)
	return r
}

// Param returns the string form of a parameter value.
func (r Resource) Param(key string) (string, bool) {
	v, ok := r.Params[key]
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

// ResourceMatch is a place's rule for claiming exported resources.
// Exporter, Group, Class and Name are shell patterns; an empty Name matches
// any name. Params, when present, must all match the resource parameters.
//
// CBOR encoding:
//
//	{1: exporter, 2: group, 3: class, 4: name, 5: rename, 6: params}
type ResourceMatch struct {
	Exporter string            `cbor:"1,keyasint"`
	Group    string            `cbor:"2,keyasint"`
	Class    string            `cbor:"3,keyasint"`
	Name     string            `cbor:"4,keyasint,omitempty"`
	Rename   string            `cbor:"5,keyasint,omitempty"`
	Params   map[string]string `cbor:"6,keyasint,omitempty"`
}

// Matches reports whether the rule selects the resource.
// Malformed patterns never match.
func (m ResourceMatch) Matches(r Resource) bool {
	if !globMatch(m.Exporter, r.Path.Exporter) ||
		!globMatch(m.Group, r.Path.Group) ||
		!globMatch(m.Class, r.Path.Class) {
		return false
	}
	if m.Name != "" && !globMatch(m.Name, r.Path.Name) {
		return false
	}
	for key, pattern := range m.Params {
		value, ok := r.Param(key)
		if !ok || !globMatch(pattern, value) {
			return false
		}
	}
	return true
}

func globMatch(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// Clone returns a copy that shares no maps with m.
func (m ResourceMatch) Clone() ResourceMatch {
	m.Params = maps.Clone(m.Params)
	return m
}

// Place is a named, reservable grouping of resources.
//
// CBOR encoding:
//
//	{
//	  1: name, 2: aliases, 3: comment, 4: tags, 5: matches,
//	  6: acquired, 7: acquired_resources, 8: allowed,
//	  9: created, 10: changed, 11: reservation
//	}
type Place struct {
	Name              string            `cbor:"1,keyasint"`
	Aliases           []string          `cbor:"2,keyasint,omitempty"`
	Comment           string            `cbor:"3,keyasint,omitempty"`
	Tags              map[string]string `cbor:"4,keyasint,omitempty"`
	Matches           []ResourceMatch   `cbor:"5,keyasint,omitempty"`
	Acquired          string            `cbor:"6,keyasint,omitempty"`
	AcquiredResources []Path            `cbor:"7,keyasint,omitempty"`
	Allowed           []string          `cbor:"8,keyasint,omitempty"`

	// Created and Changed are Unix timestamps in seconds.
	Created float64 `cbor:"9,keyasint,omitempty"`
	Changed float64 `cbor:"10,keyasint,omitempty"`

	// Reservation is the token of the reservation holding the place.
	Reservation string `cbor:"11,keyasint,omitempty"`
}

// IsAcquired returns true if some host/user holds the place.
func (p Place) IsAcquired() bool {
	return p.Acquired != ""
}

// HasAlias reports whether name is one of the place aliases.
func (p Place) HasAlias(name string) bool {
	return slices.Contains(p.Aliases, name)
}

// Clone returns a deep copy of p.
func (p Place) Clone() Place {
	p.Aliases = slices.Clone(p.Aliases)
	p.Tags = maps.Clone(p.Tags)
	p.AcquiredResources = slices.Clone(p.AcquiredResources)
	p.Allowed = slices.Clone(p.Allowed)
	if p.Matches != nil {
		matches := make([]ResourceMatch, len(p.Matches))
		for i, m := range p.Matches {
			matches[i] = m.Clone()
		}
		p.Matches = matches
	}
	return p
}

// ReservationState is the lifecycle state of a reservation.
type ReservationState string

const (
	ReservationWaiting   ReservationState = "waiting"
	ReservationAllocated ReservationState = "allocated"
	ReservationAcquired  ReservationState = "acquired"
	ReservationExpired   ReservationState = "expired"
	ReservationInvalid   ReservationState = "invalid"
)

// Reservation is a queued request for places matching a set of filters.
//
// CBOR encoding:
//
//	{
//	  1: owner, 2: token, 3: state, 4: prio, 5: filters,
//	  6: allocations, 7: created, 8: timeout
//	}
type Reservation struct {
	Owner string           `cbor:"1,keyasint"`
	Token string           `cbor:"2,keyasint"`
	State ReservationState `cbor:"3,keyasint"`
	Prio  float64          `cbor:"4,keyasint,omitempty"`

	// Filters map a filter name to tag constraints (key=value).
	Filters map[string]map[string]string `cbor:"5,keyasint,omitempty"`

	// Allocations map a filter name to the places allocated for it.
	Allocations map[string][]string `cbor:"6,keyasint,omitempty"`

	Created float64 `cbor:"7,keyasint,omitempty"`
	Timeout float64 `cbor:"8,keyasint,omitempty"`
}

// Clone returns a deep copy of r.
func (r Reservation) Clone() Reservation {
	if r.Filters != nil {
		filters := make(map[string]map[string]string, len(r.Filters))
		for k, v := range r.Filters {
			filters[k] = maps.Clone(v)
		}
		r.Filters = filters
	}
	if r.Allocations != nil {
		allocs := make(map[string][]string, len(r.Allocations))
		for k, v := range r.Allocations {
			allocs[k] = slices.Clone(v)
		}
		r.Allocations = allocs
	}
	return r
}
