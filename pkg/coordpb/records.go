package coordpb

import (
	"fmt"
	"maps"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Reservation states as numbered by the coordinator.
var reservationStates = []wire.ReservationState{
	wire.ReservationWaiting,
	wire.ReservationAllocated,
	wire.ReservationAcquired,
	wire.ReservationExpired,
	wire.ReservationInvalid,
}

// Resource.Path { optional string exporter_name = 1; string group_name = 2; string resource_name = 3 }
func appendPath(m *message, p wire.Path) {
	m.explicitStr(1, p.Exporter)
	m.str(2, p.Group)
	m.str(3, p.Name)
}

// pathKey identifies a resource without its class.
type pathKey struct {
	exporter, group, name string
}

func decodePath(b []byte) (pathKey, error) {
	fields, err := parse(b)
	if err != nil {
		return pathKey{}, err
	}
	var k pathKey
	for _, f := range fields {
		switch {
		case f.is(1, protowire.BytesType):
			k.exporter = f.str()
		case f.is(2, protowire.BytesType):
			k.group = f.str()
		case f.is(3, protowire.BytesType):
			k.name = f.str()
		}
	}
	return k, nil
}

// Resource { Path path = 1; string cls = 2; map<string, MapValue> params = 3;
// map<string, MapValue> extra = 4; string acquired = 5; bool avail = 6 }
func appendResource(m *message, r wire.Resource) {
	m.embed(1, func(p *message) { appendPath(p, r.Path) })
	m.str(2, r.Path.Class)
	appendValueMap(m, 3, r.Params)
	appendValueMap(m, 4, r.Extra)
	m.str(5, r.Acquired)
	m.boolean(6, r.Avail)
}

func decodeResource(b []byte) (wire.Resource, error) {
	fields, err := parse(b)
	if err != nil {
		return wire.Resource{}, err
	}
	var r wire.Resource
	for _, f := range fields {
		switch {
		case f.is(1, protowire.BytesType):
			k, err := decodePath(f.data)
			if err != nil {
				return wire.Resource{}, fmt.Errorf("resource path: %w", err)
			}
			r.Path.Exporter, r.Path.Group, r.Path.Name = k.exporter, k.group, k.name
		case f.is(2, protowire.BytesType):
			r.Path.Class = f.str()
		case f.is(3, protowire.BytesType):
			if r.Params, err = valueEntry(r.Params, f.data); err != nil {
				return wire.Resource{}, fmt.Errorf("resource params: %w", err)
			}
		case f.is(4, protowire.BytesType):
			if r.Extra, err = valueEntry(r.Extra, f.data); err != nil {
				return wire.Resource{}, fmt.Errorf("resource extra: %w", err)
			}
		case f.is(5, protowire.BytesType):
			r.Acquired = f.str()
		case f.is(6, protowire.VarintType):
			r.Avail = f.boolean()
		}
	}
	return r, nil
}

func appendValueMap(m *message, num protowire.Number, kv map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(kv)) {
		m.embed(num, func(e *message) {
			e.explicitStr(1, k)
			e.embed(2, func(v *message) { appendValue(v, kv[k]) })
		})
	}
}

func valueEntry(kv map[string]any, b []byte) (map[string]any, error) {
	var value any
	key, err := entry(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		var err error
		value, err = decodeValue(f.data)
		return err
	})
	if err != nil {
		return kv, err
	}
	if kv == nil {
		kv = make(map[string]any)
	}
	kv[key] = value
	return kv, nil
}

// MapValue { oneof { bool bool_value = 1; int64 int_value = 2; uint64 uint_value = 3;
// double float_value = 4; string string_value = 5; MapValueArray array_value = 6 } }
//
// Values without a protobuf kind are sent in their string form.
func appendValue(m *message, v any) {
	switch v := v.(type) {
	case bool:
		m.explicitBool(1, v)
	case int:
		m.explicitVarint(2, uint64(v))
	case int8:
		m.explicitVarint(2, uint64(v))
	case int16:
		m.explicitVarint(2, uint64(v))
	case int32:
		m.explicitVarint(2, uint64(v))
	case int64:
		m.explicitVarint(2, uint64(v))
	case uint:
		m.explicitVarint(3, uint64(v))
	case uint8:
		m.explicitVarint(3, uint64(v))
	case uint16:
		m.explicitVarint(3, uint64(v))
	case uint32:
		m.explicitVarint(3, uint64(v))
	case uint64:
		m.explicitVarint(3, v)
	case float32:
		m.explicitDouble(4, float64(v))
	case float64:
		m.explicitDouble(4, v)
	case string:
		m.explicitStr(5, v)
	case []any:
		m.embed(6, func(a *message) {
			for _, item := range v {
				a.embed(1, func(e *message) { appendValue(e, item) })
			}
		})
	case []string:
		m.embed(6, func(a *message) {
			for _, item := range v {
				a.embed(1, func(e *message) { e.explicitStr(5, item) })
			}
		})
	case nil:
	default:
		m.explicitStr(5, fmt.Sprint(v))
	}
}

func decodeValue(b []byte) (any, error) {
	fields, err := parse(b)
	if err != nil {
		return nil, err
	}
	var v any
	for _, f := range fields {
		switch {
		case f.is(1, protowire.VarintType):
			v = f.boolean()
		case f.is(2, protowire.VarintType):
			v = int64(f.u)
		case f.is(3, protowire.VarintType):
			v = f.u
		case f.is(4, protowire.Fixed64Type):
			v = f.double()
		case f.is(5, protowire.BytesType):
			v = f.str()
		case f.is(6, protowire.BytesType):
			if v, err = decodeArray(f.data); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

func decodeArray(b []byte) ([]any, error) {
	fields, err := parse(b)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for _, f := range fields {
		if !f.is(1, protowire.BytesType) {
			continue
		}
		v, err := decodeValue(f.data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ResourceMatch { string exporter = 1; string group = 2; string cls = 3;
// optional string name = 4; optional string rename = 5 }
func appendMatch(m *message, rule wire.ResourceMatch) {
	m.str(1, rule.Exporter)
	m.str(2, rule.Group)
	m.str(3, rule.Class)
	m.str(4, rule.Name)
	m.str(5, rule.Rename)
}

func decodeMatch(b []byte) (wire.ResourceMatch, error) {
	fields, err := parse(b)
	if err != nil {
		return wire.ResourceMatch{}, err
	}
	var rule wire.ResourceMatch
	for _, f := range fields {
		switch {
		case f.is(1, protowire.BytesType):
			rule.Exporter = f.str()
		case f.is(2, protowire.BytesType):
			rule.Group = f.str()
		case f.is(3, protowire.BytesType):
			rule.Class = f.str()
		case f.is(4, protowire.BytesType):
			rule.Name = f.str()
		case f.is(5, protowire.BytesType):
			rule.Rename = f.str()
		}
	}
	return rule, nil
}

// Place { string name = 1; repeated string aliases = 2; string comment = 3;
// map<string, string> tags = 4; repeated ResourceMatch matches = 5;
// optional string acquired = 6; repeated string acquired_resources = 7;
// repeated string allowed = 8; double created = 9; double changed = 10;
// optional string reservation = 11 }
func appendPlace(m *message, p wire.Place) {
	m.str(1, p.Name)
	m.strs(2, p.Aliases)
	m.str(3, p.Comment)
	m.strMap(4, p.Tags)
	for _, rule := range p.Matches {
		m.embed(5, func(r *message) { appendMatch(r, rule) })
	}
	m.str(6, p.Acquired)
	for _, path := range p.AcquiredResources {
		m.explicitStr(7, path.String())
	}
	m.strs(8, p.Allowed)
	m.double(9, p.Created)
	m.double(10, p.Changed)
	m.str(11, p.Reservation)
}

func decodePlace(b []byte) (wire.Place, error) {
	fields, err := parse(b)
	if err != nil {
		return wire.Place{}, err
	}
	var p wire.Place
	for _, f := range fields {
		switch {
		case f.is(1, protowire.BytesType):
			p.Name = f.str()
		case f.is(2, protowire.BytesType):
			p.Aliases = append(p.Aliases, f.str())
		case f.is(3, protowire.BytesType):
			p.Comment = f.str()
		case f.is(4, protowire.BytesType):
			if p.Tags == nil {
				p.Tags = make(map[string]string)
			}
			if err := strEntry(p.Tags, f.data); err != nil {
				return wire.Place{}, fmt.Errorf("place tags: %w", err)
			}
		case f.is(5, protowire.BytesType):
			rule, err := decodeMatch(f.data)
			if err != nil {
				return wire.Place{}, fmt.Errorf("place match: %w", err)
			}
			p.Matches = append(p.Matches, rule)
		case f.is(6, protowire.BytesType):
			p.Acquired = f.str()
		case f.is(7, protowire.BytesType):
			path, err := wire.ParsePath(f.str())
			if err != nil {
				return wire.Place{}, err
			}
			p.AcquiredResources = append(p.AcquiredResources, path)
		case f.is(8, protowire.BytesType):
			p.Allowed = append(p.Allowed, f.str())
		case f.is(9, protowire.Fixed64Type):
			p.Created = f.double()
		case f.is(10, protowire.Fixed64Type):
			p.Changed = f.double()
		case f.is(11, protowire.BytesType):
			p.Reservation = f.str()
		}
	}
	return p, nil
}

// Reservation.Filter { map<string, string> filter = 1 }
func appendFilters(m *message, num protowire.Number, filters map[string]map[string]string) {
	for _, name := range slices.Sorted(maps.Keys(filters)) {
		m.embed(num, func(e *message) {
			e.explicitStr(1, name)
			e.embed(2, func(f *message) { f.strMap(1, filters[name]) })
		})
	}
}

func filterEntry(filters map[string]map[string]string, b []byte) (map[string]map[string]string, error) {
	filter := map[string]string{}
	name, err := entry(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		fields, err := parse(f.data)
		if err != nil {
			return err
		}
		for _, kv := range fields {
			if kv.is(1, protowire.BytesType) {
				if err := strEntry(filter, kv.data); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return filters, err
	}
	if filters == nil {
		filters = make(map[string]map[string]string)
	}
	filters[name] = filter
	return filters, nil
}

// Reservation { string owner = 1; string token = 2; int32 state = 3;
// double prio = 4; map<string, Filter> filters = 5;
// map<string, string> allocations = 6; double created = 7; double timeout = 8 }
//
// The coordinator allocates one place per filter.
func appendReservation(m *message, r wire.Reservation) {
	m.str(1, r.Owner)
	m.str(2, r.Token)
	if i := slices.Index(reservationStates, r.State); i > 0 {
		m.explicitVarint(3, uint64(i))
	}
	m.double(4, r.Prio)
	appendFilters(m, 5, r.Filters)
	allocations := make(map[string]string, len(r.Allocations))
	for name, places := range r.Allocations {
		if len(places) > 0 {
			allocations[name] = places[0]
		}
	}
	m.strMap(6, allocations)
	m.double(7, r.Created)
	m.double(8, r.Timeout)
}

func decodeReservation(b []byte) (wire.Reservation, error) {
	fields, err := parse(b)
	if err != nil {
		return wire.Reservation{}, err
	}
	r := wire.Reservation{State: wire.ReservationWaiting}
	for _, f := range fields {
		switch {
		case f.is(1, protowire.BytesType):
			r.Owner = f.str()
		case f.is(2, protowire.BytesType):
			r.Token = f.str()
		case f.is(3, protowire.VarintType):
			r.State = wire.ReservationInvalid
			if i := f.signed(); i >= 0 && i < int64(len(reservationStates)) {
				r.State = reservationStates[i]
			}
		case f.is(4, protowire.Fixed64Type):
			r.Prio = f.double()
		case f.is(5, protowire.BytesType):
			if r.Filters, err = filterEntry(r.Filters, f.data); err != nil {
				return wire.Reservation{}, fmt.Errorf("reservation filters: %w", err)
			}
		case f.is(6, protowire.BytesType):
			allocations := make(map[string]string)
			if err := strEntry(allocations, f.data); err != nil {
				return wire.Reservation{}, fmt.Errorf("reservation allocations: %w", err)
			}
			if r.Allocations == nil {
				r.Allocations = make(map[string][]string)
			}
			for name, place := range allocations {
				r.Allocations[name] = []string{place}
			}
		case f.is(7, protowire.Fixed64Type):
			r.Created = f.double()
		case f.is(8, protowire.Fixed64Type):
			r.Timeout = f.double()
		}
	}
	return r, nil
}
