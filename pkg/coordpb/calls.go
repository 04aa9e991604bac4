package coordpb

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// EncodeRequest converts the CBOR payload of a request frame into the
// method's protobuf request message.
func EncodeRequest(method wire.Method, payload cbor.RawMessage) ([]byte, error) {
	var m message
	switch method {
	case wire.MethodAddPlace, wire.MethodDeletePlace, wire.MethodAcquirePlace:
		p, err := wire.DecodePayload[wire.PlaceRef](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Name)
	case wire.MethodGetPlaces, wire.MethodGetReservations:
	case wire.MethodAddPlaceAlias, wire.MethodDeletePlaceAlias:
		p, err := wire.DecodePayload[wire.PlaceAlias](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Placename)
		m.str(2, p.Alias)
	case wire.MethodSetPlaceTags:
		p, err := wire.DecodePayload[wire.PlaceTags](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Placename)
		m.strMap(2, p.Tags)
	case wire.MethodSetPlaceComment:
		p, err := wire.DecodePayload[wire.PlaceComment](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Placename)
		m.str(2, p.Comment)
	case wire.MethodAddPlaceMatch, wire.MethodDeletePlaceMatch:
		p, err := wire.DecodePayload[wire.PlaceMatch](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Placename)
		m.str(2, p.Pattern)
		m.str(3, p.Rename)
	case wire.MethodReleasePlace:
		p, err := wire.DecodePayload[wire.ReleasePlace](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Placename)
		m.str(2, p.FromUser)
	case wire.MethodAllowPlace:
		p, err := wire.DecodePayload[wire.AllowPlace](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Placename)
		m.str(2, p.User)
	case wire.MethodCreateReservation:
		p, err := wire.DecodePayload[wire.CreateReservation](payload)
		if err != nil {
			return nil, err
		}
		appendFilters(&m, 1, p.Filters)
		m.double(2, p.Prio)
	case wire.MethodCancelReservation, wire.MethodPollReservation:
		p, err := wire.DecodePayload[wire.ReservationToken](payload)
		if err != nil {
			return nil, err
		}
		m.str(1, p.Token)
	default:
		return nil, fmt.Errorf("unsupported method %d", method)
	}
	return m.b, nil
}

// DecodeRequest converts a protobuf request message into the method's
// payload type.
func DecodeRequest(method wire.Method, b []byte) (any, error) {
	fields, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	str := func(num protowire.Number) string {
		var s string
		for _, f := range fields {
			if f.is(num, protowire.BytesType) {
				s = f.str()
			}
		}
		return s
	}

	switch method {
	case wire.MethodAddPlace, wire.MethodDeletePlace, wire.MethodAcquirePlace:
		return wire.PlaceRef{Name: str(1)}, nil
	case wire.MethodGetPlaces, wire.MethodGetReservations:
		return nil, nil
	case wire.MethodAddPlaceAlias, wire.MethodDeletePlaceAlias:
		return wire.PlaceAlias{Placename: str(1), Alias: str(2)}, nil
	case wire.MethodSetPlaceTags:
		p := wire.PlaceTags{Placename: str(1), Tags: map[string]string{}}
		for _, f := range fields {
			if f.is(2, protowire.BytesType) {
				if err := strEntry(p.Tags, f.data); err != nil {
					return nil, err
				}
			}
		}
		return p, nil
	case wire.MethodSetPlaceComment:
		return wire.PlaceComment{Placename: str(1), Comment: str(2)}, nil
	case wire.MethodAddPlaceMatch, wire.MethodDeletePlaceMatch:
		return wire.PlaceMatch{Placename: str(1), Pattern: str(2), Rename: str(3)}, nil
	case wire.MethodReleasePlace:
		return wire.ReleasePlace{Placename: str(1), FromUser: str(2)}, nil
	case wire.MethodAllowPlace:
		return wire.AllowPlace{Placename: str(1), User: str(2)}, nil
	case wire.MethodCreateReservation:
		var p wire.CreateReservation
		for _, f := range fields {
			switch {
			case f.is(1, protowire.BytesType):
				if p.Filters, err = filterEntry(p.Filters, f.data); err != nil {
					return nil, err
				}
			case f.is(2, protowire.Fixed64Type):
				p.Prio = f.double()
			}
		}
		return p, nil
	case wire.MethodCancelReservation, wire.MethodPollReservation:
		return wire.ReservationToken{Token: str(1)}, nil
	default:
		return nil, fmt.Errorf("unsupported method %d", method)
	}
}

// EncodeResult converts a method result into its protobuf response
// message. Methods without a result encode an empty message.
func EncodeResult(method wire.Method, result any) ([]byte, error) {
	var m message
	switch method {
	case wire.MethodGetPlaces:
		list, ok := result.(*wire.PlaceList)
		if !ok {
			return nil, fmt.Errorf("%s result: unexpected %T", method, result)
		}
		for _, p := range list.Places {
			m.embed(1, func(e *message) { appendPlace(e, p) })
		}
	case wire.MethodCreateReservation, wire.MethodPollReservation:
		res, ok := result.(*wire.ReservationResult)
		if !ok {
			return nil, fmt.Errorf("%s result: unexpected %T", method, result)
		}
		m.embed(1, func(e *message) { appendReservation(e, res.Reservation) })
	case wire.MethodGetReservations:
		list, ok := result.(*wire.ReservationList)
		if !ok {
			return nil, fmt.Errorf("%s result: unexpected %T", method, result)
		}
		for _, r := range list.Reservations {
			m.embed(1, func(e *message) { appendReservation(e, r) })
		}
	}
	return m.b, nil
}

// DecodeResult converts a protobuf response message into the method's
// result type. Methods without a result return nil.
func DecodeResult(method wire.Method, b []byte) (any, error) {
	fields, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", method, err)
	}
	switch method {
	case wire.MethodGetPlaces:
		list := &wire.PlaceList{Places: []wire.Place{}}
		for _, f := range fields {
			if !f.is(1, protowire.BytesType) {
				continue
			}
			p, err := decodePlace(f.data)
			if err != nil {
				return nil, fmt.Errorf("%s response: %w", method, err)
			}
			list.Places = append(list.Places, p)
		}
		return list, nil
	case wire.MethodCreateReservation, wire.MethodPollReservation:
		res := &wire.ReservationResult{}
		for _, f := range fields {
			if !f.is(1, protowire.BytesType) {
				continue
			}
			if res.Reservation, err = decodeReservation(f.data); err != nil {
				return nil, fmt.Errorf("%s response: %w", method, err)
			}
		}
		return res, nil
	case wire.MethodGetReservations:
		list := &wire.ReservationList{Reservations: []wire.Reservation{}}
		for _, f := range fields {
			if !f.is(1, protowire.BytesType) {
				continue
			}
			r, err := decodeReservation(f.data)
			if err != nil {
				return nil, fmt.Errorf("%s response: %w", method, err)
			}
			list.Reservations = append(list.Reservations, r)
		}
		return list, nil
	default:
		return nil, nil
	}
}
