package coordpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// ClientInMessage fields.
const (
	clientInSync      protowire.Number = 1
	clientInStartup   protowire.Number = 2
	clientInSubscribe protowire.Number = 3
)

// UpdateResponse fields.
const (
	updateResource    protowire.Number = 1
	updateDelResource protowire.Number = 2
	updatePlace       protowire.Number = 3
	updateDelPlace    protowire.Number = 4
)

// EncodeClientIn converts a client stream message into ClientInMessages.
// The coordinator takes one kind per Subscribe, so a subscription to both
// places and resources becomes two messages.
func EncodeClientIn(in *wire.StreamIn) ([][]byte, error) {
	var m message
	switch p := in.Payload.(type) {
	case wire.Sync:
		m.embed(clientInSync, func(s *message) { s.varint(1, p.ID) })
	case wire.StartupDone:
		m.embed(clientInStartup, func(s *message) {
			s.str(1, p.Version)
			s.str(2, p.Name)
		})
	case wire.Subscribe:
		return encodeSubscribe(p), nil
	default:
		return nil, fmt.Errorf("unsupported stream payload %T", in.Payload)
	}
	return [][]byte{m.b}, nil
}

// Subscribe { optional bool is_unsubscribe = 1; oneof { bool all_places = 2; bool all_resources = 3 } }
func encodeSubscribe(sub wire.Subscribe) [][]byte {
	var out [][]byte
	add := func(kind protowire.Number) {
		var m message
		m.embed(clientInSubscribe, func(s *message) {
			if sub.Unsubscribe {
				s.explicitBool(1, true)
			}
			s.explicitBool(kind, true)
		})
		out = append(out, m.b)
	}
	if sub.AllPlaces {
		add(2)
	}
	if sub.AllResources {
		add(3)
	}
	return out
}

// DecodeClientIn converts a ClientInMessage into a client stream message.
func DecodeClientIn(b []byte) (*wire.StreamIn, error) {
	fields, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("client message: %w", err)
	}
	var in *wire.StreamIn
	for _, f := range fields {
		if f.typ != protowire.BytesType {
			continue
		}
		inner, err := parse(f.data)
		if err != nil {
			return nil, fmt.Errorf("client message: %w", err)
		}
		switch f.num {
		case clientInSync:
			var s wire.Sync
			for _, g := range inner {
				if g.is(1, protowire.VarintType) {
					s.ID = g.u
				}
			}
			in = &wire.StreamIn{Kind: wire.StreamSync, Payload: s}
		case clientInStartup:
			var s wire.StartupDone
			for _, g := range inner {
				switch {
				case g.is(1, protowire.BytesType):
					s.Version = g.str()
				case g.is(2, protowire.BytesType):
					s.Name = g.str()
				}
			}
			in = &wire.StreamIn{Kind: wire.StreamStartupDone, Payload: s}
		case clientInSubscribe:
			var s wire.Subscribe
			for _, g := range inner {
				switch {
				case g.is(1, protowire.VarintType):
					s.Unsubscribe = g.boolean()
				case g.is(2, protowire.VarintType):
					s.AllPlaces = g.boolean()
				case g.is(3, protowire.VarintType):
					s.AllResources = g.boolean()
				}
			}
			in = &wire.StreamIn{Kind: wire.StreamSubscribe, Payload: s}
		}
	}
	if in == nil {
		return nil, fmt.Errorf("client message carries no known kind")
	}
	return in, nil
}

// EncodeClientOut converts a change batch into a ClientOutMessage.
func EncodeClientOut(out *wire.StreamOut) ([]byte, error) {
	var m message
	if out.SyncID != 0 {
		m.embed(1, func(s *message) { s.varint(1, out.SyncID) })
	}
	for i, u := range out.Updates {
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		m.embed(2, func(r *message) {
			switch {
			case u.Resource != nil:
				r.embed(updateResource, func(e *message) { appendResource(e, *u.Resource) })
			case u.Path != nil:
				r.embed(updateDelResource, func(e *message) { appendPath(e, *u.Path) })
			case u.Place != nil:
				r.embed(updatePlace, func(e *message) { appendPlace(e, *u.Place) })
			default:
				r.explicitStr(updateDelPlace, u.PlaceName)
			}
		})
	}
	return m.b, nil
}

// StreamDecoder converts ClientOutMessages into change batches. It keeps
// the class of every resource it has seen, so one decoder must be used
// per stream.
type StreamDecoder struct {
	classes map[pathKey]string
}

// NewStreamDecoder creates a decoder for one stream.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{classes: make(map[pathKey]string)}
}

// Decode converts one ClientOutMessage. Removals of resources the decoder
// has never seen are dropped, since their class is unknown.
func (d *StreamDecoder) Decode(b []byte) (*wire.StreamOut, error) {
	fields, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("stream batch: %w", err)
	}
	out := &wire.StreamOut{}
	for _, f := range fields {
		switch {
		case f.is(1, protowire.BytesType):
			sync, err := parse(f.data)
			if err != nil {
				return nil, fmt.Errorf("stream sync: %w", err)
			}
			for _, g := range sync {
				if g.is(1, protowire.VarintType) {
					out.SyncID = g.u
				}
			}
		case f.is(2, protowire.BytesType):
			u, ok, err := d.update(f.data)
			if err != nil {
				return nil, err
			}
			if ok {
				out.Updates = append(out.Updates, u)
			}
		}
	}
	return out, nil
}

func (d *StreamDecoder) update(b []byte) (wire.Update, bool, error) {
	fields, err := parse(b)
	if err != nil {
		return wire.Update{}, false, fmt.Errorf("stream update: %w", err)
	}
	var (
		u  wire.Update
		ok bool
	)
	for _, f := range fields {
		if f.typ != protowire.BytesType {
			continue
		}
		switch f.num {
		case updateResource:
			r, err := decodeResource(f.data)
			if err != nil {
				return wire.Update{}, false, err
			}
			d.classes[pathKey{r.Path.Exporter, r.Path.Group, r.Path.Name}] = r.Path.Class
			u, ok = wire.Update{Op: wire.UpdateUpsert, Resource: &r}, true
		case updateDelResource:
			k, err := decodePath(f.data)
			if err != nil {
				return wire.Update{}, false, fmt.Errorf("removed resource: %w", err)
			}
			class, known := d.classes[k]
			if !known {
				u, ok = wire.Update{}, false
				continue
			}
			delete(d.classes, k)
			path := wire.Path{Exporter: k.exporter, Group: k.group, Class: class, Name: k.name}
			u, ok = wire.Update{Op: wire.UpdateRemoved, Path: &path}, true
		case updatePlace:
			p, err := decodePlace(f.data)
			if err != nil {
				return wire.Update{}, false, err
			}
			u, ok = wire.Update{Op: wire.UpdateUpsert, Place: &p}, true
		case updateDelPlace:
			u, ok = wire.Update{Op: wire.UpdateRemoved, PlaceName: f.str()}, true
		}
	}
	return u, ok, nil
}
