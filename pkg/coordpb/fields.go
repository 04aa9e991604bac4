package coordpb

import (
	"maps"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded protobuf field.
type field struct {
	num  protowire.Number
	typ  protowire.Type
	u    uint64 // varint and fixed values
	data []byte // length-delimited values
}

// is reports whether f is field num with wire type typ. A field whose wire
// type does not match the schema is treated as unknown.
func (f field) is(num protowire.Number, typ protowire.Type) bool {
	return f.num == num && f.typ == typ
}

func (f field) str() string     { return string(f.data) }
func (f field) boolean() bool   { return f.u != 0 }
func (f field) double() float64 { return math.Float64frombits(f.u) }
func (f field) signed() int64   { return int64(f.u) }

// parse splits a message into its fields. Groups are skipped.
func parse(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.BytesType:
			f.data, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

// message builds one protobuf message. Scalar helpers skip zero values
// the way proto3 does; the explicit variants always emit the field, which
// optional and oneof members need.
type message struct {
	b []byte
}

func (m *message) tag(num protowire.Number, typ protowire.Type) {
	m.b = protowire.AppendTag(m.b, num, typ)
}

func (m *message) str(num protowire.Number, s string) {
	if s != "" {
		m.explicitStr(num, s)
	}
}

func (m *message) explicitStr(num protowire.Number, s string) {
	m.tag(num, protowire.BytesType)
	m.b = protowire.AppendString(m.b, s)
}

func (m *message) strs(num protowire.Number, ss []string) {
	for _, s := range ss {
		m.explicitStr(num, s)
	}
}

func (m *message) boolean(num protowire.Number, v bool) {
	if v {
		m.explicitBool(num, v)
	}
}

func (m *message) explicitBool(num protowire.Number, v bool) {
	m.tag(num, protowire.VarintType)
	m.b = protowire.AppendVarint(m.b, protowire.EncodeBool(v))
}

func (m *message) varint(num protowire.Number, v uint64) {
	if v != 0 {
		m.explicitVarint(num, v)
	}
}

func (m *message) explicitVarint(num protowire.Number, v uint64) {
	m.tag(num, protowire.VarintType)
	m.b = protowire.AppendVarint(m.b, v)
}

func (m *message) double(num protowire.Number, v float64) {
	if v != 0 {
		m.explicitDouble(num, v)
	}
}

func (m *message) explicitDouble(num protowire.Number, v float64) {
	m.tag(num, protowire.Fixed64Type)
	m.b = protowire.AppendFixed64(m.b, math.Float64bits(v))
}

// embed appends a nested message, even when it is empty.
func (m *message) embed(num protowire.Number, build func(*message)) {
	var sub message
	build(&sub)
	m.tag(num, protowire.BytesType)
	m.b = protowire.AppendBytes(m.b, sub.b)
}

// strMap appends a map<string, string> as sorted entries.
func (m *message) strMap(num protowire.Number, kv map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(kv)) {
		m.embed(num, func(e *message) {
			e.explicitStr(1, k)
			e.str(2, kv[k])
		})
	}
}

// entry decodes one map entry. Decode decodes the value field, when present.
func entry(b []byte, decode func(field) error) (string, error) {
	fields, err := parse(b)
	if err != nil {
		return "", err
	}
	var key string
	for _, f := range fields {
		switch {
		case f.is(1, protowire.BytesType):
			key = f.str()
		case f.num == 2:
			if err := decode(f); err != nil {
				return "", err
			}
		}
	}
	return key, nil
}

// strEntry decodes a map<string, string> entry into kv.
func strEntry(kv map[string]string, b []byte) error {
	var value string
	key, err := entry(b, func(f field) error {
		if f.typ == protowire.BytesType {
			value = f.str()
		}
		return nil
	})
	if err != nil {
		return err
	}
	kv[key] = value
	return nil
}
