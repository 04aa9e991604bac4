// Package wire defines the CBOR wire format spoken with a labgrid coordinator.
//
// Messages use CBOR (RFC 8949) with integer keys. On a framed connection
// every message is length-prefixed; over gRPC the same bytes travel as raw
// stream messages and unary call bodies.
//
// # Message Types
//
// Key 1 of every envelope is the message id:
//   - Request: client to coordinator unary call (id > 0)
//   - Response: coordinator reply echoing the request id
//   - StreamIn: client stream message (id 0): StartupDone, Subscribe, Sync
//   - StreamOut: coordinator change batch (id 0), optionally completing a Sync
//
// # Updates
//
// A StreamOut batch carries Updates. Each Update holds exactly one of a
// full Resource, a full Place, a resource Path (removal) or a place name
// (removal). The Op field says whether the coordinator considers the entity
// new or changed; receivers must treat a change of an unknown entity as an add.
//
// # Resource Keys
//
// Resources are keyed by (exporter, group, class, name). Paths render as
// exporter/group/class/name and sort with embedded numbers compared by value.
package wire
