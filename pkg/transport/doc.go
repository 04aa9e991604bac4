// Package transport carries wire frames between the client and the
// labgrid coordinator.
//
// Two transports implement Dialer:
//
//   - GRPCDialer speaks the labgrid coordinator's protobuf gRPC service.
//     Stream frames are translated (see package coordpb) onto the
//     ClientStream bidi stream; request frames become unary calls whose
//     replies are re-framed as responses.
//   - FramedDialer exchanges length-prefixed CBOR frames over TCP,
//     optionally wrapped in TLS.
//
// # Frame Format
//
//	┌─────────────────┬─────────────────────────────┐
//	│ Length (4 bytes)│ CBOR Payload (variable)     │
//	│ Big-endian u32  │                             │
//	└─────────────────┴─────────────────────────────┘
//
// Maximum frame size defaults to 1 MiB.
//
// Both transports report every frame to an optional protocol logger
// (see package log). Pipe provides an in-memory connection pair for
// tests.
package transport
