// Package event maps coordinator stream frames onto a closed set of
// domain events.
//
// Decode is a pure function. A malformed frame produces a *DecodeError
// and no events; callers drop the frame and keep the stream running.
// No ordering between place and resource events is assumed: a resource
// may name a place that has not been seen yet and vice versa.
package event
