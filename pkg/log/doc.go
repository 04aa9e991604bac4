// Package log provides protocol capture for coordinator connections.
//
// This package defines the Logger interface and Event types for recording
// what crossed the wire and how the session reacted: raw frames, decoded
// requests/responses/stream batches, connection and snapshot state changes,
// and errors. It is separate from operational logging (slog).
//
// # Basic Usage
//
//	// Console: protocol events at slog Debug level
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// Capture file for later inspection with "lgsync log"
//	file, _ := log.NewFileLogger("session.lglog")
//
//	// Both
//	logger := log.Combine(log.NewSlogAdapter(slog.Default()), file)
//
// # File Format
//
// Capture files are a plain concatenation of CBOR-encoded Events with
// integer keys. Reader streams them back, optionally through a Filter.
package log
