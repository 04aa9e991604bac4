// Package connection manages the coordinator connection lifecycle.
//
// This package handles:
//   - Exponential backoff with a cap and bounded jitter
//   - Connection state tracking
//   - Automatic reconnection after a failed attempt or a lost connection
//
// # Reconnection Strategy
//
// The first attempt is made immediately. After a failure or loss the
// manager waits before each retry:
//
//  1. Initial delay: 500 milliseconds
//  2. Exponential increase: 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Continue at 30s until successful or closed
//  5. Reset to 500ms on successful connection
//
// # Jitter
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// Each attempt is bounded by a connect timeout; exceeding it counts as a
// failed attempt.
package connection
