// Package command turns user intents into coordinator calls and
// correlates the replies.
//
// Each command is a unary call identified by a message id. Completion is
// asynchronous: Submit returns a Handle that completes when the reply
// arrives, with one of
//
//   - success, carrying the raw result payload
//   - *CommandFailure, a semantic rejection that is never retried
//   - ErrCommandLost, when the connection went away first
//
// Commands submitted while disconnected fail at once with ErrCommandLost
// instead of being queued across reconnects.
package command
