package command

import (
	"errors"
	"fmt"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Dispatcher errors.
var (
	// ErrCommandLost means the connection went away before the command
	// was answered. The command may or may not have been executed; it is
	// safe to resubmit only idempotent commands.
	ErrCommandLost = errors.New("command lost")

	// ErrDispatcherClosed is returned for commands submitted after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrUnexpectedReply is returned for responses nobody is waiting for.
	ErrUnexpectedReply = errors.New("unexpected reply")

	// ErrCriticalStatus is returned by HandleResponse when the coordinator
	// reports a status that means the connection is unusable.
	ErrCriticalStatus = errors.New("critical coordinator status")
)

// CommandFailure is a semantic rejection by the coordinator. It is
// final: the command is never retried.
type CommandFailure struct {
	Method  wire.Method
	Target  string
	Status  wire.Status
	Message string
}

func (e *CommandFailure) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Status.String()
	}
	if e.Target == "" {
		return fmt.Sprintf("%s: %s", e.Method, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Target, msg)
}

// IsNotFound reports whether err is a failure with StatusNotFound.
func IsNotFound(err error) bool {
	return hasStatus(err, wire.StatusNotFound)
}

// IsAlreadyExists reports whether err is a failure with StatusAlreadyExists.
func IsAlreadyExists(err error) bool {
	return hasStatus(err, wire.StatusAlreadyExists)
}

// IsFailedPrecondition reports whether err is a failure with
// StatusFailedPrecondition, e.g. acquiring an acquired place.
func IsFailedPrecondition(err error) bool {
	return hasStatus(err, wire.StatusFailedPrecondition)
}

func hasStatus(err error, status wire.Status) bool {
	var failure *CommandFailure
	return errors.As(err, &failure) && failure.Status == status
}
