package wire

// Status represents a response status code.
// Values follow the gRPC status code numbering used by the coordinator.
type Status uint8

const (
	// StatusOK indicates the call completed successfully.
	StatusOK Status = 0

	// StatusCancelled indicates the call was cancelled by the caller.
	StatusCancelled Status = 1

	// StatusUnknown indicates an error the coordinator did not classify.
	StatusUnknown Status = 2

	// StatusInvalidArgument indicates a malformed request (bad pattern, empty name).
	StatusInvalidArgument Status = 3

	// StatusDeadlineExceeded indicates the call timed out.
	StatusDeadlineExceeded Status = 4

	// StatusNotFound indicates the place, match or reservation does not exist.
	StatusNotFound Status = 5

	// StatusAlreadyExists indicates the place or match already exists.
	StatusAlreadyExists Status = 6

	// StatusPermissionDenied indicates the caller may not act on the place.
	StatusPermissionDenied Status = 7

	// StatusFailedPrecondition indicates the place is in the wrong state,
	// e.g. acquiring an already acquired place.
	StatusFailedPrecondition Status = 9

	// StatusUnavailable indicates the coordinator could not be reached.
	StatusUnavailable Status = 14

	// StatusInternal indicates a coordinator-side failure.
	StatusInternal Status = 13
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCancelled:
		return "CANCELLED"
	case StatusUnknown:
		return "UNKNOWN"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusAlreadyExists:
		return "ALREADY_EXISTS"
	case StatusPermissionDenied:
		return "PERMISSION_DENIED"
	case StatusFailedPrecondition:
		return "FAILED_PRECONDITION"
	case StatusInternal:
		return "INTERNAL"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusOK
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusOK
}

// IsCritical returns true for statuses that mean the connection itself is
// broken rather than the request being rejected.
func (s Status) IsCritical() bool {
	return s == StatusUnavailable || s == StatusDeadlineExceeded
}
