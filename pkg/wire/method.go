package wire

// Method identifies a unary coordinator call.
type Method uint8

const (
	MethodAddPlace Method = iota + 1
	MethodDeletePlace
	MethodGetPlaces
	MethodAddPlaceAlias
	MethodDeletePlaceAlias
	MethodSetPlaceTags
	MethodSetPlaceComment
	MethodAddPlaceMatch
	MethodDeletePlaceMatch
	MethodAcquirePlace
	MethodReleasePlace
	MethodAllowPlace
	MethodCreateReservation
	MethodCancelReservation
	MethodPollReservation
	MethodGetReservations
)

var methodNames = map[Method]string{
	MethodAddPlace:          "AddPlace",
	MethodDeletePlace:       "DeletePlace",
	MethodGetPlaces:         "GetPlaces",
	MethodAddPlaceAlias:     "AddPlaceAlias",
	MethodDeletePlaceAlias:  "DeletePlaceAlias",
	MethodSetPlaceTags:      "SetPlaceTags",
	MethodSetPlaceComment:   "SetPlaceComment",
	MethodAddPlaceMatch:     "AddPlaceMatch",
	MethodDeletePlaceMatch:  "DeletePlaceMatch",
	MethodAcquirePlace:      "AcquirePlace",
	MethodReleasePlace:      "ReleasePlace",
	MethodAllowPlace:        "AllowPlace",
	MethodCreateReservation: "CreateReservation",
	MethodCancelReservation: "CancelReservation",
	MethodPollReservation:   "PollReservation",
	MethodGetReservations:   "GetReservations",
}

// String returns the RPC name of the method.
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "Unknown"
}

// IsValid returns true if m is a known coordinator method.
func (m Method) IsValid() bool {
	return m >= MethodAddPlace && m <= MethodGetReservations
}

// ParseMethod returns the method with the given RPC name.
func ParseMethod(name string) (Method, bool) {
	for m, n := range methodNames {
		if n == name {
			return m, true
		}
	}
	return 0, false
}

// Mutates reports whether the method changes coordinator state.
// Read-only methods may be safely resubmitted after a lost connection.
func (m Method) Mutates() bool {
	switch m {
	case MethodGetPlaces, MethodPollReservation, MethodGetReservations:
		return false
	default:
		return m.IsValid()
	}
}
