package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// ErrInvalidArgument is matched by every *ArgumentError.
var ErrInvalidArgument = errors.New("invalid argument")

// ArgumentError reports a command argument rejected before anything is
// sent to the coordinator.
type ArgumentError struct {
	Method wire.Method
	Field  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s must not be blank", e.Method, e.Field)
}

// Is makes errors.Is(err, ErrInvalidArgument) match.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// Validate checks the arguments of cmd. Names, aliases, patterns, users
// and tokens must not be empty or whitespace only.
func Validate(cmd Command) error {
	m := cmd.Method()
	switch c := cmd.(type) {
	case Acquire:
		return required(m, "place", c.Place)
	case Release:
		return required(m, "place", c.Place)
	case CreatePlace:
		return required(m, "name", c.Name)
	case DeletePlace:
		return required(m, "name", c.Name)
	case AddMatch:
		return required(m, "place", c.Place, "pattern", c.Pattern)
	case RemoveMatch:
		return required(m, "place", c.Place, "pattern", c.Pattern)
	case AddAlias:
		return required(m, "place", c.Place, "alias", c.Alias)
	case DeleteAlias:
		return required(m, "place", c.Place, "alias", c.Alias)
	case SetTags:
		if err := required(m, "place", c.Place); err != nil {
			return err
		}
		for key := range c.Tags {
			if err := required(m, "tag key", key); err != nil {
				return err
			}
		}
	case SetComment:
		return required(m, "place", c.Place)
	case Allow:
		return required(m, "place", c.Place, "user", c.User)
	case CreateReservation:
		if len(c.Filters) == 0 {
			return &ArgumentError{Method: m, Field: "filters"}
		}
		for name, filter := range c.Filters {
			if err := required(m, "filter name", name); err != nil {
				return err
			}
			for key := range filter {
				if err := required(m, "filter key", key); err != nil {
					return err
				}
			}
		}
	case CancelReservation:
		return required(m, "token", c.Token)
	case PollReservation:
		return required(m, "token", c.Token)
	}
	return nil
}

// required takes field/value pairs.
func required(m wire.Method, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return &ArgumentError{Method: m, Field: pairs[i]}
		}
	}
	return nil
}
