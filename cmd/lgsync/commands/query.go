package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/labgrid-ui/lgsync/pkg/inspect"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
)

// WritePlaces lists the places carrying every given tag.
func WritePlaces(w io.Writer, f *inspect.Formatter, view snapshot.View, tags map[string]string) {
	fmt.Fprint(w, f.FormatPlaceTable(inspect.NewInspector(view).Places(tags)))
}

// WritePlace shows one place with its resources.
func WritePlace(w io.Writer, f *inspect.Formatter, view snapshot.View, name string) error {
	info, err := inspect.NewInspector(view).InspectPlace(name)
	if err != nil {
		return err
	}
	fmt.Fprint(w, f.FormatPlace(info))
	return nil
}

// WriteResources lists resources. An empty target lists all of them; a
// place target lists the resources attached to that place.
func WriteResources(w io.Writer, f *inspect.Formatter, view snapshot.View, target string) error {
	i := inspect.NewInspector(view)
	if target == "" {
		fmt.Fprint(w, f.FormatResourceTable(view.Resources))
		return nil
	}

	t, err := inspect.ParseTarget(target)
	if err != nil {
		return err
	}
	if t.IsResource {
		fmt.Fprint(w, f.FormatResourceTable(i.Resources(t.Selector)))
		return nil
	}
	info, err := i.InspectPlace(t.Place)
	if err != nil {
		return err
	}
	fmt.Fprint(w, f.FormatResourceTable(info.Resources))
	return nil
}

// WriteReservations lists reservations, or one reservation by token.
func WriteReservations(w io.Writer, f *inspect.Formatter, view snapshot.View, token string) error {
	if token != "" {
		r, err := inspect.NewInspector(view).Reservation(token)
		if err != nil {
			return err
		}
		fmt.Fprint(w, f.FormatReservation(r))
		return nil
	}
	if len(view.Reservations) == 0 {
		fmt.Fprintln(w, "  (no reservations)")
		return nil
	}
	for _, r := range view.Reservations {
		fmt.Fprint(w, f.FormatReservation(r))
	}
	return nil
}

// WriteStatus prints a one-line summary of the snapshot.
func WriteStatus(w io.Writer, f *inspect.Formatter, view snapshot.View) {
	fmt.Fprintln(w, f.FormatSummary(inspect.NewInspector(view).Summarize()))
}

// IsUsageError reports whether err comes from malformed user input.
func IsUsageError(err error) bool {
	return errors.Is(err, inspect.ErrUnknownCommand) ||
		errors.Is(err, inspect.ErrEmptyTarget) ||
		errors.Is(err, inspect.ErrInvalidTarget)
}
