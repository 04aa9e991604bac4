package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/labgrid-ui/lgsync/pkg/client"
	"github.com/labgrid-ui/lgsync/pkg/command"
	"github.com/labgrid-ui/lgsync/pkg/inspect"
)

// Execute parses and runs one coordinator command and reports the outcome
// on w. Reservation commands go through the session so the snapshot
// learns about them right away.
func Execute(ctx context.Context, s *client.Session, f *inspect.Formatter, args []string, w io.Writer) error {
	cmd, err := inspect.ParseCommand(args)
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case command.CreateReservation:
		r, err := s.CreateReservation(ctx, c.Filters, c.Prio)
		if err != nil {
			return describe(cmd, err)
		}
		fmt.Fprint(w, f.FormatReservation(r))
		return nil

	case command.PollReservation:
		r, err := s.PollReservation(ctx, c.Token)
		if err != nil {
			return describe(cmd, err)
		}
		fmt.Fprint(w, f.FormatReservation(r))
		return nil

	case command.CancelReservation:
		if err := s.CancelReservation(ctx, c.Token); err != nil {
			return describe(cmd, err)
		}
	default:
		if err := s.Submit(cmd).Wait(ctx); err != nil {
			return describe(cmd, err)
		}
	}

	if target := cmd.Target(); target != "" {
		fmt.Fprintf(w, "%s %s: ok\n", cmd.Method(), target)
	} else {
		fmt.Fprintf(w, "%s: ok\n", cmd.Method())
	}
	return nil
}

// describe turns command errors into messages for humans.
func describe(cmd command.Command, err error) error {
	var failure *command.CommandFailure
	switch {
	case errors.As(err, &failure):
		return fmt.Errorf("rejected by coordinator (%s): %w", failure.Status, err)
	case errors.Is(err, command.ErrCommandLost):
		return fmt.Errorf("%s: outcome unknown, connection lost (check the place state before retrying): %w", cmd.Method(), err)
	default:
		return fmt.Errorf("%s: %w", cmd.Method(), err)
	}
}
