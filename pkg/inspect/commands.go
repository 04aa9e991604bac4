package inspect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/labgrid-ui/lgsync/pkg/command"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// ErrUnknownCommand is returned by ParseCommand for unknown verbs.
var ErrUnknownCommand = errors.New("unknown command")

// CommandHelp lists the verbs understood by ParseCommand.
var CommandHelp = []struct {
	Usage   string
	Summary string
}{
	{"acquire <place>", "acquire a place"},
	{"release <place> [from-user]", "release a place"},
	{"create <place>", "create an empty place"},
	{"delete <place>", "delete a place"},
	{"add-match <place> <exporter/group/class[/name]> [rename]", "add a match rule"},
	{"delete-match <place> <exporter/group/class[/name]> [rename]", "remove a match rule"},
	{"add-alias <place> <alias>", "add a place alias"},
	{"delete-alias <place> <alias>", "remove a place alias"},
	{"set-tags <place> key=value...", "set place tags (key= deletes)"},
	{"set-comment <place> <text...>", "set the place comment"},
	{"allow <place> <host/user>", "allow another user on an acquired place"},
	{"reserve [prio=N] [name:]key=value...", "create a reservation"},
	{"cancel-reservation <token>", "cancel a reservation"},
	{"poll-reservation <token>", "refresh a reservation"},
}

// ParseCommand turns a split command line into a coordinator command.
// Blank names, patterns and tokens fail with command.ErrInvalidArgument.
func ParseCommand(args []string) (command.Command, error) {
	cmd, err := parseCommand(args)
	if err != nil {
		return nil, err
	}
	if err := command.Validate(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func parseCommand(args []string) (command.Command, error) {
	if len(args) == 0 {
		return nil, ErrUnknownCommand
	}
	verb, args := args[0], args[1:]

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected at least %d argument(s), got %d", verb, n, len(args))
		}
		return nil
	}

	switch verb {
	case "acquire":
		if err := need(1); err != nil {
			return nil, err
		}
		return command.Acquire{Place: args[0]}, nil

	case "release":
		if err := need(1); err != nil {
			return nil, err
		}
		cmd := command.Release{Place: args[0]}
		if len(args) > 1 {
			cmd.FromUser = args[1]
		}
		return cmd, nil

	case "create":
		if err := need(1); err != nil {
			return nil, err
		}
		return command.CreatePlace{Name: args[0]}, nil

	case "delete":
		if err := need(1); err != nil {
			return nil, err
		}
		return command.DeletePlace{Name: args[0]}, nil

	case "add-match", "delete-match":
		if err := need(2); err != nil {
			return nil, err
		}
		if _, err := wire.ParseResourceMatch(args[1]); err != nil {
			return nil, err
		}
		var rename string
		if len(args) > 2 {
			rename = args[2]
		}
		if verb == "delete-match" {
			return command.RemoveMatch{Place: args[0], Pattern: args[1], Rename: rename}, nil
		}
		return command.AddMatch{Place: args[0], Pattern: args[1], Rename: rename}, nil

	case "add-alias", "delete-alias":
		if err := need(2); err != nil {
			return nil, err
		}
		if verb == "delete-alias" {
			return command.DeleteAlias{Place: args[0], Alias: args[1]}, nil
		}
		return command.AddAlias{Place: args[0], Alias: args[1]}, nil

	case "set-tags":
		if err := need(2); err != nil {
			return nil, err
		}
		tags, err := ParseTags(args[1:])
		if err != nil {
			return nil, err
		}
		return command.SetTags{Place: args[0], Tags: tags}, nil

	case "set-comment":
		if err := need(1); err != nil {
			return nil, err
		}
		return command.SetComment{Place: args[0], Comment: strings.Join(args[1:], " ")}, nil

	case "allow":
		if err := need(2); err != nil {
			return nil, err
		}
		return command.Allow{Place: args[0], User: args[1]}, nil

	case "reserve":
		var prio float64
		var exprs []string
		for _, arg := range args {
			if v, ok := strings.CutPrefix(arg, "prio="); ok {
				p, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("reserve: invalid prio %q", v)
				}
				prio = p
				continue
			}
			exprs = append(exprs, arg)
		}
		filters, err := ParseFilters(exprs)
		if err != nil {
			return nil, err
		}
		return command.CreateReservation{Filters: filters, Prio: prio}, nil

	case "cancel-reservation":
		if err := need(1); err != nil {
			return nil, err
		}
		return command.CancelReservation{Token: args[0]}, nil

	case "poll-reservation":
		if err := need(1); err != nil {
			return nil, err
		}
		return command.PollReservation{Token: args[0]}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, verb)
}
