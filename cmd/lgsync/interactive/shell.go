// Package interactive provides the interactive shell of lgsync.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/labgrid-ui/lgsync/cmd/lgsync/commands"
	"github.com/labgrid-ui/lgsync/pkg/client"
	"github.com/labgrid-ui/lgsync/pkg/inspect"
)

// DefaultCommandTimeout bounds how long the shell waits for one command.
const DefaultCommandTimeout = 30 * time.Second

// placeVerbs take a place as their first argument.
var placeVerbs = map[string]bool{
	"acquire":      true,
	"release":      true,
	"delete":       true,
	"add-match":    true,
	"delete-match": true,
	"add-alias":    true,
	"delete-alias": true,
	"set-tags":     true,
	"set-comment":  true,
	"allow":        true,
}

// Shell runs commands against a session.
type Shell struct {
	session   *client.Session
	formatter *inspect.Formatter
	rl        *readline.Instance
	out       io.Writer

	// CommandTimeout bounds each coordinator command.
	CommandTimeout time.Duration
}

// New creates a shell reading from the terminal.
func New(s *client.Session, f *inspect.Formatter) (*Shell, error) {
	sh := newShell(s, f, nil)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    sh.completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	sh.rl = rl
	sh.out = rl.Stdout()
	return sh, nil
}

func newShell(s *client.Session, f *inspect.Formatter, out io.Writer) *Shell {
	return &Shell{
		session:        s,
		formatter:      f,
		out:            out,
		CommandTimeout: DefaultCommandTimeout,
	}
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use it for log output so lines do not clobber the input.
func (sh *Shell) Stdout() io.Writer {
	return sh.out
}

func (sh *Shell) prompt() string {
	if place := sh.session.SelectedPlace(); place != "" {
		return "lgsync(" + place + ")> "
	}
	return "lgsync> "
}

func (sh *Shell) completer() *readline.PrefixCompleter {
	places := readline.PcItemDynamic(func(string) []string {
		return inspect.CompletePlace(sh.session.Places(), "")
	})

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("places"),
		readline.PcItem("show", places),
		readline.PcItem("resources", places),
		readline.PcItem("reservations"),
		readline.PcItem("status"),
		readline.PcItem("select", places),
		readline.PcItem("env"),
		readline.PcItem("quit"),
	}
	for _, verb := range slices.Sorted(maps.Keys(placeVerbs)) {
		items = append(items, readline.PcItem(verb, places))
	}
	for _, verb := range []string{"create", "reserve", "cancel-reservation", "poll-reservation"} {
		items = append(items, readline.PcItem(verb))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads and executes lines until quit, EOF or ctx is done.
func (sh *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer sh.rl.Close()

	sh.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sh.rl.SetPrompt(sh.prompt())
		line, err := sh.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(sh.out, "Exiting...")
			cancel()
			return
		}

		if quit := sh.Exec(ctx, line); quit {
			cancel()
			return
		}
	}
}

// Exec runs a single input line and reports whether the shell should exit.
func (sh *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	verb := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	view := sh.session.View()
	switch verb {
	case "help", "?":
		sh.printHelp()

	case "places", "p":
		var tags map[string]string
		if tags, err = inspect.ParseTags(args); err == nil {
			commands.WritePlaces(sh.out, sh.formatter, view, tags)
		}

	case "show", "s":
		var name string
		if name, err = sh.placeArg(args); err == nil {
			err = commands.WritePlace(sh.out, sh.formatter, view, name)
		}

	case "resources", "r":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		err = commands.WriteResources(sh.out, sh.formatter, view, target)

	case "reservations":
		token := ""
		if len(args) > 0 {
			token = args[0]
		}
		err = commands.WriteReservations(sh.out, sh.formatter, view, token)

	case "status":
		commands.WriteStatus(sh.out, sh.formatter, view)
		fmt.Fprintf(sh.out, "connectivity: %s\n", sh.session.Connectivity())

	case "select":
		err = sh.cmdSelect(args)

	case "env":
		err = sh.cmdEnv(args)

	case "quit", "exit", "q":
		fmt.Fprintln(sh.out, "Exiting...")
		return true

	default:
		err = sh.cmdExecute(ctx, verb, args)
	}

	if err != nil {
		if errors.Is(err, inspect.ErrUnknownCommand) {
			fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for commands)\n", verb)
		} else {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
	return false
}

// placeArg returns the place named by args, or the selected place.
func (sh *Shell) placeArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if place := sh.session.SelectedPlace(); place != "" {
		return place, nil
	}
	return "", errors.New("no place given and none selected")
}

func (sh *Shell) cmdSelect(args []string) error {
	if len(args) == 0 {
		sh.session.SelectPlace("")
		fmt.Fprintln(sh.out, "selection cleared")
		return nil
	}
	p, err := inspect.ResolvePlace(sh.session.Places(), args[0])
	if err != nil {
		return err
	}
	sh.session.SelectPlace(p.Name)
	fmt.Fprintf(sh.out, "selected %s\n", p.Name)
	return nil
}

func (sh *Shell) cmdEnv(args []string) error {
	if len(args) > 0 {
		sh.session.SetEnvFile(args[0])
	}
	for _, kv := range sh.session.ScriptEnv() {
		fmt.Fprintln(sh.out, kv)
	}
	return nil
}

// cmdExecute runs a coordinator command. Place verbs fall back to the
// selected place and accept aliases and unique prefixes.
func (sh *Shell) cmdExecute(ctx context.Context, verb string, args []string) error {
	if placeVerbs[verb] {
		if len(args) == 0 {
			place, err := sh.placeArg(nil)
			if err != nil {
				return err
			}
			args = []string{place}
		}
		p, err := inspect.ResolvePlace(sh.session.Places(), args[0])
		switch {
		case err == nil:
			args = append([]string{p.Name}, args[1:]...)
		case errors.Is(err, inspect.ErrAmbiguousPlace):
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, sh.CommandTimeout)
	defer cancel()
	return commands.Execute(ctx, sh.session, sh.formatter, append([]string{verb}, args...), sh.out)
}

func (sh *Shell) printHelp() {
	fmt.Fprintln(sh.out, `
lgsync Commands:
  Inspection:
    places [key=value...]     - List places, optionally by tags
    show [place]              - Show a place and its resources
    resources [target]        - List resources (place or exporter/group/class/name)
    reservations [token]      - List reservations
    status                    - Show snapshot and connection state

  Selection:
    select [place]            - Select a place (no argument clears)
    env [file]                - Set the environment file and print script variables

  Coordinator:`)
	for _, h := range inspect.CommandHelp {
		fmt.Fprintf(sh.out, "    %-58s - %s\n", h.Usage, h.Summary)
	}
	fmt.Fprintln(sh.out, `
  General:
    help                      - Show this help
    quit                      - Exit`)
}
