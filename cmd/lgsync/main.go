// Command lgsync keeps a live view of a labgrid coordinator and runs
// place and reservation commands against it.
//
// Usage:
//
//	lgsync <command> [flags] [args]
//
// Examples:
//
//	# List places tagged board=imx8
//	lgsync places -x coordinator:20408 board=imx8
//
//	# Acquire a place by alias
//	lgsync acquire bench-two
//
//	# Follow changes of one place and serve metrics
//	lgsync watch --metrics-addr :9100 p1
//
//	# Record a session and inspect it later
//	lgsync interactive --protocol-log session.lglog
//	lgsync log stats session.lglog
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/labgrid-ui/lgsync/cmd/lgsync/commands"
	"github.com/labgrid-ui/lgsync/cmd/lgsync/interactive"
	"github.com/labgrid-ui/lgsync/pkg/inspect"
	"github.com/labgrid-ui/lgsync/pkg/version"
)

const usage = `lgsync - labgrid coordinator client

Usage:
  lgsync <command> [flags] [args]

Inspection:
  places [key=value...]    List places, optionally by tags
  show <place>             Show a place and its resources
  resources [target]       List resources of a place or exporter/group/class/name
  reservations [token]     List reservations
  status                   Show a snapshot summary
  env <place>              Print the script environment for a place
  watch [target]           Print changes as they happen
  interactive              Start an interactive shell

Coordinator commands:
%s
Protocol logs:
  log view|export|filter|stats <file.lglog>

Other:
  version                  Print the version

Use "lgsync <command> --help" for the flags of a command.
`

// usageError marks errors caused by bad invocation.
type usageError struct{ error }

func (usageError) ExitCode() int { return 2 }

func (e usageError) Unwrap() error { return e.error }

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func printUsage() {
	var sb strings.Builder
	for _, h := range inspect.CommandHelp {
		fmt.Fprintf(&sb, "  %-56s %s\n", h.Usage, h.Summary)
	}
	fmt.Fprintf(os.Stdout, usage, sb.String())
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return usageError{errors.New("command required")}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "-h", "-help", "--help", "help":
		printUsage()
		return nil
	case "version", "--version":
		fmt.Println(version.String("lgsync"))
		return nil
	case "log":
		return runLog(rest)
	case "watch":
		return runWatch(ctx, rest)
	case "interactive", "shell":
		return runInteractive(ctx, rest)
	case "places", "show", "resources", "reservations", "status", "env":
		return runQuery(ctx, cmd, rest)
	default:
		return runCommand(ctx, cmd, rest)
	}
}

// sessionFlagSet creates the flag set of a command that talks to the
// coordinator.
func sessionFlagSet(name string, f *commands.SessionFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.AddFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of lgsync %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return usageError{err}
	}
	return nil
}

// open starts a session and waits for the first snapshot.
func open(ctx context.Context, f *commands.SessionFlags) (*commands.Env, error) {
	env, err := commands.Open(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := commands.WaitLive(ctx, env.Session, f.Wait); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func newFormatter(showParams, showTimestamps bool) *inspect.Formatter {
	f := inspect.NewFormatter()
	f.ShowParams = showParams
	f.ShowTimestamps = showTimestamps
	return f
}

func runQuery(ctx context.Context, cmd string, args []string) error {
	var sf commands.SessionFlags
	fs := sessionFlagSet(cmd, &sf)
	showParams := fs.BoolP("params", "p", false, "show resource parameters")
	showTimes := fs.BoolP("timestamps", "t", false, "show created/changed timestamps")
	envFile := fs.String("env-file", "", "environment file exported as LG_ENV (env only)")
	if err := parse(fs, args); err != nil {
		return err
	}
	args = fs.Args()
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	env, err := open(ctx, &sf)
	if err != nil {
		return err
	}
	defer env.Close()

	f := newFormatter(*showParams, *showTimes)
	view := env.Session.View()
	out := os.Stdout

	switch cmd {
	case "places":
		tags, err := inspect.ParseTags(args)
		if err != nil {
			return usageError{err}
		}
		commands.WritePlaces(out, f, view, tags)
		return nil
	case "show":
		if arg == "" {
			return usageError{errors.New("place required")}
		}
		return commands.WritePlace(out, f, view, arg)
	case "resources":
		return commands.WriteResources(out, f, view, arg)
	case "reservations":
		return commands.WriteReservations(out, f, view, arg)
	case "env":
		if arg == "" {
			return usageError{errors.New("place required")}
		}
		p, err := inspect.ResolvePlace(view.Places, arg)
		if err != nil {
			return err
		}
		env.Session.SelectPlace(p.Name)
		env.Session.SetEnvFile(*envFile)
		for _, kv := range env.Session.ScriptEnv() {
			fmt.Fprintln(out, kv)
		}
		return nil
	default:
		commands.WriteStatus(out, f, view)
		return nil
	}
}

func runCommand(ctx context.Context, verb string, args []string) error {
	var sf commands.SessionFlags
	fs := sessionFlagSet(verb, &sf)
	if err := parse(fs, args); err != nil {
		return err
	}
	argv := append([]string{verb}, fs.Args()...)

	// Reject bad input before connecting.
	if _, err := inspect.ParseCommand(argv); err != nil {
		if errors.Is(err, inspect.ErrUnknownCommand) {
			printUsage()
		}
		return usageError{err}
	}

	env, err := open(ctx, &sf)
	if err != nil {
		return err
	}
	defer env.Close()

	err = commands.Execute(ctx, env.Session, inspect.NewFormatter(), argv, os.Stdout)
	if commands.IsUsageError(err) {
		return usageError{err}
	}
	return err
}

func runWatch(ctx context.Context, args []string) error {
	var sf commands.SessionFlags
	var opts commands.WatchOptions
	fs := sessionFlagSet("watch", &sf)
	fs.BoolVar(&opts.Exporter, "exporter", false, "treat the target as an exporter name")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		opts.Target = fs.Arg(0)
	}

	env, err := open(ctx, &sf)
	if err != nil {
		return err
	}
	defer env.Close()

	return commands.RunWatch(ctx, env, inspect.NewFormatter(), opts, os.Stdout)
}

func runInteractive(ctx context.Context, args []string) error {
	var sf commands.SessionFlags
	fs := sessionFlagSet("interactive", &sf)
	showParams := fs.BoolP("params", "p", false, "show resource parameters")
	if err := parse(fs, args); err != nil {
		return err
	}

	env, err := open(ctx, &sf)
	if err != nil {
		return err
	}
	defer env.Close()

	sh, err := interactive.New(env.Session, newFormatter(*showParams, false))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sh.Run(ctx, cancel)
	return nil
}
