package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/labgrid-ui/lgsync/cmd/lgsync/commands"
)

const logUsage = `lgsync log - Protocol log analyzer

Usage:
  lgsync log <command> [flags] <file.lglog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file
`

func runLog(args []string) error {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, logUsage)
		return usageError{errors.New("log command required")}
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "view":
		return runLogView(rest)
	case "export":
		return runLogExport(rest)
	case "filter":
		return runLogFilter(rest)
	case "stats":
		return runLogStats(rest)
	case "-h", "--help", "help":
		fmt.Print(logUsage)
		return nil
	default:
		fmt.Fprint(os.Stderr, logUsage)
		return usageError{fmt.Errorf("unknown log command: %s", cmd)}
	}
}

// logFlagSet creates the flag set of a log command.
func logFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("log "+name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  lgsync log %s [flags] <file.lglog>\n\nFlags:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func logPath(fs *pflag.FlagSet, args []string) (string, error) {
	if err := parse(fs, args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", usageError{errors.New("log file path required")}
	}
	return fs.Arg(0), nil
}

func runLogView(args []string) error {
	fs := logFlagSet("view")
	layer := fs.String("layer", "", "filter by layer (transport, wire, session)")
	direction := fs.String("direction", "", "filter by direction (in, out)")
	category := fs.String("category", "", "filter by category (message, state, error)")
	place := fs.String("place", "", "filter by place")
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}

	filter := commands.ViewFilter{Place: *place}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			return usageError{err}
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			return usageError{err}
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			return usageError{err}
		}
		filter.Category = &c
	}

	return commands.RunView(path, filter, os.Stdout)
}

func runLogExport(args []string) error {
	fs := logFlagSet("export")
	format := fs.String("format", "jsonl", "output format (jsonl, csv)")
	output := fs.StringP("output", "o", "", "output file (default: stdout)")
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output)
}

func runLogFilter(args []string) error {
	fs := logFlagSet("filter")
	var opts commands.FilterOptions
	fs.StringVarP(&opts.Output, "output", "o", "", "output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "filter by connection ID")
	fs.StringVar(&opts.Place, "place", "", "filter by place")
	fs.StringVar(&opts.MessageID, "message-id", "", "filter by message ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "filter by layer (transport, wire, session)")
	fs.StringVar(&opts.Direction, "direction", "", "filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "filter by category (message, state, error)")
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		fs.Usage()
		return usageError{errors.New("output file (-o) required")}
	}
	return commands.RunFilter(path, opts, os.Stdout)
}

func runLogStats(args []string) error {
	path, err := logPath(logFlagSet("stats"), args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
