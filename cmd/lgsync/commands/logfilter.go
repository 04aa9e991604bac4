package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/labgrid-ui/lgsync/pkg/log"
)

// FilterOptions specifies filtering criteria for the log filter command.
type FilterOptions struct {
	Output    string
	ConnID    string
	Place     string
	MessageID string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Filter converts the options to a reader filter.
func (opts FilterOptions) Filter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		Place:        opts.Place,
	}

	if opts.MessageID != "" {
		id, err := strconv.ParseUint(opts.MessageID, 10, 32)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid message id: %w", err)
		}
		msgID := uint32(id)
		filter.MessageID = &msgID
	}
	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Layer != "" {
		l, err := ParseLayerFlag(opts.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}
	if opts.Direction != "" {
		d, err := ParseDirectionFlag(opts.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter copies the matching events of a capture into opts.Output and
// reports the count on w.
func RunFilter(path string, opts FilterOptions, w io.Writer) error {
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = logger.Close()
			return fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	if err := logger.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	if _, dropped := logger.Stats(); dropped > 0 {
		return fmt.Errorf("failed to write %d of %d events to %s", dropped, count, opts.Output)
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, opts.Output)
	return nil
}
