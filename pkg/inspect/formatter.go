package inspect

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Formatter formats inspection output.
type Formatter struct {
	// ShowParams includes resource parameters in listings
	ShowParams bool

	// ShowTimestamps includes created/changed times
	ShowTimestamps bool

	// IndentWidth is the number of spaces per indent level
	IndentWidth int

	// Location is used for timestamps. Nil means local time.
	Location *time.Location
}

// NewFormatter creates a new Formatter with default settings.
func NewFormatter() *Formatter {
	return &Formatter{
		ShowParams:     false,
		ShowTimestamps: true,
		IndentWidth:    2,
	}
}

// Indent returns the content with indentation.
func (f *Formatter) Indent(depth int, content string) string {
	width := f.IndentWidth
	if width == 0 {
		width = 2
	}
	return strings.Repeat(" ", depth*width) + content
}

// FormatValue formats a resource parameter value for display.
func (f *Formatter) FormatValue(value any) string {
	if value == nil {
		return "null"
	}

	switch v := value.(type) {
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case []byte:
		return fmt.Sprintf("0x%x", v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = f.FormatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FormatTime formats a coordinator timestamp (Unix seconds).
func (f *Formatter) FormatTime(unix float64) string {
	if unix == 0 {
		return "-"
	}
	sec := int64(unix)
	nsec := int64((unix - float64(sec)) * 1e9)
	t := time.Unix(sec, nsec)
	if f.Location != nil {
		t = t.In(f.Location)
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatParams formats a parameter map as sorted key=value pairs.
func (f *Formatter) FormatParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(params))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + f.FormatValue(params[k])
	}
	return strings.Join(parts, " ")
}

// FormatTags formats tags as sorted key=value pairs.
func FormatTags(tags map[string]string) string {
	keys := slices.Sorted(maps.Keys(tags))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return strings.Join(parts, " ")
}

// FormatPlaceTable formats places one per line.
func (f *Formatter) FormatPlaceTable(places []snapshot.Place) string {
	if len(places) == 0 {
		return "  (no places)\n"
	}

	width := 0
	for _, p := range places {
		width = max(width, len(p.Name))
	}

	var sb strings.Builder
	for _, p := range places {
		owner := "-"
		if p.IsAcquired() {
			owner = p.Acquired
		}
		fmt.Fprintf(&sb, "%-*s  %-20s  %d resource(s)", width, p.Name, owner, len(p.Resources))
		if len(p.Tags) > 0 {
			sb.WriteString("  " + FormatTags(p.Tags))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatPlace formats the details of one place.
func (f *Formatter) FormatPlace(info *PlaceInfo) string {
	p := info.Place
	var sb strings.Builder

	fmt.Fprintf(&sb, "Place '%s':\n", p.Name)
	line := func(key, value string) {
		sb.WriteString(f.Indent(1, key+": "+value) + "\n")
	}
	if len(p.Aliases) > 0 {
		line("aliases", strings.Join(p.Aliases, ", "))
	}
	if p.Comment != "" {
		line("comment", p.Comment)
	}
	if len(p.Tags) > 0 {
		line("tags", FormatTags(p.Tags))
	}

	sb.WriteString(f.Indent(1, "matches:") + "\n")
	for _, m := range p.Matches {
		s := m.String()
		if m.Rename != "" {
			s += " -> " + m.Rename
		}
		if len(m.Params) > 0 {
			s += " " + FormatTags(m.Params)
		}
		sb.WriteString(f.Indent(2, s) + "\n")
	}

	if p.IsAcquired() {
		line("acquired", p.Acquired)
	} else {
		line("acquired", "-")
	}
	if len(p.AcquiredResources) > 0 {
		sb.WriteString(f.Indent(1, "acquired resources:") + "\n")
		for _, path := range p.AcquiredResources {
			sb.WriteString(f.Indent(2, path.String()) + "\n")
		}
	}
	if len(p.Allowed) > 0 {
		line("allowed", strings.Join(p.Allowed, ", "))
	}
	if f.ShowTimestamps {
		line("created", f.FormatTime(p.Created))
		line("changed", f.FormatTime(p.Changed))
	}
	if info.Reservation != nil {
		line("reservation", fmt.Sprintf("%s (%s)", info.Reservation.Token, info.Reservation.State))
	} else if p.Reservation != "" {
		line("reservation", p.Reservation)
	}

	if len(info.Resources) == 0 {
		return sb.String()
	}
	sb.WriteString("Matching resources:\n")
	for _, r := range info.Resources {
		sb.WriteString(f.Indent(1, f.formatResourceLine(r)) + "\n")
	}
	return sb.String()
}

// FormatResourceTable formats resources one per line in path order.
func (f *Formatter) FormatResourceTable(resources []snapshot.Resource) string {
	if len(resources) == 0 {
		return "  (no resources)\n"
	}
	var sb strings.Builder
	for _, r := range resources {
		sb.WriteString(f.formatResourceLine(r) + "\n")
	}
	return sb.String()
}

func (f *Formatter) formatResourceLine(r snapshot.Resource) string {
	s := r.Path.String()
	if !r.Avail {
		s += " (unavailable)"
	}
	if r.Place != "" {
		s += " [" + r.Place + "]"
	}
	if r.Acquired != "" {
		s += " acquired by " + r.Acquired
	}
	if f.ShowParams && len(r.Params) > 0 {
		s += " " + f.FormatParams(r.Params)
	}
	return s
}

// FormatReservation formats one reservation.
func (f *Formatter) FormatReservation(r wire.Reservation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reservation '%s':\n", r.Token)
	line := func(key, value string) {
		sb.WriteString(f.Indent(1, key+": "+value) + "\n")
	}
	line("owner", r.Owner)
	line("state", string(r.State))
	if r.Prio != 0 {
		line("prio", fmt.Sprintf("%g", r.Prio))
	}
	for _, name := range slices.Sorted(maps.Keys(r.Filters)) {
		line("filters["+name+"]", FormatTags(r.Filters[name]))
	}
	for _, name := range slices.Sorted(maps.Keys(r.Allocations)) {
		line("allocations["+name+"]", strings.Join(r.Allocations[name], ", "))
	}
	if f.ShowTimestamps {
		line("created", f.FormatTime(r.Created))
		line("timeout", f.FormatTime(r.Timeout))
	}
	return sb.String()
}

// FormatSummary formats view counters on one line.
func (f *Formatter) FormatSummary(s Summary) string {
	return fmt.Sprintf("rev %d %s: %d places (%d acquired), %d resources (%d available, %d unattached), %d reservations",
		s.Revision, s.State, s.Places, s.Acquired, s.Resources, s.Available, s.Unattached, s.Reservations)
}

// FormatNotification formats a change notification, one line per change.
func (f *Formatter) FormatNotification(n snapshot.Notification) string {
	var sb strings.Builder
	switch {
	case n.Lagged:
		fmt.Fprintf(&sb, "rev %d: lagged, re-read the snapshot\n", n.Revision)
		return sb.String()
	case n.Resync:
		fmt.Fprintf(&sb, "rev %d: resync, %d change(s)\n", n.Revision, len(n.Changes))
	}
	for _, c := range n.Changes {
		fmt.Fprintf(&sb, "rev %d: %s\n", n.Revision, f.FormatChange(c))
	}
	return sb.String()
}

// FormatChange formats a single change.
func (f *Formatter) FormatChange(c snapshot.Change) string {
	s := fmt.Sprintf("%s %s %s", c.Kind, c.Key, c.Op)
	switch c.Kind {
	case event.KindPlace:
		if c.Place != nil && c.Place.IsAcquired() {
			s += " (acquired by " + c.Place.Acquired + ")"
		}
	case event.KindResource:
		after := ""
		if c.Resource != nil {
			after = c.Resource.Place
		}
		if after != c.PrevPlace {
			s += fmt.Sprintf(" (place %s -> %s)", orDash(c.PrevPlace), orDash(after))
		}
	case event.KindReservation:
		if c.Reservation != nil {
			s += " (" + string(c.Reservation.State) + ")"
		}
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
