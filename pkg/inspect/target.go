// Package inspect renders the coordinator snapshot for humans.
//
// The inspect package offers:
//   - Parsing target expressions (a place name or an exporter/group/class/name selector)
//   - Resolving place names through aliases and unique prefixes
//   - Building detail records for places, resources and reservations
//   - Formatting output for display
//   - Parsing interactive command lines into coordinator commands
package inspect

import (
	"errors"
	"path"
	"strings"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// Target errors.
var (
	ErrEmptyTarget   = errors.New("empty target")
	ErrInvalidTarget = errors.New("invalid target format")
)

// Target is a parsed inspection target.
// Format: place or exporter[/group[/class[/name]]]
type Target struct {
	// Place is set when the target names a single place.
	Place string

	// Selector matches resources when the target has more than one component.
	Selector Selector

	// IsResource reports whether the target selects resources.
	IsResource bool

	// Raw stores the original input string.
	Raw string
}

// Selector is a resource path pattern. Components are shell patterns;
// missing components match anything.
type Selector struct {
	Exporter string
	Group    string
	Class    string
	Name     string
}

// ParseTarget parses a target string.
//
// Supported formats:
//   - "place" - a place name or alias
//   - "exporter/group" - every resource of an exporter group
//   - "exporter/group/class" - resources of one class
//   - "exporter/group/class/name" - one resource
//
// A lone component is always a place; use "exporter/*" for all
// resources of an exporter.
func ParseTarget(input string) (*Target, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyTarget
	}
	if strings.HasPrefix(input, "/") || strings.HasSuffix(input, "/") || strings.Contains(input, "//") {
		return nil, ErrInvalidTarget
	}

	parts := strings.Split(input, "/")
	t := &Target{Raw: input}
	if len(parts) == 1 {
		t.Place = parts[0]
		return t, nil
	}
	if len(parts) > 4 {
		return nil, ErrInvalidTarget
	}

	sel := Selector{Exporter: "*", Group: "*", Class: "*", Name: "*"}
	fields := []*string{&sel.Exporter, &sel.Group, &sel.Class, &sel.Name}
	for i, part := range parts {
		if _, err := path.Match(part, ""); err != nil {
			return nil, ErrInvalidTarget
		}
		*fields[i] = part
	}
	t.Selector = sel
	t.IsResource = true
	return t, nil
}

// Match reports whether the selector matches a resource path.
func (s Selector) Match(p wire.Path) bool {
	return match(s.Exporter, p.Exporter) &&
		match(s.Group, p.Group) &&
		match(s.Class, p.Class) &&
		match(s.Name, p.Name)
}

// String returns the selector in path form.
func (s Selector) String() string {
	return s.Exporter + "/" + s.Group + "/" + s.Class + "/" + s.Name
}

func match(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// ParseTags parses key=value arguments. An empty value ("key=") deletes
// the tag when sent to the coordinator.
func ParseTags(args []string) (map[string]string, error) {
	tags := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, errors.New("tag must be key=value: " + arg)
		}
		tags[key] = value
	}
	return tags, nil
}

// ParseFilters parses reservation filters. Each argument is either
// "key=value", which goes to the "main" filter, or "name:key=value".
func ParseFilters(args []string) (map[string]map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("reservation needs at least one filter")
	}
	filters := make(map[string]map[string]string)
	for _, arg := range args {
		name := "main"
		expr := arg
		if before, after, ok := strings.Cut(arg, ":"); ok {
			name, expr = before, after
		}
		key, value, ok := strings.Cut(expr, "=")
		if !ok || key == "" || name == "" {
			return nil, errors.New("filter must be [name:]key=value: " + arg)
		}
		if filters[name] == nil {
			filters[name] = make(map[string]string)
		}
		filters[name][key] = value
	}
	return filters, nil
}
