package wire

import (
	"cmp"
	"fmt"
	"strings"
)

// String renders the path as exporter/group/class/name.
func (p Path) String() string {
	return p.Exporter + "/" + p.Group + "/" + p.Class + "/" + p.Name
}

// ParsePath parses the exporter/group/class/name form.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return Path{}, fmt.Errorf("invalid resource path %q: want exporter/group/class/name", s)
	}
	p := Path{Exporter: parts[0], Group: parts[1], Class: parts[2], Name: parts[3]}
	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}

// String renders the rule as exporter/group/class[/name].
func (m ResourceMatch) String() string {
	s := m.Exporter + "/" + m.Group + "/" + m.Class
	if m.Name != "" {
		s += "/" + m.Name
	}
	return s
}

// ParseResourceMatch parses the exporter/group/class[/name] pattern form.
func ParseResourceMatch(pattern string) (ResourceMatch, error) {
	parts := strings.Split(pattern, "/")
	if len(parts) != 3 && len(parts) != 4 {
		return ResourceMatch{}, fmt.Errorf("invalid match pattern %q: want exporter/group/class[/name]", pattern)
	}
	for _, part := range parts {
		if part == "" {
			return ResourceMatch{}, fmt.Errorf("invalid match pattern %q: empty component", pattern)
		}
	}
	m := ResourceMatch{Exporter: parts[0], Group: parts[1], Class: parts[2]}
	if len(parts) == 4 {
		m.Name = parts[3]
	}
	return m, nil
}

// ComparePaths orders paths component by component, comparing embedded
// decimal numbers by value so that usb2 sorts before usb10.
func ComparePaths(a, b Path) int {
	if c := NaturalCompare(a.Exporter, b.Exporter); c != 0 {
		return c
	}
	if c := NaturalCompare(a.Group, b.Group); c != 0 {
		return c
	}
	if c := NaturalCompare(a.Class, b.Class); c != 0 {
		return c
	}
	if c := NaturalCompare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Or(
		strings.Compare(a.Exporter, b.Exporter),
		strings.Compare(a.Group, b.Group),
		strings.Compare(a.Class, b.Class),
		strings.Compare(a.Name, b.Name),
	)
}

// NaturalCompare compares two strings treating runs of digits as numbers.
func NaturalCompare(a, b string) int {
	for a != "" && b != "" {
		da, db := isDigit(a[0]), isDigit(b[0])
		switch {
		case da && db:
			na, ra := splitDigits(a)
			nb, rb := splitDigits(b)
			if c := compareNumeric(na, nb); c != 0 {
				return c
			}
			a, b = ra, rb
		case a[0] != b[0]:
			if a[0] < b[0] {
				return -1
			}
			return 1
		default:
			a, b = a[1:], b[1:]
		}
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func splitDigits(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// compareNumeric compares two digit strings of arbitrary length by value.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
