package inspect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/labgrid-ui/lgsync/pkg/snapshot"
)

// Name resolution errors.
var (
	ErrPlaceNotFound  = errors.New("place not found")
	ErrAmbiguousPlace = errors.New("ambiguous place name")
)

// ResolvePlace finds a place by name. Resolution order: exact name,
// alias, case-insensitive name or alias, then a unique name prefix.
func ResolvePlace(places []snapshot.Place, name string) (snapshot.Place, error) {
	if name == "" {
		return snapshot.Place{}, ErrPlaceNotFound
	}
	for _, p := range places {
		if p.Name == name {
			return p, nil
		}
	}
	for _, p := range places {
		if p.HasAlias(name) {
			return p, nil
		}
	}

	lname := strings.ToLower(name)
	for _, p := range places {
		if strings.ToLower(p.Name) == lname {
			return p, nil
		}
		for _, alias := range p.Aliases {
			if strings.ToLower(alias) == lname {
				return p, nil
			}
		}
	}

	var matches []snapshot.Place
	for _, p := range places {
		if strings.HasPrefix(strings.ToLower(p.Name), lname) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return snapshot.Place{}, fmt.Errorf("%w: %s", ErrPlaceNotFound, name)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, p := range matches {
			names[i] = p.Name
		}
		return snapshot.Place{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousPlace, name, strings.Join(names, ", "))
	}
}

// CompletePlace returns the place names and aliases starting with prefix,
// for shell completion.
func CompletePlace(places []snapshot.Place, prefix string) []string {
	var out []string
	for _, p := range places {
		if strings.HasPrefix(p.Name, prefix) {
			out = append(out, p.Name)
		}
		for _, alias := range p.Aliases {
			if strings.HasPrefix(alias, prefix) {
				out = append(out, alias)
			}
		}
	}
	return out
}
