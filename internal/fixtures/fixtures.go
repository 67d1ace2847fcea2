// Package fixtures declares the entity sets used by the integration suite and
// the readcheck command.
package fixtures

import (
	"fmt"
	"time"

	"entitygraph/pkg/mapping"
)

// Fixture set names.
const (
	LibrarySet = "library"
	ShopSet    = "shop"
)

// Sets lists the available fixture sets.
func Sets() []string { return []string{LibrarySet, ShopSet} }

// Registry returns a fresh, unsealed registry for the named set.
func Registry(set string) (*mapping.Registry, error) {
	switch set {
	case LibrarySet:
		return Library(), nil
	case ShopSet:
		return Shop(time.Now), nil
	}
	return nil, fmt.Errorf("fixtures: unknown set %q", set)
}
