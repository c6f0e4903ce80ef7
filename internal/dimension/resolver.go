package dimension

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/nodequeue/pkg/types"
)

// ErrNoCombination is returned when a raw row cannot be mapped to a legal combination
var ErrNoCombination = errors.New("no dimension combination matches")

// DefaultCacheSize bounds the number of cached CombinationsForIndexing results
const DefaultCacheSize = 256

// Preset is one selectable value list of an axis. Values[0] is the target value,
// the rest are fallbacks.
type Preset struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

// Axis is a named dimension with its presets
type Axis struct {
	Name    string   `yaml:"name"`
	Presets []Preset `yaml:"presets"`
}

// Resolver enumerates the dimension combinations known to the content repository
type Resolver struct {
	primary      string
	axes         []Axis
	combinations []types.DimensionValues
	cache        *lru.Cache[string, []types.DimensionValues]
}

// NewResolver builds the full set of allowed combinations from the axes.
// primary names the axis used to map raw rows (usually "language").
func NewResolver(primary string, axes []Axis) (*Resolver, error) {
	seen := make(map[string]bool, len(axes))
	for _, axis := range axes {
		if axis.Name == "" {
			return nil, fmt.Errorf("dimension axis without name")
		}
		if seen[axis.Name] {
			return nil, fmt.Errorf("duplicate dimension axis %q", axis.Name)
		}
		seen[axis.Name] = true
		if len(axis.Presets) == 0 {
			return nil, fmt.Errorf("dimension axis %q has no presets", axis.Name)
		}
		for _, preset := range axis.Presets {
			if len(preset.Values) == 0 {
				return nil, fmt.Errorf("preset %q of axis %q has no values", preset.Name, axis.Name)
			}
		}
	}
	if len(axes) > 0 && !seen[primary] {
		return nil, fmt.Errorf("primary dimension %q is not configured", primary)
	}

	cache, err := lru.New[string, []types.DimensionValues](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create combination cache: %w", err)
	}

	return &Resolver{
		primary:      primary,
		axes:         axes,
		combinations: cartesian(axes),
		cache:        cache,
	}, nil
}

// Primary returns the name of the primary dimension
func (r *Resolver) Primary() string {
	return r.primary
}

// AllowedCombinations returns every legal combination in preset order
func (r *Resolver) AllowedCombinations() []types.DimensionValues {
	return cloneAll(r.combinations)
}

// CombinationsForIndexing returns the combinations under which a node with the
// given dimension values is reachable, either as itself or as a fallback.
// A combination qualifies when, on every axis, the node's target value is one of
// the combination's values.
func (r *Resolver) CombinationsForIndexing(dims types.DimensionValues) []types.DimensionValues {
	if len(r.axes) == 0 {
		return []types.DimensionValues{}
	}

	key := dims.Hash()
	if cached, ok := r.cache.Get(key); ok {
		return cloneAll(cached)
	}

	matches := make([]types.DimensionValues, 0)
	for _, combination := range r.combinations {
		if reachable(combination, dims) {
			matches = append(matches, combination)
		}
	}
	r.cache.Add(key, matches)
	return cloneAll(matches)
}

// MapRow maps the dimension values of a raw changed row to the legal combination
// whose primary value equals the row's primary value. When several combinations
// share it, the one that also agrees on the other axes wins, else the first.
func (r *Resolver) MapRow(raw types.DimensionValues) (types.DimensionValues, error) {
	if len(r.axes) == 0 {
		return types.DimensionValues{}, nil
	}

	want := raw.Primary(r.primary)
	if want == "" {
		return nil, fmt.Errorf("%w: row has no %s value", ErrNoCombination, r.primary)
	}

	var first types.DimensionValues
	for _, combination := range r.combinations {
		if combination.Primary(r.primary) != want {
			continue
		}
		if first == nil {
			first = combination
		}
		if sameTargets(combination, raw) {
			return combination.Clone(), nil
		}
	}
	if first == nil {
		return nil, fmt.Errorf("%w: %s=%s", ErrNoCombination, r.primary, want)
	}
	return first.Clone(), nil
}

func reachable(combination, dims types.DimensionValues) bool {
	for name, values := range combination {
		target := dims.Primary(name)
		if target == "" || !contains(values, target) {
			return false
		}
	}
	return true
}

func sameTargets(combination, raw types.DimensionValues) bool {
	for name := range combination {
		if combination.Primary(name) != raw.Primary(name) {
			return false
		}
	}
	return true
}

// cartesian expands the axes into every preset combination, first axis varying slowest
func cartesian(axes []Axis) []types.DimensionValues {
	if len(axes) == 0 {
		return []types.DimensionValues{}
	}
	result := []types.DimensionValues{{}}
	for _, axis := range axes {
		next := make([]types.DimensionValues, 0, len(result)*len(axis.Presets))
		for _, partial := range result {
			for _, preset := range axis.Presets {
				combination := partial.Clone()
				combination[axis.Name] = append([]string(nil), preset.Values...)
				next = append(next, combination)
			}
		}
		result = next
	}
	return result
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func cloneAll(in []types.DimensionValues) []types.DimensionValues {
	out := make([]types.DimensionValues, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}
