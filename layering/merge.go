// Package layering merges persisted slices over the live state tree.
package layering

import (
	"sort"

	"github.com/goliatone/go-statesync/internal/dotpath"
	"github.com/mitchellh/copystructure"
)

// Override replaces the value at Path (a slice name or a dotted path into a
// slice) with Value.
type Override struct {
	Path  string
	Value any
}

// Merge returns a copy of live with every override applied in order. An
// override whose top-level slice does not exist in live is dropped and its
// path reported. Slices without an override are carried over as-is. The merge
// is shallow: an override replaces its target wholesale.
func Merge(live map[string]any, overrides ...Override) (map[string]any, []string) {
	out := make(map[string]any, len(live))
	for key, value := range live {
		out[key] = value
	}

	var dropped []string
	for _, override := range overrides {
		if _, ok := live[dotpath.Head(override.Path)]; !ok {
			dropped = append(dropped, override.Path)
			continue
		}
		out = dotpath.Set(out, override.Path, override.Value).(map[string]any)
	}
	return out, dropped
}

// GlobalOverrides turns a persisted whole-tree record into one override per
// top-level slice, sorted by name. It reports false when unit is not a map.
func GlobalOverrides(unit any) ([]Override, bool) {
	tree, ok := unit.(map[string]any)
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	overrides := make([]Override, 0, len(names))
	for _, name := range names {
		overrides = append(overrides, Override{Path: name, Value: tree[name]})
	}
	return overrides, true
}

// Clone deep-copies a tree.
func Clone(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	return CloneValue(tree).(map[string]any)
}

// CloneValue deep-copies value. Values copystructure cannot handle are
// returned unchanged.
func CloneValue(value any) any {
	if value == nil {
		return nil
	}
	out, err := copystructure.Copy(value)
	if err != nil {
		return value
	}
	return out
}
