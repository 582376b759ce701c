package statesync

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-statesync/internal/dotpath"
)

// Slice binds a slice path in the tree to the storage key its record lives
// under.
type Slice struct {
	Path       string
	StorageKey string
}

type keySet struct {
	global bool
	slices []Slice
}

// StorageKeys returns the storage keys in configuration order.
func (k keySet) StorageKeys() []string {
	if k.global {
		return []string{RootKey}
	}
	out := make([]string, 0, len(k.slices))
	for _, s := range k.slices {
		out = append(out, s.StorageKey)
	}
	return out
}

// unitFor returns the slice path stored under key, "" for the global record.
func (k keySet) unitFor(key string) string {
	for _, s := range k.slices {
		if s.StorageKey == key {
			return s.Path
		}
	}
	return ""
}

func (k keySet) hasSlice(path string) bool {
	for _, s := range k.slices {
		if s.Path == path {
			return true
		}
	}
	return false
}

// resolveKeys builds the key set. No keys (or only RootKey) selects global
// mode.
func resolveKeys(keys []string, overrides map[string]string) (keySet, error) {
	if len(keys) == 0 || (len(keys) == 1 && keys[0] == RootKey) {
		if len(overrides) > 0 {
			return keySet{}, &ConfigError{Field: "key", Err: fmt.Errorf("%w: key overrides require named slices", ErrInvalidKey)}
		}
		return keySet{global: true}, nil
	}

	seenPath := make(map[string]struct{}, len(keys))
	seenKey := make(map[string]string, len(keys))
	slices := make([]Slice, 0, len(keys))
	for _, path := range keys {
		if err := validatePath(path); err != nil {
			return keySet{}, &ConfigError{Field: "key", Err: err}
		}
		if path == RootKey {
			return keySet{}, &ConfigError{Field: "key", Err: fmt.Errorf("%w: %q cannot be combined with named slices", ErrKeyCollision, RootKey)}
		}
		if _, dup := seenPath[path]; dup {
			return keySet{}, &ConfigError{Field: "key", Err: fmt.Errorf("%w: slice %q listed twice", ErrKeyCollision, path)}
		}
		seenPath[path] = struct{}{}

		storageKey := path
		if override, ok := overrides[path]; ok {
			if strings.TrimSpace(override) == "" {
				return keySet{}, &ConfigError{Field: "key", Err: fmt.Errorf("%w: empty storage key for %q", ErrInvalidKey, path)}
			}
			storageKey = override
		}
		if storageKey == RootKey {
			return keySet{}, &ConfigError{Field: "key", Err: fmt.Errorf("%w: slice %q maps to reserved key %q", ErrKeyCollision, path, RootKey)}
		}
		if other, dup := seenKey[storageKey]; dup {
			return keySet{}, &ConfigError{Field: "key", Err: fmt.Errorf("%w: slices %q and %q both use %q", ErrKeyCollision, other, path, storageKey)}
		}
		seenKey[storageKey] = path
		slices = append(slices, Slice{Path: path, StorageKey: storageKey})
	}

	for path := range overrides {
		if _, ok := seenPath[path]; !ok {
			return keySet{}, &ConfigError{Field: "key", Err: fmt.Errorf("%w: override for unconfigured slice %q", ErrInvalidKey, path)}
		}
	}
	return keySet{slices: slices}, nil
}

func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty slice name", ErrInvalidKey)
	}
	for _, segment := range dotpath.Split(path) {
		if segment == "" {
			return fmt.Errorf("%w: %q has an empty path segment", ErrInvalidKey, path)
		}
	}
	return nil
}
