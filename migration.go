package statesync

import (
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-statesync/internal/dotpath"
	"github.com/goliatone/go-statesync/layering"
)

// MigrateFunc transforms a persisted value into its next version.
type MigrateFunc func(value any) (any, error)

// Migration is one forward schema step. Version is matched exactly against the
// value found at VersionKey (default "version"); a match invokes Migrate, whose
// result is expected to carry the next version.
//
// Key selects what the step applies to. Without Key it applies to the global
// record as a whole. With Key it applies to the scoped record of that slice, or
// to the sub-value at Key inside the global record; in both cases VersionKey is
// resolved inside that target.
type Migration struct {
	Version    any
	Migrate    MigrateFunc
	Key        string
	VersionKey string
}

// Migrator applies an ordered list of migrations.
type Migrator struct {
	Migrations []Migration
	VersionKey string
}

// Apply runs every matching migration for the record stored for unit ("" for
// the global record) and returns the migrated value with the migrations that
// ran. On failure it returns the original value and a *MigrationError.
func (m Migrator) Apply(unit string, value any) (any, []Migration, error) {
	current := value
	var applied []Migration
	for _, migration := range m.Migrations {
		target, ok := migration.target(unit, current)
		if !ok {
			continue
		}
		versionKey := migration.VersionKey
		if versionKey == "" {
			versionKey = m.VersionKey
		}
		if versionKey == "" {
			versionKey = DefaultVersionKey
		}
		stored, ok := dotpath.Get(target, versionKey)
		if !ok || !versionsEqual(stored, migration.Version) {
			continue
		}

		next, err := migration.run(layering.CloneValue(target))
		if err != nil {
			return value, applied, &MigrationError{Unit: unit, Version: migration.Version, Key: migration.Key, Err: err}
		}
		if unit == "" && migration.Key != "" {
			current = dotpath.Set(current, migration.Key, next)
		} else {
			current = next
		}
		applied = append(applied, migration)
	}
	return current, applied, nil
}

func (m Migration) target(unit string, value any) (any, bool) {
	switch {
	case m.Key == "":
		return value, unit == ""
	case unit == m.Key:
		return value, true
	case unit == "":
		return dotpath.Get(value, m.Key)
	default:
		return nil, false
	}
}

func (m Migration) run(value any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("migrate panicked: %v", r)
		}
	}()
	return m.Migrate(value)
}

func validateMigrations(migrations []Migration, keys keySet) error {
	for i, migration := range migrations {
		field := fmt.Sprintf("migrations[%d]", i)
		if migration.Migrate == nil {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: migrate function is required", ErrInvalidMigration)}
		}
		if !validVersion(migration.Version) {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: version must be a number or string, got %T", ErrInvalidMigration, migration.Version)}
		}
		if migration.Key != "" {
			if err := validatePath(migration.Key); err != nil {
				return &ConfigError{Field: field, Err: fmt.Errorf("%w: %v", ErrInvalidMigration, err)}
			}
			if !keys.global && !keys.hasSlice(migration.Key) {
				return &ConfigError{Field: field, Err: fmt.Errorf("%w: key %q is not a persisted slice", ErrInvalidMigration, migration.Key)}
			}
		}
		if migration.VersionKey != "" {
			if err := validatePath(migration.VersionKey); err != nil {
				return &ConfigError{Field: field, Err: fmt.Errorf("%w: version key: %v", ErrInvalidMigration, err)}
			}
		}
	}
	return nil
}

func validVersion(version any) bool {
	if _, ok := version.(string); ok {
		return true
	}
	_, ok := numericVersion(version)
	return ok
}

// versionsEqual is exact-match: numbers compare by value whatever their Go
// type (decoders disagree on int vs float64), strings compare by text, and a
// number never equals a string.
func versionsEqual(stored, want any) bool {
	if s, ok := numericVersion(stored); ok {
		w, ok := numericVersion(want)
		return ok && s == w
	}
	s, ok := stored.(string)
	if !ok {
		return false
	}
	w, ok := want.(string)
	return ok && s == w
}

func numericVersion(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
