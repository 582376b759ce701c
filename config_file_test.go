package statesync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-statesync/pkg/storage"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseConfigKeyForms(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{name: "absent", doc: `serializer: json`, want: nil},
		{name: "single", doc: `key: counter`, want: []string{"counter"}},
		{name: "list", doc: `key: [counter, todos]`, want: []string{"counter", "todos"}},
		{name: "json", doc: `{"key": ["counter"]}`, want: []string{"counter"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.doc))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, cfg.Key); diff != "" {
				t.Fatalf("keys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseConfigRejectsUnknownFields(t *testing.T) {
	_, err := ParseConfig([]byte("keys: [counter]\n"))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoadConfigFileBuildsMigratingController(t *testing.T) {
	path := writeConfig(t, "statesync.yaml", `
key: counter
slice_keys:
  counter: "app:counter"
version_key: version
migrations:
  - version: 1
    key: counter
    engine: cel
    migrate: '{"counts": count, "version": 2}'
  - version: 2
    key: counter
    migrate: '{"counts": counts + args.bonus, "version": 3}'
    args:
      bonus: 1
`)
	opts, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	mem := storage.NewMemory()
	_ = mem.Set("app:counter", []byte(`{"count":100,"version":1}`))
	ctl, err := New(append(opts, WithEngine(storage.Wrap(mem)))...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	units := ctl.LoadUnits(context.Background())
	if len(units) != 1 || units[0].Err != nil {
		t.Fatalf("unexpected units %+v", units)
	}
	if len(units[0].Migrated) != 2 {
		t.Fatalf("expected chained migrations, got %d", len(units[0].Migrated))
	}
	raw, err := JSONSerializer{}.Serialize(units[0].Value)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if string(raw) != `{"counts":101,"version":3}` {
		t.Fatalf("unexpected migrated value %s", raw)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{name: "storage kind", doc: "storage: {kind: cloud}", field: "storage.kind"},
		{name: "serializer", doc: "serializer: toml", field: "serializer"},
		{name: "engine", doc: "migrations: [{version: 1, engine: lua, migrate: x}]", field: "migrations[0].engine"},
		{name: "expression", doc: "migrations: [{version: 1, migrate: '{'}]", field: "migrations[0].migrate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFile(writeConfig(t, "bad.yaml", tt.doc))
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Fatalf("expected ConfigError on %s, got %v", tt.field, err)
			}
		})
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoadConfigFileLocalStorage(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state.db")
	opts, err := LoadConfigFile(writeConfig(t, "local.json", `{"storage": {"kind": "local", "path": "`+filepath.ToSlash(db)+`"}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctl, err := New(opts...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := ctl.Engine().(*storage.Queued); !ok {
		t.Fatalf("expected queued bolt engine, got %T", ctl.Engine())
	}
	if err := ctl.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}
