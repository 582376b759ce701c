package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goliatone/go-statesync/pkg/storage/boltdb"
)

func seedDB(t *testing.T, records map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	backend, err := boltdb.Open(boltdb.Config{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for key, raw := range records {
		if err := backend.Set(key, []byte(raw)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestKeysGetAndRemove(t *testing.T) {
	path := seedDB(t, map[string]string{
		"counter": `{"count":1}`,
		"todos":   `["a"]`,
	})

	code, out, errOut := runCLI(t, "keys", "-db", path)
	if code != 0 {
		t.Fatalf("keys exited %d: %s", code, errOut)
	}
	if out != "counter\ntodos\n" {
		t.Fatalf("unexpected keys output %q", out)
	}

	code, out, _ = runCLI(t, "get", "-db", path, "counter")
	if code != 0 || strings.TrimSpace(out) != `{"count":1}` {
		t.Fatalf("get returned %d %q", code, out)
	}

	if code, _, errOut := runCLI(t, "rm", "-db", path, "counter"); code != 0 {
		t.Fatalf("rm exited %d: %s", code, errOut)
	}
	code, _, errOut = runCLI(t, "get", "-db", path, "counter")
	if code != 1 || !strings.Contains(errOut, "no record") {
		t.Fatalf("expected missing record, got %d %q", code, errOut)
	}

	if code, _, _ := runCLI(t, "clear", "-db", path); code != 0 {
		t.Fatalf("clear exited %d", code)
	}
	_, out, _ = runCLI(t, "keys", "-db", path)
	if out != "" {
		t.Fatalf("expected no keys after clear, got %q", out)
	}
}

func TestKeysRequiresDB(t *testing.T) {
	code, _, errOut := runCLI(t, "keys")
	if code != 1 || !strings.Contains(errOut, "-db is required") {
		t.Fatalf("expected -db error, got %d %q", code, errOut)
	}
}

func TestMigrateDryRunAndWrite(t *testing.T) {
	path := seedDB(t, map[string]string{"counter": `{"counts":7,"version":1}`})
	config := filepath.Join(t.TempDir(), "statesync.yaml")
	if err := os.WriteFile(config, []byte(`
key: counter
migrations:
  - version: 1
    key: counter
    migrate: '{"count": counts, "version": 2}'
`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, out, errOut := runCLI(t, "migrate", "-config", config, "-db", path)
	if code != 0 {
		t.Fatalf("migrate exited %d: %s", code, errOut)
	}
	if strings.TrimSpace(out) != "counter: migrated from 1" {
		t.Fatalf("unexpected migrate output %q", out)
	}
	_, out, _ = runCLI(t, "get", "-db", path, "counter")
	if strings.TrimSpace(out) != `{"counts":7,"version":1}` {
		t.Fatalf("dry run should not write, got %q", out)
	}

	if code, _, errOut := runCLI(t, "migrate", "-config", config, "-db", path, "-write"); code != 0 {
		t.Fatalf("migrate -write exited %d: %s", code, errOut)
	}
	_, out, _ = runCLI(t, "get", "-db", path, "counter")
	if strings.TrimSpace(out) != `{"count":7,"version":2}` {
		t.Fatalf("expected migrated record, got %q", out)
	}

	_, out, _ = runCLI(t, "migrate", "-config", config, "-db", path)
	if strings.TrimSpace(out) != "counter: up to date" {
		t.Fatalf("expected up to date, got %q", out)
	}
}

func TestMigrateRequiresConfig(t *testing.T) {
	code, _, errOut := runCLI(t, "migrate")
	if code != 1 || !strings.Contains(errOut, "-config is required") {
		t.Fatalf("expected config error, got %d %q", code, errOut)
	}
}
