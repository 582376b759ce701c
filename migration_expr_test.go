package statesync

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func storedJSON(t *testing.T, value any) string {
	t.Helper()
	raw, err := JSONSerializer{}.Serialize(value)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return string(raw)
}

func TestExpressionMigrationsScopedRecord(t *testing.T) {
	tests := []struct {
		name  string
		build func(version any, key, expression string, opts ...MigrationExprOption) (Migration, error)
	}{
		{name: "expr", build: ExprMigration},
		{name: "cel", build: CELMigration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			migration, err := tt.build(1, "counter", `{"counts": count, "version": 2}`)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			migrator := Migrator{Migrations: []Migration{migration}}

			got, applied, err := migrator.Apply("counter", map[string]any{"count": 100.0, "version": 1.0})
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if len(applied) != 1 {
				t.Fatalf("expected migration applied, got %d", len(applied))
			}
			if got := storedJSON(t, got); got != `{"counts":100,"version":2}` {
				t.Fatalf("unexpected migrated record %s", got)
			}
		})
	}
}

func TestExpressionMigrationStateBinding(t *testing.T) {
	migrate, err := CompileMigration(NewExprEvaluator(), `{"total": state.count + args.bonus, "version": 3}`,
		WithMigrationArgs(map[string]any{"bonus": 5}))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := migrate(map[string]any{"count": 10, "version": 2})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got := storedJSON(t, got); got != `{"total":15,"version":3}` {
		t.Fatalf("unexpected result %s", got)
	}
}

func TestExpressionMigrationClockAndLogger(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var events []EvaluatorLogEvent
	migrate, err := CompileMigration(NewExprEvaluator(), `now.Year()`,
		WithMigrationClock(func() time.Time { return fixed }),
		WithMigrationUnit("counter"),
		WithMigrationLogger(EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
			events = append(events, event)
		})),
	)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := migrate(map[string]any{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got != 2024 {
		t.Fatalf("expected 2024, got %v", got)
	}
	if len(events) != 1 || events[0].Engine != "expr" || events[0].Unit != "counter" || events[0].Err != nil {
		t.Fatalf("unexpected log events %+v", events)
	}
}

func TestExpressionMigrationFunctions(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("double", func(args ...any) (any, error) {
		n, _ := numericVersion(args[0])
		return n * 2, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, engine := range []string{"expr", "cel"} {
		t.Run(engine, func(t *testing.T) {
			evaluator, err := EvaluatorByName(engine, registry, NewProgramCache())
			if err != nil {
				t.Fatalf("evaluator: %v", err)
			}
			migrate, err := CompileMigration(evaluator, `{"count": call("double", count), "version": 2}`)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := migrate(map[string]any{"count": 21.0, "version": 1.0})
			if err != nil {
				t.Fatalf("migrate: %v", err)
			}
			if got := storedJSON(t, got); got != `{"count":42,"version":2}` {
				t.Fatalf("unexpected result %s", got)
			}
		})
	}
}

func TestExpressionMigrationFailureBecomesMigrationError(t *testing.T) {
	registry := NewFunctionRegistry()
	boom := errors.New("boom")
	_ = registry.Register("fail", func(...any) (any, error) { return nil, boom })

	migrate, err := CompileMigration(NewExprEvaluator(ExprWithFunctionRegistry(registry)), `call("fail")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	migrator := Migrator{Migrations: []Migration{{Version: 1, Key: "counter", Migrate: migrate}}}
	original := map[string]any{"count": 1.0, "version": 1.0}

	got, _, err := migrator.Apply("counter", original)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected MigrationError, got %v", err)
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Engine != "expr" {
		t.Fatalf("expected wrapped EvaluationError, got %v", err)
	}
	if storedJSON(t, got) != storedJSON(t, original) {
		t.Fatalf("expected pre-migration value returned, got %v", got)
	}
}

func TestCompileMigrationErrors(t *testing.T) {
	if _, err := CompileMigration(nil, "1"); !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected ErrNoEvaluator, got %v", err)
	}
	if _, err := CompileMigration(NewExprEvaluator(), "  "); err == nil {
		t.Fatalf("expected empty expression error")
	}

	for _, engine := range []string{"expr", "cel"} {
		evaluator, err := EvaluatorByName(engine, nil, nil)
		if err != nil {
			t.Fatalf("evaluator %s: %v", engine, err)
		}
		_, err = CompileMigration(evaluator, `{"counts": `)
		var evalErr *EvaluationError
		if !errors.As(err, &evalErr) {
			t.Fatalf("%s: expected EvaluationError, got %v", engine, err)
		}
		if evalErr.Engine != engine {
			t.Fatalf("%s: unexpected engine %q", engine, evalErr.Engine)
		}
	}
}

func TestCELUndeclaredIdentifierFailsAtEvaluation(t *testing.T) {
	migrate, err := CompileMigration(NewCELEvaluator(), `missing + 1`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := migrate(map[string]any{"count": 1.0}); err == nil {
		t.Fatalf("expected undeclared reference error")
	}

	migrate, err = CompileMigration(NewCELEvaluator(), `has(state.count) ? state.count : 0.0`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := migrate(map[string]any{"count": 3.0})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got != 3.0 {
		t.Fatalf("expected 3, got %v", got)
	}
}

type countingCache struct {
	ProgramCache
	sets atomic.Int32
}

func (c *countingCache) Set(key string, value any) {
	c.sets.Add(1)
	c.ProgramCache.Set(key, value)
}

func TestProgramCacheReusesCompiledPrograms(t *testing.T) {
	cache := &countingCache{ProgramCache: NewProgramCache()}
	evaluator := NewCELEvaluator(CELWithProgramCache(cache))
	for i := 0; i < 3; i++ {
		if _, err := evaluator.Evaluate(RuleContext{State: map[string]any{"count": 1.0}}, "count + 1.0"); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if got := cache.sets.Load(); got != 1 {
		t.Fatalf("expected one compiled program, got %d", got)
	}

	if _, err := evaluator.Evaluate(RuleContext{State: map[string]any{"count": 1.0, "extra": 2.0}}, "count + 1.0"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := cache.sets.Load(); got != 2 {
		t.Fatalf("expected recompilation for a different variable set, got %d", got)
	}
}

func TestEvaluatorByName(t *testing.T) {
	if _, err := EvaluatorByName("lua", nil, nil); err == nil {
		t.Fatalf("expected unknown engine error")
	}
	_, err := EvaluatorByName("js", nil, nil)
	if JSEvaluatorAvailable() {
		if err != nil {
			t.Fatalf("js: %v", err)
		}
	} else if !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected ErrNoEvaluator without js_eval, got %v", err)
	}
}

func TestFunctionRegistryRejectsDuplicates(t *testing.T) {
	registry := NewFunctionRegistry()
	fn := func(...any) (any, error) { return nil, nil }
	if err := registry.Register("Double", fn); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("double", fn); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, err := registry.Call("missing"); err == nil {
		t.Fatalf("expected missing function error")
	}
}
