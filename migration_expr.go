package statesync

import (
	"fmt"
	"strings"
	"time"
)

// MigrationExprOption configures an expression-backed migration.
type MigrationExprOption func(*migrationExprConfig)

type migrationExprConfig struct {
	args      map[string]any
	clock     func() time.Time
	logger    EvaluatorLogger
	unit      string
	variables []string
}

// WithMigrationArgs binds args for the expression.
func WithMigrationArgs(args map[string]any) MigrationExprOption {
	return func(cfg *migrationExprConfig) {
		cfg.args = args
	}
}

// WithMigrationClock overrides the value bound to now.
func WithMigrationClock(clock func() time.Time) MigrationExprOption {
	return func(cfg *migrationExprConfig) {
		cfg.clock = clock
	}
}

// WithMigrationLogger receives one event per evaluation.
func WithMigrationLogger(logger EvaluatorLogger) MigrationExprOption {
	return func(cfg *migrationExprConfig) {
		cfg.logger = logger
	}
}

// WithMigrationUnit labels evaluation errors and log events.
func WithMigrationUnit(unit string) MigrationExprOption {
	return func(cfg *migrationExprConfig) {
		cfg.unit = unit
	}
}

// WithMigrationVariables declares extra names for engines that check
// identifiers at compile time.
func WithMigrationVariables(names ...string) MigrationExprOption {
	return func(cfg *migrationExprConfig) {
		cfg.variables = append(cfg.variables, names...)
	}
}

// CompileMigration turns an expression into a MigrateFunc. The expression sees
// the migration target as state and, when it is a map, each of its top-level
// fields by name. Its result is the migrated value.
func CompileMigration(evaluator Evaluator, expression string, opts ...MigrationExprOption) (MigrateFunc, error) {
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, wrapEvaluatorError(evaluatorEngineName(evaluator), fmt.Errorf("expression must not be empty"))
	}
	cfg := migrationExprConfig{logger: noopEvaluatorLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = noopEvaluatorLogger{}
	}

	engine := evaluatorEngineName(evaluator)
	var compileOpts []CompileOption
	if len(cfg.variables) > 0 {
		compileOpts = append(compileOpts, WithVariables(cfg.variables...))
	}
	rule, err := evaluator.Compile(expression, compileOpts...)
	if err != nil {
		return nil, wrapEvaluationError(engine, expression, cfg.unit, err)
	}

	return func(value any) (any, error) {
		ctx := RuleContext{State: value, Args: cfg.args, Unit: cfg.unit}
		if cfg.clock != nil {
			now := cfg.clock()
			ctx.Now = &now
		}
		start := time.Now()
		out, evalErr := rule.Evaluate(ctx)
		evalErr = wrapEvaluationError(engine, expression, ctx.unitLabel(), evalErr)
		cfg.logger.LogEvaluation(EvaluatorLogEvent{
			Engine:   engine,
			Expr:     expression,
			Unit:     ctx.unitLabel(),
			Duration: time.Since(start),
			Err:      evalErr,
		})
		if evalErr != nil {
			return nil, evalErr
		}
		return out, nil
	}, nil
}

// ExprMigration builds a Migration whose step is an expr-lang expression.
func ExprMigration(version any, key, expression string, opts ...MigrationExprOption) (Migration, error) {
	return expressionMigration(NewExprEvaluator(), version, key, expression, opts)
}

// CELMigration builds a Migration whose step is a CEL expression.
func CELMigration(version any, key, expression string, opts ...MigrationExprOption) (Migration, error) {
	return expressionMigration(NewCELEvaluator(), version, key, expression, opts)
}

func expressionMigration(evaluator Evaluator, version any, key, expression string, opts []MigrationExprOption) (Migration, error) {
	if key != "" {
		opts = append([]MigrationExprOption{WithMigrationUnit(key)}, opts...)
	}
	migrate, err := CompileMigration(evaluator, expression, opts...)
	if err != nil {
		return Migration{}, err
	}
	return Migration{Version: version, Key: key, Migrate: migrate}, nil
}

// EvaluatorByName returns the evaluator for engine: "expr" (default), "cel"
// or "js". The js engine requires the js_eval build tag.
func EvaluatorByName(engine string, registry *FunctionRegistry, cache ProgramCache) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", "expr":
		return NewExprEvaluator(ExprWithFunctionRegistry(registry), ExprWithProgramCache(cache)), nil
	case "cel":
		return NewCELEvaluator(CELWithFunctionRegistry(registry), CELWithProgramCache(cache)), nil
	case "js", "javascript":
		evaluator := NewJSEvaluator(JSWithFunctionRegistry(registry), JSWithProgramCache(cache))
		if evaluator == nil {
			return nil, fmt.Errorf("statesync: js engine: %w", ErrNoEvaluator)
		}
		return evaluator, nil
	default:
		return nil, fmt.Errorf("statesync: unknown expression engine %q", engine)
	}
}

func evaluatorEngineName(e Evaluator) string {
	switch e.(type) {
	case nil:
		return "unknown"
	case *exprEvaluator:
		return "expr"
	case *celEvaluator:
		return "cel"
	default:
		if jsEvaluatorAvailable() && fmt.Sprintf("%T", e) == "*statesync.jsEvaluator" {
			return "js"
		}
		return "custom"
	}
}
