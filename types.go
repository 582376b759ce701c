package statesync

import (
	"time"
)

const (
	// RootKey addresses the whole tree in global mode.
	RootKey = "@@STATE"
	// DefaultVersionKey is the field migrations read the stored version from.
	DefaultVersionKey = "version"
)

// Tree maps slice names to slice values.
type Tree map[string]any

// Container is the live state container boundary.
type Container interface {
	// Snapshot returns the container's current (default) tree.
	Snapshot() Tree
	// Seed replaces the initial state. It is called exactly once, before the
	// container accepts updates.
	Seed(Tree) error
	// Subscribe registers fn for every subsequent state change and returns a
	// function that removes it.
	Subscribe(fn func(Tree)) (unsubscribe func())
}

// Phase reports where a Controller is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseMigrating
	PhaseMerging
	PhaseReady
	PhaseSaving
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseMigrating:
		return "migrating"
	case PhaseMerging:
		return "merging"
	case PhaseReady:
		return "ready"
	case PhaseSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// RuleContext carries inputs needed when evaluating a migration expression.
type RuleContext struct {
	State any
	Now   *time.Time
	Args  map[string]any
	// Unit is the storage unit being migrated; used for error and log context.
	Unit string
}

func (ctx RuleContext) withDefaultNow() RuleContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx RuleContext) withDefaultMaps() RuleContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) withDefaults() RuleContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx RuleContext) unitLabel() string {
	if ctx.Unit != "" {
		return ctx.Unit
	}
	return RootKey
}

// stateFields returns the top-level fields of the bound state when it is a
// map, so expressions can reference them by name.
func (ctx RuleContext) stateFields() map[string]any {
	switch v := ctx.State.(type) {
	case map[string]any:
		return v
	case Tree:
		return map[string]any(v)
	default:
		return nil
	}
}

// Evaluator executes migration expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct {
	variables []string
}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// WithVariables declares extra variable names an expression may reference.
// Engines with a checked environment (CEL) need them up front.
func WithVariables(names ...string) CompileOption {
	return compileOptionFunc(func(cfg *compileConfig) {
		cfg.variables = append(cfg.variables, names...)
	})
}

func applyCompileOptions(opts []CompileOption) compileConfig {
	cfg := compileConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyCompileOption(&cfg)
		}
	}
	return cfg
}
