package statesync

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

var celIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var celReserved = map[string]bool{"state": true, "now": true, "args": true, "call": true}

const celMaxCallArgs = 4

var structValueType = reflect.TypeOf(&structpb.Value{})

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. CEL checks
// identifiers, so the program is compiled against the variables bound for
// each evaluation and cached per expression and variable set.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	if expression == "" {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("expression must not be empty"))
	}
	return e.eval(ctx, expression, nil)
}

// Compile parses expression up front so syntax errors surface before any
// record is migrated.
func (e *celEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("expression must not be empty"))
	}
	cfg := applyCompileOptions(opts)
	env, err := e.buildEnv(celVariables(nil, cfg.variables))
	if err != nil {
		return nil, wrapEvaluationError("cel", expression, "", err)
	}
	if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError("cel", expression, "", issues.Err())
	}
	return &celCompiledRule{
		evaluator:  e,
		expression: expression,
		variables:  cfg.variables,
	}, nil
}

func (e *celEvaluator) eval(ctx RuleContext, expression string, extra []string) (any, error) {
	ctx = ctx.withDefaults()
	fields := ctx.stateFields()
	variables := celVariables(fields, extra)
	program, err := e.loadOrCompile(expression, variables)
	if err != nil {
		return nil, err
	}
	out, _, err := program.program.Eval(e.activation(ctx, fields, variables))
	if err != nil {
		return nil, wrapEvaluationError("cel", expression, ctx.unitLabel(), err)
	}
	return celNative(out), nil
}

func (e *celEvaluator) loadOrCompile(expression string, variables []string) (*celProgram, error) {
	key := "cel:" + strings.Join(variables, ",") + ":" + expression
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv(variables)
	if err != nil {
		return nil, wrapEvaluationError("cel", expression, "", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError("cel", expression, "", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, wrapEvaluationError("cel", expression, "", err)
	}

	bundle := &celProgram{
		env:     env,
		program: prg,
	}
	if e.cache != nil {
		e.cache.Set(key, bundle)
	}
	return bundle, nil
}

func (e *celEvaluator) buildEnv(variables []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("state", celgo.DynType),
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.MapType(celgo.StringType, celgo.DynType)),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call", e.callOverloads()...))
	}
	for _, name := range variables {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) activation(ctx RuleContext, fields map[string]any, variables []string) map[string]any {
	activation := map[string]any{
		"state": ctx.State,
		"now":   ctx.timestamp(),
		"args":  ctx.Args,
	}
	for _, name := range variables {
		activation[name] = fields[name]
	}
	return activation
}

type celCompiledRule struct {
	evaluator  *celEvaluator
	expression string
	variables  []string
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("compiled rule missing evaluator"))
	}
	return r.evaluator.eval(ctx, r.expression, r.variables)
}

// celVariables returns the sorted, de-duplicated names bindable as CEL
// variables: state fields that are valid identifiers plus declared extras.
func celVariables(fields map[string]any, extra []string) []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if seen[name] || celReserved[name] || !celIdentifier.MatchString(name) {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for name := range fields {
		add(name)
	}
	for _, name := range extra {
		add(name)
	}
	sort.Strings(names)
	return names
}

// celNative converts a CEL value into plain Go maps, slices and scalars.
// Numbers come back as float64.
func celNative(val ref.Val) any {
	if val == nil || val == types.NullValue {
		return nil
	}
	native, err := val.ConvertToNative(structValueType)
	if err != nil {
		return val.Value()
	}
	pb, ok := native.(*structpb.Value)
	if !ok {
		return val.Value()
	}
	return pb.AsInterface()
}

// callOverloads declares call(name, ...) for up to celMaxCallArgs arguments;
// CEL has no variadic functions.
func (e *celEvaluator) callOverloads() []celgo.FunctionOpt {
	binding := celgo.FunctionBinding(e.callBinding())
	overloads := make([]celgo.FunctionOpt, 0, celMaxCallArgs+1)
	params := []*celgo.Type{celgo.StringType}
	for arity := 0; arity <= celMaxCallArgs; arity++ {
		overloads = append(overloads, celgo.Overload(
			fmt.Sprintf("call_dyn_%d", arity),
			append([]*celgo.Type(nil), params...),
			celgo.DynType,
			binding,
		))
		params = append(params, celgo.DynType)
	}
	return overloads
}

func (e *celEvaluator) callBinding() func(...ref.Val) ref.Val {
	return func(values ...ref.Val) ref.Val {
		if e.registry == nil {
			return types.NewErr("statesync: function registry not configured")
		}
		if len(values) == 0 {
			return types.NewErr("statesync: call requires function name")
		}
		name, ok := values[0].Value().(string)
		if !ok {
			return types.NewErr("statesync: call name must be string")
		}
		args := make([]any, 0, len(values)-1)
		for _, val := range values[1:] {
			args = append(args, celNative(val))
		}
		result, err := e.registry.Call(name, args...)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		if result == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
}
