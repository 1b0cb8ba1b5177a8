package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Variable names exposed to rule expressions. Each one is bound to a
// string-keyed map built from the decision's merged view.
const (
	VarEvent          = "event"
	VarPayload        = "payload"
	VarMetadata       = "metadata"
	VarClassification = "classification"
	VarContext        = "context"
)

var variables = []string{VarEvent, VarPayload, VarMetadata, VarClassification, VarContext}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	opts := make([]cel.EnvOption, 0, len(variables))
	for _, name := range variables {
		opts = append(opts, cel.Variable(name, cel.MapType(cel.StringType, cel.DynType)))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Program is a compiled boolean expression, safe for concurrent use.
type Program struct {
	expression string
	program    cel.Program
}

func (p *Program) Expression() string {
	return p.expression
}

// Eval runs the program against vars. Missing variables are bound to
// empty maps so expressions using has() stay well defined.
func (p *Program) Eval(ctx context.Context, vars map[string]interface{}) (bool, error) {
	activation := make(map[string]interface{}, len(variables))
	for _, name := range variables {
		if v, ok := vars[name]; ok && v != nil {
			activation[name] = v
			continue
		}
		activation[name] = map[string]interface{}{}
	}

	result, _, err := p.program.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// CompileFilter compiles a boolean filter expression once so rules can be
// evaluated without re-parsing.
func (e *Evaluator) CompileFilter(expression string) (*Program, error) {
	ast, err := e.compileBool(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Program{expression: expression, program: program}, nil
}

func (e *Evaluator) compileBool(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}
