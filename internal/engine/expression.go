package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"

	"adminpanel/internal/metadata"
)

// ExpressionEvaluator evaluates workflow guards and formula properties.
type ExpressionEvaluator interface {
	EvaluateBool(expression string, env map[string]any) (bool, error)
	Evaluate(expression string, env map[string]any) (any, error)
}

// ExprLangEvaluator uses expr-lang/expr for safe expression evaluation.
// Compiled programs are cached by expression string.
type ExprLangEvaluator struct {
	mu        sync.Mutex
	boolCache map[string]*vm.Program
	cache     map[string]*vm.Program
}

func NewExprLangEvaluator() *ExprLangEvaluator {
	return &ExprLangEvaluator{
		boolCache: make(map[string]*vm.Program),
		cache:     make(map[string]*vm.Program),
	}
}

func (e *ExprLangEvaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	prog, err := e.compile(e.boolCache, expression, expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	isTrue, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return bool")
	}

	return isTrue, nil
}

func (e *ExprLangEvaluator) Evaluate(expression string, env map[string]any) (any, error) {
	prog, err := e.compile(e.cache, expression)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return result, nil
}

func (e *ExprLangEvaluator) compile(cache map[string]*vm.Program, expression string, opts ...expr.Option) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prog, ok := cache[expression]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	cache[expression] = prog
	return prog, nil
}

// formulas computes formula properties on read.
var formulas = NewExprLangEvaluator()

// computeFormula evaluates a formula property over the row's other values.
// A formula that fails or does not produce a number has no value.
func computeFormula(entity *metadata.Entity, row *Row, prop *metadata.Property) (Value, bool) {
	result, err := formulas.Evaluate(prop.Formula, RowEnv(entity, row))
	if err != nil {
		return nil, false
	}
	switch n := result.(type) {
	case int:
		return NumberValue(decimal.NewFromInt(int64(n))), true
	case int64:
		return NumberValue(decimal.NewFromInt(n)), true
	case float64:
		return NumberValue(decimal.NewFromFloat(n)), true
	case float32:
		return NumberValue(decimal.NewFromFloat32(n)), true
	}
	return nil, false
}
