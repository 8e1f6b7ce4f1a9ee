// Package expression evaluates the boolean expressions used by workflow
// condition steps and step gates. Expressions are written in expr-lang
// over a context of {inputs, steps, env}, with input values also hoisted
// to the top level.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and evaluates boolean expressions, caching compiled
// programs by source. It is safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate runs a boolean expression against the given context.
// An empty expression evaluates to true, so optional gates can be left
// unset in definitions.
func (e *Evaluator) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, fmt.Errorf("compiling expression %q: %w", expression, err)
	}

	env := make(map[string]interface{}, len(ctx)+len(helperFunctions))
	for k, v := range ctx {
		env[k] = v
	}
	for name, fn := range helperFunctions {
		env[name] = fn
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluating expression %q: %w", expression, err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not produce a boolean (got %T)", expression, result)
	}
	return b, nil
}

// Validate checks that an expression compiles without evaluating it.
func (e *Evaluator) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	// AllowUndefinedVariables keeps references to not-yet-run steps from
	// failing compilation; they resolve to nil at runtime.
	program, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()
	return program, nil
}
