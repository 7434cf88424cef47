// Package filter evaluates step filters and JSON-logic conditions against a trigger context.
package filter

import (
	"errors"
	"fmt"
	"maps"
	"sort"
)

var (
	ErrInvalidRule     = errors.New("invalid rule")
	ErrUnknownOperator = errors.New("unknown operator")
)

// Operator receives the unevaluated arguments of a rule node so it can decide which ones to
// evaluate. Eager operators call Evaluator.Args.
type Operator func(e *Evaluator, args []any, data any) (any, error)

// Result is the outcome of a safe evaluation.
type Result struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Evaluator applies JSON-logic rules using its own operator table.
type Evaluator struct {
	operators map[string]Operator
}

// NewEvaluator builds an evaluator with the standard operators, the string operators and any
// extra operators. Extra operators replace standard ones with the same name.
func NewEvaluator(extra map[string]Operator) *Evaluator {
	operators := StandardOperators()
	maps.Copy(operators, StringOperators())
	maps.Copy(operators, extra)

	return &Evaluator{operators: operators}
}

// Operators returns the names of the registered operators in sorted order.
func (e *Evaluator) Operators() []string {
	names := make([]string, 0, len(e.operators))
	for name := range e.operators {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Evaluate applies the rule and reports its truthiness. Malformed rules yield a false result
// carrying the error instead of failing.
func (e *Evaluator) Evaluate(rule, data any) Result {
	result, err := e.EvaluateStrict(rule, data)
	if err != nil {
		return Result{Result: false, Error: err.Error()}
	}

	return Result{Result: result}
}

// EvaluateStrict applies the rule and reports its truthiness, returning malformed rule errors.
// A panicking operator is reported as ErrInvalidRule.
func (e *Evaluator) EvaluateStrict(rule, data any) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = false, fmt.Errorf("%w: evaluation panicked: %v", ErrInvalidRule, r)
		}
	}()

	value, err := e.Apply(rule, data)
	if err != nil {
		return false, err
	}

	return Truthy(value), nil
}

// Apply evaluates the rule against data and returns the raw value.
func (e *Evaluator) Apply(rule, data any) (any, error) {
	switch r := rule.(type) {
	case map[string]any:
		name, args, err := e.split(r)
		if err != nil {
			return nil, err
		}

		return e.operators[name](e, args, data)
	case []any:
		out := make([]any, len(r))

		for i, item := range r {
			value, err := e.Apply(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = value
		}

		return out, nil
	default:
		return normalize(rule), nil
	}
}

// Args evaluates every argument.
func (e *Evaluator) Args(args []any, data any) ([]any, error) {
	values := make([]any, len(args))

	for i, arg := range args {
		value, err := e.Apply(arg, data)
		if err != nil {
			return nil, err
		}

		values[i] = value
	}

	return values, nil
}

// IsValidRule statically checks the shape of a rule without evaluating it.
func (e *Evaluator) IsValidRule(rule any) bool {
	return e.ValidateRule(rule) == nil
}

// ValidateRule returns why a rule is malformed. Every object must be a single known operator.
func (e *Evaluator) ValidateRule(rule any) error {
	switch r := rule.(type) {
	case map[string]any:
		_, args, err := e.split(r)
		if err != nil {
			return err
		}

		for _, arg := range args {
			err = e.ValidateRule(arg)
			if err != nil {
				return err
			}
		}

		return nil
	case []any:
		for _, item := range r {
			err := e.ValidateRule(item)
			if err != nil {
				return err
			}
		}

		return nil
	case nil, bool, string, float64, float32, int, int32, int64, uint, uint32, uint64:
		return nil
	default:
		return fmt.Errorf("%w: unsupported value of type %T", ErrInvalidRule, rule)
	}
}

func (e *Evaluator) split(node map[string]any) (string, []any, error) {
	if len(node) != 1 {
		return "", nil, fmt.Errorf("%w: an operation must have exactly one key, got %d", ErrInvalidRule, len(node))
	}

	for name, raw := range node {
		if _, ok := e.operators[name]; !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownOperator, name)
		}

		if args, ok := raw.([]any); ok {
			return name, args, nil
		}

		return name, []any{raw}, nil
	}

	return "", nil, ErrInvalidRule
}
