package filter

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrDivisionByZero = errors.New("division by zero")

// StandardOperators returns the JSON-logic operators.
func StandardOperators() map[string]Operator {
	return map[string]Operator{
		"var":          opVar,
		"missing":      opMissing,
		"missing_some": opMissingSome,
		"if":           opIf,
		"?:":           opIf,
		"==":           binary(func(a, b any) any { return looseEqual(a, b) }),
		"!=":           binary(func(a, b any) any { return !looseEqual(a, b) }),
		"===":          binary(func(a, b any) any { return strictEqual(a, b) }),
		"!==":          binary(func(a, b any) any { return !strictEqual(a, b) }),
		"!":            opNot,
		"!!":           opDoubleNot,
		"and":          opAnd,
		"or":           opOr,
		">":            binary(func(a, b any) any { return less(b, a, false) }),
		">=":           binary(func(a, b any) any { return less(b, a, true) }),
		"<":            between(false),
		"<=":           between(true),
		"max":          extremum(math.Max),
		"min":          extremum(math.Min),
		"+":            opAdd,
		"-":            opSubtract,
		"*":            opMultiply,
		"/":            opDivide,
		"%":            opModulo,
		"in":           opIn,
		"cat":          opCat,
		"substr":       opSubstr,
		"merge":        opMerge,
		"map":          opMap,
		"filter":       opFilter,
		"reduce":       opReduce,
		"all":          quantifier(func(matched, total int) bool { return total > 0 && matched == total }),
		"some":         quantifier(func(matched, _ int) bool { return matched > 0 }),
		"none":         quantifier(func(matched, _ int) bool { return matched == 0 }),
	}
}

// StringOperators returns startsWith, endsWith and contains. A non-string operand makes them
// false rather than an error.
func StringOperators() map[string]Operator {
	return map[string]Operator{
		"startsWith": stringPredicate(strings.HasPrefix),
		"endsWith":   stringPredicate(strings.HasSuffix),
		"contains":   stringPredicate(strings.Contains),
	}
}

func stringPredicate(fn func(s, part string) bool) Operator {
	return func(e *Evaluator, args []any, data any) (any, error) {
		values, err := e.Args(args, data)
		if err != nil {
			return nil, err
		}

		if len(values) < 2 {
			return false, nil
		}

		s, ok := values[0].(string)
		if !ok {
			return false, nil
		}

		part, ok := values[1].(string)
		if !ok {
			return false, nil
		}

		return fn(s, part), nil
	}
}

func binary(fn func(a, b any) any) Operator {
	return func(e *Evaluator, args []any, data any) (any, error) {
		values, err := e.Args(args, data)
		if err != nil {
			return nil, err
		}

		return fn(arg(values, 0), arg(values, 1)), nil
	}
}

// between handles both "a < b" and "a < b < c".
func between(orEqual bool) Operator {
	return func(e *Evaluator, args []any, data any) (any, error) {
		values, err := e.Args(args, data)
		if err != nil {
			return nil, err
		}

		if len(values) == 3 {
			return less(values[0], values[1], orEqual) && less(values[1], values[2], orEqual), nil
		}

		return less(arg(values, 0), arg(values, 1), orEqual), nil
	}
}

func arg(values []any, i int) any {
	if i < len(values) {
		return values[i]
	}

	return nil
}

func opVar(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	path := toPath(arg(values, 0))

	value, ok := lookup(data, path)
	if !ok || value == nil {
		return normalize(arg(values, 1)), nil
	}

	return normalize(value), nil
}

func toPath(v any) string {
	if v == nil {
		return ""
	}

	return toString(v)
}

func opMissing(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	if len(values) == 1 {
		if list, ok := values[0].([]any); ok {
			values = list
		}
	}

	missing := []any{}

	for _, key := range values {
		value, ok := lookup(data, toPath(key))
		if !ok || value == nil || value == "" {
			missing = append(missing, key)
		}
	}

	return missing, nil
}

func opMissingSome(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	need, ok := toNumber(arg(values, 0))
	if !ok {
		return nil, fmt.Errorf("%w: missing_some needs a number of required keys", ErrInvalidRule)
	}

	keys, ok := arg(values, 1).([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing_some needs a list of keys", ErrInvalidRule)
	}

	missing, err := opMissing(e, []any{keys}, data)
	if err != nil {
		return nil, err
	}

	if float64(len(keys)-len(missing.([]any))) >= need {
		return []any{}, nil
	}

	return missing, nil
}

// opIf evaluates only the branch it takes. Extra pairs act as else-if.
func opIf(e *Evaluator, args []any, data any) (any, error) {
	i := 0

	for ; i+1 < len(args); i += 2 {
		condition, err := e.Apply(args[i], data)
		if err != nil {
			return nil, err
		}

		if Truthy(condition) {
			return e.Apply(args[i+1], data)
		}
	}

	if i < len(args) {
		return e.Apply(args[i], data)
	}

	return nil, nil
}

func opNot(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	return !Truthy(arg(values, 0)), nil
}

func opDoubleNot(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	return Truthy(arg(values, 0)), nil
}

// opAnd returns the first falsy value or the last value.
func opAnd(e *Evaluator, args []any, data any) (any, error) {
	var value any

	for _, a := range args {
		v, err := e.Apply(a, data)
		if err != nil {
			return nil, err
		}

		value = v
		if !Truthy(value) {
			return value, nil
		}
	}

	return value, nil
}

// opOr returns the first truthy value or the last value.
func opOr(e *Evaluator, args []any, data any) (any, error) {
	var value any

	for _, a := range args {
		v, err := e.Apply(a, data)
		if err != nil {
			return nil, err
		}

		value = v
		if Truthy(value) {
			return value, nil
		}
	}

	return value, nil
}

func numbers(e *Evaluator, args []any, data any) ([]float64, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(values))

	for i, value := range values {
		n, ok := toNumber(value)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not a number", ErrInvalidRule, value)
		}

		out[i] = n
	}

	return out, nil
}

func extremum(pick func(a, b float64) float64) Operator {
	return func(e *Evaluator, args []any, data any) (any, error) {
		ns, err := numbers(e, args, data)
		if err != nil {
			return nil, err
		}

		if len(ns) == 0 {
			return nil, nil
		}

		result := ns[0]
		for _, n := range ns[1:] {
			result = pick(result, n)
		}

		return result, nil
	}
}

func opAdd(e *Evaluator, args []any, data any) (any, error) {
	ns, err := numbers(e, args, data)
	if err != nil {
		return nil, err
	}

	sum := 0.0
	for _, n := range ns {
		sum += n
	}

	return sum, nil
}

func opMultiply(e *Evaluator, args []any, data any) (any, error) {
	ns, err := numbers(e, args, data)
	if err != nil {
		return nil, err
	}

	product := 1.0
	for _, n := range ns {
		product *= n
	}

	return product, nil
}

func opSubtract(e *Evaluator, args []any, data any) (any, error) {
	ns, err := numbers(e, args, data)
	if err != nil {
		return nil, err
	}

	switch len(ns) {
	case 0:
		return nil, fmt.Errorf("%w: - needs an argument", ErrInvalidRule)
	case 1:
		return -ns[0], nil
	default:
		return ns[0] - ns[1], nil
	}
}

func opDivide(e *Evaluator, args []any, data any) (any, error) {
	ns, err := numbers(e, args, data)
	if err != nil {
		return nil, err
	}

	if len(ns) < 2 {
		return nil, fmt.Errorf("%w: / needs two arguments", ErrInvalidRule)
	}

	if ns[1] == 0 {
		return nil, ErrDivisionByZero
	}

	return ns[0] / ns[1], nil
}

func opModulo(e *Evaluator, args []any, data any) (any, error) {
	ns, err := numbers(e, args, data)
	if err != nil {
		return nil, err
	}

	if len(ns) < 2 {
		return nil, fmt.Errorf("%w: %% needs two arguments", ErrInvalidRule)
	}

	if ns[1] == 0 {
		return nil, ErrDivisionByZero
	}

	return math.Mod(ns[0], ns[1]), nil
}

// opIn checks substring membership for strings and element membership for lists.
func opIn(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	needle := arg(values, 0)

	switch haystack := arg(values, 1).(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			s = toString(needle)
		}

		return strings.Contains(haystack, s), nil
	case []any:
		for _, item := range haystack {
			if strictEqual(item, needle) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, nil
	}
}

func opCat(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, value := range values {
		if value == nil {
			continue
		}

		b.WriteString(toString(value))
	}

	return b.String(), nil
}

// opSubstr takes a rune offset and an optional length; negatives count from the end.
func opSubstr(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	runes := []rune(toString(arg(values, 0)))
	size := float64(len(runes))

	// Bounds stay in float64 until clamped so huge or non-finite operands cannot overflow int.
	start := substrOperand(arg(values, 1))
	if start < 0 {
		start = math.Max(size+start, 0)
	}

	start = math.Min(start, size)
	end := size

	if len(values) > 2 {
		length := substrOperand(values[2])
		if length < 0 {
			end = math.Max(size+length, start)
		} else {
			end = math.Min(start+length, size)
		}
	}

	from, to := int(start), int(end)

	return string(runes[from:to]), nil
}

func substrOperand(v any) float64 {
	n, _ := toNumber(v)
	if math.IsNaN(n) {
		return 0
	}

	return math.Trunc(n)
}

func opMerge(e *Evaluator, args []any, data any) (any, error) {
	values, err := e.Args(args, data)
	if err != nil {
		return nil, err
	}

	out := []any{}

	for _, value := range values {
		if list, ok := value.([]any); ok {
			out = append(out, list...)
		} else {
			out = append(out, value)
		}
	}

	return out, nil
}

// scope evaluates the first argument as the list that the remaining arguments iterate.
func scope(e *Evaluator, args []any, data any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}

	value, err := e.Apply(args[0], data)
	if err != nil {
		return nil, err
	}

	list, _ := value.([]any)

	return list, nil
}

func opMap(e *Evaluator, args []any, data any) (any, error) {
	list, err := scope(e, args, data)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(list))

	for _, item := range list {
		value, err := e.Apply(arg(args, 1), item)
		if err != nil {
			return nil, err
		}

		out = append(out, value)
	}

	return out, nil
}

func opFilter(e *Evaluator, args []any, data any) (any, error) {
	list, err := scope(e, args, data)
	if err != nil {
		return nil, err
	}

	out := []any{}

	for _, item := range list {
		keep, err := e.Apply(arg(args, 1), item)
		if err != nil {
			return nil, err
		}

		if Truthy(keep) {
			out = append(out, item)
		}
	}

	return out, nil
}

func opReduce(e *Evaluator, args []any, data any) (any, error) {
	list, err := scope(e, args, data)
	if err != nil {
		return nil, err
	}

	accumulator, err := e.Apply(arg(args, 2), data)
	if err != nil {
		return nil, err
	}

	for _, item := range list {
		accumulator, err = e.Apply(arg(args, 1), map[string]any{"current": item, "accumulator": accumulator})
		if err != nil {
			return nil, err
		}
	}

	return accumulator, nil
}

func quantifier(decide func(matched, total int) bool) Operator {
	return func(e *Evaluator, args []any, data any) (any, error) {
		list, err := scope(e, args, data)
		if err != nil {
			return nil, err
		}

		matched := 0

		for _, item := range list {
			ok, err := e.Apply(arg(args, 1), item)
			if err != nil {
				return nil, err
			}

			if Truthy(ok) {
				matched++
			}
		}

		return decide(matched, len(list)), nil
	}
}
