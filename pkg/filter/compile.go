package filter

import (
	"fmt"
	"strings"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// CompileStepFilters turns step filter groups into one JSON-logic rule. Every group must pass.
// It returns nil when there is nothing to check.
func CompileStepFilters(filters []models.StepFilter) (any, error) {
	groups := make([]any, 0, len(filters))

	for i, group := range filters {
		if len(group.Children) == 0 {
			continue
		}

		parts := make([]any, 0, len(group.Children))

		for j, part := range group.Children {
			rule, err := compilePart(part)
			if err != nil {
				return nil, fmt.Errorf("filter %d condition %d: %w", i, j, err)
			}

			parts = append(parts, rule)
		}

		joiner := "and"
		if group.Value == models.FilterGroupOr {
			joiner = "or"
		}

		var rule any = map[string]any{joiner: parts}
		if group.IsNegated {
			rule = map[string]any{"!": []any{rule}}
		}

		groups = append(groups, rule)
	}

	switch len(groups) {
	case 0:
		return nil, nil
	case 1:
		return groups[0], nil
	default:
		return map[string]any{"and": groups}, nil
	}
}

func compilePart(part models.FilterPart) (any, error) {
	path := string(part.On)
	if part.Field != "" {
		path += "." + part.Field
	}

	field := map[string]any{"var": path}

	switch part.Operator {
	case models.FilterOpEqual, "":
		return map[string]any{"==": []any{field, part.Value}}, nil
	case models.FilterOpNotEqual:
		return map[string]any{"!=": []any{field, part.Value}}, nil
	case models.FilterOpLarger:
		return map[string]any{">": []any{field, part.Value}}, nil
	case models.FilterOpSmaller:
		return map[string]any{"<": []any{field, part.Value}}, nil
	case models.FilterOpLargerEqual:
		return map[string]any{">=": []any{field, part.Value}}, nil
	case models.FilterOpSmallerEqual:
		return map[string]any{"<=": []any{field, part.Value}}, nil
	case models.FilterOpIn:
		return map[string]any{"in": []any{field, listValue(part.Value)}}, nil
	case models.FilterOpNotIn:
		return not(map[string]any{"in": []any{field, listValue(part.Value)}}), nil
	case models.FilterOpLike:
		return map[string]any{"contains": []any{field, part.Value}}, nil
	case models.FilterOpNotLike:
		return not(map[string]any{"contains": []any{field, part.Value}}), nil
	case models.FilterOpStartsWith:
		return map[string]any{"startsWith": []any{field, part.Value}}, nil
	case models.FilterOpEndsWith:
		return map[string]any{"endsWith": []any{field, part.Value}}, nil
	case models.FilterOpIsDefined:
		return not(map[string]any{"missing": []any{path}}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, part.Operator)
	}
}

func not(rule any) any {
	return map[string]any{"!": []any{rule}}
}

// listValue accepts a list or a comma separated string.
func listValue(v any) []any {
	switch value := normalize(v).(type) {
	case []any:
		return value
	case string:
		parts := strings.Split(value, ",")
		out := make([]any, 0, len(parts))

		for _, part := range parts {
			out = append(out, strings.TrimSpace(part))
		}

		return out
	case nil:
		return []any{}
	default:
		return []any{value}
	}
}

var stepFiltersSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type":     "object",
		"required": []any{"children"},
		"properties": map[string]any{
			"is_negated": map[string]any{"type": "boolean"},
			"type":       map[string]any{"type": "string"},
			"value":      map[string]any{"enum": []any{"AND", "OR", ""}},
			"children": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"on", "operator"},
					"properties": map[string]any{
						"on":          map[string]any{"enum": []any{"payload", "subscriber", "tenant", "actor", "webhook"}},
						"field":       map[string]any{"type": "string"},
						"operator":    map[string]any{"enum": operatorNames()},
						"webhook_url": map[string]any{"type": "string"},
					},
					"allOf": []any{
						map[string]any{
							"if":   map[string]any{"properties": map[string]any{"on": map[string]any{"const": "webhook"}}},
							"then": map[string]any{"required": []any{"webhook_url"}, "properties": map[string]any{"webhook_url": map[string]any{"minLength": 1}}},
						},
						map[string]any{
							"if":   map[string]any{"properties": map[string]any{"operator": map[string]any{"not": map[string]any{"const": "IS_DEFINED"}}}},
							"then": map[string]any{"required": []any{"field"}, "properties": map[string]any{"field": map[string]any{"minLength": 1}}},
						},
					},
				},
			},
		},
	},
}

func operatorNames() []any {
	return []any{
		string(models.FilterOpEqual), string(models.FilterOpNotEqual),
		string(models.FilterOpLarger), string(models.FilterOpSmaller),
		string(models.FilterOpLargerEqual), string(models.FilterOpSmallerEqual),
		string(models.FilterOpIn), string(models.FilterOpNotIn),
		string(models.FilterOpLike), string(models.FilterOpNotLike),
		string(models.FilterOpStartsWith), string(models.FilterOpEndsWith),
		string(models.FilterOpIsDefined),
	}
}

// ValidateStepFilters checks step filters against their JSON schema so a malformed filter is
// rejected when the workflow is saved.
func ValidateStepFilters(filters []models.StepFilter) error {
	if len(filters) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(stepFiltersSchema)
	dataLoader := gojsonschema.NewGoLoader(filters)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(errors, "; "))
	}

	return nil
}
