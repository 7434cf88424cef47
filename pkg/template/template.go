// Package template compiles liquid templates used in step controls.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

var (
	ErrParse  = errors.New("template parse error")
	ErrRender = errors.New("template render error")
)

// Engine renders liquid templates. Strict engines fail on undefined variables.
type Engine struct {
	liquid *liquid.Engine

	mu    sync.RWMutex
	cache map[string]*liquid.Template
}

type Option func(*liquid.Engine)

// Strict makes references to undefined variables a render error.
func Strict() Option {
	return func(e *liquid.Engine) {
		e.StrictVariables()
	}
}

func NewEngine(opts ...Option) *Engine {
	engine := liquid.NewEngine()
	engine.RegisterFilter("json", func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}

		return string(data)
	})
	engine.RegisterFilter("pluralize", func(count any, singular, plural string) string {
		if n, ok := count.(int); ok && n == 1 {
			return singular
		}

		if f, ok := count.(float64); ok && f == 1 {
			return singular
		}

		return plural
	})

	for _, opt := range opts {
		opt(engine)
	}

	return &Engine{liquid: engine, cache: make(map[string]*liquid.Template)}
}

// NeedsTemplating reports whether s contains liquid markup.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// Render renders src against data. Parsed templates are cached by source.
func (e *Engine) Render(src string, data map[string]any) (string, error) {
	if !NeedsTemplating(src) {
		return src, nil
	}

	tpl, err := e.parse(src)
	if err != nil {
		return "", err
	}

	out, renderErr := tpl.RenderString(data)
	if renderErr != nil {
		return "", fmt.Errorf("%w: %s", ErrRender, renderErr.Error())
	}

	return out, nil
}

// RenderValue renders every string found in v, walking maps and slices.
func (e *Engine) RenderValue(v any, data map[string]any) (any, error) {
	switch value := v.(type) {
	case string:
		return e.Render(value, data)
	case map[string]any:
		out := make(map[string]any, len(value))

		for key, item := range value {
			rendered, err := e.RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(value))

		for i, item := range value {
			rendered, err := e.RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}

// Validate parses src without rendering it.
func (e *Engine) Validate(src string) error {
	if !NeedsTemplating(src) {
		return nil
	}

	_, err := e.parse(src)

	return err
}

func (e *Engine) parse(src string) (*liquid.Template, error) {
	e.mu.RLock()
	tpl, ok := e.cache[src]
	e.mu.RUnlock()

	if ok {
		return tpl, nil
	}

	tpl, parseErr := e.liquid.ParseString(src)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, parseErr.Error())
	}

	e.mu.Lock()
	e.cache[src] = tpl
	e.mu.Unlock()

	return tpl, nil
}
