// Package render compiles step control values into channel content.
package render

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/template"
)

var (
	// ErrContentSyntax means a control value could not be compiled or referenced an unknown variable.
	ErrContentSyntax = errors.New("message content could not be compiled")
	// ErrContentNotGenerated means compilation succeeded but produced nothing to send.
	ErrContentNotGenerated = errors.New("message content was not generated")
	ErrUnsupportedChannel  = errors.New("unsupported channel")
)

const (
	controlSkip                = "skip"
	controlDisableSanitization = "disableOutputSanitization"
)

// Internal holds the control values the renderer consumes itself.
type Internal struct {
	Skip                      any
	DisableOutputSanitization bool
}

// SplitControls removes the renderer internal keys from a copy of the controls.
func SplitControls(controls map[string]any) (map[string]any, Internal) {
	values := make(map[string]any, len(controls))
	maps.Copy(values, controls)

	var internal Internal

	if skip, ok := values[controlSkip]; ok {
		internal.Skip = skip
		delete(values, controlSkip)
	}

	if disable, ok := values[controlDisableSanitization]; ok {
		internal.DisableOutputSanitization, _ = disable.(bool)
		delete(values, controlDisableSanitization)
	}

	return values, internal
}

// Context is what templates can reference.
type Context struct {
	Subscriber map[string]any
	Payload    map[string]any
	Tenant     map[string]any
	Actor      map[string]any
	// Steps holds the outputs of earlier steps keyed by step id.
	Steps map[string]any
	// Step holds the digest outputs of the step being rendered, when any.
	Step map[string]any
}

func (c Context) Bindings() map[string]any {
	return map[string]any{
		"subscriber": orEmpty(c.Subscriber),
		"payload":    orEmpty(c.Payload),
		"tenant":     orEmpty(c.Tenant),
		"actor":      orEmpty(c.Actor),
		"steps":      orEmpty(c.Steps),
		"step":       orEmpty(c.Step),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

// Output is the rendered content of one channel.
type Output interface {
	Channel() models.StepType
	// Content returns the output as stored on the message record.
	Content() map[string]any
}

// Renderer compiles control values that no longer carry the internal keys.
type Renderer interface {
	Render(controls map[string]any, internal Internal, ctx Context) (Output, error)
}

// Registry dispatches rendering to the renderer of each channel.
type Registry struct {
	renderers map[models.StepType]Renderer
}

// NewRegistry registers the built in renderers of every channel.
func NewRegistry(engine *template.Engine) *Registry {
	return &Registry{
		renderers: map[models.StepType]Renderer{
			models.StepTypeEmail: &EmailRenderer{engine: engine},
			models.StepTypeSMS:   &SMSRenderer{engine: engine},
			models.StepTypeChat:  &ChatRenderer{engine: engine},
			models.StepTypePush:  &PushRenderer{engine: engine},
			models.StepTypeInApp: &InAppRenderer{engine: engine, policy: bluemonday.UGCPolicy()},
		},
	}
}

func (r *Registry) Register(channel models.StepType, renderer Renderer) {
	r.renderers[channel] = renderer
}

// Render strips the internal keys and renders controls for the channel.
func (r *Registry) Render(channel models.StepType, controls map[string]any, ctx Context) (Output, error) {
	renderer, ok := r.renderers[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, channel)
	}

	values, internal := SplitControls(controls)

	return renderer.Render(values, internal, ctx)
}

// field renders one string control. Missing and non-string controls render as empty.
func field(engine *template.Engine, controls map[string]any, key string, bindings map[string]any) (string, error) {
	raw, ok := controls[key].(string)
	if !ok || raw == "" {
		return "", nil
	}

	out, err := engine.Render(raw, bindings)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrContentSyntax, key, err)
	}

	return out, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
