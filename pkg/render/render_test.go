package render

import (
	"testing"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() Context {
	return Context{
		Subscriber: map[string]any{"firstName": "Ana", "email": "ana@example.com"},
		Payload:    map[string]any{"order": map[string]any{"id": "A-1"}},
		Step:       map[string]any{"eventCount": 3},
	}
}

func TestSplitControls(t *testing.T) {
	controls := map[string]any{
		"body":                      "hi",
		"skip":                      map[string]any{"==": []any{1, 1}},
		"disableOutputSanitization": true,
	}

	values, internal := SplitControls(controls)
	assert.Equal(t, map[string]any{"body": "hi"}, values)
	assert.NotNil(t, internal.Skip)
	assert.True(t, internal.DisableOutputSanitization)
	assert.Len(t, controls, 3)
}

func TestRegistry_Render(t *testing.T) {
	r := NewRegistry(template.NewEngine(template.Strict()))

	tests := []struct {
		name     string
		channel  models.StepType
		controls map[string]any
		expected map[string]any
	}{
		{
			name:     "email",
			channel:  models.StepTypeEmail,
			controls: map[string]any{"subject": "Order {{ payload.order.id }}", "body": "Hi {{ subscriber.firstName }}", "skip": false},
			expected: map[string]any{"subject": "Order A-1", "body": "Hi Ana", "preheader": ""},
		},
		{
			name:     "sms",
			channel:  models.StepTypeSMS,
			controls: map[string]any{"body": "{{ step.eventCount }} new events"},
			expected: map[string]any{"body": "3 new events"},
		},
		{
			name:     "chat",
			channel:  models.StepTypeChat,
			controls: map[string]any{"body": "Hello {{ subscriber.firstName }}"},
			expected: map[string]any{"body": "Hello Ana"},
		},
		{
			name:     "push",
			channel:  models.StepTypePush,
			controls: map[string]any{"subject": "New", "body": "Order {{ payload.order.id }}", "data": map[string]any{"order": "{{ payload.order.id }}"}},
			expected: map[string]any{"subject": "New", "body": "Order A-1", "data": map[string]any{"order": "A-1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render(tt.channel, tt.controls, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.channel, out.Channel())
			assert.Equal(t, tt.expected, out.Content())
		})
	}
}

func TestRegistry_InAppSanitization(t *testing.T) {
	r := NewRegistry(template.NewEngine())

	controls := map[string]any{
		"subject": "<b>Hi</b>",
		"body":    `<p>Hello {{ subscriber.firstName }}</p><script>alert(1)</script>`,
		"avatar":  "https://example.com/a.png",
		"redirect": map[string]any{
			"url":    "/orders/{{ payload.order.id }}",
			"target": "_blank",
		},
		"primaryAction": map[string]any{"label": "Open", "redirect": map[string]any{"url": "/open"}},
	}

	out, err := r.Render(models.StepTypeInApp, controls, testContext())
	require.NoError(t, err)

	inApp := out.(InAppOutput)
	assert.Equal(t, "<p>Hello Ana</p>", inApp.Body)
	assert.Equal(t, "<b>Hi</b>", inApp.Subject)
	assert.Equal(t, "/orders/A-1", inApp.Redirect.URL)
	assert.Equal(t, "Open", inApp.PrimaryAction.Label)
	assert.Nil(t, inApp.SecondaryAction)

	controls["disableOutputSanitization"] = true
	out, err = r.Render(models.StepTypeInApp, controls, testContext())
	require.NoError(t, err)
	assert.Contains(t, out.(InAppOutput).Body, "<script>")
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry(template.NewEngine(template.Strict()))

	_, err := r.Render(models.StepTypeSMS, map[string]any{"body": "{% if %}"}, testContext())
	assert.ErrorIs(t, err, ErrContentSyntax)

	_, err = r.Render(models.StepTypeSMS, map[string]any{"body": "{{ unknown }}"}, testContext())
	assert.ErrorIs(t, err, ErrContentSyntax)

	_, err = r.Render(models.StepTypeSMS, map[string]any{"body": "   "}, testContext())
	assert.ErrorIs(t, err, ErrContentNotGenerated)
	assert.NotErrorIs(t, err, ErrContentSyntax)

	_, err = r.Render(models.StepTypeEmail, map[string]any{}, testContext())
	assert.ErrorIs(t, err, ErrContentNotGenerated)

	_, err = r.Render(models.StepTypeDelay, map[string]any{}, testContext())
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}
