package web_test

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveWorkflowRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name      string
		request   web.SaveWorkflowRequest
		errFields []string
	}{
		{
			name:    "valid request",
			request: web.SaveWorkflowRequest{Identifier: "welcome", Name: "Welcome"},
		},
		{
			name:      "missing identifier and name",
			request:   web.SaveWorkflowRequest{},
			errFields: []string{"Identifier", "Name"},
		},
		{
			name: "identifier too long",
			request: web.SaveWorkflowRequest{
				Identifier: string(make([]byte, 129)),
				Name:       "Welcome",
			},
			errFields: []string{"Identifier"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Struct(tt.request)
			if len(tt.errFields) == 0 {
				assert.NoError(t, err)

				return
			}

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))

			fields := make([]string, 0, len(validationErrors))
			for _, fieldErr := range validationErrors {
				fields = append(fields, fieldErr.Field())
			}

			assert.ElementsMatch(t, tt.errFields, fields)
		})
	}
}

func TestBulkTriggerRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	assert.Error(t, v.Struct(web.BulkTriggerRequest{}))
	assert.Error(t, v.Struct(web.BulkTriggerRequest{Events: []models.TriggerCommand{}}))
	assert.NoError(t, v.Struct(web.BulkTriggerRequest{Events: []models.TriggerCommand{{WorkflowIdentifier: "welcome"}}}))
}
