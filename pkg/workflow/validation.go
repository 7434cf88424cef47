package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateTriggerCommand checks the shape of a trigger before anything is looked up.
func ValidateTriggerCommand(cmd models.TriggerCommand) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidTrigger, strings.Join(messages, "; "))
}

// ValidatePayload checks the trigger payload against the workflow payload schema. Workflows
// without a schema accept any payload.
func ValidatePayload(workflow *models.Workflow, payload map[string]any) error {
	if len(workflow.PayloadSchema) == 0 {
		return nil
	}

	if payload == nil {
		payload = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(workflow.PayloadSchema)
	dataLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate payload of workflow %s: %w", workflow.Identifier, err)
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(errors, "; "))
	}

	return nil
}
