// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/google/uuid"
	"github.com/novu-co/novu-sub003/pkg/models"
)

// CreateTestWorkflow creates an active workflow with one email step that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:             uuid.NewString(),
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Identifier:     "welcome",
		Name:           "Welcome",
		Active:         true,
		Steps:          []*models.Step{CreateTestStep(models.StepTypeEmail)},
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithSteps replaces the steps of the workflow.
func WithSteps(steps ...*models.Step) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Steps = steps
	}
}

// CreateTestStep creates an active step of the given type. Channel steps get minimal content and
// action steps a one minute window.
func CreateTestStep(stepType models.StepType, overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:     string(stepType) + "-" + uuid.NewString()[:8],
		Name:   string(stepType),
		Type:   stepType,
		Active: true,
	}

	switch stepType {
	case models.StepTypeEmail:
		step.Controls = map[string]any{"subject": "Hello {{subscriber.firstName}}", "body": "Welcome"}
	case models.StepTypeSMS, models.StepTypePush, models.StepTypeChat, models.StepTypeInApp:
		step.Controls = map[string]any{"body": "Hello {{subscriber.firstName}}"}
	case models.StepTypeDelay, models.StepTypeDigest, models.StepTypeThrottle:
		step.Metadata = models.StepMetadata{Amount: 1, Unit: models.TimeUnitMinutes}
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithStepID sets a fixed step id.
func WithStepID(id string) func(*models.Step) {
	return func(s *models.Step) {
		s.ID = id
	}
}

// CreateTestSubscriber creates a subscriber with an email address.
func CreateTestSubscriber(subscriberID string, overrides ...func(*models.Subscriber)) *models.Subscriber {
	subscriber := &models.Subscriber{
		ID:             uuid.NewString(),
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		SubscriberID:   subscriberID,
		FirstName:      "Ada",
		Email:          subscriberID + "@example.com",
	}

	for _, override := range overrides {
		override(subscriber)
	}

	return subscriber
}
