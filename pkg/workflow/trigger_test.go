package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/otelhelper"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResources struct {
	err error
}

func (s stubResources) Validate(context.Context, string, *models.Workflow) error {
	return s.err
}

func newTriggerService(f *fixture, resources ResourceValidator) *TriggerService {
	return NewTriggerService(f.p, resources, f.queue, metrics.NewNoopSink(), otelhelper.NewNoopTracer(), testLogger())
}

func command(to ...string) models.TriggerCommand {
	cmd := models.TriggerCommand{
		EnvironmentID:      "env-1",
		OrganizationID:     "org-1",
		WorkflowIdentifier: "welcome",
		Payload:            map[string]any{"name": "Ada"},
	}

	for _, id := range to {
		cmd.To = append(cmd.To, models.Recipient{SubscriberPayload: models.SubscriberPayload{SubscriberID: id}})
	}

	return cmd
}

func TestTriggerService_Trigger(t *testing.T) {
	t.Run("accepted trigger is enqueued once per transaction", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))
		s := newTriggerService(f, stubResources{})

		resp, err := s.Trigger(t.Context(), command("sub-1", "sub-2", "sub-1"))
		require.NoError(t, err)
		assert.True(t, resp.Acknowledged)
		assert.Equal(t, models.TriggerStatusProcessed, resp.Status)
		assert.NotEmpty(t, resp.TransactionID)

		msgs := f.queue.on(queue.TopicWorkflow)
		require.Len(t, msgs, 1)
		assert.Equal(t, resp.TransactionID, msgs[0].key)
		assert.Equal(t, "env-1:"+resp.TransactionID, msgs[0].opts.ID)

		var data models.TriggerJobData
		require.NoError(t, (&queue.Message{Payload: msgs[0].payload}).Decode(&data))
		assert.Equal(t, models.AddressingMulticast, data.AddressingType)
		require.Len(t, data.To, 2)
		assert.Equal(t, "sub-1", data.To[0].SubscriberID)
		assert.Equal(t, "sub-2", data.To[1].SubscriberID)
		assert.Equal(t, "Ada", data.Payload["name"])
	})

	t.Run("given transaction id is kept", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))
		s := newTriggerService(f, stubResources{})

		cmd := command("sub-1")
		cmd.TransactionID = "my-tx"

		resp, err := s.Trigger(t.Context(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "my-tx", resp.TransactionID)
	})

	t.Run("workflow states that are not errors", func(t *testing.T) {
		inactive := emailStep("email")
		inactive.Active = false

		tests := []struct {
			name   string
			setup  func(w *models.Workflow)
			status models.TriggerStatus
		}{
			{
				name:   "inactive workflow",
				setup:  func(w *models.Workflow) { w.Active = false },
				status: models.TriggerStatusNotActive,
			},
			{
				name:   "no steps",
				setup:  func(w *models.Workflow) { w.Steps = nil },
				status: models.TriggerStatusNoStepsDefined,
			},
			{
				name:   "no active steps",
				setup:  func(w *models.Workflow) { w.Steps = []*models.Step{inactive} },
				status: models.TriggerStatusNoActiveStepsDefined,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t)
				w := f.saveWorkflow(t, emailStep("email"))
				tt.setup(w)
				require.NoError(t, f.p.WorkflowRepository().Save(t.Context(), w))

				resp, err := newTriggerService(f, stubResources{}).Trigger(t.Context(), command("sub-1"))
				require.NoError(t, err)
				assert.True(t, resp.Acknowledged)
				assert.Equal(t, tt.status, resp.Status)
				assert.Empty(t, f.queue.on(queue.TopicWorkflow))
			})
		}
	})

	t.Run("unknown workflow", func(t *testing.T) {
		f := newFixture(t)

		_, err := newTriggerService(f, stubResources{}).Trigger(t.Context(), command("sub-1"))
		require.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("missing recipients", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		_, err := newTriggerService(f, stubResources{}).Trigger(t.Context(), command())
		require.ErrorIs(t, err, ErrInvalidTrigger)
		assert.Contains(t, err.Error(), "To")
	})

	t.Run("payload violating the schema", func(t *testing.T) {
		f := newFixture(t)
		w := f.saveWorkflow(t, emailStep("email"))
		w.PayloadSchema = map[string]any{
			"type":       "object",
			"required":   []any{"orderId"},
			"properties": map[string]any{"orderId": map[string]any{"type": "string"}},
		}
		require.NoError(t, f.p.WorkflowRepository().Save(t.Context(), w))

		_, err := newTriggerService(f, stubResources{}).Trigger(t.Context(), command("sub-1"))
		require.ErrorIs(t, err, ErrInvalidPayload)
		assert.Empty(t, f.queue.on(queue.TopicWorkflow))
	})

	t.Run("unknown tenant without definition", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		cmd := command("sub-1")
		cmd.Tenant = &models.TenantRef{Identifier: "acme"}

		resp, err := newTriggerService(f, stubResources{}).Trigger(t.Context(), cmd)
		require.NoError(t, err)
		assert.Equal(t, models.TriggerStatusNoTenantFound, resp.Status)
		assert.Empty(t, f.queue.on(queue.TopicWorkflow))
	})

	t.Run("inline tenant is created", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		cmd := command("sub-1")
		cmd.Tenant = &models.TenantRef{Identifier: "acme", Name: "Acme Inc"}

		resp, err := newTriggerService(f, stubResources{}).Trigger(t.Context(), cmd)
		require.NoError(t, err)
		assert.Equal(t, models.TriggerStatusProcessed, resp.Status)

		tenant, err := f.p.TenantRepository().GetByIdentifier(t.Context(), "env-1", "acme")
		require.NoError(t, err)
		assert.Equal(t, "Acme Inc", tenant.Name)
	})

	t.Run("resource limits reject the trigger", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		limit := errors.New("workflow limit reached")

		_, err := newTriggerService(f, stubResources{err: limit}).Trigger(t.Context(), command("sub-1"))
		require.ErrorIs(t, err, limit)
		assert.Empty(t, f.queue.on(queue.TopicWorkflow))
	})
}

func TestTriggerService_Broadcast(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, emailStep("email"))

	resp, err := newTriggerService(f, stubResources{}).Broadcast(t.Context(), command())
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusProcessed, resp.Status)

	msgs := f.queue.on(queue.TopicWorkflow)
	require.Len(t, msgs, 1)

	var data models.TriggerJobData
	require.NoError(t, (&queue.Message{Payload: msgs[0].payload}).Decode(&data))
	assert.Equal(t, models.AddressingBroadcast, data.AddressingType)
	assert.Empty(t, data.To)
}

func TestTriggerService_Bulk(t *testing.T) {
	t.Run("each event gets its own response", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		missing := command("sub-1")
		missing.WorkflowIdentifier = "missing"

		responses, err := newTriggerService(f, stubResources{}).Bulk(t.Context(), []models.TriggerCommand{
			command("sub-1"),
			missing,
			command("sub-2"),
		})
		require.NoError(t, err)
		require.Len(t, responses, 3)

		assert.Equal(t, models.TriggerStatusProcessed, responses[0].Status)
		assert.Equal(t, models.TriggerStatusError, responses[1].Status)
		assert.NotEmpty(t, responses[1].Error)
		assert.Equal(t, models.TriggerStatusProcessed, responses[2].Status)

		assert.Len(t, f.queue.on(queue.TopicWorkflow), 2)
	})

	t.Run("too many events", func(t *testing.T) {
		f := newFixture(t)

		cmds := make([]models.TriggerCommand, MaxBulkEvents+1)
		for i := range cmds {
			cmds[i] = command(fmt.Sprintf("sub-%d", i))
		}

		_, err := newTriggerService(f, stubResources{}).Bulk(t.Context(), cmds)
		require.ErrorIs(t, err, ErrTooManyEvents)
		assert.Empty(t, f.queue.on(queue.TopicWorkflow))
	})
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(ErrWorkflowNotFound))
	assert.True(t, IsPermanent(&StepError{StepID: "email", Err: ErrStepControlsNotFound}))
	assert.False(t, IsPermanent(errors.New("connection refused")))
	assert.False(t, IsPermanent(errors.Join(ErrWorkflowNotFound, errors.New("connection refused"))))
	assert.True(t, IsPermanent(errors.Join(ErrInvalidPayload, &StepError{StepID: "sms", Err: ErrStepControlsNotFound})))
	assert.False(t, IsPermanent(errors.Join()))
}
