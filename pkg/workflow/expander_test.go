package workflow

import (
	"testing"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpander_Process(t *testing.T) {
	t.Run("creates a job per subscriber and step", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"), smsStep("sms"))

		err := f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1", "sub-2", "sub-3"))
		require.NoError(t, err)

		jobs := f.jobs(t, "tx-1")
		require.Len(t, jobs, 6)
		assert.Equal(t, 3, countByType(jobs, models.StepTypeEmail))
		assert.Equal(t, 3, countByType(jobs, models.StepTypeSMS))

		for _, job := range jobs {
			assert.Equal(t, models.JobStatusQueued, job.Status)
			assert.Empty(t, job.DependsOn)
		}

		assert.Len(t, f.queue.on(queue.TopicStandard), 6)

		reasons := f.detailReasons(t, "tx-1")
		assert.Contains(t, reasons, models.DetailStepCreated)
		assert.Contains(t, reasons, models.DetailStepQueued)
	})

	t.Run("creates unknown subscribers before their jobs", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-1", nil, "non-existent-subscriber")))

		sub, err := f.p.SubscriberRepository().FindBySubscriberID(t.Context(), "env-1", "non-existent-subscriber")
		require.NoError(t, err)
		require.NotNil(t, sub)

		jobs := f.jobs(t, "tx-1")
		require.Len(t, jobs, 1)
		assert.Equal(t, "non-existent-subscriber", jobs[0].SubscriberID)
	})

	t.Run("is idempotent for a redelivered trigger", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		data := triggerData("tx-1", nil, "sub-1", "sub-2")
		require.NoError(t, f.expander.Process(t.Context(), data))
		require.NoError(t, f.expander.Process(t.Context(), data))

		assert.Len(t, f.jobs(t, "tx-1"), 2)
	})

	t.Run("filtered step records a detail and creates no job", func(t *testing.T) {
		f := newFixture(t)

		filtered := smsStep("sms")
		filtered.Conditions = map[string]any{"==": []any{map[string]any{"var": "payload.plan"}, "pro"}}

		f.saveWorkflow(t, emailStep("email"), filtered)

		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-1", map[string]any{"plan": "free"}, "sub-1")))

		jobs := f.jobs(t, "tx-1")
		require.Len(t, jobs, 1)
		assert.Equal(t, models.StepTypeEmail, jobs[0].Type)
		assert.Contains(t, f.detailReasons(t, "tx-1"), models.DetailFilterSteps)
	})

	t.Run("delay over the free tier limit is dropped while other steps run", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.p.OrganizationRepository().Save(t.Context(), &models.Organization{
			ID:              "org-1",
			Name:            "Acme",
			APIServiceLevel: models.ServiceLevelFree,
		}))

		f.saveWorkflow(t, emailStep("before"), delayStep("wait", 40, models.TimeUnitDays), smsStep("after"))

		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1")))

		jobs := f.jobs(t, "tx-1")
		require.Len(t, jobs, 2)
		assert.Equal(t, 0, countByType(jobs, models.StepTypeDelay))
		assert.Equal(t, 1, countByType(jobs, models.StepTypeEmail))
		assert.Equal(t, 1, countByType(jobs, models.StepTypeSMS))
		assert.Contains(t, f.detailReasons(t, "tx-1"), models.DetailTierLimitExceeded)
	})

	t.Run("steps after a delay wait for it", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, delayStep("wait", 1, models.TimeUnitHours), emailStep("email"))

		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1")))

		jobs := f.jobs(t, "tx-1")
		require.Len(t, jobs, 2)

		delay, email := jobs[0], jobs[1]
		if delay.Type != models.StepTypeDelay {
			delay, email = email, delay
		}

		assert.Equal(t, models.JobStatusDelayed, delay.Status)
		require.NotNil(t, delay.ScheduledAt)
		assert.Equal(t, models.JobStatusPending, email.Status)
		assert.Equal(t, delay.ID, email.DependsOn)

		msgs := f.queue.on(queue.TopicStandard)
		require.Len(t, msgs, 1)
		assert.Greater(t, msgs[0].opts.Delay.Minutes(), 59.0)
		assert.Contains(t, f.detailReasons(t, "tx-1"), models.DetailStepQueuedWithDelay)
	})

	t.Run("digest collects events of one key into a single job", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, digestStep("digest", 10, models.TimeUnitMinutes), emailStep("email"))

		for _, tx := range []string{"tx-1", "tx-2", "tx-3"} {
			require.NoError(t, f.expander.Process(t.Context(), triggerData(tx, map[string]any{"tx": tx}, "sub-1")))
		}

		first := f.jobs(t, "tx-1")
		require.Len(t, first, 2)
		assert.Equal(t, 1, countByType(first, models.StepTypeDigest))
		assert.Empty(t, f.jobs(t, "tx-2"))
		assert.Empty(t, f.jobs(t, "tx-3"))

		var digest *models.Job

		for _, job := range first {
			if job.Type == models.StepTypeDigest {
				digest = job
			}
		}

		require.NotNil(t, digest)
		assert.Equal(t, models.JobStatusDelayed, digest.Status)
		require.NotNil(t, digest.Digest)
		assert.Len(t, digest.Digest.Events, 3)
		assert.Equal(t, "sub-1", digest.Digest.DigestValue)

		assert.Contains(t, f.detailReasons(t, "tx-2"), models.DetailDigestMerged)
		assert.Contains(t, f.detailReasons(t, "tx-1"), models.DetailDigestStepCreated)
	})

	t.Run("digest keys separate subscribers", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, digestStep("digest", 10, models.TimeUnitMinutes), emailStep("email"))

		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1", "sub-2")))

		assert.Equal(t, 2, countByType(f.jobs(t, "tx-1"), models.StepTypeDigest))
	})

	t.Run("throttled executions are created skipped", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, &models.Step{
			ID:       "throttle",
			Type:     models.StepTypeThrottle,
			Active:   true,
			Metadata: models.StepMetadata{Amount: 1, Unit: models.TimeUnitHours, Threshold: 1},
		}, emailStep("email"))

		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1")))
		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-2", nil, "sub-1")))

		for _, job := range f.jobs(t, "tx-1") {
			assert.NotEqual(t, models.JobStatusSkipped, job.Status)
		}

		second := f.jobs(t, "tx-2")
		require.Len(t, second, 2)

		for _, job := range second {
			assert.Equal(t, models.JobStatusSkipped, job.Status)
		}

		reasons := f.detailReasons(t, "tx-2")
		assert.Contains(t, reasons, models.DetailThrottleLimitExceeded)
		assert.Contains(t, reasons, models.DetailStepSkipped)
		assert.NotContains(t, reasons, models.DetailStepQueued)
	})

	t.Run("missing controls stop the subscriber but keep earlier jobs", func(t *testing.T) {
		f := newFixture(t)

		broken := emailStep("email")
		broken.Controls = nil

		f.saveWorkflow(t, smsStep("sms"), broken)

		err := f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1"))
		require.ErrorIs(t, err, ErrStepControlsNotFound)
		assert.True(t, IsPermanent(err))

		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "email", stepErr.StepID)

		jobs := f.jobs(t, "tx-1")
		require.Len(t, jobs, 1)
		assert.Equal(t, models.StepTypeSMS, jobs[0].Type)
		assert.Contains(t, f.detailReasons(t, "tx-1"), models.DetailStepControlsNotFound)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		f := newFixture(t)

		err := f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1"))
		require.ErrorIs(t, err, ErrWorkflowNotFound)
		assert.True(t, IsPermanent(err))
	})

	t.Run("broadcast reaches every subscriber of the environment", func(t *testing.T) {
		f := newFixture(t)
		f.saveWorkflow(t, emailStep("email"))

		for _, id := range []string{"sub-1", "sub-2"} {
			require.NoError(t, f.p.SubscriberRepository().Create(t.Context(), &models.Subscriber{
				EnvironmentID: "env-1",
				SubscriberID:  id,
			}))
		}

		data := triggerData("tx-1", nil)
		data.AddressingType = models.AddressingBroadcast

		require.NoError(t, f.expander.Process(t.Context(), data))
		assert.Len(t, f.jobs(t, "tx-1"), 2)
	})

	t.Run("channel jobs carry the active integration provider", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.p.IntegrationRepository().Save(t.Context(), &models.Integration{
			EnvironmentID: "env-1",
			ProviderID:    "sendgrid",
			Channel:       models.StepTypeEmail,
			Active:        true,
		}))

		f.saveWorkflow(t, emailStep("email"), &models.Step{
			ID:       "inbox",
			Type:     models.StepTypeInApp,
			Active:   true,
			Controls: map[string]any{"body": "Hello"},
		})

		require.NoError(t, f.expander.Process(t.Context(), triggerData("tx-1", nil, "sub-1")))

		for _, job := range f.jobs(t, "tx-1") {
			switch job.Type {
			case models.StepTypeEmail:
				assert.Equal(t, "sendgrid", job.ProviderID)
			case models.StepTypeInApp:
				assert.Equal(t, InAppProviderID, job.ProviderID)
			}
		}
	})
}
