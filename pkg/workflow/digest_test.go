package workflow

import (
	"testing"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestValue(t *testing.T) {
	payload := map[string]any{
		"post":  map[string]any{"id": "p-1"},
		"count": 3,
	}

	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "no key", key: "", want: "sub-1"},
		{name: "nested key", key: "post.id", want: "sub-1:p-1"},
		{name: "prefixed key", key: "payload.post.id", want: "sub-1:p-1"},
		{name: "number", key: "count", want: "sub-1:3"},
		{name: "missing key", key: "post.title", want: "sub-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DigestValue("sub-1", tt.key, payload))
		})
	}
}

func TestPayloadValue(t *testing.T) {
	payload := map[string]any{"a": map[string]any{"b": "c"}, "empty": nil}

	v, ok := PayloadValue(payload, "a.b")
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	_, ok = PayloadValue(payload, "a.b.c")
	assert.False(t, ok)

	_, ok = PayloadValue(payload, "empty")
	assert.False(t, ok)

	_, ok = PayloadValue(nil, "a")
	assert.False(t, ok)
}

func TestNewJobDigest_CopiesPayload(t *testing.T) {
	step := digestStep("digest", 5, models.TimeUnitMinutes)
	payload := map[string]any{"n": 1}

	digest := NewJobDigest(step, "sub-1", payload)
	payload["n"] = 2

	require.Len(t, digest.Events, 1)
	assert.Equal(t, 1, digest.Events[0]["n"])
	assert.Equal(t, 5, digest.Amount)
	assert.Equal(t, "sub-1", digest.DigestValue)

	empty := NewJobDigest(step, "sub-1", nil)
	require.Len(t, empty.Events, 1)
	assert.NotNil(t, empty.Events[0])
}

func TestDigester_Schedule(t *testing.T) {
	t.Run("stored job opens then merges", func(t *testing.T) {
		f := newFixture(t)

		first := newJob("job-1", digestStep("digest", 5, models.TimeUnitMinutes), models.JobStatusPending)
		first.Payload = map[string]any{"n": 1}
		second := newJob("job-2", digestStep("digest", 5, models.TimeUnitMinutes), models.JobStatusPending)
		second.TransactionID = "tx-2"
		second.Payload = map[string]any{"n": 2}
		f.createJobs(t, first, second)

		decision, digest, err := f.digester.Schedule(t.Context(), first, true)
		require.NoError(t, err)
		assert.Equal(t, DigestOpened, decision)
		assert.Equal(t, "job-1", digest.ID)
		assert.Equal(t, models.JobStatusDelayed, f.job(t, "job-1").Status)

		decision, digest, err = f.digester.Schedule(t.Context(), second, true)
		require.NoError(t, err)
		assert.Equal(t, DigestMerged, decision)
		assert.Equal(t, "job-1", digest.ID)

		stored := f.job(t, "job-1")
		require.NotNil(t, stored.Digest)
		assert.Len(t, stored.Digest.Events, 2)
		assert.Equal(t, models.JobStatusPending, f.job(t, "job-2").Status)
	})

	t.Run("look back window skips the digest for a lone event", func(t *testing.T) {
		f := newFixture(t)

		step := digestStep("digest", 5, models.TimeUnitMinutes)
		step.Metadata.LookBackWindow = &models.TimeWindow{Amount: 1, Unit: models.TimeUnitMinutes}

		first := newJob("job-1", step, models.JobStatusPending)
		second := newJob("job-2", step, models.JobStatusPending)
		second.TransactionID = "tx-2"
		f.createJobs(t, first, second)

		decision, _, err := f.digester.Schedule(t.Context(), first, true)
		require.NoError(t, err)
		assert.Equal(t, DigestBackoffSkipped, decision)
		assert.Equal(t, models.JobStatusPending, f.job(t, "job-1").Status)

		decision, _, err = f.digester.Schedule(t.Context(), second, true)
		require.NoError(t, err)
		assert.Equal(t, DigestOpened, decision)
	})

	t.Run("invalid window", func(t *testing.T) {
		f := newFixture(t)

		job := newJob("job-1", digestStep("digest", 5, models.TimeUnit("eons")), models.JobStatusPending)

		_, _, err := f.digester.Schedule(t.Context(), job, false)
		require.ErrorIs(t, err, ErrInvalidStepMetadata)
	})
}

func TestDigestOutputs(t *testing.T) {
	job := &models.Job{Digest: &models.JobDigest{Events: []map[string]any{{"n": 1}, {"n": 2}}}}

	outputs := DigestOutputs(job)
	assert.Equal(t, 2, outputs["eventCount"])
	assert.Equal(t, 2, outputs["totalCount"])
	assert.Len(t, outputs["events"], 2)

	assert.Equal(t, 0, DigestOutputs(&models.Job{})["eventCount"])
}

func TestThrottler_Allow(t *testing.T) {
	throttleStep := func(threshold int, key string) *models.Step {
		return &models.Step{
			ID:       "throttle",
			Type:     models.StepTypeThrottle,
			Active:   true,
			Metadata: models.StepMetadata{Amount: 1, Unit: models.TimeUnitHours, Threshold: threshold, ThrottleKey: key},
		}
	}

	t.Run("threshold per subscriber", func(t *testing.T) {
		f := newFixture(t)
		throttler := NewThrottler(f.cache, testLogger())

		job := newJob("job-1", throttleStep(2, ""), models.JobStatusPending)
		other := newJob("job-2", throttleStep(2, ""), models.JobStatusPending)
		other.SubscriberID = "sub-2"

		for i, want := range []bool{true, true, false} {
			allowed, err := throttler.Allow(t.Context(), job)
			require.NoError(t, err)
			assert.Equal(t, want, allowed, "execution %d", i+1)
		}

		allowed, err := throttler.Allow(t.Context(), other)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("zero threshold allows one", func(t *testing.T) {
		f := newFixture(t)
		throttler := NewThrottler(f.cache, testLogger())
		job := newJob("job-1", throttleStep(0, ""), models.JobStatusPending)

		allowed, err := throttler.Allow(t.Context(), job)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = throttler.Allow(t.Context(), job)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("throttle key splits counters", func(t *testing.T) {
		f := newFixture(t)
		throttler := NewThrottler(f.cache, testLogger())

		a := newJob("job-1", throttleStep(1, "payload.channel"), models.JobStatusPending)
		a.Payload = map[string]any{"channel": "billing"}
		b := newJob("job-2", throttleStep(1, "payload.channel"), models.JobStatusPending)
		b.Payload = map[string]any{"channel": "security"}

		for _, job := range []*models.Job{a, b} {
			allowed, err := throttler.Allow(t.Context(), job)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
	})

	t.Run("missing window", func(t *testing.T) {
		f := newFixture(t)
		throttler := NewThrottler(f.cache, testLogger())

		step := throttleStep(1, "")
		step.Metadata.Amount = 0

		_, err := throttler.Allow(t.Context(), newJob("job-1", step, models.JobStatusPending))
		require.ErrorIs(t, err, ErrInvalidStepMetadata)
	})
}
