package filter

import (
	"context"
	"log/slog"
	"maps"

	"github.com/novu-co/novu-sub003/pkg/models"
)

// StepContext is the data a step filter can read.
type StepContext struct {
	EnvironmentID string
	Identifier    string
	TransactionID string
	Payload       map[string]any
	Subscriber    map[string]any
	Tenant        map[string]any
	Actor         map[string]any
	Steps         map[string]any
}

// Data returns the context keyed by filter source.
func (c StepContext) Data() map[string]any {
	return map[string]any{
		"payload":    orEmpty(c.Payload),
		"subscriber": orEmpty(c.Subscriber),
		"tenant":     orEmpty(c.Tenant),
		"actor":      orEmpty(c.Actor),
		"step":       orEmpty(c.Steps),
		"webhook":    map[string]any{},
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

// Outcome tells whether a step passed its filters and, when it did not, which detail explains it.
type Outcome struct {
	Passed bool
	Reason models.DetailReason
	Result Result
	// WebhookFailures holds the failed webhook attempts, including a failed first attempt that was
	// retried successfully.
	WebhookFailures []error
}

// StepFilterer decides whether a step runs for a subscriber.
type StepFilterer struct {
	evaluator *Evaluator
	webhooks  *WebhookClient
	logger    *slog.Logger
}

func NewStepFilterer(evaluator *Evaluator, webhooks *WebhookClient, logger *slog.Logger) *StepFilterer {
	return &StepFilterer{
		evaluator: evaluator,
		webhooks:  webhooks,
		logger:    logger.With("module", "step_filter"),
	}
}

// Filter evaluates the step filters and then the step conditions. Each webhook filter endpoint
// is called once and retried once; when both attempts fail the step is filtered out.
func (f *StepFilterer) Filter(ctx context.Context, step *models.Step, sc StepContext) Outcome {
	if len(step.Filters) == 0 && step.Conditions == nil {
		return Outcome{Passed: true, Result: Result{Result: true}}
	}

	data := sc.Data()

	failures, ok := f.fetchWebhooks(ctx, step, sc, data)
	if !ok {
		return Outcome{Reason: models.DetailWebhookFilterFailedLastRetry, WebhookFailures: failures}
	}

	rule, err := CompileStepFilters(step.Filters)
	if err != nil {
		return Outcome{Reason: models.DetailFilterSteps, Result: Result{Error: err.Error()}, WebhookFailures: failures}
	}

	for _, candidate := range []any{rule, step.Conditions} {
		if candidate == nil {
			continue
		}

		result := f.evaluator.Evaluate(candidate, data)
		if !result.Result {
			if result.Error != "" {
				f.logger.WarnContext(ctx, "step filter could not be evaluated",
					"step_id", step.ID,
					"transaction_id", sc.TransactionID,
					"error", result.Error,
				)
			}

			return Outcome{Reason: models.DetailFilterSteps, Result: result, WebhookFailures: failures}
		}
	}

	return Outcome{Passed: true, Result: Result{Result: true}, WebhookFailures: failures}
}

func (f *StepFilterer) fetchWebhooks(ctx context.Context, step *models.Step, sc StepContext, data map[string]any) ([]error, bool) {
	var failures []error

	webhook := data["webhook"].(map[string]any)
	seen := map[string]struct{}{}

	for _, group := range step.Filters {
		for _, part := range group.Children {
			if part.On != models.FilterOnWebhook || part.WebhookURL == "" {
				continue
			}

			if _, ok := seen[part.WebhookURL]; ok {
				continue
			}

			seen[part.WebhookURL] = struct{}{}

			if f.webhooks == nil {
				return failures, false
			}

			req := WebhookRequest{
				URL:           part.WebhookURL,
				EnvironmentID: sc.EnvironmentID,
				Body: map[string]any{
					"payload":       data["payload"],
					"subscriber":    data["subscriber"],
					"tenant":        data["tenant"],
					"actor":         data["actor"],
					"identifier":    sc.Identifier,
					"transactionId": sc.TransactionID,
					"stepId":        step.ID,
				},
			}

			response, err := f.webhooks.Fetch(ctx, req)
			if err != nil {
				failures = append(failures, err)

				f.logger.WarnContext(ctx, "webhook filter failed, retrying", "url", part.WebhookURL, "error", err)

				response, err = f.webhooks.Fetch(ctx, req)
				if err != nil {
					return append(failures, err), false
				}
			}

			maps.Copy(webhook, response)
		}
	}

	return failures, true
}
