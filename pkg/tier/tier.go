// Package tier enforces the limits of an organization's subscription tier.
package tier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence"
)

const (
	FreeMaxDeferDuration     = 30 * 24 * time.Hour
	BusinessMaxDeferDuration = 90 * 24 * time.Hour
)

type IssueType string

const IssueTierLimitExceeded IssueType = "TIER_LIMIT_EXCEEDED"

// Issue is a tier violation. Issues are returned, never raised.
type Issue struct {
	Type      IssueType     `json:"type"`
	Message   string        `json:"message"`
	Requested time.Duration `json:"requested"`
	Limit     time.Duration `json:"limit"`
}

// MaxDeferDuration returns the longest delay or digest window allowed for the tier.
func MaxDeferDuration(level models.ServiceLevel) time.Duration {
	if level == models.ServiceLevelFree {
		return FreeMaxDeferDuration
	}

	return BusinessMaxDeferDuration
}

// Validator checks delay and digest durations against the organization tier.
type Validator struct {
	organizations persistence.OrganizationRepository
	logger        *slog.Logger
}

func NewValidator(organizations persistence.OrganizationRepository, logger *slog.Logger) *Validator {
	return &Validator{
		organizations: organizations,
		logger:        logger.With("module", "tier_validator"),
	}
}

// Validate returns the issues of deferring a step of stepType by deferDuration. Only delay and
// digest steps are checked; for any other type the organization is not looked up.
func (v *Validator) Validate(ctx context.Context, organizationID string, deferDuration time.Duration, stepType models.StepType) []Issue {
	if !stepType.IsDeferring() {
		return nil
	}

	level := v.serviceLevel(ctx, organizationID)
	limit := MaxDeferDuration(level)

	if deferDuration <= limit {
		return nil
	}

	return []Issue{{
		Type:      IssueTierLimitExceeded,
		Message:   fmt.Sprintf("The maximum delay allowed is %s. Please consider upgrading your plan.", humanize(limit)),
		Requested: deferDuration,
		Limit:     limit,
	}}
}

// ValidateStep converts the step metadata into a duration and validates it. An unparseable
// window is left to step validation and yields no tier issue.
func (v *Validator) ValidateStep(ctx context.Context, organizationID string, step *models.Step) []Issue {
	if !step.Type.IsDeferring() {
		return nil
	}

	duration, err := StepDeferDuration(step)
	if err != nil {
		return nil
	}

	return v.Validate(ctx, organizationID, duration, step.Type)
}

// StepDeferDuration is the longest time the step may hold the steps after it: the window, or the
// look back window of a digest when that is longer.
func StepDeferDuration(step *models.Step) (time.Duration, error) {
	duration, err := step.Metadata.Window()
	if err != nil {
		return 0, err
	}

	if step.Type == models.StepTypeDigest && step.Metadata.LookBackWindow != nil {
		lookBack, err := step.Metadata.LookBackWindow.Duration()
		if err != nil {
			return 0, err
		}

		duration = max(duration, lookBack)
	}

	return duration, nil
}

// serviceLevel treats a failed lookup as an unset tier, which gets the business limits.
func (v *Validator) serviceLevel(ctx context.Context, organizationID string) models.ServiceLevel {
	organization, err := v.organizations.GetByID(ctx, organizationID)
	if err != nil {
		if !persistence.IsNotFound(err) {
			v.logger.WarnContext(ctx, "failed to load organization tier", "organization_id", organizationID, "error", err)
		}

		return models.ServiceLevelUnset
	}

	return organization.APIServiceLevel
}

func humanize(d time.Duration) string {
	days := int(d / (24 * time.Hour))

	return fmt.Sprintf("%d days", days)
}
