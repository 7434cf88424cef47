package models

import (
	"errors"
	"fmt"
	"time"
)

// StepType identifies what a workflow step does.
type StepType string

const (
	StepTypeTrigger  StepType = "trigger"
	StepTypeEmail    StepType = "email"
	StepTypeSMS      StepType = "sms"
	StepTypePush     StepType = "push"
	StepTypeChat     StepType = "chat"
	StepTypeInApp    StepType = "in_app"
	StepTypeDigest   StepType = "digest"
	StepTypeDelay    StepType = "delay"
	StepTypeThrottle StepType = "throttle"
	StepTypeCustom   StepType = "custom"
)

// IsChannel reports whether the step delivers a message through a provider.
func (t StepType) IsChannel() bool {
	switch t {
	case StepTypeEmail, StepTypeSMS, StepTypePush, StepTypeChat, StepTypeInApp:
		return true
	default:
		return false
	}
}

// IsDeferring reports whether the step postpones the steps after it.
func (t StepType) IsDeferring() bool {
	return t == StepTypeDelay || t == StepTypeDigest
}

// IsAction reports whether the step is a flow-control step rather than a delivery.
func (t StepType) IsAction() bool {
	return t == StepTypeDelay || t == StepTypeDigest || t == StepTypeThrottle
}

// TimeUnit is the unit of a delay, digest or throttle window.
type TimeUnit string

const (
	TimeUnitSeconds TimeUnit = "seconds"
	TimeUnitMinutes TimeUnit = "minutes"
	TimeUnitHours   TimeUnit = "hours"
	TimeUnitDays    TimeUnit = "days"
	TimeUnitWeeks   TimeUnit = "weeks"
	TimeUnitMonths  TimeUnit = "months"
)

var ErrInvalidTimeUnit = errors.New("invalid time unit")

// Duration converts an amount of this unit into a time.Duration. A month counts as 30 days.
func (u TimeUnit) Duration(amount int) (time.Duration, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %d: %w", amount, ErrInvalidTimeUnit)
	}

	n := time.Duration(amount)

	switch u {
	case TimeUnitSeconds:
		return n * time.Second, nil
	case TimeUnitMinutes:
		return n * time.Minute, nil
	case TimeUnitHours:
		return n * time.Hour, nil
	case TimeUnitDays:
		return n * 24 * time.Hour, nil
	case TimeUnitWeeks:
		return n * 7 * 24 * time.Hour, nil
	case TimeUnitMonths:
		return n * 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unit %q: %w", u, ErrInvalidTimeUnit)
	}
}

// TimeWindow is an amount of time expressed in a unit.
type TimeWindow struct {
	Amount int      `json:"amount"`
	Unit   TimeUnit `json:"unit"`
}

func (w TimeWindow) Duration() (time.Duration, error) {
	return w.Unit.Duration(w.Amount)
}

// StepMetadata carries the configuration of delay, digest and throttle steps.
type StepMetadata struct {
	Amount         int         `json:"amount,omitempty"`
	Unit           TimeUnit    `json:"unit,omitempty"`
	DigestKey      string      `json:"digest_key,omitempty"`
	LookBackWindow *TimeWindow `json:"look_back_window,omitempty"`
	ThrottleKey    string      `json:"throttle_key,omitempty"`
	// Threshold is how many executions a throttle step lets through per window.
	Threshold int `json:"threshold,omitempty"`
}

// Window returns the configured amount and unit as a duration.
func (m StepMetadata) Window() (time.Duration, error) {
	return m.Unit.Duration(m.Amount)
}

// Step is one unit of a workflow.
type Step struct {
	ID       string         `json:"id"                  validate:"required"`
	Name     string         `json:"name"`
	Type     StepType       `json:"type"                validate:"required,oneof=email sms push chat in_app digest delay throttle custom"`
	Active   bool           `json:"active"`
	Controls map[string]any `json:"controls,omitempty"`
	Filters  []StepFilter   `json:"filters,omitempty"   validate:"dive"`
	// Conditions is a JSON-logic rule; the step runs only when it evaluates to true.
	Conditions any          `json:"conditions,omitempty"`
	Metadata   StepMetadata `json:"metadata"`
}
