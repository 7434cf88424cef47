package models

import "time"

// DetailReason is the human-readable cause recorded by an execution detail.
type DetailReason string

const (
	DetailStepCreated                   DetailReason = "STEP_CREATED"
	DetailDigestStepCreated             DetailReason = "DIGEST_STEP_CREATED"
	DetailStepQueued                    DetailReason = "STEP_QUEUED"
	DetailStepQueuedWithDelay           DetailReason = "STEP_QUEUED_WITH_DELAY"
	DetailStepDelayFinished             DetailReason = "STEP_DELAY_FINISHED"
	DetailStepSkipped                   DetailReason = "STEP_SKIPPED"
	DetailStepCanceled                  DetailReason = "STEP_CANCELED"
	DetailStepRetry                     DetailReason = "STEP_RETRY"
	DetailStepControlsNotFound          DetailReason = "STEP_CONTROLS_NOT_FOUND"
	DetailDigestMerged                  DetailReason = "DIGEST_MERGED"
	DetailDigestTriggeredEvents         DetailReason = "DIGEST_TRIGGERED_EVENTS"
	DetailDigestBackoffSkipped          DetailReason = "DIGEST_BACKOFF_SKIPPED"
	DetailFilterSteps                   DetailReason = "FILTER_STEPS"
	DetailWebhookFilterFailedRetry      DetailReason = "WEBHOOK_FILTER_FAILED_RETRY"
	DetailWebhookFilterFailedLastRetry  DetailReason = "WEBHOOK_FILTER_FAILED_LAST_RETRY"
	DetailTierLimitExceeded             DetailReason = "TIER_LIMIT_EXCEEDED"
	DetailThrottleLimitExceeded         DetailReason = "THROTTLE_LIMIT_EXCEEDED"
	DetailThrottlePassed                DetailReason = "THROTTLE_PASSED"
	DetailMessageCreated                DetailReason = "MESSAGE_CREATED"
	DetailMessageSent                   DetailReason = "MESSAGE_SENT"
	DetailMessageContentSyntaxError     DetailReason = "MESSAGE_CONTENT_SYNTAX_ERROR"
	DetailMessageContentNotGenerated    DetailReason = "MESSAGE_CONTENT_NOT_GENERATED"
	DetailProviderError                 DetailReason = "PROVIDER_ERROR"
	DetailJobFailed                     DetailReason = "JOB_FAILED"
	DetailSubscriberNoActiveIntegration DetailReason = "SUBSCRIBER_NO_ACTIVE_INTEGRATION"
	DetailSubscriberNoChannelDetails    DetailReason = "SUBSCRIBER_NO_CHANNEL_DETAILS"
	DetailSubscriberResolutionFailed    DetailReason = "SUBSCRIBER_RESOLUTION_FAILED"
	DetailSkippedByCondition            DetailReason = "SKIPPED_BY_CONDITION"
	DetailCustomStepExecuted            DetailReason = "CUSTOM_STEP_EXECUTED"
	DetailTriggerExpansionFailed        DetailReason = "TRIGGER_EXPANSION_FAILED"
)

var detailMessages = map[DetailReason]string{
	DetailStepCreated:                   "Step created",
	DetailDigestStepCreated:             "Digest step created",
	DetailStepQueued:                    "Step queued",
	DetailStepQueuedWithDelay:           "Step queued with delay",
	DetailStepDelayFinished:             "Step delay finished",
	DetailStepSkipped:                   "Step skipped",
	DetailStepCanceled:                  "Step canceled",
	DetailStepRetry:                     "Step scheduled for retry",
	DetailStepControlsNotFound:          "Step controls not found",
	DetailDigestMerged:                  "Event merged into an existing digest",
	DetailDigestTriggeredEvents:         "Digest triggered with events",
	DetailDigestBackoffSkipped:          "Digest skipped, no recent events in look back window",
	DetailFilterSteps:                   "Step was filtered based on the filter conditions",
	DetailWebhookFilterFailedRetry:      "Webhook filter request failed, retrying",
	DetailWebhookFilterFailedLastRetry:  "Webhook filter request failed on the last retry",
	DetailTierLimitExceeded:             "Requested duration exceeds the organization tier limit",
	DetailThrottleLimitExceeded:         "Throttle limit reached for subscriber",
	DetailThrottlePassed:                "Throttle check passed",
	DetailMessageCreated:                "Message created",
	DetailMessageSent:                   "Message sent",
	DetailMessageContentSyntaxError:     "Message content could not be compiled",
	DetailMessageContentNotGenerated:    "Message content was empty",
	DetailProviderError:                 "Provider returned an error",
	DetailJobFailed:                     "Job failed",
	DetailSubscriberNoActiveIntegration: "No active integration for channel",
	DetailSubscriberNoChannelDetails:    "Subscriber is missing channel details",
	DetailSubscriberResolutionFailed:    "Subscriber could not be resolved",
	DetailSkippedByCondition:            "Step skipped by its condition",
	DetailCustomStepExecuted:            "Custom step executed",
	DetailTriggerExpansionFailed:        "Trigger could not be expanded after retries",
}

// Message returns a sentence describing the reason.
func (d DetailReason) Message() string {
	if msg, ok := detailMessages[d]; ok {
		return msg
	}

	return string(d)
}

// DetailSource tells where the recorded event originated.
type DetailSource string

const (
	DetailSourceInternal    DetailSource = "internal"
	DetailSourceWebhook     DetailSource = "webhook"
	DetailSourceCredentials DetailSource = "credentials"
)

// DetailStatus is the outcome of the recorded event.
type DetailStatus string

const (
	DetailStatusPending DetailStatus = "pending"
	DetailStatusSuccess DetailStatus = "success"
	DetailStatusFailed  DetailStatus = "failed"
	DetailStatusWarning DetailStatus = "warning"
)

// ExecutionDetail is an immutable entry of the activity timeline.
type ExecutionDetail struct {
	ID             string       `json:"id"`
	EnvironmentID  string       `json:"environment_id"  validate:"required"`
	OrganizationID string       `json:"organization_id" validate:"required"`
	SubscriberID   string       `json:"subscriber_id"`
	JobID          string       `json:"job_id,omitempty"`
	NotificationID string       `json:"notification_id" validate:"required"`
	TransactionID  string       `json:"transaction_id"  validate:"required"`
	Channel        StepType     `json:"channel,omitempty"`
	ProviderID     string       `json:"provider_id,omitempty"`
	Detail         DetailReason `json:"detail"          validate:"required"`
	Source         DetailSource `json:"source"          validate:"required,oneof=internal webhook credentials"`
	Status         DetailStatus `json:"status"          validate:"required,oneof=pending success failed warning"`
	IsTest         bool         `json:"is_test"`
	IsRetry        bool         `json:"is_retry"`
	Raw            string       `json:"raw,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
