package models

// FilterGroupOperator joins the children of a step filter.
type FilterGroupOperator string

const (
	FilterGroupAnd FilterGroupOperator = "AND"
	FilterGroupOr  FilterGroupOperator = "OR"
)

// FilterOn names the data source a filter part reads from.
type FilterOn string

const (
	FilterOnPayload    FilterOn = "payload"
	FilterOnSubscriber FilterOn = "subscriber"
	FilterOnTenant     FilterOn = "tenant"
	FilterOnActor      FilterOn = "actor"
	FilterOnWebhook    FilterOn = "webhook"
)

// FilterOperator compares a field with a value.
type FilterOperator string

const (
	FilterOpEqual        FilterOperator = "EQUAL"
	FilterOpNotEqual     FilterOperator = "NOT_EQUAL"
	FilterOpLarger       FilterOperator = "LARGER"
	FilterOpSmaller      FilterOperator = "SMALLER"
	FilterOpLargerEqual  FilterOperator = "LARGER_EQUAL"
	FilterOpSmallerEqual FilterOperator = "SMALLER_EQUAL"
	FilterOpIn           FilterOperator = "IN"
	FilterOpNotIn        FilterOperator = "NOT_IN"
	FilterOpLike         FilterOperator = "LIKE"
	FilterOpNotLike      FilterOperator = "NOT_LIKE"
	FilterOpStartsWith   FilterOperator = "STARTS_WITH"
	FilterOpEndsWith     FilterOperator = "ENDS_WITH"
	FilterOpIsDefined    FilterOperator = "IS_DEFINED"
)

// StepFilter is a group of conditions attached to a step.
type StepFilter struct {
	IsNegated bool                `json:"is_negated"`
	Type      string              `json:"type,omitempty"`
	Value     FilterGroupOperator `json:"value"           validate:"omitempty,oneof=AND OR"`
	Children  []FilterPart        `json:"children"        validate:"dive"`
}

// FilterPart is a single condition of a step filter.
type FilterPart struct {
	On         FilterOn       `json:"on"                    validate:"required,oneof=payload subscriber tenant actor webhook"`
	Field      string         `json:"field"`
	Operator   FilterOperator `json:"operator"`
	Value      any            `json:"value"`
	WebhookURL string         `json:"webhook_url,omitempty" validate:"omitempty,url"`
}
