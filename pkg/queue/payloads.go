package queue

// JobMessage is the STANDARD topic payload. The worker reloads the job by id, so a stale
// message for a job that already moved on is dropped by the status compare-and-set.
type JobMessage struct {
	JobID          string `json:"jobId"`
	EnvironmentID  string `json:"environmentId"`
	OrganizationID string `json:"organizationId"`
	TransactionID  string `json:"transactionId"`
	SubscriberID   string `json:"subscriberId,omitempty"`
}
