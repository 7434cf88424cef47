package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/novu-co/novu-sub003/pkg/filter"
	"github.com/novu-co/novu-sub003/pkg/providers"
)

const (
	DefaultBridgeTimeout = 30 * time.Second
	bridgeProviderID     = "bridge"
	maxBridgeResponse    = 1 << 20
)

// BridgeRequest asks the customer bridge endpoint to execute one custom step.
type BridgeRequest struct {
	WorkflowID    string         `json:"workflowId"`
	StepID        string         `json:"stepId"`
	TransactionID string         `json:"transactionId"`
	Subscriber    map[string]any `json:"subscriber"`
	Payload       map[string]any `json:"payload"`
	Controls      map[string]any `json:"controls"`
	State         map[string]any `json:"state"`
}

type bridgeResponse struct {
	Outputs map[string]any `json:"outputs"`
}

// BridgeClient executes custom steps on the bridge url of a trigger.
type BridgeClient struct {
	client  *http.Client
	timeout time.Duration
	secret  filter.SecretFunc
}

func NewBridgeClient(client *http.Client, timeout time.Duration, secret filter.SecretFunc) *BridgeClient {
	if client == nil {
		client = &http.Client{}
	}

	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}

	return &BridgeClient{client: client, timeout: timeout, secret: secret}
}

// Execute posts the step and returns the outputs it answers with. Failures are providers.SendError
// values so that providers.IsTransient classifies them.
func (c *BridgeClient) Execute(ctx context.Context, bridgeURL, environmentID string, req BridgeRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &providers.SendError{ProviderID: bridgeProviderID, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, &providers.SendError{ProviderID: bridgeProviderID, Err: err}
	}

	query := endpoint.Query()
	query.Set("action", "execute")
	query.Set("workflowId", req.WorkflowID)
	query.Set("stepId", req.StepID)
	endpoint.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &providers.SendError{ProviderID: bridgeProviderID, Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.secret != nil {
		secret, err := c.secret(ctx, environmentID)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}

		httpReq.Header.Set(filter.SignatureHeader, filter.Sign(secret, body))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &providers.SendError{ProviderID: bridgeProviderID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &providers.SendError{
			ProviderID: bridgeProviderID,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	var decoded bridgeResponse

	err = json.NewDecoder(io.LimitReader(resp.Body, maxBridgeResponse)).Decode(&decoded)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &providers.SendError{ProviderID: bridgeProviderID, Err: fmt.Errorf("decode response: %w", err)}
	}

	if decoded.Outputs == nil {
		decoded.Outputs = map[string]any{}
	}

	return decoded.Outputs, nil
}
