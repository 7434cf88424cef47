package filter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultWebhookTimeout = 5 * time.Second
	SignatureHeader       = "X-Novu-Signature"
	maxWebhookResponse    = 1 << 20
)

var ErrWebhookStatus = errors.New("webhook filter returned an unexpected status")

// SecretFunc returns the key used to sign webhook filter requests of an environment.
type SecretFunc func(ctx context.Context, environmentID string) (string, error)

type WebhookRequest struct {
	URL           string
	EnvironmentID string
	Body          map[string]any
}

// WebhookClient posts the filter context to a customer endpoint and returns the JSON object it
// answers with.
type WebhookClient struct {
	client  *http.Client
	timeout time.Duration
	secret  SecretFunc
}

func NewWebhookClient(client *http.Client, timeout time.Duration, secret SecretFunc) *WebhookClient {
	if client == nil {
		client = &http.Client{}
	}

	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}

	return &WebhookClient{client: client, timeout: timeout, secret: secret}
}

// Fetch makes a single attempt bounded by the client timeout.
func (c *WebhookClient) Fetch(ctx context.Context, req WebhookRequest) (map[string]any, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.secret != nil {
		secret, err := c.secret(ctx, req.EnvironmentID)
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}

		httpReq.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}

	var out map[string]any

	err = json.NewDecoder(io.LimitReader(resp.Body, maxWebhookResponse)).Decode(&out)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if out == nil {
		out = map[string]any{}
	}

	return out, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets webhook receivers check a request.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
