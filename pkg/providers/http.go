package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/novu-co/novu-sub003/pkg/models"
)

const (
	// HTTPProviderID posts every message as JSON to the url of the integration credentials.
	HTTPProviderID = "http"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 1 << 20
)

type HTTPFactory struct {
	client *http.Client
}

// NewHTTPFactory uses client for every provider it creates; nil means a client with a 30s timeout.
func NewHTTPFactory(client *http.Client) *HTTPFactory {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &HTTPFactory{client: client}
}

func (*HTTPFactory) ID() string { return HTTPProviderID }

func (f *HTTPFactory) Create(channel models.StepType, credentials map[string]any, logger *slog.Logger) (Provider, error) {
	rawURL, _ := credentials["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("%s provider: url is required: %w", HTTPProviderID, ErrInvalidCredentials)
	}

	endpoint, err := url.Parse(rawURL)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
		return nil, fmt.Errorf("%s provider: invalid url %q: %w", HTTPProviderID, rawURL, ErrInvalidCredentials)
	}

	headers := make(map[string]string)
	if configured, ok := credentials["headers"].(map[string]any); ok {
		for key, value := range configured {
			if s, ok := value.(string); ok {
				headers[key] = s
			}
		}
	}

	return &HTTPProvider{
		client:   f.client,
		channel:  channel,
		endpoint: endpoint.String(),
		headers:  headers,
		logger:   logger.With("provider", HTTPProviderID, "channel", channel),
	}, nil
}

type HTTPProvider struct {
	client   *http.Client
	channel  models.StepType
	endpoint string
	headers  map[string]string
	logger   *slog.Logger
}

type httpSendRequest struct {
	Channel       models.StepType `json:"channel"`
	To            string          `json:"to"`
	DeviceTokens  []string        `json:"deviceTokens,omitempty"`
	SubscriberID  string          `json:"subscriberId"`
	TransactionID string          `json:"transactionId"`
	Content       map[string]any  `json:"content"`
	Overrides     map[string]any  `json:"overrides,omitempty"`
}

type httpSendResponse struct {
	ID string `json:"id"`
}

func (*HTTPProvider) ID() string { return HTTPProviderID }

func (p *HTTPProvider) Channel() models.StepType { return p.channel }

func (p *HTTPProvider) Send(ctx context.Context, opts SendOptions) (SendResult, error) {
	body, err := json.Marshal(httpSendRequest{
		Channel:       p.channel,
		To:            opts.To,
		DeviceTokens:  opts.DeviceTokens,
		SubscriberID:  opts.SubscriberID,
		TransactionID: opts.TransactionID,
		Content:       opts.Content,
		Overrides:     opts.Overrides,
	})
	if err != nil {
		return SendResult{}, &SendError{ProviderID: HTTPProviderID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, &SendError{ProviderID: HTTPProviderID, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", opts.JobID)

	for key, value := range p.headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, &SendError{ProviderID: HTTPProviderID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return SendResult{}, &SendError{ProviderID: HTTPProviderID, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return SendResult{}, &SendError{
			ProviderID: HTTPProviderID,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	var decoded httpSendResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		err = json.Unmarshal(raw, &decoded)
		if err != nil {
			p.logger.WarnContext(ctx, "provider response is not json", "job_id", opts.JobID, "status", resp.StatusCode)
		}
	}

	if decoded.ID == "" {
		decoded.ID = uuid.NewString()
	}

	p.logger.DebugContext(ctx, "message delivered", "job_id", opts.JobID, "status", resp.StatusCode)

	return SendResult{ID: decoded.ID, Date: time.Now().UTC()}, nil
}
