package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrProviderNotRegistered = errors.New("provider not registered")
	ErrInvalidCredentials    = errors.New("invalid provider credentials")
	ErrMissingRecipient      = errors.New("missing recipient address")
)

// SendError is a failed delivery attempt. StatusCode is zero when no response was received.
type SendError struct {
	ProviderID string
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s responded %d: %v", e.ProviderID, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("provider %s: %v", e.ProviderID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether a send may succeed when retried: network failures, timeouts,
// rate limiting and server errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) && sendErr.StatusCode != 0 {
		return sendErr.StatusCode == http.StatusTooManyRequests || sendErr.StatusCode >= http.StatusInternalServerError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr)
}
