package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/snapsell/api/internal/model"
)

// ProviderError is a classified failure from an external provider call.
type ProviderError struct {
	Provider   string
	Kind       model.FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s error", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf reports the failure kind of err. Unclassified errors count as
// processing failures, deadlines as timeouts.
func KindOf(err error) model.FailureKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	return model.FailureProcessing
}

// statusKind maps a non-2xx provider response to a failure kind.
func statusKind(code int) model.FailureKind {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return model.FailureTransport
	case code == http.StatusGatewayTimeout:
		return model.FailureTimeout
	case code >= 400 && code < 500:
		return model.FailureValidation
	default:
		return model.FailureProcessing
	}
}

// transportFailure wraps an error returned by the HTTP client itself.
func transportFailure(provider string, err error) *ProviderError {
	kind := model.FailureTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = model.FailureTimeout
	}
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}
