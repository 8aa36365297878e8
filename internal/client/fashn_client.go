package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/model"
)

const providerFashn = "fashn"

// Remote prediction states
const (
	FashnStatusStarting   = "starting"
	FashnStatusInQueue    = "in_queue"
	FashnStatusProcessing = "processing"
	FashnStatusCompleted  = "completed"
	FashnStatusFailed     = "failed"
	FashnStatusCanceled   = "canceled"
)

// Remote error names caused by the submitted inputs rather than the provider.
var fashnInputErrors = map[string]bool{
	"ImageLoadError":         true,
	"ContentModerationError": true,
	"PoseError":              true,
	"InputValidationError":   true,
	"BadRequest":             true,
}

// FashnClient talks to the FASHN prediction API
type FashnClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
	timeout      time.Duration
	logger       zerolog.Logger
}

// RunRequest submits a prediction
type RunRequest struct {
	ModelName string                 `json:"model_name"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// RunResponse is returned on submission
type RunResponse struct {
	ID    string      `json:"id"`
	Error *FashnError `json:"error,omitempty"`
}

// StatusResponse describes a prediction
type StatusResponse struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Output []string    `json:"output,omitempty"`
	Error  *FashnError `json:"error,omitempty"`
}

// FashnError is the provider's error object
type FashnError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewFashnClient creates a new model provider client
func NewFashnClient(cfg *config.FashnConfig, logger zerolog.Logger) *FashnClient {
	return &FashnClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
		timeout:      cfg.Timeout,
		logger:       logger.With().Str("provider", providerFashn).Logger(),
	}
}

// Run submits a prediction and returns its identifier
func (c *FashnClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	var result RunResponse
	if err := c.post(ctx, "/v1/run", req, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fashnFailure(result.Error)
	}
	if result.ID == "" {
		return nil, &ProviderError{Provider: providerFashn, Kind: model.FailureProcessing, Message: "submission returned no prediction id"}
	}
	return &result, nil
}

// Status retrieves the current state of a prediction
func (c *FashnClient) Status(ctx context.Context, predictionID string) (*StatusResponse, error) {
	endpoint := fmt.Sprintf("/v1/status/%s", predictionID)
	var result StatusResponse
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Poll waits for a prediction to reach a terminal state. It gives up after
// maxPolls status checks or once the overall timeout elapses, whichever
// comes first.
func (c *FashnClient) Poll(ctx context.Context, predictionID string) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		result, err := c.Status(ctx, predictionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.pollTimeout(predictionID, attempt)
			}
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("prediction", predictionID).Msg("status poll failed")
			return nil, err
		}

		c.logger.Debug().Int("attempt", attempt).Str("prediction", predictionID).Str("status", result.Status).Msg("status poll")

		switch result.Status {
		case FashnStatusCompleted:
			if len(result.Output) == 0 {
				return nil, &ProviderError{Provider: providerFashn, Kind: model.FailureProcessing, Message: "prediction completed without output"}
			}
			return result, nil
		case FashnStatusFailed:
			return nil, fashnFailure(result.Error)
		case FashnStatusCanceled:
			return nil, &ProviderError{Provider: providerFashn, Kind: model.FailureProcessing, Message: "prediction canceled"}
		}

		if attempt == c.maxPolls {
			break
		}

		select {
		case <-ctx.Done():
			return nil, c.pollTimeout(predictionID, attempt)
		case <-time.After(c.pollInterval):
		}
	}

	return nil, c.pollTimeout(predictionID, c.maxPolls)
}

// IsConfigured returns true if the client has valid configuration
func (c *FashnClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *FashnClient) pollTimeout(predictionID string, attempts int) *ProviderError {
	c.logger.Warn().Str("prediction", predictionID).Int("attempts", attempts).Msg("prediction timed out")
	return &ProviderError{
		Provider: providerFashn,
		Kind:     model.FailureTimeout,
		Message:  fmt.Sprintf("prediction %s not finished after %d polls", predictionID, attempts),
		Err:      context.DeadlineExceeded,
	}
}

func fashnFailure(e *FashnError) *ProviderError {
	if e == nil {
		return &ProviderError{Provider: providerFashn, Kind: model.FailureProcessing, Message: "prediction failed"}
	}
	kind := model.FailureProcessing
	if fashnInputErrors[e.Name] {
		kind = model.FailureValidation
	}
	return &ProviderError{Provider: providerFashn, Kind: kind, Message: strings.TrimSpace(e.Name + ": " + e.Message)}
}

// post sends a POST request with JSON body
func (c *FashnClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *FashnClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *FashnClient) doRequest(req *http.Request, result interface{}) error {
	if !c.IsConfigured() {
		return &ProviderError{Provider: providerFashn, Kind: model.FailureProcessing, Message: "provider not configured"}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportFailure(providerFashn, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(providerFashn, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("url", req.URL.String()).Bytes("body", respBody).Msg("provider error")
		return &ProviderError{
			Provider:   providerFashn,
			Kind:       statusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fashnErrorMessage(respBody),
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &ProviderError{Provider: providerFashn, Kind: model.FailureProcessing, Message: "malformed response", Err: err}
	}

	return nil
}

func fashnErrorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		var text string
		if json.Unmarshal(payload.Error, &text) == nil && text != "" {
			return text
		}
		var obj FashnError
		if json.Unmarshal(payload.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
