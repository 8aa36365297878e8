package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/model"
)

// Image is a downloaded or generated image payload.
type Image struct {
	Data        []byte
	ContentType string
}

// ImageFetcher downloads images referenced by URL.
type ImageFetcher struct {
	httpClient *http.Client
	maxBytes   int64
	logger     zerolog.Logger
}

// NewImageFetcher creates a fetcher that refuses bodies larger than maxBytes.
func NewImageFetcher(timeout time.Duration, maxBytes int64, logger zerolog.Logger) *ImageFetcher {
	return &ImageFetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		logger:     logger.With().Str("component", "fetcher").Logger(),
	}
}

// ContentLength issues a HEAD request and returns the advertised size, or -1
// when the server does not report one.
func (f *ImageFetcher) ContentLength(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return -1, transportFailure("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return -1, &ProviderError{Provider: "fetch", Kind: statusKind(resp.StatusCode), StatusCode: resp.StatusCode}
	}

	return resp.ContentLength, nil
}

// Fetch downloads the full image body.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	f.logger.Debug().Str("url", url).Msg("fetching image")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, transportFailure("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: "fetch", Kind: statusKind(resp.StatusCode), StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, transportFailure("fetch", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &ProviderError{
			Provider: "fetch",
			Kind:     model.FailureValidation,
			Message:  fmt.Sprintf("image exceeds %d bytes", f.maxBytes),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Image{Data: data, ContentType: contentType}, nil
}
