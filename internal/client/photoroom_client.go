package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/model"
)

const providerPhotoroom = "photoroom"

// PhotoroomClient calls the synchronous studio provider. Every call returns
// the finished image in the response body.
type PhotoroomClient struct {
	httpClient      *http.Client
	apiKey          string
	segmentURL      string
	editURL         string
	compressQuality int
	logger          zerolog.Logger
}

// SegmentOptions configures the basic extraction endpoint
type SegmentOptions struct {
	Format          string // png, jpg or webp
	BackgroundColor string
	Size            string
	Quality         int
}

// EditOptions configures the edit endpoint
type EditOptions struct {
	ImageURL         string
	BackgroundColor  string
	BackgroundPrompt string
	ShadowMode       string
	LightingMode     string
	OutputSize       string
	Padding          string
}

// NewPhotoroomClient creates a new studio provider client
func NewPhotoroomClient(cfg *config.PhotoroomConfig, logger zerolog.Logger) *PhotoroomClient {
	return &PhotoroomClient{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		apiKey:          cfg.APIKey,
		segmentURL:      cfg.SegmentURL,
		editURL:         cfg.EditURL,
		compressQuality: cfg.CompressQuality,
		logger:          logger.With().Str("provider", providerPhotoroom).Logger(),
	}
}

// Segment extracts the foreground of an uploaded image.
func (c *PhotoroomClient) Segment(ctx context.Context, image []byte, filename string, opts SegmentOptions) (*Image, error) {
	fields := map[string]string{}
	if opts.Format != "" {
		fields["format"] = opts.Format
	}
	if opts.BackgroundColor != "" {
		fields["bg_color"] = strings.TrimPrefix(opts.BackgroundColor, "#")
	}
	if opts.Size != "" {
		fields["size"] = opts.Size
	}
	if opts.Quality > 0 {
		fields["quality"] = strconv.Itoa(opts.Quality)
	}

	return c.postForm(ctx, c.segmentURL, fields, &filePart{field: "image_file", name: filename, data: image})
}

// Edit runs the compositing endpoint against a remote image.
func (c *PhotoroomClient) Edit(ctx context.Context, opts EditOptions) (*Image, error) {
	fields := map[string]string{"imageUrl": opts.ImageURL}
	if opts.BackgroundColor != "" {
		fields["background.color"] = strings.TrimPrefix(opts.BackgroundColor, "#")
	}
	if opts.BackgroundPrompt != "" {
		fields["background.prompt"] = opts.BackgroundPrompt
	}
	if opts.ShadowMode != "" {
		fields["shadow.mode"] = opts.ShadowMode
	}
	if opts.LightingMode != "" {
		fields["lighting.mode"] = opts.LightingMode
	}
	if opts.OutputSize != "" {
		fields["outputSize"] = opts.OutputSize
	}
	if opts.Padding != "" {
		fields["padding"] = opts.Padding
	}

	return c.postForm(ctx, c.editURL, fields, nil)
}

// CompressJPEG re-encodes an image as JPEG at the configured quality using
// the extraction endpoint.
func (c *PhotoroomClient) CompressJPEG(ctx context.Context, data []byte) ([]byte, error) {
	img, err := c.Segment(ctx, data, "oversized.jpg", SegmentOptions{
		Format:          "jpg",
		BackgroundColor: "FFFFFF",
		Size:            "full",
		Quality:         c.compressQuality,
	})
	if err != nil {
		return nil, err
	}
	return img.Data, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *PhotoroomClient) IsConfigured() bool {
	return c.apiKey != ""
}

type filePart struct {
	field string
	name  string
	data  []byte
}

// postForm sends a multipart request and returns the image body
func (c *PhotoroomClient) postForm(ctx context.Context, url string, fields map[string]string, file *filePart) (*Image, error) {
	if !c.IsConfigured() {
		return nil, &ProviderError{Provider: providerPhotoroom, Kind: model.FailureProcessing, Message: "provider not configured"}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile(file.field, file.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := part.Write(file.data); err != nil {
			return nil, fmt.Errorf("failed to write file part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "image/png, image/jpeg, image/webp, application/json")

	c.logger.Debug().Str("method", req.Method).Str("url", url).Msg("provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", url).Msg("provider request failed")
		return nil, transportFailure(providerPhotoroom, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportFailure(providerPhotoroom, err)
	}

	c.logger.Debug().Int("status", resp.StatusCode).Int("bytes", len(respBody)).Str("url", url).Msg("provider response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Provider:   providerPhotoroom,
			Kind:       statusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    photoroomErrorMessage(respBody),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") || len(respBody) == 0 {
		return nil, &ProviderError{
			Provider: providerPhotoroom,
			Kind:     model.FailureProcessing,
			Message:  "provider returned no image",
		}
	}
	if contentType == "" {
		contentType = http.DetectContentType(respBody)
	}

	return &Image{Data: respBody, ContentType: contentType}, nil
}

func photoroomErrorMessage(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error.Message != "":
			return payload.Error.Message
		case payload.Detail != "":
			return payload.Detail
		case payload.Message != "":
			return payload.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
