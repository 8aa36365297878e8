package sizeguard

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/client"
)

// DefaultMaxBytes is the async provider's input ceiling.
const DefaultMaxBytes int64 = 25 * 1024 * 1024

type prober interface {
	ContentLength(ctx context.Context, url string) (int64, error)
	Fetch(ctx context.Context, url string) (*client.Image, error)
}

type compressor interface {
	CompressJPEG(ctx context.Context, data []byte) ([]byte, error)
}

// Guard keeps images handed to the async provider under its size ceiling.
// It never fails: when anything goes wrong the original reference is used
// and the provider decides.
type Guard struct {
	fetcher    prober
	compressor compressor
	storage    client.StorageClient
	maxBytes   int64
	headroom   float64
	logger     zerolog.Logger
}

// New creates a guard. A nil compressor disables compression.
func New(fetcher prober, comp compressor, storage client.StorageClient, maxBytes int64, headroom float64, logger zerolog.Logger) *Guard {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if headroom <= 0 || headroom > 1 {
		headroom = 0.9
	}
	return &Guard{
		fetcher:    fetcher,
		compressor: comp,
		storage:    storage,
		maxBytes:   maxBytes,
		headroom:   headroom,
		logger:     logger.With().Str("component", "sizeguard").Logger(),
	}
}

// EnsureUnderLimit returns a reference to an image no larger than the
// limit, or the original reference when it cannot do better.
func (g *Guard) EnsureUnderLimit(ctx context.Context, imageURL string) string {
	log := g.logger.With().Str("url", imageURL).Logger()

	size, err := g.fetcher.ContentLength(ctx, imageURL)
	if err != nil {
		log.Debug().Err(err).Msg("HEAD probe failed, fetching")
	} else if size >= 0 && float64(size) < float64(g.maxBytes)*g.headroom {
		return imageURL
	}

	img, err := g.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		log.Warn().Err(err).Msg("size check fetch failed, using original")
		return imageURL
	}
	if int64(len(img.Data)) < g.maxBytes {
		return imageURL
	}

	if g.compressor == nil || g.storage == nil {
		log.Warn().Int("bytes", len(img.Data)).Msg("image over limit and compression unavailable")
		return imageURL
	}

	compressed, err := g.compressor.CompressJPEG(ctx, img.Data)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(img.Data)).Msg("compression failed, using original")
		return imageURL
	}

	key := fmt.Sprintf("sizeguard/%s.jpg", uuid.New().String())
	url, err := g.storage.Upload(ctx, key, bytes.NewReader(compressed), "image/jpeg")
	if err != nil {
		log.Warn().Err(err).Msg("storing compressed image failed, using original")
		return imageURL
	}

	log.Info().
		Int("originalBytes", len(img.Data)).
		Int("compressedBytes", len(compressed)).
		Str("compressedUrl", url).
		Msg("image compressed for provider")

	return url
}
