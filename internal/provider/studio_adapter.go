package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/model"
)

type studioAPI interface {
	Segment(ctx context.Context, image []byte, filename string, opts client.SegmentOptions) (*client.Image, error)
	Edit(ctx context.Context, opts client.EditOptions) (*client.Image, error)
}

type segmentBuilder func(params map[string]string) client.SegmentOptions

type editBuilder func(imageURL string, params map[string]string) client.EditOptions

// StudioAdapter runs the synchronous family: one call, image in the response.
type StudioAdapter struct {
	api      studioAPI
	fetcher  imageFetcher
	segments map[model.OperationID]segmentBuilder
	edits    map[model.OperationID]editBuilder
	logger   zerolog.Logger
}

func NewStudioAdapter(api studioAPI, fetcher imageFetcher, logger zerolog.Logger) *StudioAdapter {
	return &StudioAdapter{
		api:     api,
		fetcher: fetcher,
		segments: map[model.OperationID]segmentBuilder{
			model.OperationRemoveBackground: func(p map[string]string) client.SegmentOptions {
				return client.SegmentOptions{
					Format:          withDefault(p["format"], "png"),
					BackgroundColor: p["background_color"],
					Size:            p["size"],
				}
			},
		},
		edits: map[model.OperationID]editBuilder{
			model.OperationStudioShadow: func(imageURL string, p map[string]string) client.EditOptions {
				return client.EditOptions{
					ImageURL:        imageURL,
					ShadowMode:      withDefault(p["shadow_mode"], "ai.soft"),
					BackgroundColor: withDefault(p["background_color"], "FFFFFF"),
					OutputSize:      p["output_size"],
					Padding:         p["padding"],
				}
			},
			model.OperationStudioLighting: func(imageURL string, p map[string]string) client.EditOptions {
				return client.EditOptions{
					ImageURL:        imageURL,
					LightingMode:    withDefault(p["lighting_mode"], "ai.auto"),
					BackgroundColor: withDefault(p["background_color"], "FFFFFF"),
					OutputSize:      p["output_size"],
					Padding:         p["padding"],
				}
			},
			model.OperationAIBackground: func(imageURL string, p map[string]string) client.EditOptions {
				return client.EditOptions{
					ImageURL:         imageURL,
					BackgroundPrompt: p["background_prompt"],
					ShadowMode:       p["shadow_mode"],
					OutputSize:       p["output_size"],
					Padding:          p["padding"],
				}
			},
		},
		logger: logger.With().Str("adapter", string(model.FamilyStudio)).Logger(),
	}
}

func (a *StudioAdapter) Family() model.Family {
	return model.FamilyStudio
}

func (a *StudioAdapter) Supports(op *catalog.Operation) bool {
	switch op.Endpoint {
	case catalog.EndpointBasic:
		_, ok := a.segments[op.ID]
		return ok
	case catalog.EndpointEdit:
		_, ok := a.edits[op.ID]
		return ok
	}
	return false
}

func (a *StudioAdapter) Submit(ctx context.Context, sub *Submission) (*Result, error) {
	op := sub.Operation

	var (
		img *client.Image
		err error
	)
	switch op.Endpoint {
	case catalog.EndpointBasic:
		build, ok := a.segments[op.ID]
		if !ok {
			return nil, fmt.Errorf("operation %s not supported by studio adapter", op.ID)
		}
		source, ferr := a.fetcher.Fetch(ctx, sub.ImageURL)
		if ferr != nil {
			return nil, fmt.Errorf("failed to fetch source image: %w", ferr)
		}
		img, err = a.api.Segment(ctx, source.Data, filenameFromURL(sub.ImageURL), build(sub.Parameters))
	case catalog.EndpointEdit:
		build, ok := a.edits[op.ID]
		if !ok {
			return nil, fmt.Errorf("operation %s not supported by studio adapter", op.ID)
		}
		img, err = a.api.Edit(ctx, build(sub.ImageURL, sub.Parameters))
	default:
		return nil, fmt.Errorf("operation %s has no studio endpoint", op.ID)
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("operation", string(op.ID)).Msg("studio call failed")
		return nil, err
	}

	return &Result{Data: img.Data, ContentType: img.ContentType}, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
