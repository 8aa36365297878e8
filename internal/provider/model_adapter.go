package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/model"
)

type modelAPI interface {
	Run(ctx context.Context, req *client.RunRequest) (*client.RunResponse, error)
	Poll(ctx context.Context, predictionID string) (*client.StatusResponse, error)
}

type runBuilder func(sub *Submission) *client.RunRequest

// ModelAdapter runs the asynchronous family: submit, poll until terminal,
// then download the output.
type ModelAdapter struct {
	api      modelAPI
	fetcher  imageFetcher
	builders map[model.OperationID]runBuilder
	logger   zerolog.Logger
}

func NewModelAdapter(api modelAPI, fetcher imageFetcher, logger zerolog.Logger) *ModelAdapter {
	return &ModelAdapter{
		api:     api,
		fetcher: fetcher,
		builders: map[model.OperationID]runBuilder{
			model.OperationProductToModel: func(sub *Submission) *client.RunRequest {
				inputs := map[string]interface{}{"product_image": sub.ImageURL}
				setIf(inputs, "prompt", subjectPrompt(sub.Parameters))
				setIf(inputs, "aspect_ratio", sub.Parameters["aspect_ratio"])
				return &client.RunRequest{ModelName: "product-to-model", Inputs: inputs}
			},
			model.OperationVirtualTryOn: func(sub *Submission) *client.RunRequest {
				inputs := map[string]interface{}{
					"model_image":   sub.SelfieURL,
					"garment_image": sub.ImageURL,
					"category":      withDefault(sub.Parameters["category"], "auto"),
				}
				setIf(inputs, "garment_photo_type", sub.Parameters["garment_photo_type"])
				setIf(inputs, "mode", sub.Parameters["mode"])
				return &client.RunRequest{ModelName: "tryon-v1.6", Inputs: inputs}
			},
			model.OperationModelSwap: func(sub *Submission) *client.RunRequest {
				inputs := map[string]interface{}{"model_image": sub.ImageURL}
				setIf(inputs, "prompt", subjectPrompt(sub.Parameters))
				if sub.Parameters["background_change"] == "true" {
					inputs["background_change"] = true
				}
				return &client.RunRequest{ModelName: "model-swap", Inputs: inputs}
			},
		},
		logger: logger.With().Str("adapter", string(model.FamilyModel)).Logger(),
	}
}

func (a *ModelAdapter) Family() model.Family {
	return model.FamilyModel
}

func (a *ModelAdapter) Supports(op *catalog.Operation) bool {
	_, ok := a.builders[op.ID]
	return ok
}

func (a *ModelAdapter) Submit(ctx context.Context, sub *Submission) (*Result, error) {
	build, ok := a.builders[sub.Operation.ID]
	if !ok {
		return nil, fmt.Errorf("operation %s not supported by model adapter", sub.Operation.ID)
	}

	run, err := a.api.Run(ctx, build(sub))
	if err != nil {
		return nil, err
	}

	a.logger.Info().Str("operation", string(sub.Operation.ID)).Str("prediction", run.ID).Msg("prediction submitted")

	status, err := a.api.Poll(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	if len(status.Output) == 0 {
		return nil, &client.ProviderError{Provider: "fashn", Kind: model.FailureProcessing, Message: "prediction returned no output"}
	}

	img, err := a.fetcher.Fetch(ctx, status.Output[0])
	if err != nil {
		return nil, fmt.Errorf("failed to download prediction output: %w", err)
	}

	return &Result{Data: img.Data, ContentType: img.ContentType, ProviderJobID: run.ID}, nil
}

// subjectPrompt prefixes the free-form prompt with the gender, ethnicity
// and pose descriptors, e.g. "female south asian model, standing pose".
func subjectPrompt(params map[string]string) string {
	var words []string
	for _, key := range []string{"gender", "ethnicity"} {
		if v := strings.TrimSpace(params[key]); v != "" {
			words = append(words, strings.ToLower(v))
		}
	}

	var subject string
	if len(words) > 0 {
		subject = strings.Join(words, " ") + " model"
	}
	if pose := strings.TrimSpace(params["pose"]); pose != "" {
		if subject == "" {
			subject = "model"
		}
		subject += ", " + strings.ToLower(pose) + " pose"
	}

	prompt := strings.TrimSpace(params["prompt"])
	switch {
	case subject == "":
		return prompt
	case prompt == "":
		return subject
	}
	return subject + ". " + prompt
}

func setIf(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}
