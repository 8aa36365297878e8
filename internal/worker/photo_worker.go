package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/model"
	"github.com/snapsell/api/internal/service"
)

type jobExecutor interface {
	Execute(ctx context.Context, jobID string) (*model.ProcessResponse, error)
}

// PhotoWorker runs queued photo jobs
type PhotoWorker struct {
	photos jobExecutor
	logger zerolog.Logger
}

func NewPhotoWorker(photos jobExecutor, logger zerolog.Logger) *PhotoWorker {
	return &PhotoWorker{
		photos: photos,
		logger: logger.With().Str("component", "photo_worker").Logger(),
	}
}

// ProcessTask handles photo:process tasks. A job that fails is already
// recorded on the ledger, so the task itself succeeds. Jobs never retry.
func (w *PhotoWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.PhotoJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	log := w.logger.With().Str("jobId", payload.JobID).Logger()
	log.Info().Msg("Starting photo job")

	resp, err := w.photos.Execute(ctx, payload.JobID)
	if err != nil {
		var failed *service.JobFailedError
		if errors.As(err, &failed) {
			log.Warn().Str("kind", string(failed.Kind)).Msg("Photo job failed")
			return nil
		}
		log.Error().Err(err).Msg("Photo job could not run")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if resp != nil {
		log.Info().Str("resultUrl", resp.ResultURL).Msg("Photo job completed")
	}
	return nil
}
