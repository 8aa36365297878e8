package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/ryanuber/go-glob"

	"github.com/snapsell/api/internal/account"
	"github.com/snapsell/api/internal/admission"
	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/ledger"
	"github.com/snapsell/api/internal/model"
	"github.com/snapsell/api/internal/provider"
)

const (
	TaskTypePhoto = "photo:process"
	PhotoQueue    = "photo"
)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// JobFailedError is returned when a job was created but did not complete.
// The user is never charged for a failed job.
type JobFailedError struct {
	JobID   string
	Kind    model.FailureKind
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed (%s): %s", e.JobID, e.Kind, e.Message)
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobNotifier receives pipeline events for live subscribers.
type JobNotifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result *model.ProcessResponse)
	BroadcastError(jobID string, jobErr model.WSError)
}

type sizeGuard interface {
	EnsureUnderLimit(ctx context.Context, imageURL string) string
}

type PhotoServiceConfig struct {
	AllowedHosts []string
}

// PhotoService runs the job pipeline: validate, admit, record, guard,
// submit, persist, settle, complete.
type PhotoService struct {
	catalog    *catalog.Catalog
	validate   *validator.Validate
	admission  *admission.Controller
	credits    account.CreditLedger
	allowances account.AllowanceStore
	jobs       ledger.Store
	dispatcher *provider.Dispatcher
	guard      sizeGuard
	storage    client.StorageClient
	enqueuer   TaskEnqueuer
	notifier   JobNotifier
	cfg        PhotoServiceConfig
	now        func() time.Time
	logger     zerolog.Logger
}

func NewPhotoService(
	cat *catalog.Catalog,
	validate *validator.Validate,
	admissionController *admission.Controller,
	credits account.CreditLedger,
	allowances account.AllowanceStore,
	jobs ledger.Store,
	dispatcher *provider.Dispatcher,
	guard sizeGuard,
	storage client.StorageClient,
	cfg PhotoServiceConfig,
	logger zerolog.Logger,
) *PhotoService {
	return &PhotoService{
		catalog:    cat,
		validate:   validate,
		admission:  admissionController,
		credits:    credits,
		allowances: allowances,
		jobs:       jobs,
		dispatcher: dispatcher,
		guard:      guard,
		storage:    storage,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With().Str("component", "photo").Logger(),
	}
}

// SetEnqueuer enables Submit.
func (s *PhotoService) SetEnqueuer(e TaskEnqueuer) {
	s.enqueuer = e
}

// SetNotifier enables live job events.
func (s *PhotoService) SetNotifier(n JobNotifier) {
	s.notifier = n
}

// Operations lists the catalog.
func (s *PhotoService) Operations() *model.OperationListResponse {
	return &model.OperationListResponse{Operations: s.catalog.Info()}
}

// Process runs one job to completion within the request.
func (s *PhotoService) Process(ctx context.Context, userID string, req *model.ProcessRequest) (*model.ProcessResponse, error) {
	job, err := s.start(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, job)
}

// Submit records the job and hands execution to the worker queue.
func (s *PhotoService) Submit(ctx context.Context, userID string, req *model.ProcessRequest) (*model.SubmitResponse, error) {
	if s.enqueuer == nil {
		return nil, errors.New("job queue not configured")
	}

	job, err := s.start(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(model.PhotoJobPayload{JobID: job.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.enqueuer.EnqueueContext(ctx, asynq.NewTask(TaskTypePhoto, payload),
		asynq.Queue(PhotoQueue),
		asynq.MaxRetry(0),
		asynq.TaskID(job.ID),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		s.fail(job, model.FailureInternal, "failed to queue job")
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.SubmitResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Operation: job.Operation,
		CreatedAt: job.CreatedAt,
	}, nil
}

// Execute runs a queued job. A job that is no longer processing is left
// alone.
func (s *PhotoService) Execute(ctx context.Context, jobID string) (*model.ProcessResponse, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		s.logger.Warn().Str("jobId", jobID).Str("status", string(job.Status)).Msg("Skipping terminal job")
		return nil, nil
	}
	return s.execute(ctx, job)
}

// GetJob returns a job owned by userID.
func (s *PhotoService) GetJob(ctx context.Context, userID, jobID string) (*model.Job, error) {
	return s.jobs.GetForUser(ctx, jobID, userID)
}

// ListJobs returns the user's newest jobs.
func (s *PhotoService) ListJobs(ctx context.Context, userID string, limit int) (*model.JobListResponse, error) {
	jobs, err := s.jobs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return &model.JobListResponse{Jobs: jobs}, nil
}

func (s *PhotoService) start(ctx context.Context, userID string, req *model.ProcessRequest) (*model.Job, error) {
	op, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	grant, err := s.admission.Authorize(ctx, admission.Request{
		UserID:           userID,
		Operation:        op,
		FirstItemContext: req.FirstItemContext,
	})
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:         uuid.New().String(),
		UserID:     userID,
		Operation:  op.ID,
		ImageURL:   req.ImageURL,
		SelfieURL:  req.SelfieURL,
		Parameters: req.Parameters,
		Status:     model.JobStatusProcessing,
		Provider:   op.Family,
		FirstItem:  grant.UseAllowance,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info().
		Str("jobId", job.ID).
		Str("userId", userID).
		Str("operation", string(op.ID)).
		Bool("firstItem", job.FirstItem).
		Msg("Job created")

	return job, nil
}

func (s *PhotoService) validateRequest(req *model.ProcessRequest) (*catalog.Operation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	op, ok := s.catalog.Lookup(req.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, req.Operation)
	}
	if op.RequiresSelfie && req.SelfieURL == "" {
		return nil, fmt.Errorf("%w: %s requires selfieUrl", ErrInvalidRequest, op.ID)
	}

	for _, ref := range []string{req.ImageURL, req.SelfieURL} {
		if ref == "" {
			continue
		}
		if !s.hostAllowed(ref) {
			return nil, fmt.Errorf("%w: image host not allowed: %s", ErrInvalidRequest, ref)
		}
	}

	if err := op.ValidateParameters(req.Parameters); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return op, nil
}

// hostAllowed matches the reference's host against the configured glob
// patterns. An empty list allows any host.
func (s *PhotoService) hostAllowed(ref string) bool {
	if len(s.cfg.AllowedHosts) == 0 {
		return true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, pattern := range s.cfg.AllowedHosts {
		if glob.Glob(strings.ToLower(pattern), host) {
			return true
		}
	}
	return false
}

func (s *PhotoService) execute(ctx context.Context, job *model.Job) (*model.ProcessResponse, error) {
	log := s.logger.With().Str("jobId", job.ID).Str("operation", string(job.Operation)).Logger()

	op, ok := s.catalog.Lookup(job.Operation)
	if !ok {
		return nil, s.fail(job, model.FailureInternal, "operation no longer available")
	}

	sub := &provider.Submission{
		Operation:  op,
		ImageURL:   job.ImageURL,
		SelfieURL:  job.SelfieURL,
		Parameters: job.Parameters,
	}

	if op.Family == model.FamilyModel && s.guard != nil {
		s.progress(job.ID, 10, "Checking image size...")
		sub.ImageURL = s.guard.EnsureUnderLimit(ctx, sub.ImageURL)
		if sub.SelfieURL != "" {
			sub.SelfieURL = s.guard.EnsureUnderLimit(ctx, sub.SelfieURL)
		}
	}

	adapter, err := s.dispatcher.Resolve(op)
	if err != nil {
		return nil, s.fail(job, model.FailureInternal, err.Error())
	}

	s.progress(job.ID, 20, "Processing image...")
	result, err := adapter.Submit(ctx, sub)
	if err != nil {
		log.Warn().Err(err).Msg("Provider call failed")
		return nil, s.fail(job, client.KindOf(err), err.Error())
	}

	// From here on the provider work is done; bookkeeping must not be cut
	// short by the caller going away.
	bookCtx := context.WithoutCancel(ctx)

	s.progress(job.ID, 80, "Saving result...")
	key := fmt.Sprintf("results/%s/%s.%s", job.UserID, job.ID, extensionFor(result.ContentType))
	resultURL, err := s.storage.Upload(bookCtx, key, bytes.NewReader(result.Data), result.ContentType)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Result upload failed")
		return nil, s.fail(job, model.FailureStorage, "failed to store result")
	}

	s.progress(job.ID, 90, "Settling credits...")
	done, err := s.settle(bookCtx, job, op)
	if err != nil {
		if errors.Is(err, account.ErrLimitExceeded) {
			return nil, s.fail(job, model.FailureInsufficientCredit, "monthly credit limit reached")
		}
		log.Error().Err(err).Msg("Credit settlement failed")
		return nil, s.fail(job, model.FailureInternal, "failed to settle credits")
	}
	done.ResultURL = resultURL

	if err := s.jobs.MarkCompleted(bookCtx, job.ID, done); err != nil {
		// The user has been charged and the result exists; report success.
		log.Error().Err(err).Msg("Failed to mark job completed")
	}

	resp := &model.ProcessResponse{
		JobID:           job.ID,
		ResultURL:       resultURL,
		Operation:       job.Operation,
		CreditsDeducted: done.CreditsDeducted,
	}
	if s.notifier != nil {
		s.notifier.BroadcastComplete(job.ID, resp)
	}

	log.Info().
		Int("creditsDeducted", done.CreditsDeducted).
		Bool("allowanceConsumed", done.AllowanceConsumed).
		Msg("Job completed")

	return resp, nil
}

// settle charges for a successful job: the first-item allowance when the
// grant allows it, otherwise an atomic conditional debit.
func (s *PhotoService) settle(ctx context.Context, job *model.Job, op *catalog.Operation) (model.JobCompletion, error) {
	if job.FirstItem {
		flipped, err := s.allowances.ConsumeAllowance(ctx, job.UserID)
		if err != nil {
			return model.JobCompletion{}, err
		}
		if flipped {
			return model.JobCompletion{AllowanceConsumed: true}, nil
		}
		s.logger.Info().Str("jobId", job.ID).Msg("Allowance already consumed, charging credits")
	}

	if _, err := s.credits.Debit(ctx, job.UserID, account.Period(s.now()), op.Category, op.CreditCost); err != nil {
		return model.JobCompletion{}, err
	}
	return model.JobCompletion{CreditsDeducted: op.CreditCost}, nil
}

// fail records the failure and returns the error for the caller.
func (s *PhotoService) fail(job *model.Job, kind model.FailureKind, message string) error {
	ctx := context.Background()
	if err := s.jobs.MarkFailed(ctx, job.ID, model.JobError{Kind: kind, Message: message}); err != nil {
		s.logger.Error().Err(err).Str("jobId", job.ID).Msg("Failed to mark job failed")
	}
	if s.notifier != nil {
		s.notifier.BroadcastError(job.ID, model.WSError{
			Code:    errorCode(kind),
			Kind:    kind,
			Message: message,
			Charged: false,
		})
	}
	return &JobFailedError{JobID: job.ID, Kind: kind, Message: message}
}

func (s *PhotoService) progress(jobID string, pct int, step string) {
	if s.notifier != nil {
		s.notifier.BroadcastProgress(jobID, pct, model.JobStatusProcessing, step)
	}
}

// errorCode maps a failure kind to the public error code.
func errorCode(kind model.FailureKind) string {
	switch kind {
	case model.FailureTimeout:
		return "PROCESSING_TIMEOUT"
	case model.FailureInsufficientCredit:
		return "INSUFFICIENT_CREDITS"
	default:
		return "PROCESSING_FAILED"
	}
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
