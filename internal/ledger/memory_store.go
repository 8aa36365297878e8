package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/snapsell/api/internal/model"
)

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, jobID string, done model.JobCompletion) error {
	return s.transition(jobID, func(j *model.Job) {
		j.Status = model.JobStatusCompleted
		j.ResultURL = done.ResultURL
		j.CreditsDeducted = done.CreditsDeducted
		j.AllowanceConsumed = done.AllowanceConsumed
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, jobID string, jobErr model.JobError) error {
	return s.transition(jobID, func(j *model.Job) {
		j.Status = model.JobStatusFailed
		j.Error = &model.JobError{Kind: jobErr.Kind, Message: jobErr.Message}
	})
}

func (s *MemoryStore) transition(jobID string, apply func(*model.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	apply(job)
	now := time.Now().UTC()
	job.CompletedAt = &now
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryStore) GetForUser(ctx context.Context, jobID, userID string) (*model.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := []*model.Job{}
	for _, j := range s.jobs {
		if j.UserID == userID {
			jobs = append(jobs, copyJob(j))
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	if limit = ClampLimit(limit); len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func copyJob(j *model.Job) *model.Job {
	c := *j
	if j.Parameters != nil {
		c.Parameters = make(map[string]string, len(j.Parameters))
		for k, v := range j.Parameters {
			c.Parameters[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
