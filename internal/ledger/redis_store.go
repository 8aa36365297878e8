package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapsell/api/internal/model"
)

const DefaultRetention = 30 * 24 * time.Hour

// transitionScript merges a patch into a job document only while the job
// is still processing. Returns 1 on success, 0 when missing, -1 when the
// job is already terminal.
var transitionScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local job = cjson.decode(raw)
if job['status'] ~= 'processing' then
  return -1
end
local patch = cjson.decode(ARGV[1])
for k, v in pairs(patch) do
  job[k] = v
end
redis.call('SET', KEYS[1], cjson.encode(job), 'KEEPTTL')
return 1
`)

type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{redis: redisClient, retention: retention}
}

func jobKey(jobID string) string {
	return fmt.Sprintf("photo:job:%s", jobID)
}

func userJobsKey(userID string) string {
	return fmt.Sprintf("photo:user:%s:jobs", userID)
}

func (s *RedisStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, s.retention)
		pipe.ZAdd(ctx, userJobsKey(job.UserID), redis.Z{
			Score:  float64(job.CreatedAt.UnixMilli()),
			Member: job.ID,
		})
		pipe.Expire(ctx, userJobsKey(job.UserID), s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkCompleted(ctx context.Context, jobID string, done model.JobCompletion) error {
	return s.transition(ctx, jobID, map[string]interface{}{
		"status":            model.JobStatusCompleted,
		"resultUrl":         done.ResultURL,
		"creditsDeducted":   done.CreditsDeducted,
		"allowanceConsumed": done.AllowanceConsumed,
		"completedAt":       time.Now().UTC(),
	})
}

func (s *RedisStore) MarkFailed(ctx context.Context, jobID string, jobErr model.JobError) error {
	return s.transition(ctx, jobID, map[string]interface{}{
		"status":      model.JobStatusFailed,
		"error":       jobErr,
		"completedAt": time.Now().UTC(),
	})
}

func (s *RedisStore) transition(ctx context.Context, jobID string, patch map[string]interface{}) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	res, err := transitionScript.Run(ctx, s.redis, []string{jobKey(jobID)}, string(data)).Int()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	switch res {
	case 0:
		return ErrNotFound
	case -1:
		return ErrAlreadyTerminal
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return decodeJob(data)
}

func (s *RedisStore) GetForUser(ctx context.Context, jobID, userID string) (*model.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	limit = ClampLimit(limit)
	ids, err := s.redis.ZRevRange(ctx, userJobsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*model.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*model.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(data []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
