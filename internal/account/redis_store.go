package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapsell/api/internal/model"
)

// Usage counters outlive the month so past periods remain readable.
const usageRetention = 400 * 24 * time.Hour

// debitScript sums the period's category counters and increments one of
// them only if the total stays within the limit.
//
// KEYS[1] usage hash, KEYS[2] account hash
// ARGV[1] category, ARGV[2] cost, ARGV[3] default limit,
// ARGV[4] unlimited threshold, ARGV[5] retention seconds
var debitScript = redis.NewScript(`
local limit = tonumber(redis.call('HGET', KEYS[2], 'monthly_limit') or ARGV[3])
local cost = tonumber(ARGV[2])
local unlimited = tonumber(ARGV[4])
local used = 0
local vals = redis.call('HVALS', KEYS[1])
for i = 1, #vals do
  used = used + tonumber(vals[i])
end
if (unlimited <= 0 or limit < unlimited) and used + cost > limit then
  return {0, used, limit}
end
redis.call('HINCRBY', KEYS[1], ARGV[1], cost)
redis.call('EXPIRE', KEYS[1], ARGV[5])
return {1, used + cost, limit}
`)

// RedisStore keeps accounts in Redis hashes.
type RedisStore struct {
	redis    *redis.Client
	defaults Defaults
}

func NewRedisStore(redisClient *redis.Client, defaults Defaults) *RedisStore {
	return &RedisStore{redis: redisClient, defaults: defaults}
}

func accountKey(userID string) string {
	return fmt.Sprintf("account:%s", userID)
}

func usageKey(userID, period string) string {
	return fmt.Sprintf("credits:%s:%s", userID, period)
}

func (s *RedisStore) PutAccount(ctx context.Context, acct *Account) error {
	return s.redis.HSet(ctx, accountKey(acct.UserID),
		"tier", string(acct.Tier),
		"monthly_limit", acct.MonthlyLimit,
	).Err()
}

func (s *RedisStore) Tier(ctx context.Context, userID string) (model.Tier, error) {
	tier, err := s.redis.HGet(ctx, accountKey(userID), "tier").Result()
	if errors.Is(err, redis.Nil) {
		return s.defaults.Tier, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tier: %w", err)
	}
	return model.Tier(tier), nil
}

func (s *RedisStore) Usage(ctx context.Context, userID, period string) (*Usage, error) {
	counters, err := s.redis.HVals(ctx, usageKey(userID, period)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	used := 0
	for _, v := range counters {
		n, _ := strconv.Atoi(v)
		used += n
	}

	limit := s.defaults.MonthlyLimit
	raw, err := s.redis.HGet(ctx, accountKey(userID), "monthly_limit").Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("failed to read limit: %w", err)
	default:
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			limit = n
		}
	}

	return s.defaults.usage(used, limit), nil
}

func (s *RedisStore) Debit(ctx context.Context, userID, period string, category model.UsageCategory, cost int) (*Usage, error) {
	res, err := debitScript.Run(ctx, s.redis,
		[]string{usageKey(userID, period), accountKey(userID)},
		string(category), cost, s.defaults.MonthlyLimit, s.defaults.UnlimitedThreshold, int(usageRetention.Seconds()),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to debit credits: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected debit reply %v", res)
	}

	u := s.defaults.usage(int(res[1]), int(res[2]))
	if res[0] == 0 {
		return u, ErrLimitExceeded
	}
	return u, nil
}

func (s *RedisStore) AllowanceAvailable(ctx context.Context, userID string) (bool, error) {
	used, err := s.redis.HExists(ctx, accountKey(userID), "first_item_used_at").Result()
	if err != nil {
		return false, fmt.Errorf("failed to read allowance: %w", err)
	}
	return !used, nil
}

func (s *RedisStore) ConsumeAllowance(ctx context.Context, userID string) (bool, error) {
	flipped, err := s.redis.HSetNX(ctx, accountKey(userID), "first_item_used_at", time.Now().UTC().Format(time.RFC3339)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume allowance: %w", err)
	}
	return flipped, nil
}
