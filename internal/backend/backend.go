package backend

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/account"
	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/database"
	"github.com/snapsell/api/internal/ledger"
	"github.com/snapsell/api/internal/model"
)

// Stores are the account and job backends selected by configuration.
type Stores struct {
	Accounts account.Store
	Jobs     ledger.Store
	close    func()
}

// Close releases the backend connections.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// Defaults builds the account defaults from the credit configuration.
func Defaults(cfg *config.CreditsConfig) (account.Defaults, error) {
	d := account.Defaults{
		Tier:               model.Tier(cfg.DefaultTier),
		MonthlyLimit:       cfg.DefaultMonthlyLimit,
		UnlimitedThreshold: cfg.UnlimitedThreshold,
	}
	if !d.Tier.Valid() {
		return d, fmt.Errorf("unknown default tier %q", cfg.DefaultTier)
	}
	if d.MonthlyLimit < 0 {
		return d, fmt.Errorf("default monthly limit must not be negative")
	}
	return d, nil
}

// OpenStores opens the backend named by cfg.Store.Driver: memory, redis or
// postgres. The postgres schema is migrated on open.
func OpenStores(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) (*Stores, error) {
	defaults, err := Defaults(&cfg.Credits)
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "memory":
		logger.Warn().Msg("Using in-memory stores, jobs and credits are lost on restart")
		return &Stores{
			Accounts: account.NewMemoryStore(defaults),
			Jobs:     ledger.NewMemoryStore(),
		}, nil

	case "redis", "":
		if redisClient == nil {
			return nil, fmt.Errorf("redis store needs a redis client")
		}
		return &Stores{
			Accounts: account.NewRedisStore(redisClient, defaults),
			Jobs:     ledger.NewRedisStore(redisClient, ledger.DefaultRetention),
		}, nil

	case "postgres":
		if cfg.Store.PostgresURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		pool, err := database.Open(ctx, cfg.Store.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
		return &Stores{
			Accounts: account.NewPostgresStore(pool, defaults),
			Jobs:     ledger.NewPostgresStore(pool),
			close:    pool.Close,
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
