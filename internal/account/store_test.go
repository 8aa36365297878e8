package account

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/database"
	"github.com/snapsell/api/internal/model"
)

var testDefaults = Defaults{Tier: model.TierFree, MonthlyLimit: 5, UnlimitedThreshold: 999999}

const testPeriod = "2026-10"

// runStoreSuite exercises behavior every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("unknown user gets defaults", func(t *testing.T) {
		s := newStore(t)
		uid := "u-" + uuid.NewString()

		tier, err := s.Tier(ctx, uid)
		if err != nil || tier != model.TierFree {
			t.Fatalf("Tier = %q, %v", tier, err)
		}
		u, err := s.Usage(ctx, uid, testPeriod)
		if err != nil {
			t.Fatal(err)
		}
		if u.Used != 0 || u.Limit != 5 || u.Unlimited {
			t.Errorf("unexpected usage %+v", u)
		}
		ok, err := s.AllowanceAvailable(ctx, uid)
		if err != nil || !ok {
			t.Errorf("allowance should be available for a new user: %v %v", ok, err)
		}
	})

	t.Run("debit sums categories against the limit", func(t *testing.T) {
		s := newStore(t)
		uid := "u-" + uuid.NewString()

		if _, err := s.Debit(ctx, uid, testPeriod, model.CategoryPhotoEdits, 2); err != nil {
			t.Fatal(err)
		}
		u, err := s.Debit(ctx, uid, testPeriod, model.CategoryModelShots, 3)
		if err != nil {
			t.Fatal(err)
		}
		if u.Used != 5 {
			t.Errorf("expected 5 used, got %d", u.Used)
		}

		u, err = s.Debit(ctx, uid, testPeriod, model.CategoryPhotoEdits, 1)
		if !errors.Is(err, ErrLimitExceeded) {
			t.Fatalf("expected ErrLimitExceeded, got %v", err)
		}
		if u == nil || u.Used != 5 {
			t.Errorf("refused debit must not change usage: %+v", u)
		}

		u, _ = s.Usage(ctx, uid, testPeriod)
		if u.Used != 5 || u.Remaining() != 0 {
			t.Errorf("unexpected usage after refusal %+v", u)
		}

		other, _ := s.Usage(ctx, uid, "2026-11")
		if other.Used != 0 {
			t.Errorf("usage leaked into next period: %+v", other)
		}
	})

	t.Run("unlimited accounts are never refused", func(t *testing.T) {
		s := newStore(t)
		uid := "u-" + uuid.NewString()
		if err := s.PutAccount(ctx, &Account{UserID: uid, Tier: model.TierBusiness, MonthlyLimit: 999999}); err != nil {
			t.Fatal(err)
		}
		tier, _ := s.Tier(ctx, uid)
		if tier != model.TierBusiness {
			t.Errorf("expected business tier, got %q", tier)
		}
		for i := 0; i < 3; i++ {
			if _, err := s.Debit(ctx, uid, testPeriod, model.CategoryModelShots, 3); err != nil {
				t.Fatalf("debit %d: %v", i, err)
			}
		}
		u, _ := s.Usage(ctx, uid, testPeriod)
		if !u.Unlimited || u.Remaining() != -1 {
			t.Errorf("expected unlimited usage, got %+v", u)
		}
	})

	t.Run("concurrent debits never exceed the limit", func(t *testing.T) {
		s := newStore(t)
		uid := "u-" + uuid.NewString()

		var wg sync.WaitGroup
		var granted int32
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Debit(ctx, uid, testPeriod, model.CategoryPhotoEdits, 1); err == nil {
					atomic.AddInt32(&granted, 1)
				}
			}()
		}
		wg.Wait()

		if granted != 5 {
			t.Errorf("expected exactly 5 debits granted, got %d", granted)
		}
		u, _ := s.Usage(ctx, uid, testPeriod)
		if u.Used != 5 {
			t.Errorf("expected 5 used, got %d", u.Used)
		}
	})

	t.Run("allowance flips exactly once", func(t *testing.T) {
		s := newStore(t)
		uid := "u-" + uuid.NewString()

		var wg sync.WaitGroup
		var flips int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := s.ConsumeAllowance(ctx, uid); err == nil && ok {
					atomic.AddInt32(&flips, 1)
				}
			}()
		}
		wg.Wait()

		if flips != 1 {
			t.Errorf("expected one flip, got %d", flips)
		}
		ok, _ := s.AllowanceAvailable(ctx, uid)
		if ok {
			t.Error("allowance still available after consumption")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore(testDefaults)
	})
}

func TestRedisStore(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	runStoreSuite(t, func(t *testing.T) Store {
		return NewRedisStore(rdb, testDefaults)
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.Open(ctx, dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.Migrate(ctx, pool, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runStoreSuite(t, func(t *testing.T) Store {
		return NewPostgresStore(pool, testDefaults)
	})
}

func TestUsage_Remaining(t *testing.T) {
	tests := []struct {
		u    Usage
		want int
	}{
		{Usage{Used: 2, Limit: 5}, 3},
		{Usage{Used: 7, Limit: 5}, 0},
		{Usage{Used: 7, Limit: 5, Unlimited: true}, -1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%+v", tt.u), func(t *testing.T) {
			if got := tt.u.Remaining(); got != tt.want {
				t.Errorf("Remaining() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	if got := Period(time.Date(2026, 11, 1, 1, 0, 0, 0, loc)); got != "2026-10" {
		t.Errorf("Period should use UTC, got %q", got)
	}
}
