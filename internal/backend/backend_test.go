package backend

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/account"
	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/ledger"
	"github.com/snapsell/api/internal/model"
)

func testConfig(driver string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: driver},
		Credits: config.CreditsConfig{
			DefaultTier:         "free",
			DefaultMonthlyLimit: 5,
			UnlimitedThreshold:  999999,
		},
	}
}

func TestOpenStores_Memory(t *testing.T) {
	stores, err := OpenStores(context.Background(), testConfig("memory"), nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer stores.Close()

	if _, ok := stores.Accounts.(*account.MemoryStore); !ok {
		t.Errorf("expected memory account store, got %T", stores.Accounts)
	}
	if _, ok := stores.Jobs.(*ledger.MemoryStore); !ok {
		t.Errorf("expected memory job store, got %T", stores.Jobs)
	}

	tier, err := stores.Accounts.Tier(context.Background(), "new-user")
	if err != nil || tier != model.TierFree {
		t.Errorf("expected default tier free, got %q (%v)", tier, err)
	}
}

func TestOpenStores_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := OpenStores(ctx, testConfig("cassandra"), nil, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := OpenStores(ctx, testConfig("redis"), nil, zerolog.Nop()); err == nil {
		t.Error("expected error for redis without client")
	}
	if _, err := OpenStores(ctx, testConfig("postgres"), nil, zerolog.Nop()); err == nil {
		t.Error("expected error for postgres without DATABASE_URL")
	}

	cfg := testConfig("memory")
	cfg.Credits.DefaultTier = "platinum"
	if _, err := OpenStores(ctx, cfg, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown default tier")
	}
}
