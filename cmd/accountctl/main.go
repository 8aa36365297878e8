// Command accountctl provisions a user's subscription tier and monthly
// credit limit in the configured account store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapsell/api/internal/account"
	"github.com/snapsell/api/internal/backend"
	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/logging"
	"github.com/snapsell/api/internal/model"
)

func main() {
	var (
		userFlag  string
		tierFlag  string
		limitFlag int
		showFlag  bool
	)

	flag.StringVar(&userFlag, "user", "", "user ID to update")
	flag.StringVar(&tierFlag, "tier", "", "tier to assign (free, starter, pro, business)")
	flag.IntVar(&limitFlag, "limit", -1, "monthly credit limit (negative keeps the tier default)")
	flag.BoolVar(&showFlag, "show", false, "print the account without changing it")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}

	cfg, err := config.Load()
	if err != nil {
		exitWithError(fmt.Errorf("failed to load config: %w", err))
	}
	if cfg.Store.Driver == "memory" {
		exitWithError(errors.New("the memory store is per-process, set STORE_DRIVER to redis or postgres"))
	}

	logger := logging.New(cfg.Server.Env, cfg.Server.LogLevel).With().Str("cmd", "accountctl").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	stores, err := backend.OpenStores(ctx, cfg, redisClient, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to open store: %w", err))
	}
	defer stores.Close()

	if !showFlag {
		tier := model.Tier(strings.ToLower(strings.TrimSpace(tierFlag)))
		if !tier.Valid() {
			exitWithError(fmt.Errorf("unsupported tier %q", tierFlag))
		}

		limit := limitFlag
		if limit < 0 {
			limit = defaultLimit(tier, cfg)
		}

		acct := &account.Account{UserID: userID, Tier: tier, MonthlyLimit: limit}
		if err := stores.Accounts.PutAccount(ctx, acct); err != nil {
			exitWithError(fmt.Errorf("failed to update account: %w", err))
		}
		logger.Info().Str("userId", userID).Str("tier", string(tier)).Int("limit", limit).Msg("Account updated")
	}

	tier, err := stores.Accounts.Tier(ctx, userID)
	if err != nil {
		exitWithError(fmt.Errorf("failed to read tier: %w", err))
	}
	period := account.Period(time.Now())
	usage, err := stores.Accounts.Usage(ctx, userID, period)
	if err != nil {
		exitWithError(fmt.Errorf("failed to read usage: %w", err))
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"userId":    userID,
		"tier":      tier,
		"period":    period,
		"used":      usage.Used,
		"limit":     usage.Limit,
		"remaining": usage.Remaining(),
		"unlimited": usage.Unlimited,
	}, "", "  ")
	fmt.Println(string(out))
}

// defaultLimit picks the monthly allowance sold with each tier.
func defaultLimit(tier model.Tier, cfg *config.Config) int {
	switch tier {
	case model.TierStarter:
		return 100
	case model.TierPro:
		return 500
	case model.TierBusiness:
		if cfg.Credits.UnlimitedThreshold > 0 {
			return cfg.Credits.UnlimitedThreshold
		}
		return 5000
	}
	return cfg.Credits.DefaultMonthlyLimit
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "accountctl:", err)
	os.Exit(1)
}
