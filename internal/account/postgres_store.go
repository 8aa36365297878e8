package account

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapsell/api/internal/model"
)

// PostgresStore keeps accounts in the accounts and credit_usage tables.
type PostgresStore struct {
	pool     *pgxpool.Pool
	defaults Defaults
}

func NewPostgresStore(pool *pgxpool.Pool, defaults Defaults) *PostgresStore {
	return &PostgresStore{pool: pool, defaults: defaults}
}

const qEnsureAccount = `
INSERT INTO accounts (user_id, tier, monthly_limit)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO NOTHING;
`

func (s *PostgresStore) PutAccount(ctx context.Context, acct *Account) error {
	query := `
INSERT INTO accounts (user_id, tier, monthly_limit)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE
SET tier = EXCLUDED.tier,
    monthly_limit = EXCLUDED.monthly_limit,
    updated_at = NOW();
`
	_, err := s.pool.Exec(ctx, query, acct.UserID, string(acct.Tier), acct.MonthlyLimit)
	return err
}

func (s *PostgresStore) Tier(ctx context.Context, userID string) (model.Tier, error) {
	var tier string
	err := s.pool.QueryRow(ctx, `SELECT tier FROM accounts WHERE user_id = $1;`, userID).Scan(&tier)
	if err == pgx.ErrNoRows {
		return s.defaults.Tier, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tier: %w", err)
	}
	return model.Tier(tier), nil
}

func (s *PostgresStore) Usage(ctx context.Context, userID, period string) (*Usage, error) {
	query := `
SELECT COALESCE((SELECT monthly_limit FROM accounts WHERE user_id = $1), $3),
       COALESCE((SELECT SUM(used) FROM credit_usage WHERE user_id = $1 AND period = $2), 0);
`
	var limit, used int
	if err := s.pool.QueryRow(ctx, query, userID, period, s.defaults.MonthlyLimit).Scan(&limit, &used); err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	return s.defaults.usage(used, limit), nil
}

// Debit locks the account row so concurrent debits for one user serialize
// on the limit check.
func (s *PostgresStore) Debit(ctx context.Context, userID, period string, category model.UsageCategory, cost int) (*Usage, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, qEnsureAccount, userID, string(s.defaults.Tier), s.defaults.MonthlyLimit); err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}

	var limit int
	if err := tx.QueryRow(ctx, `SELECT monthly_limit FROM accounts WHERE user_id = $1 FOR UPDATE;`, userID).Scan(&limit); err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	var used int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(used), 0) FROM credit_usage WHERE user_id = $1 AND period = $2;`,
		userID, period,
	).Scan(&used); err != nil {
		return nil, fmt.Errorf("failed to sum usage: %w", err)
	}

	u := s.defaults.usage(used, limit)
	if !u.Allows(cost) {
		return u, ErrLimitExceeded
	}

	query := `
INSERT INTO credit_usage (user_id, period, category, used)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, period, category) DO UPDATE
SET used = credit_usage.used + EXCLUDED.used;
`
	if _, err := tx.Exec(ctx, query, userID, period, string(category), cost); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}

	u.Used += cost
	return u, nil
}

func (s *PostgresStore) AllowanceAvailable(ctx context.Context, userID string) (bool, error) {
	var used bool
	err := s.pool.QueryRow(ctx,
		`SELECT first_item_used_at IS NOT NULL FROM accounts WHERE user_id = $1;`, userID,
	).Scan(&used)
	if err == pgx.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read allowance: %w", err)
	}
	return !used, nil
}

func (s *PostgresStore) ConsumeAllowance(ctx context.Context, userID string) (bool, error) {
	if _, err := s.pool.Exec(ctx, qEnsureAccount, userID, string(s.defaults.Tier), s.defaults.MonthlyLimit); err != nil {
		return false, fmt.Errorf("failed to ensure account: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE accounts
SET first_item_used_at = NOW(), updated_at = NOW()
WHERE user_id = $1 AND first_item_used_at IS NULL;
`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to consume allowance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
