package account

import (
	"context"
	"errors"
	"time"

	"github.com/snapsell/api/internal/model"
)

// ErrLimitExceeded is returned by Debit when the charge would exceed the
// monthly limit. Nothing is written in that case.
var ErrLimitExceeded = errors.New("monthly credit limit exceeded")

// Account is the billing view of a user, provisioned by the billing system.
type Account struct {
	UserID       string     `json:"userId"`
	Tier         model.Tier `json:"tier"`
	MonthlyLimit int        `json:"monthlyLimit"`
}

// Defaults apply to users without a provisioned account.
type Defaults struct {
	Tier               model.Tier
	MonthlyLimit       int
	UnlimitedThreshold int
}

// Usage is a snapshot of one user's monthly consumption.
type Usage struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}

// Remaining credits, or -1 when unlimited.
func (u *Usage) Remaining() int {
	if u.Unlimited {
		return -1
	}
	if r := u.Limit - u.Used; r > 0 {
		return r
	}
	return 0
}

// Allows reports whether a charge of cost fits in the snapshot.
func (u *Usage) Allows(cost int) bool {
	return u.Unlimited || u.Used+cost <= u.Limit
}

// TierResolver maps a user to a subscription tier.
type TierResolver interface {
	Tier(ctx context.Context, userID string) (model.Tier, error)
}

// CreditLedger tracks monthly usage per category.
type CreditLedger interface {
	Usage(ctx context.Context, userID, period string) (*Usage, error)
	// Debit atomically adds cost to the category counter if the monthly
	// total stays within the limit, otherwise returns ErrLimitExceeded.
	Debit(ctx context.Context, userID, period string, category model.UsageCategory, cost int) (*Usage, error)
}

// AllowanceStore holds the one-shot first-item allowance.
type AllowanceStore interface {
	AllowanceAvailable(ctx context.Context, userID string) (bool, error)
	// ConsumeAllowance flips the allowance and reports whether this call
	// was the one that flipped it.
	ConsumeAllowance(ctx context.Context, userID string) (bool, error)
}

// Store is implemented by every backend.
type Store interface {
	TierResolver
	CreditLedger
	AllowanceStore
	PutAccount(ctx context.Context, acct *Account) error
}

// Period returns the billing month containing t.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (d Defaults) usage(used, limit int) *Usage {
	return &Usage{
		Used:      used,
		Limit:     limit,
		Unlimited: d.UnlimitedThreshold > 0 && limit >= d.UnlimitedThreshold,
	}
}
