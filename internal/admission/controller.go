package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/account"
	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/model"
)

// Reason names the check that refused a request.
type Reason string

const (
	ReasonTier    Reason = "tier"
	ReasonCredits Reason = "credits"
)

// Denial is returned when a user may not run an operation. It is a normal
// outcome, not an infrastructure failure.
type Denial struct {
	Reason       Reason
	Operation    model.OperationID
	RequiredTier model.Tier
	CurrentTier  model.Tier
	Cost         int
	Remaining    int
}

func (d *Denial) Error() string {
	if d.Reason == ReasonTier {
		return fmt.Sprintf("%s requires the %s plan (current: %s)", d.Operation, d.RequiredTier, d.CurrentTier)
	}
	return fmt.Sprintf("%s costs %d credits, %d remaining this month", d.Operation, d.Cost, d.Remaining)
}

// Request is the input to Authorize.
type Request struct {
	UserID           string
	Operation        *catalog.Operation
	FirstItemContext bool
}

// Grant is a positive decision. It reserves nothing; settlement happens
// after the provider succeeds.
type Grant struct {
	Tier         model.Tier
	Cost         int
	UseAllowance bool
	Period       string
}

// Controller decides whether a request may run.
type Controller struct {
	tiers      account.TierResolver
	credits    account.CreditLedger
	allowances account.AllowanceStore
	now        func() time.Time
	logger     zerolog.Logger
}

func NewController(tiers account.TierResolver, credits account.CreditLedger, allowances account.AllowanceStore, logger zerolog.Logger) *Controller {
	return &Controller{
		tiers:      tiers,
		credits:    credits,
		allowances: allowances,
		now:        time.Now,
		logger:     logger.With().Str("component", "admission").Logger(),
	}
}

// Authorize checks tier first, then the first-item allowance, then the
// monthly credit limit. A *Denial is returned for refusals; any other
// error means a collaborator failed.
func (c *Controller) Authorize(ctx context.Context, req Request) (*Grant, error) {
	op := req.Operation

	tier, err := c.tiers.Tier(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tier: %w", err)
	}
	if tier.Rank() < op.MinimumTier.Rank() {
		return nil, &Denial{
			Reason:       ReasonTier,
			Operation:    op.ID,
			RequiredTier: op.MinimumTier,
			CurrentTier:  tier,
			Cost:         op.CreditCost,
		}
	}

	grant := &Grant{
		Tier:   tier,
		Cost:   op.CreditCost,
		Period: account.Period(c.now()),
	}

	if req.FirstItemContext {
		available, err := c.allowances.AllowanceAvailable(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to read allowance: %w", err)
		}
		if available {
			grant.UseAllowance = true
			return grant, nil
		}
	}

	usage, err := c.credits.Usage(ctx, req.UserID, grant.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	if !usage.Allows(op.CreditCost) {
		c.logger.Debug().
			Str("userId", req.UserID).
			Str("operation", string(op.ID)).
			Int("used", usage.Used).
			Int("limit", usage.Limit).
			Msg("Credit limit reached")
		return nil, &Denial{
			Reason:       ReasonCredits,
			Operation:    op.ID,
			RequiredTier: op.MinimumTier,
			CurrentTier:  tier,
			Cost:         op.CreditCost,
			Remaining:    usage.Remaining(),
		}
	}

	return grant, nil
}
