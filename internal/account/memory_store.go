package account

import (
	"context"
	"sync"

	"github.com/snapsell/api/internal/model"
)

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	defaults   Defaults
	accounts   map[string]Account
	usage      map[string]map[model.UsageCategory]int
	allowances map[string]bool
}

func NewMemoryStore(defaults Defaults) *MemoryStore {
	return &MemoryStore{
		defaults:   defaults,
		accounts:   make(map[string]Account),
		usage:      make(map[string]map[model.UsageCategory]int),
		allowances: make(map[string]bool),
	}
}

func (s *MemoryStore) PutAccount(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.UserID] = *acct
	return nil
}

func (s *MemoryStore) Tier(ctx context.Context, userID string) (model.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account(userID).Tier, nil
}

func (s *MemoryStore) Usage(ctx context.Context, userID, period string) (*Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults.usage(s.used(userID, period), s.account(userID).MonthlyLimit), nil
}

func (s *MemoryStore) Debit(ctx context.Context, userID, period string, category model.UsageCategory, cost int) (*Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.defaults.usage(s.used(userID, period), s.account(userID).MonthlyLimit)
	if !u.Allows(cost) {
		return u, ErrLimitExceeded
	}

	key := userID + "|" + period
	if s.usage[key] == nil {
		s.usage[key] = make(map[model.UsageCategory]int)
	}
	s.usage[key][category] += cost
	u.Used += cost
	return u, nil
}

func (s *MemoryStore) AllowanceAvailable(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.allowances[userID], nil
}

func (s *MemoryStore) ConsumeAllowance(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowances[userID] {
		return false, nil
	}
	s.allowances[userID] = true
	return true, nil
}

// CategoryUsage returns one category counter, for inspection in tests.
func (s *MemoryStore) CategoryUsage(userID, period string, category model.UsageCategory) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[userID+"|"+period][category]
}

// account and used expect s.mu to be held.
func (s *MemoryStore) account(userID string) Account {
	if acct, ok := s.accounts[userID]; ok {
		return acct
	}
	return Account{UserID: userID, Tier: s.defaults.Tier, MonthlyLimit: s.defaults.MonthlyLimit}
}

func (s *MemoryStore) used(userID, period string) int {
	total := 0
	for _, n := range s.usage[userID+"|"+period] {
		total += n
	}
	return total
}
