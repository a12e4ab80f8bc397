package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AccountManager creates accounts lazily and runs account-wide maintenance.
type AccountManager struct {
	store Store
}

func NewAccountManager(store Store) *AccountManager {
	return &AccountManager{store: store}
}

// GetOrCreate returns the child's account, creating it with balance 0 on
// first access. Concurrent first calls converge on the same row.
func (m *AccountManager) GetOrCreate(ctx context.Context, childID uuid.UUID) (*Account, error) {
	if childID == uuid.Nil {
		return nil, ErrAccountNotFound
	}
	return m.store.EnsureAccount(ctx, childID)
}

func (m *AccountManager) Get(ctx context.Context, childID uuid.UUID) (*Account, error) {
	return m.store.GetAccount(ctx, childID)
}

// ResetWeekly zeroes weekly_earned everywhere and reports how many accounts changed.
func (m *AccountManager) ResetWeekly(ctx context.Context) (int64, error) {
	return m.store.ResetWeekly(ctx)
}

// Discrepancy is an account whose cached balance disagrees with its log.
type Discrepancy struct {
	ChildID  uuid.UUID `json:"child_id"`
	Balance  int64     `json:"balance"`
	LogTotal int64     `json:"log_total"`
}

func (d Discrepancy) Error() string {
	return fmt.Sprintf("account %s: balance %d != log total %d", d.ChildID, d.Balance, d.LogTotal)
}

// Verify checks balance == sum(delta) for one account. It returns a
// *Discrepancy error when they differ.
func (m *AccountManager) Verify(ctx context.Context, childID uuid.UUID) (*Account, error) {
	account, err := m.store.GetAccount(ctx, childID)
	if err != nil {
		return nil, err
	}
	total, err := m.store.SumDeltas(ctx, childID)
	if err != nil {
		return nil, err
	}
	if total != account.Balance {
		return account, &Discrepancy{ChildID: childID, Balance: account.Balance, LogTotal: total}
	}
	return account, nil
}
