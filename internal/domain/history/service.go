// Package history reports balances and the paginated transaction log.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/ledger"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	summarySize  = 10
)

// BalanceView is the child-facing account snapshot.
type BalanceView struct {
	ChildID        uuid.UUID `json:"child_id"`
	Balance        int64     `json:"balance"`
	WeeklyEarned   int64     `json:"weekly_earned"`
	RankPercentile *float64  `json:"rank_percentile,omitempty"`
}

// Entry is a transaction with its display description.
type Entry struct {
	ID          uuid.UUID     `json:"id"`
	Delta       int64         `json:"delta"`
	Reason      ledger.Reason `json:"reason"`
	RefTable    *string       `json:"ref_table,omitempty"`
	RefID       *string       `json:"ref_id,omitempty"`
	Memo        *string       `json:"memo,omitempty"`
	Description string        `json:"description"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Page is one slice of history, newest first.
type Page struct {
	Transactions []Entry `json:"transactions"`
	NextCursor   *string `json:"next_cursor"`
	HasMore      bool    `json:"has_more"`
}

// Summary is the balance plus the most recent activity.
type Summary struct {
	BalanceView
	RecentTransactions []Entry `json:"recent_transactions"`
}

type Service struct {
	store        ledger.Store
	accounts     *ledger.AccountManager
	defaultLimit int
}

func NewService(store ledger.Store, accounts *ledger.AccountManager, defaultLimit int) *Service {
	if defaultLimit < 1 || defaultLimit > MaxLimit {
		defaultLimit = DefaultLimit
	}
	return &Service{store: store, accounts: accounts, defaultLimit: defaultLimit}
}

// Balance returns the account snapshot, creating the account on first access.
func (s *Service) Balance(ctx context.Context, childID uuid.UUID) (*BalanceView, error) {
	account, err := s.accounts.GetOrCreate(ctx, childID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{
		ChildID:        account.ChildID,
		Balance:        account.Balance,
		WeeklyEarned:   account.WeeklyEarned,
		RankPercentile: account.RankPercentile,
	}, nil
}

// History returns up to limit transactions strictly after cursor (empty for
// the first page). limit outside 1..100 falls back to the default or clamps.
func (s *Service) History(ctx context.Context, childID uuid.UUID, limit int, cursor string) (*Page, error) {
	limit = s.clamp(limit)

	var after *ledger.Cursor
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		after = c
	}

	if _, err := s.accounts.GetOrCreate(ctx, childID); err != nil {
		return nil, err
	}

	rows, err := s.store.ListTransactions(ctx, childID, after, limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{Transactions: make([]Entry, 0, limit)}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	for _, row := range rows {
		page.Transactions = append(page.Transactions, describe(row))
	}
	if page.HasMore {
		next := EncodeCursor(rows[len(rows)-1])
		page.NextCursor = &next
	}
	return page, nil
}

// Summary is Balance plus the ten most recent transactions.
func (s *Service) Summary(ctx context.Context, childID uuid.UUID) (*Summary, error) {
	view, err := s.Balance(ctx, childID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListTransactions(ctx, childID, nil, summarySize)
	if err != nil {
		return nil, err
	}

	recent := make([]Entry, 0, len(rows))
	for _, row := range rows {
		recent = append(recent, describe(row))
	}
	return &Summary{BalanceView: *view, RecentTransactions: recent}, nil
}

func (s *Service) clamp(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func describe(t ledger.Transaction) Entry {
	return Entry{
		ID:          t.ID,
		Delta:       t.Delta,
		Reason:      t.Reason,
		RefTable:    t.RefTable,
		RefID:       t.RefID,
		Memo:        t.Memo,
		Description: ledger.Describe(t.Reason, t.Delta),
		CreatedAt:   t.CreatedAt,
	}
}
