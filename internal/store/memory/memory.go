// Package memory is an in-process implementation of the ledger, catalog and
// redemption stores. Every operation runs under one mutex, which gives the
// same atomicity and serialization the PostgreSQL repositories get from row
// locks. It backs local runs without DATABASE_URL and the service tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/catalog"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/redemption"
)

type refKey struct {
	account  uuid.UUID
	refTable string
	refID    string
	reason   ledger.Reason
}

type idempotencyKey struct {
	account uuid.UUID
	key     string
}

// Store holds all state. Use Ledger, Catalog and Redemptions for the typed views.
type Store struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*ledger.Account
	transactions map[uuid.UUID][]ledger.Transaction
	refs         map[refKey]ledger.Transaction

	items       map[uuid.UUID]*catalog.ShopItem
	redemptions map[uuid.UUID]*redemption.Redemption
	keys        map[idempotencyKey]uuid.UUID

	last time.Time
	now  func() time.Time
}

func New() *Store {
	return &Store{
		accounts:     make(map[uuid.UUID]*ledger.Account),
		transactions: make(map[uuid.UUID][]ledger.Transaction),
		refs:         make(map[refKey]ledger.Transaction),
		items:        make(map[uuid.UUID]*catalog.ShopItem),
		redemptions:  make(map[uuid.UUID]*redemption.Redemption),
		keys:         make(map[idempotencyKey]uuid.UUID),
		now:          time.Now,
	}
}

func (s *Store) Ledger() *LedgerStore          { return &LedgerStore{s: s} }
func (s *Store) Catalog() *CatalogStore        { return &CatalogStore{s: s} }
func (s *Store) Redemptions() *RedemptionStore { return &RedemptionStore{s: s} }

// tick returns a strictly increasing microsecond timestamp, matching the
// resolution of timestamptz.
func (s *Store) tick() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// LedgerStore implements ledger.Store.
type LedgerStore struct {
	s *Store
}

var _ ledger.Store = (*LedgerStore)(nil)

func (l *LedgerStore) EnsureAccount(_ context.Context, childID uuid.UUID) (*ledger.Account, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	account, ok := l.s.accounts[childID]
	if !ok {
		now := l.s.tick()
		account = &ledger.Account{ChildID: childID, CreatedAt: now, UpdatedAt: now}
		l.s.accounts[childID] = account
	}
	out := *account
	return &out, nil
}

func (l *LedgerStore) GetAccount(_ context.Context, childID uuid.UUID) (*ledger.Account, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	account, ok := l.s.accounts[childID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	out := *account
	return &out, nil
}

func (l *LedgerStore) Apply(_ context.Context, entry ledger.Entry) (*ledger.Result, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.applyLocked(entry)
}

func (l *LedgerStore) ListTransactions(_ context.Context, childID uuid.UUID, after *ledger.Cursor, limit int) ([]ledger.Transaction, error) {
	l.s.mu.Lock()
	rows := slices.Clone(l.s.transactions[childID])
	l.s.mu.Unlock()

	slices.SortFunc(rows, ledger.CompareNewestFirst)

	out := make([]ledger.Transaction, 0, limit)
	for _, row := range rows {
		if len(out) == limit {
			break
		}
		if after != nil && !after.Admits(row) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (l *LedgerStore) SumDeltas(_ context.Context, childID uuid.UUID) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var sum int64
	for _, row := range l.s.transactions[childID] {
		sum += row.Delta
	}
	return sum, nil
}

func (l *LedgerStore) ResetWeekly(_ context.Context) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var n int64
	now := l.s.tick()
	for _, account := range l.s.accounts {
		if account.WeeklyEarned != 0 {
			account.WeeklyEarned = 0
			account.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// applyLocked is the single in-memory write path; callers hold s.mu.
func (s *Store) applyLocked(entry ledger.Entry) (*ledger.Result, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	account, ok := s.accounts[entry.AccountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}

	key := refKey{account: entry.AccountID, refTable: entry.RefTable, refID: entry.RefID, reason: entry.Reason}
	if entry.HasRef() {
		if existing, dup := s.refs[key]; dup {
			out := existing
			return &ledger.Result{Transaction: &out, Balance: account.Balance, Duplicate: true}, nil
		}
	}

	next, err := ledger.NextBalance(account.Balance, entry.Delta)
	if err != nil {
		return nil, err
	}

	txn := ledger.Transaction{
		ID:        uuid.New(),
		AccountID: entry.AccountID,
		Delta:     entry.Delta,
		Reason:    entry.Reason,
		RefTable:  optional(entry.RefTable),
		RefID:     optional(entry.RefID),
		Memo:      optional(entry.Memo),
		CreatedAt: s.tick(),
	}
	if entry.ActorID != nil {
		actor := *entry.ActorID
		txn.ActorID = &actor
	}

	s.transactions[entry.AccountID] = append(s.transactions[entry.AccountID], txn)
	if entry.HasRef() {
		s.refs[key] = txn
	}
	account.Balance = next
	account.WeeklyEarned += ledger.WeeklyIncrement(entry.Reason, entry.Delta)
	account.UpdatedAt = txn.CreatedAt

	out := txn
	return &ledger.Result{Transaction: &out, Balance: next}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
