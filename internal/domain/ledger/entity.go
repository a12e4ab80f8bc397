package ledger

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/pkg/validator"
)

// Reason is the closed set of causes a ledger row may record.
type Reason string

const (
	ReasonActivityComplete Reason = "activity_complete"
	ReasonWeeklyGoal       Reason = "weekly_goal"
	ReasonHelpfulAnswer    Reason = "helpful_answer"
	ReasonPostLike         Reason = "post_like"
	ReasonEngagementBonus  Reason = "engagement_bonus"
	ReasonPurchase         Reason = "purchase"
	ReasonGift             Reason = "gift"
	ReasonRefund           Reason = "refund"
)

// Reasons lists every valid reason in a stable order.
var Reasons = []Reason{
	ReasonActivityComplete,
	ReasonWeeklyGoal,
	ReasonHelpfulAnswer,
	ReasonPostLike,
	ReasonEngagementBonus,
	ReasonPurchase,
	ReasonGift,
	ReasonRefund,
}

func init() {
	names := make([]string, len(Reasons))
	for i, r := range Reasons {
		names[i] = string(r)
	}
	validator.RegisterOneOf("token_reason", names)
}

func (r Reason) Valid() bool {
	switch r {
	case ReasonActivityComplete, ReasonWeeklyGoal, ReasonHelpfulAnswer, ReasonPostLike,
		ReasonEngagementBonus, ReasonPurchase, ReasonGift, ReasonRefund:
		return true
	}
	return false
}

// IsEarning reports whether credits with this reason count toward weekly_earned.
// Purchases and their refunds move tokens without earning them.
func (r Reason) IsEarning() bool {
	switch r {
	case ReasonPurchase, ReasonRefund:
		return false
	}
	return r.Valid()
}

// Account is the per-child token balance row.
type Account struct {
	ChildID        uuid.UUID `db:"child_id" json:"child_id"`
	Balance        int64     `db:"balance" json:"balance"`
	WeeklyEarned   int64     `db:"weekly_earned" json:"weekly_earned"`
	RankPercentile *float64  `db:"rank_percentile" json:"rank_percentile,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	AccountID uuid.UUID  `db:"account_id" json:"account_id"`
	Delta     int64      `db:"delta" json:"delta"`
	Reason    Reason     `db:"reason" json:"reason"`
	RefTable  *string    `db:"ref_table" json:"ref_table,omitempty"`
	RefID     *string    `db:"ref_id" json:"ref_id,omitempty"`
	ActorID   *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	Memo      *string    `db:"memo" json:"memo,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Entry is a requested balance mutation.
type Entry struct {
	AccountID uuid.UUID
	Delta     int64
	Reason    Reason
	RefTable  string
	RefID     string
	ActorID   *uuid.UUID
	Memo      string
}

// HasRef reports whether the entry carries an idempotency reference.
func (e Entry) HasRef() bool {
	return e.RefID != ""
}

// Validate checks the entry shape; balance checks happen under the account lock.
func (e Entry) Validate() error {
	if e.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if e.Delta == 0 {
		return ErrInvalidAmount
	}
	if !e.Reason.Valid() {
		return ErrInvalidReason
	}
	if (e.RefTable == "") != (e.RefID == "") {
		return ErrInvalidReference
	}
	return nil
}

// Result is what a successful Apply reports back.
type Result struct {
	Transaction *Transaction `json:"transaction"`
	Balance     int64        `json:"balance"`
	// Duplicate is set when the reference had already been applied;
	// Transaction is then the original row and nothing new was written.
	Duplicate bool `json:"duplicate"`
}

// Cursor marks a position in an account's newest-first log.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Admits reports whether t sorts strictly after the cursor in newest-first
// order, i.e. whether it belongs on the next page.
func (c Cursor) Admits(t Transaction) bool {
	if t.CreatedAt.Equal(c.CreatedAt) {
		return compareUUID(t.ID, c.ID) < 0
	}
	return t.CreatedAt.Before(c.CreatedAt)
}

// NextBalance applies delta to balance, enforcing the non-negative invariant.
func NextBalance(balance, delta int64) (int64, error) {
	if delta == 0 {
		return 0, ErrInvalidAmount
	}
	next := balance + delta
	if delta > 0 && next < balance {
		return 0, ErrInvalidAmount
	}
	if next < 0 {
		return 0, ErrInsufficientFunds
	}
	return next, nil
}

// WeeklyIncrement is how much a row adds to weekly_earned.
func WeeklyIncrement(reason Reason, delta int64) int64 {
	if delta > 0 && reason.IsEarning() {
		return delta
	}
	return 0
}

// compareUUID matches PostgreSQL's uuid ordering (bytewise).
func compareUUID(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// CompareNewestFirst orders transactions newest first, ties by id descending.
func CompareNewestFirst(a, b Transaction) int {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	}
	return -compareUUID(a.ID, b.ID)
}
