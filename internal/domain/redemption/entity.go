package redemption

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/catalog"
)

// Status is the redemption lifecycle state.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusFulfilled Status = "fulfilled"
	StatusCanceled  Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusFulfilled, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusCanceled
}

// CanTransition reports whether from -> to is an edge of the lifecycle:
// requested -> approved -> fulfilled, and requested|approved -> canceled.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusRequested:
		return to == StatusApproved || to == StatusCanceled
	case StatusApproved:
		return to == StatusFulfilled || to == StatusCanceled
	}
	return false
}

// Redemption is one purchase of qty units of a shop item.
type Redemption struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	AccountID      uuid.UUID  `db:"account_id" json:"child_id"`
	ItemID         uuid.UUID  `db:"item_id" json:"item_id"`
	Qty            int64      `db:"qty" json:"qty"`
	TotalCost      int64      `db:"total_cost" json:"total_cost"`
	Status         Status     `db:"status" json:"status"`
	ActorID        *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	IdempotencyKey *string    `db:"idempotency_key" json:"-"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	RequestedAt    time.Time  `db:"requested_at" json:"requested_at"`
	ApprovedAt     *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	FulfilledAt    *time.Time `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	CanceledAt     *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`
}

// RefID is the ledger reference shared by the purchase debit and any refund.
func (r Redemption) RefID() string {
	return r.ID.String()
}

// Stamp moves r to status and sets the matching timestamp.
func (r *Redemption) Stamp(to Status, at time.Time) {
	r.Status = to
	switch to {
	case StatusApproved:
		r.ApprovedAt = &at
	case StatusFulfilled:
		r.FulfilledAt = &at
	case StatusCanceled:
		r.CanceledAt = &at
	}
}

// WithItem is a redemption joined with the item it bought.
type WithItem struct {
	Redemption
	ItemName     string `db:"item_name" json:"item_name"`
	ItemCategory string `db:"item_category" json:"item_category"`
}

// NewRedemption is the input to Store.Create.
type NewRedemption struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	ItemID         uuid.UUID
	Qty            int64
	ActorID        *uuid.UUID
	IdempotencyKey string
}

// TransitionInput is the input to Store.Transition.
type TransitionInput struct {
	ID      uuid.UUID
	To      Status
	ActorID *uuid.UUID
	Notes   string
}

// RefTable is the ledger ref_table for redemption rows.
const RefTable = "redemptions"

// TotalCost is price * qty, rejecting non-positive quantities and overflow.
func TotalCost(price, qty int64) (int64, error) {
	if qty < 1 || price <= 0 {
		return 0, ErrInvalidQuantity
	}
	if price > math.MaxInt64/qty {
		return 0, ErrInvalidQuantity
	}
	return price * qty, nil
}

// CheckItem validates that qty units of item can be redeemed right now and
// returns the total cost. Callers hold the item lock.
func CheckItem(item *catalog.ShopItem, qty int64) (int64, error) {
	if !item.IsActive {
		return 0, catalog.ErrItemInactive
	}
	total, err := TotalCost(item.Price, qty)
	if err != nil {
		return 0, err
	}
	if item.InventoryQty != nil && *item.InventoryQty < qty {
		return 0, ErrInsufficientInventory
	}
	return total, nil
}
