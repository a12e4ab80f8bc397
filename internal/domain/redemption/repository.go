package redemption

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reach/reach-api/internal/domain/catalog"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/pkg/database"
)

const queryTimeout = 5 * time.Second

// Store persists redemptions. Create and Transition are each one atomic unit
// covering the redemption row, the ledger entry and the inventory change.
type Store interface {
	Create(ctx context.Context, in NewRedemption) (*WithItem, *ledger.Result, error)
	Transition(ctx context.Context, in TransitionInput) (*WithItem, *ledger.Result, error)
	Get(ctx context.Context, id uuid.UUID) (*WithItem, error)
	FindByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*WithItem, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]WithItem, error)
}

// Repository is the PostgreSQL Store. Ledger writes go through the ledger
// engine's ApplyTx inside the redemption transaction.
type Repository struct {
	db     *sqlx.DB
	ledger ledger.TxApplier
}

func NewRepository(db *sqlx.DB, applier ledger.TxApplier) *Repository {
	return &Repository{db: db, ledger: applier}
}

const redemptionColumns = `id, account_id, item_id, qty, total_cost, status, actor_id,
	idempotency_key, notes, requested_at, approved_at, fulfilled_at, canceled_at`

const withItemSelect = `
	SELECT r.id, r.account_id, r.item_id, r.qty, r.total_cost, r.status, r.actor_id,
	       r.idempotency_key, r.notes, r.requested_at, r.approved_at, r.fulfilled_at, r.canceled_at,
	       i.name AS item_name, i.category AS item_category
	FROM redemptions r
	JOIN shop_items i ON i.id = r.item_id`

const idempotencyConstraint = "uq_redemptions_idempotency"

// Create locks the item, rejects a reused idempotency key, then locks the
// account (through the ledger debit), records the redemption and takes the
// stock. Lock order is always item before account.
func (r *Repository) Create(ctx context.Context, in NewRedemption) (*WithItem, *ledger.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}

	var out *WithItem
	var result *ledger.Result
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		item, err := lockItem(ctx, tx, in.ItemID)
		if err != nil {
			return err
		}

		// a retry that waited on the item lock sees the original's committed row
		if in.IdempotencyKey != "" {
			var taken bool
			err = tx.GetContext(ctx, &taken,
				`SELECT EXISTS (SELECT 1 FROM redemptions WHERE account_id = $1 AND idempotency_key = $2)`,
				in.AccountID, in.IdempotencyKey)
			if err != nil {
				return ledger.MapDBError(err, "check idempotency key")
			}
			if taken {
				return ErrDuplicateKey
			}
		}

		total, err := CheckItem(item, in.Qty)
		if err != nil {
			return err
		}

		result, err = r.ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID: in.AccountID,
			Delta:     -total,
			Reason:    ledger.ReasonPurchase,
			RefTable:  RefTable,
			RefID:     in.ID.String(),
			ActorID:   in.ActorID,
		})
		if err != nil {
			return err
		}

		var key *string
		if in.IdempotencyKey != "" {
			key = &in.IdempotencyKey
		}

		var rd Redemption
		err = tx.GetContext(ctx, &rd, `
			INSERT INTO redemptions (id, account_id, item_id, qty, total_cost, status, actor_id, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+redemptionColumns,
			in.ID, in.AccountID, in.ItemID, in.Qty, total, StatusRequested, in.ActorID, key)
		if err != nil {
			if ledger.IsUniqueViolation(err, idempotencyConstraint) {
				return ErrDuplicateKey
			}
			return ledger.MapDBError(err, "insert redemption")
		}

		if item.Tracked() {
			_, err = tx.ExecContext(ctx, `UPDATE shop_items SET inventory_qty = inventory_qty - $2 WHERE id = $1`, item.ID, in.Qty)
			if err != nil {
				return ledger.MapDBError(err, "take inventory")
			}
		}

		out = &WithItem{Redemption: rd, ItemName: item.Name, ItemCategory: item.Category}
		return nil
	})
	if err != nil {
		return nil, nil, ledger.MapDBError(err, "create redemption")
	}
	return out, result, nil
}

// Transition applies a lifecycle edge. Canceling also refunds the total cost
// and returns tracked stock, in the same transaction.
func (r *Repository) Transition(ctx context.Context, in TransitionInput) (*WithItem, *ledger.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out *WithItem
	var result *ledger.Result
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var rd Redemption
		err := tx.GetContext(ctx, &rd, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = $1 FOR UPDATE`, in.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRedemptionNotFound
		}
		if err != nil {
			return ledger.MapDBError(err, "lock redemption")
		}

		if !rd.Status.CanTransition(in.To) {
			return ErrInvalidTransition
		}

		var item *catalog.ShopItem
		if in.To == StatusCanceled {
			item, err = lockItem(ctx, tx, rd.ItemID)
		} else {
			item, err = getItem(ctx, tx, rd.ItemID)
		}
		if err != nil {
			return err
		}

		rd.Stamp(in.To, time.Now().UTC())
		if in.Notes != "" {
			rd.Notes = &in.Notes
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE redemptions
			SET status = $2, approved_at = $3, fulfilled_at = $4, canceled_at = $5, notes = $6
			WHERE id = $1
		`, rd.ID, rd.Status, rd.ApprovedAt, rd.FulfilledAt, rd.CanceledAt, rd.Notes)
		if err != nil {
			return ledger.MapDBError(err, "update redemption")
		}

		if in.To == StatusCanceled {
			result, err = r.ledger.ApplyTx(ctx, tx, ledger.Entry{
				AccountID: rd.AccountID,
				Delta:     rd.TotalCost,
				Reason:    ledger.ReasonRefund,
				RefTable:  RefTable,
				RefID:     rd.RefID(),
				ActorID:   in.ActorID,
				Memo:      in.Notes,
			})
			if err != nil {
				return err
			}

			if item.Tracked() {
				_, err = tx.ExecContext(ctx, `UPDATE shop_items SET inventory_qty = inventory_qty + $2 WHERE id = $1`, item.ID, rd.Qty)
				if err != nil {
					return ledger.MapDBError(err, "restore inventory")
				}
			}
		}

		out = &WithItem{Redemption: rd, ItemName: item.Name, ItemCategory: item.Category}
		return nil
	})
	if err != nil {
		return nil, nil, ledger.MapDBError(err, "transition redemption")
	}
	return out, result, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*WithItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rd WithItem
	err := r.db.GetContext(ctx, &rd, withItemSelect+` WHERE r.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, ledger.MapDBError(err, "get redemption")
	}
	return &rd, nil
}

func (r *Repository) FindByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*WithItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rd WithItem
	err := r.db.GetContext(ctx, &rd, withItemSelect+` WHERE r.account_id = $1 AND r.idempotency_key = $2`, accountID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRedemptionNotFound
	}
	if err != nil {
		return nil, ledger.MapDBError(err, "find redemption by key")
	}
	return &rd, nil
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]WithItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := []WithItem{}
	err := r.db.SelectContext(ctx, &items,
		withItemSelect+` WHERE r.account_id = $1 ORDER BY r.requested_at DESC, r.id DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, ledger.MapDBError(err, "list redemptions")
	}
	return items, nil
}

func lockItem(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*catalog.ShopItem, error) {
	return selectItem(ctx, tx, `SELECT `+catalog.ItemColumns+` FROM shop_items WHERE id = $1 FOR UPDATE`, id)
}

func getItem(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*catalog.ShopItem, error) {
	return selectItem(ctx, tx, `SELECT `+catalog.ItemColumns+` FROM shop_items WHERE id = $1`, id)
}

func selectItem(ctx context.Context, tx *sqlx.Tx, query string, id uuid.UUID) (*catalog.ShopItem, error) {
	var item catalog.ShopItem
	err := tx.GetContext(ctx, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrItemNotFound
	}
	if err != nil {
		return nil, ledger.MapDBError(err, "load item")
	}
	return &item, nil
}
