package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reach/reach-api/internal/pkg/database"
)

const queryTimeout = 5 * time.Second

// Store is the durable home of accounts and the append-only log.
// Apply is the only way a balance or log row is ever written.
type Store interface {
	EnsureAccount(ctx context.Context, childID uuid.UUID) (*Account, error)
	GetAccount(ctx context.Context, childID uuid.UUID) (*Account, error)
	Apply(ctx context.Context, entry Entry) (*Result, error)
	ListTransactions(ctx context.Context, childID uuid.UUID, after *Cursor, limit int) ([]Transaction, error)
	SumDeltas(ctx context.Context, childID uuid.UUID) (int64, error)
	ResetWeekly(ctx context.Context) (int64, error)
}

// Repository is the PostgreSQL Store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const accountColumns = `child_id, balance, weekly_earned, rank_percentile, created_at, updated_at`

const transactionColumns = `id, account_id, delta, reason, ref_table, ref_id, actor_id, memo, created_at`

func (r *Repository) EnsureAccount(ctx context.Context, childID uuid.UUID) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO token_accounts (child_id)
		VALUES ($1)
		ON CONFLICT (child_id) DO NOTHING
	`, childID)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return nil, ErrAccountNotFound
		}
		return nil, MapDBError(err, "ensure account")
	}

	return r.GetAccount(ctx2, childID)
}

func (r *Repository) GetAccount(ctx context.Context, childID uuid.UUID) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var account Account
	err := r.db.GetContext(ctx2, &account, `SELECT `+accountColumns+` FROM token_accounts WHERE child_id = $1`, childID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, MapDBError(err, "get account")
	}
	return &account, nil
}

// Apply runs ApplyTx in its own transaction.
func (r *Repository) Apply(ctx context.Context, entry Entry) (*Result, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var result *Result
	err := database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		var err error
		result, err = r.ApplyTx(ctx2, tx, entry)
		return err
	})
	if err != nil {
		return nil, MapDBError(err, "apply entry")
	}
	return result, nil
}

// ApplyTx applies entry inside a caller-owned transaction. The account row is
// locked FOR UPDATE until the caller commits; on any error the caller must
// roll back, which discards the log row together with everything else.
func (r *Repository) ApplyTx(ctx context.Context, tx *sqlx.Tx, entry Entry) (*Result, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	var balance int64
	err := tx.GetContext(ctx, &balance, `SELECT balance FROM token_accounts WHERE child_id = $1 FOR UPDATE`, entry.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, MapDBError(err, "lock account")
	}

	// The partial unique index on (account_id, ref_table, ref_id, reason)
	// decides duplicates; a skipped insert returns no row.
	var txn Transaction
	err = tx.GetContext(ctx, &txn, `
		INSERT INTO token_transactions (id, account_id, delta, reason, ref_table, ref_id, actor_id, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, ref_table, ref_id, reason) WHERE ref_id IS NOT NULL DO NOTHING
		RETURNING `+transactionColumns,
		uuid.New(), entry.AccountID, entry.Delta, string(entry.Reason),
		nullString(entry.RefTable), nullString(entry.RefID), entry.ActorID, nullString(entry.Memo))
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := r.findByRef(ctx, tx, entry)
		if findErr != nil {
			return nil, findErr
		}
		return &Result{Transaction: existing, Balance: balance, Duplicate: true}, nil
	}
	if err != nil {
		return nil, MapDBError(err, "insert transaction")
	}

	next, err := NextBalance(balance, entry.Delta)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE token_accounts
		SET balance = $2, weekly_earned = weekly_earned + $3, updated_at = now()
		WHERE child_id = $1
	`, entry.AccountID, next, WeeklyIncrement(entry.Reason, entry.Delta))
	if err != nil {
		return nil, MapDBError(err, "update balance")
	}

	return &Result{Transaction: &txn, Balance: next}, nil
}

func (r *Repository) findByRef(ctx context.Context, tx *sqlx.Tx, entry Entry) (*Transaction, error) {
	var txn Transaction
	err := tx.GetContext(ctx, &txn, `
		SELECT `+transactionColumns+`
		FROM token_transactions
		WHERE account_id = $1 AND ref_table = $2 AND ref_id = $3 AND reason = $4
	`, entry.AccountID, entry.RefTable, entry.RefID, string(entry.Reason))
	if errors.Is(err, sql.ErrNoRows) {
		// conflict reported by the index but the row is not visible yet
		return nil, ErrConflict
	}
	if err != nil {
		return nil, MapDBError(err, "find transaction by ref")
	}
	return &txn, nil
}

// ListTransactions returns up to limit rows newest first, strictly after the cursor.
func (r *Repository) ListTransactions(ctx context.Context, childID uuid.UUID, after *Cursor, limit int) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + transactionColumns + ` FROM token_transactions WHERE account_id = $1`
	args := []interface{}{childID}
	if after != nil {
		query += ` AND (created_at, id) < ($2, $3) ORDER BY created_at DESC, id DESC LIMIT $4`
		args = append(args, after.CreatedAt, after.ID, limit)
	} else {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, limit)
	}

	transactions := make([]Transaction, 0, limit)
	if err := r.db.SelectContext(ctx2, &transactions, query, args...); err != nil {
		return nil, MapDBError(err, "list transactions")
	}
	return transactions, nil
}

func (r *Repository) SumDeltas(ctx context.Context, childID uuid.UUID) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sum int64
	err := r.db.GetContext(ctx2, &sum, `SELECT COALESCE(SUM(delta), 0) FROM token_transactions WHERE account_id = $1`, childID)
	if err != nil {
		return 0, MapDBError(err, "sum deltas")
	}
	return sum, nil
}

func (r *Repository) ResetWeekly(ctx context.Context) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `UPDATE token_accounts SET weekly_earned = 0, updated_at = now() WHERE weekly_earned <> 0`)
	if err != nil {
		return 0, MapDBError(err, "reset weekly")
	}
	return result.RowsAffected()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
