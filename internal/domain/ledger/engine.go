package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/reach/reach-api/internal/pkg/events"
	"github.com/reach/reach-api/internal/pkg/logger"
	"github.com/reach/reach-api/internal/pkg/metrics"
)

// TxApplier is implemented by stores that can apply an entry inside a
// transaction owned by another repository.
type TxApplier interface {
	ApplyTx(ctx context.Context, tx *sqlx.Tx, entry Entry) (*Result, error)
}

// Engine is the only writer of balances and log rows.
type Engine struct {
	store     Store
	publisher events.Publisher
}

func NewEngine(store Store, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{store: store, publisher: publisher}
}

// Apply validates and applies a single entry in its own unit of work.
func (e *Engine) Apply(ctx context.Context, entry Entry) (*Result, error) {
	if err := entry.Validate(); err != nil {
		recordRejection(err)
		return nil, err
	}

	result, err := e.store.Apply(ctx, entry)
	if err != nil {
		recordRejection(err)
		return nil, err
	}

	e.Committed(ctx, result)
	return result, nil
}

// ApplyTx applies entry inside tx. The caller commits and then calls Committed.
func (e *Engine) ApplyTx(ctx context.Context, tx *sqlx.Tx, entry Entry) (*Result, error) {
	if err := entry.Validate(); err != nil {
		recordRejection(err)
		return nil, err
	}

	applier, ok := e.store.(TxApplier)
	if !ok {
		return nil, fmt.Errorf("%w: store does not support external transactions", ErrInternal)
	}

	result, err := applier.ApplyTx(ctx, tx, entry)
	if err != nil {
		recordRejection(err)
		return nil, err
	}
	return result, nil
}

var _ TxApplier = (*Engine)(nil)

// Committed records metrics and publishes the transaction event for a result
// whose writes are durable. Duplicates are neither counted nor published.
func (e *Engine) Committed(ctx context.Context, result *Result) {
	if result == nil || result.Duplicate || result.Transaction == nil {
		return
	}

	txn := result.Transaction
	metrics.LedgerTransactions.WithLabelValues(string(txn.Reason)).Inc()
	if txn.Delta > 0 {
		metrics.LedgerTokens.WithLabelValues("credit").Add(float64(txn.Delta))
	} else {
		metrics.LedgerTokens.WithLabelValues("debit").Add(float64(-txn.Delta))
	}

	logger.LogDebug(ctx, "ledger entry applied",
		"child_id", txn.AccountID.String(),
		"delta", txn.Delta,
		"reason", string(txn.Reason),
		"balance", result.Balance,
	)

	err := e.publisher.Publish(ctx, events.Event{
		Type:       events.TypeTransactionCreated,
		ChildID:    txn.AccountID,
		Balance:    result.Balance,
		Data:       txn,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		// the write is committed; delivery is best effort
		logger.LogWarn(ctx, "publish transaction event failed", "error", err.Error(), "transaction_id", txn.ID.String())
	}
}

func recordRejection(err error) {
	cause := "internal"
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		cause = "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidReason), errors.Is(err, ErrInvalidReference):
		cause = "invalid"
	case errors.Is(err, ErrAccountNotFound):
		cause = "not_found"
	case errors.Is(err, ErrConflict):
		cause = "conflict"
	case errors.Is(err, ErrUnavailable):
		cause = "unavailable"
	}
	metrics.LedgerRejections.WithLabelValues(cause).Inc()
}

// RecordRejection counts a failure from a store that writes entries under its
// own lock instead of through ApplyTx.
func RecordRejection(err error) {
	if err != nil {
		recordRejection(err)
	}
}
