package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrAccountNotFound is returned when the child has no token account
	ErrAccountNotFound = errors.New("token account not found")

	// ErrInsufficientFunds is returned when a debit would make the balance negative
	ErrInsufficientFunds = errors.New("insufficient tokens")

	// ErrInvalidAmount is returned for zero deltas, non-positive awards and overflow
	ErrInvalidAmount = errors.New("invalid amount")

	ErrInvalidReason    = errors.New("invalid reason")
	ErrInvalidReference = errors.New("ref_table and ref_id must be provided together")

	// ErrConflict is returned when a concurrent writer raced this account.
	// Callers retry the whole logical operation.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrUnavailable is returned when storage could not be reached. The
	// outcome of the write is unknown.
	ErrUnavailable = errors.New("ledger storage unavailable")

	ErrInternal = errors.New("internal error")
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
	pqSerialization       = "40001"
	pqDeadlock            = "40P01"
	pqAdminShutdown       = "57P01"
	pqConnectionClass     = "08"
)

// MapDBError translates driver errors into the ledger taxonomy. Errors that
// already belong to a domain taxonomy pass through unchanged.
func MapDBError(err error, op string) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqSerialization || pqErr.Code == pqDeadlock:
			return fmt.Errorf("%w: %s", ErrConflict, op)
		case pqErr.Code == pqAdminShutdown || string(pqErr.Code.Class()) == pqConnectionClass:
			return fmt.Errorf("%w: %s", ErrUnavailable, op)
		case pqErr.Code == pqCheckViolation && pqErr.Constraint == "token_accounts_balance_check":
			return ErrInsufficientFunds
		}
		return fmt.Errorf("%w: %s: %s", ErrInternal, op, pqErr.Message)
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrUnavailable, op)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	return fmt.Errorf("%s: %w", op, err)
}

// IsUniqueViolation reports whether err is a unique violation on constraint
// (any constraint if constraint is empty).
func IsUniqueViolation(err error, constraint string) bool {
	return hasPQCode(err, pqUniqueViolation, constraint)
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return hasPQCode(err, pqForeignKeyViolation, "")
}

func hasPQCode(err error, code pq.ErrorCode, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
