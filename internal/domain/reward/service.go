// Package reward issues earned tokens for completed activities and other
// positive events reported by the content subsystem.
package reward

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/pkg/logger"
	"github.com/reach/reach-api/internal/pkg/metrics"
)

// AwardRequest credits Amount tokens to ChildID. RefTable and RefID name the
// triggering entity; with them set, repeating the call is a no-op.
type AwardRequest struct {
	ChildID     uuid.UUID
	Amount      int64
	Reason      ledger.Reason
	RefTable    string
	RefID       string
	Description string
	ActorID     *uuid.UUID
}

type Service struct {
	engine   *ledger.Engine
	accounts *ledger.AccountManager
}

func NewService(engine *ledger.Engine, accounts *ledger.AccountManager) *Service {
	return &Service{engine: engine, accounts: accounts}
}

// Award credits the child. A duplicate reference returns the original row
// with Duplicate set instead of an error.
func (s *Service) Award(ctx context.Context, req AwardRequest) (*ledger.Result, error) {
	if req.Amount <= 0 {
		metrics.Awards.WithLabelValues("invalid").Inc()
		return nil, ledger.ErrInvalidAmount
	}
	if !req.Reason.IsEarning() {
		metrics.Awards.WithLabelValues("invalid").Inc()
		return nil, ledger.ErrInvalidReason
	}
	if (req.RefTable == "") != (req.RefID == "") {
		metrics.Awards.WithLabelValues("invalid").Inc()
		return nil, ledger.ErrInvalidReference
	}

	if _, err := s.accounts.GetOrCreate(ctx, req.ChildID); err != nil {
		metrics.Awards.WithLabelValues("failed").Inc()
		return nil, err
	}

	result, err := s.engine.Apply(ctx, ledger.Entry{
		AccountID: req.ChildID,
		Delta:     req.Amount,
		Reason:    req.Reason,
		RefTable:  req.RefTable,
		RefID:     req.RefID,
		ActorID:   req.ActorID,
		Memo:      req.Description,
	})
	if err != nil {
		metrics.Awards.WithLabelValues("failed").Inc()
		if !errors.Is(err, ledger.ErrConflict) {
			logger.LogError(ctx, err, "award failed", "child_id", req.ChildID.String(), "reason", string(req.Reason))
		}
		return nil, err
	}

	if result.Duplicate {
		metrics.Awards.WithLabelValues("duplicate").Inc()
		logger.LogDebug(ctx, "award already applied",
			"child_id", req.ChildID.String(),
			"ref", req.RefTable+"/"+req.RefID,
		)
		return result, nil
	}

	metrics.Awards.WithLabelValues("created").Inc()
	logger.LogInfo(ctx, "tokens awarded",
		"child_id", req.ChildID.String(),
		"amount", req.Amount,
		"reason", string(req.Reason),
		"ref", req.RefTable+"/"+req.RefID,
	)
	return result, nil
}
