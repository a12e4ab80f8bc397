package redemption

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/pkg/events"
	"github.com/reach/reach-api/internal/pkg/logger"
	"github.com/reach/reach-api/internal/pkg/metrics"
)

// ItemCache is invalidated whenever stock changes.
type ItemCache interface {
	Invalidate(ctx context.Context)
}

type Service struct {
	store     Store
	engine    *ledger.Engine
	accounts  *ledger.AccountManager
	cache     ItemCache
	publisher events.Publisher
}

func NewService(store Store, engine *ledger.Engine, accounts *ledger.AccountManager, cache ItemCache, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:     store,
		engine:    engine,
		accounts:  accounts,
		cache:     cache,
		publisher: publisher,
	}
}

// RedeemRequest asks to buy Qty units of ItemID for ChildID.
type RedeemRequest struct {
	ChildID        uuid.UUID
	ItemID         uuid.UUID
	Qty            int64
	ActorID        *uuid.UUID
	IdempotencyKey string
}

// RedeemResult is what the caller sees after a successful (or replayed) redeem.
type RedeemResult struct {
	RedemptionID uuid.UUID `json:"redemption_id"`
	ItemID       uuid.UUID `json:"item_id"`
	ItemName     string    `json:"item_name"`
	Qty          int64     `json:"qty"`
	TotalCost    int64     `json:"total_cost"`
	Status       Status    `json:"status"`
	Balance      int64     `json:"remaining_balance"`
	Replayed     bool      `json:"replayed"`
}

// Redeem debits the child's account and records a requested redemption as
// one unit. On any failure nothing is written.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	if req.Qty < 1 {
		metrics.Redemptions.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidQuantity
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, req.ChildID, req.IdempotencyKey)
		if err == nil {
			return s.replay(ctx, req, existing)
		}
		if !errors.Is(err, ErrRedemptionNotFound) {
			return nil, err
		}
	}

	if _, err := s.accounts.GetOrCreate(ctx, req.ChildID); err != nil {
		return nil, err
	}

	rd, result, err := s.store.Create(ctx, NewRedemption{
		ID:             uuid.New(),
		AccountID:      req.ChildID,
		ItemID:         req.ItemID,
		Qty:            req.Qty,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if errors.Is(err, ErrDuplicateKey) {
		existing, findErr := s.store.FindByIdempotencyKey(ctx, req.ChildID, req.IdempotencyKey)
		if findErr != nil {
			return nil, findErr
		}
		return s.replay(ctx, req, existing)
	}
	if err != nil {
		metrics.Redemptions.WithLabelValues(outcome(err)).Inc()
		logger.LogInfo(ctx, "redemption rejected",
			"child_id", req.ChildID.String(),
			"item_id", req.ItemID.String(),
			"qty", req.Qty,
			"error", err.Error(),
		)
		return nil, err
	}

	s.engine.Committed(ctx, result)
	s.cache.Invalidate(ctx)
	s.publish(ctx, rd, result.Balance)
	metrics.Redemptions.WithLabelValues("created").Inc()

	logger.LogInfo(ctx, "redemption created",
		"redemption_id", rd.ID.String(),
		"child_id", req.ChildID.String(),
		"item_id", req.ItemID.String(),
		"qty", req.Qty,
		"total_cost", rd.TotalCost,
	)

	return &RedeemResult{
		RedemptionID: rd.ID,
		ItemID:       rd.ItemID,
		ItemName:     rd.ItemName,
		Qty:          rd.Qty,
		TotalCost:    rd.TotalCost,
		Status:       rd.Status,
		Balance:      result.Balance,
	}, nil
}

func (s *Service) replay(ctx context.Context, req RedeemRequest, existing *WithItem) (*RedeemResult, error) {
	if existing.ItemID != req.ItemID || existing.Qty != req.Qty {
		return nil, ErrIdempotencyKeyReused
	}

	account, err := s.accounts.Get(ctx, req.ChildID)
	if err != nil {
		return nil, err
	}

	metrics.Redemptions.WithLabelValues("replayed").Inc()
	return &RedeemResult{
		RedemptionID: existing.ID,
		ItemID:       existing.ItemID,
		ItemName:     existing.ItemName,
		Qty:          existing.Qty,
		TotalCost:    existing.TotalCost,
		Status:       existing.Status,
		Balance:      account.Balance,
		Replayed:     true,
	}, nil
}

// Approve moves a requested redemption to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, notes string) (*WithItem, error) {
	return s.transition(ctx, TransitionInput{ID: id, To: StatusApproved, ActorID: actorID, Notes: notes})
}

// Fulfill moves an approved redemption to fulfilled.
func (s *Service) Fulfill(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, notes string) (*WithItem, error) {
	return s.transition(ctx, TransitionInput{ID: id, To: StatusFulfilled, ActorID: actorID, Notes: notes})
}

// Cancel cancels a requested or approved redemption, refunding its cost and
// returning tracked stock.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, notes string) (*WithItem, error) {
	return s.transition(ctx, TransitionInput{ID: id, To: StatusCanceled, ActorID: actorID, Notes: notes})
}

func (s *Service) transition(ctx context.Context, in TransitionInput) (*WithItem, error) {
	rd, result, err := s.store.Transition(ctx, in)
	if err != nil {
		metrics.Redemptions.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	if result != nil {
		s.engine.Committed(ctx, result)
	}
	if in.To == StatusCanceled {
		s.cache.Invalidate(ctx)
	}
	if result != nil {
		s.publish(ctx, rd, result.Balance)
	} else if account, err := s.accounts.Get(ctx, rd.AccountID); err != nil {
		logger.LogWarn(ctx, "redemption event skipped, balance unavailable",
			"error", err.Error(), "redemption_id", rd.ID.String())
	} else {
		s.publish(ctx, rd, account.Balance)
	}
	metrics.Redemptions.WithLabelValues(string(in.To)).Inc()

	logger.LogInfo(ctx, "redemption "+string(in.To),
		"redemption_id", rd.ID.String(),
		"child_id", rd.AccountID.String(),
		"status", string(rd.Status),
	)
	return rd, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*WithItem, error) {
	return s.store.Get(ctx, id)
}

// ListByChild returns the child's most recent redemptions, newest first.
func (s *Service) ListByChild(ctx context.Context, childID uuid.UUID, limit int) ([]WithItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListByAccount(ctx, childID, limit)
}

func (s *Service) publish(ctx context.Context, rd *WithItem, balance int64) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeRedemptionUpdated,
		ChildID:    rd.AccountID,
		Balance:    balance,
		Data:       rd,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		logger.LogWarn(ctx, "publish redemption event failed", "error", err.Error(), "redemption_id", rd.ID.String())
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid"
	case errors.Is(err, ErrRedemptionNotFound):
		return "not_found"
	}
	return "failed"
}
