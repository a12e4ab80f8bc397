package ledger

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/errorhandler"
	"github.com/reach/reach-api/internal/pkg/logger"
	"github.com/reach/reach-api/internal/pkg/response"
	"github.com/reach/reach-api/internal/pkg/validator"
)

// Handler exposes the admin adjustment endpoint.
type Handler struct {
	engine   *Engine
	accounts *AccountManager
}

func NewHandler(engine *Engine, accounts *AccountManager) *Handler {
	return &Handler{engine: engine, accounts: accounts}
}

// AdjustRequest is a direct credit or debit by an administrator.
type AdjustRequest struct {
	ChildID  string `json:"child_id" validate:"required,uuid"`
	Delta    int64  `json:"delta" validate:"nonzero"`
	Reason   string `json:"reason" validate:"required,token_reason"`
	RefTable string `json:"ref_table" validate:"required_with=RefID,max=64"`
	RefID    string `json:"ref_id" validate:"required_with=RefTable,max=128"`
	Memo     string `json:"memo" validate:"max=500"`
}

// Adjust handles POST /api/admin/tokens/adjust
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	childID := uuid.MustParse(req.ChildID)
	if _, err := h.accounts.GetOrCreate(r.Context(), childID); err != nil {
		RespondError(r.Context(), w, err)
		return
	}

	actorID := middleware.GetUserID(r.Context())
	result, err := h.engine.Apply(r.Context(), Entry{
		AccountID: childID,
		Delta:     req.Delta,
		Reason:    Reason(req.Reason),
		RefTable:  req.RefTable,
		RefID:     req.RefID,
		ActorID:   &actorID,
		Memo:      req.Memo,
	})
	if err != nil {
		RespondError(r.Context(), w, err)
		return
	}

	logger.LogInfo(r.Context(), "admin token adjustment",
		"child_id", childID.String(),
		"delta", req.Delta,
		"reason", req.Reason,
		"actor_id", actorID.String(),
		"duplicate", result.Duplicate,
	)

	response.OK(w, result)
}

// RespondError writes the HTTP response for a ledger error.
func RespondError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		response.NotFound(w, "Token account not found")
	case errors.Is(err, ErrInsufficientFunds):
		response.Error(w, http.StatusConflict, "INSUFFICIENT_FUNDS", "Not enough tokens")
	case errors.Is(err, ErrInvalidAmount):
		response.BadRequest(w, "Invalid token amount")
	case errors.Is(err, ErrInvalidReason):
		response.BadRequest(w, "Invalid reason")
	case errors.Is(err, ErrInvalidReference):
		response.BadRequest(w, "ref_table and ref_id must be provided together")
	case errors.Is(err, ErrConflict):
		response.Conflict(w, "Concurrent update, please retry")
	case errors.Is(err, ErrUnavailable):
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "UNAVAILABLE", "Token storage unavailable, please retry", err)
	default:
		errorhandler.HandleInternal(ctx, w, err)
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/adjust", h.Adjust)
	return r
}
