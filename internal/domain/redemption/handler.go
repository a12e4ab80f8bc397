package redemption

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/catalog"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/ownership"
	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/errorhandler"
	"github.com/reach/reach-api/internal/pkg/response"
	"github.com/reach/reach-api/internal/pkg/validator"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	service *Service
	owners  ownership.Checker
}

func NewHandler(service *Service, owners ownership.Checker) *Handler {
	return &Handler{service: service, owners: owners}
}

// RedeemRequestDTO is the body of POST /redeem.
type RedeemRequestDTO struct {
	ChildID string `json:"child_id" validate:"required,uuid"`
	ItemID  string `json:"item_id" validate:"required,uuid"`
	Qty     *int64 `json:"qty" validate:"omitempty,gte=1"`
}

// UpdateRequestDTO is the optional body of the admin transition endpoints.
type UpdateRequestDTO struct {
	Notes string `json:"notes" validate:"max=500"`
}

// Redeem handles POST /redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequestDTO
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
	if !h.authorize(w, r, childID) {
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if len(key) > 128 {
		response.BadRequest(w, "Idempotency-Key is too long")
		return
	}

	qty := int64(1)
	if req.Qty != nil {
		qty = *req.Qty
	}

	actorID := middleware.GetUserID(r.Context())
	result, err := h.service.Redeem(r.Context(), RedeemRequest{
		ChildID:        childID,
		ItemID:         uuid.MustParse(req.ItemID),
		Qty:            qty,
		ActorID:        &actorID,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondError(r.Context(), w, err)
		return
	}

	if result.Replayed {
		response.OK(w, result)
		return
	}
	response.Created(w, result)
}

// List handles GET /redemptions?child_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	childID, err := uuid.Parse(r.URL.Query().Get("child_id"))
	if err != nil {
		response.BadRequest(w, "child_id must be a valid UUID")
		return
	}
	if !h.authorize(w, r, childID) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.ListByChild(r.Context(), childID, limit)
	if err != nil {
		h.respondError(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]interface{}{"redemptions": items})
}

// Get handles GET /redemptions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid redemption ID")
		return
	}

	rd, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(r.Context(), w, err)
		return
	}
	if !h.authorize(w, r, rd.AccountID) {
		return
	}
	response.OK(w, rd)
}

// Approve handles POST /{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

// Fulfill handles POST /{id}/fulfill
func (h *Handler) Fulfill(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Fulfill)
}

// Cancel handles POST /{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, notes string) (*WithItem, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid redemption ID")
		return
	}

	var req UpdateRequestDTO
	if err := response.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	actorID := middleware.GetUserID(r.Context())
	rd, err := fn(r.Context(), id, &actorID, req.Notes)
	if err != nil {
		h.respondError(r.Context(), w, err)
		return
	}
	response.OK(w, rd)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, childID uuid.UUID) bool {
	ctx := r.Context()
	err := ownership.Authorize(ctx, h.owners, middleware.GetUserID(ctx), middleware.GetRole(ctx), childID)
	if err == nil {
		return true
	}
	h.respondError(ctx, w, err)
	return false
}

func (h *Handler) respondError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ownership.ErrAccessDenied):
		response.Forbidden(w, "You do not have access to this child")
	case errors.Is(err, ErrRedemptionNotFound):
		response.NotFound(w, "Redemption not found")
	case errors.Is(err, catalog.ErrItemInactive):
		response.Error(w, http.StatusConflict, "ITEM_INACTIVE", "Item is not available")
	case errors.Is(err, catalog.ErrItemNotFound):
		response.NotFound(w, "Shop item not found")
	case errors.Is(err, ErrInsufficientInventory):
		response.Error(w, http.StatusConflict, "INSUFFICIENT_INVENTORY", "Not enough stock")
	case errors.Is(err, ErrInvalidQuantity):
		response.BadRequest(w, "Invalid quantity")
	case errors.Is(err, ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", "Redemption cannot move to that status")
	case errors.Is(err, ErrIdempotencyKeyReused):
		response.Error(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was used for a different request")
	default:
		ledger.RespondError(ctx, w, err)
	}
}

// Register adds the child-facing endpoints to the tokens router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/redeem", h.Redeem)
	r.Get("/redemptions", h.List)
	r.Get("/redemptions/{id}", h.Get)
}

// AdminRoutes mounts the status transitions; the caller applies RequireAdmin.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/fulfill", h.Fulfill)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}
