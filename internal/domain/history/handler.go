package history

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/ownership"
	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/response"
)

type Handler struct {
	service *Service
	owners  ownership.Checker
}

func NewHandler(service *Service, owners ownership.Checker) *Handler {
	return &Handler{service: service, owners: owners}
}

// Balance handles GET /balance?child_id=
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}

	summary, err := h.service.Summary(r.Context(), childID)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	response.OK(w, summary)
}

// History handles GET /history?child_id=&limit=&cursor=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	childID, ok := h.child(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	page, err := h.service.History(r.Context(), childID, limit, q.Get("cursor"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	response.OK(w, page)
}

func (h *Handler) child(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	childID, err := uuid.Parse(r.URL.Query().Get("child_id"))
	if err != nil {
		response.BadRequest(w, "child_id must be a valid UUID")
		return uuid.Nil, false
	}

	ctx := r.Context()
	if err := ownership.Authorize(ctx, h.owners, middleware.GetUserID(ctx), middleware.GetRole(ctx), childID); err != nil {
		respondError(ctx, w, err)
		return uuid.Nil, false
	}
	return childID, true
}

func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ownership.ErrAccessDenied):
		response.Forbidden(w, "You do not have access to this child")
	case errors.Is(err, ErrInvalidCursor):
		response.BadRequest(w, "Invalid cursor")
	default:
		ledger.RespondError(ctx, w, err)
	}
}

// Register adds the read endpoints to the tokens router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/balance", h.Balance)
	r.Get("/history", h.History)
}
