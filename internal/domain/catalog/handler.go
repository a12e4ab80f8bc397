package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// List handles GET /shop/items
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActive(r.Context())
	if err != nil {
		ledger.RespondError(r.Context(), w, err)
		return
	}

	out := make([]ShopItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewShopItemResponse(item))
	}
	response.OK(w, map[string]interface{}{"items": out})
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/items", h.List)
	return r
}
