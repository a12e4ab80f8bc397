package reward

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/errorhandler"
	"github.com/reach/reach-api/internal/pkg/response"
	"github.com/reach/reach-api/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// AwardRequestDTO is the body of POST /internal/tokens/award.
type AwardRequestDTO struct {
	ChildID     string `json:"child_id" validate:"required,uuid"`
	Amount      int64  `json:"amount" validate:"gte=1"`
	Reason      string `json:"reason" validate:"required,token_reason"`
	RefTable    string `json:"ref_table" validate:"required_with=RefID,max=64"`
	RefID       string `json:"ref_id" validate:"required_with=RefTable,max=128"`
	Description string `json:"description" validate:"max=500"`
}

// AwardResponse reports the credited row; Duplicate is true on replays.
type AwardResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Balance       int64     `json:"new_balance"`
	Duplicate     bool      `json:"duplicate"`
}

// Award handles POST /award
func (h *Handler) Award(w http.ResponseWriter, r *http.Request) {
	var req AwardRequestDTO
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	actorID := middleware.GetUserID(r.Context())
	result, err := h.service.Award(r.Context(), AwardRequest{
		ChildID:     uuid.MustParse(req.ChildID),
		Amount:      req.Amount,
		Reason:      ledger.Reason(req.Reason),
		RefTable:    req.RefTable,
		RefID:       req.RefID,
		Description: req.Description,
		ActorID:     &actorID,
	})
	if err != nil {
		ledger.RespondError(r.Context(), w, err)
		return
	}

	resp := AwardResponse{
		TransactionID: result.Transaction.ID,
		Amount:        result.Transaction.Delta,
		Balance:       result.Balance,
		Duplicate:     result.Duplicate,
	}
	if result.Duplicate {
		response.OK(w, resp)
		return
	}
	response.Created(w, resp)
}
