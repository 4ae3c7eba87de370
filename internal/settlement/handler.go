package settlement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/document"
	"github.com/approvals/approvalsd/internal/identity"
	"github.com/approvals/approvalsd/internal/platform/httpx"
	"github.com/approvals/approvalsd/internal/shared"
)

// Handler exposes correction creation.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	auth     identity.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, auth identity.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), auth: auth}
}

// MountRoutes registers correction routes under the documents tree.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleReviewer, shared.RoleAdmin))
		r.Post("/{id}/corrections", h.createCorrection)
	})
}

type correctionRequest struct {
	Amount        string `json:"amount" validate:"required"`
	Justification string `json:"justification" validate:"required"`
}

func (h *Handler) createCorrection(w http.ResponseWriter, r *http.Request) {
	originalID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	var req correctionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad amount")
		return
	}
	who, _ := shared.IdentityFromContext(r.Context())
	corr, err := h.service.CreateCorrection(r.Context(), who, originalID, amount.Round(2), req.Justification)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, document.NewResponse(corr))
}
