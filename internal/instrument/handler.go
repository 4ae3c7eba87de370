package instrument

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/identity"
	"github.com/approvals/approvalsd/internal/platform/httpx"
	"github.com/approvals/approvalsd/internal/shared"
)

// Handler manages instrument endpoints.
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

// MountRoutes registers instrument routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/", h.create)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleAdmin))
		r.Post("/{id}/settle", h.settle)
	})
}

type createRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=ADVANCE BUDGET_REQUEST"`
	OwnerID string `json:"owner_id" validate:"omitempty,uuid"`
	OrgID   string `json:"org_id" validate:"required,uuid"`
	Amount  string `json:"amount" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("org_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "org_id required")
		return
	}
	out, err := h.service.List(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list instruments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad instrument id")
		return
	}
	inst, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inst)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	orgID, err := uuid.Parse(req.OrgID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad org_id")
		return
	}
	who, _ := shared.IdentityFromContext(r.Context())
	ownerID := who.AccountID
	if req.OwnerID != "" {
		if ownerID, err = uuid.Parse(req.OwnerID); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad owner_id")
			return
		}
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad amount")
		return
	}
	inst, err := h.service.Create(r.Context(), Kind(req.Kind), ownerID, orgID, amount.Round(2))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inst)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad instrument id")
		return
	}
	who, _ := shared.IdentityFromContext(r.Context())
	if err := h.service.Settle(r.Context(), id, who); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
