package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvals/approvalsd/internal/identity"
	"github.com/approvals/approvalsd/internal/platform/httpx"
	"github.com/approvals/approvalsd/internal/shared"
)

// Handler manages account and ledger endpoints.
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

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.getAccount)
	r.Get("/{id}/transactions", h.listTransactions)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleAdmin))
		r.Post("/", h.createAccount)
		r.Post("/{id}/adjust", h.adjust)
	})
}

type createAccountRequest struct {
	Name  string `json:"name" validate:"required"`
	OrgID string `json:"org_id" validate:"required,uuid"`
}

type adjustRequest struct {
	Amount string `json:"amount" validate:"required"`
	Note   string `json:"note"`
}

type accountResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OrgID   string `json:"org_id"`
	Balance string `json:"balance"`
}

func accountJSON(a Account) accountResponse {
	return accountResponse{
		ID:      a.ID.String(),
		Name:    a.Name,
		OrgID:   a.OrgID.String(),
		Balance: a.Balance.StringFixed(2),
	}
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad account id")
		return
	}
	acc, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accountJSON(acc))
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad account id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.service.ListTransactions(r.Context(), id, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txns)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
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
	acc, err := h.service.CreateAccount(r.Context(), req.Name, orgID)
	if err != nil {
		h.logger.Error("create account", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, accountJSON(acc))
}

// adjust is the manual administrative adjustment surface; workflow-driven
// adjustments run inside document transactions instead.
func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad account id")
		return
	}
	var req adjustRequest
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
	txn, err := h.service.Adjust(r.Context(), AdjustInput{
		AccountID: id,
		Amount:    amount.Round(2),
		Kind:      KindManual,
		Note:      req.Note,
		ActorID:   who.AccountID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}
