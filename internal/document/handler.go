package document

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/approvals/approvalsd/internal/identity"
	"github.com/approvals/approvalsd/internal/platform/httpx"
	"github.com/approvals/approvalsd/internal/shared"
)

// Handler manages document endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	auth     identity.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, auth identity.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		auth:     auth,
	}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.view)
	r.Delete("/{id}", h.delete)
	r.Get("/{id}/history", h.history)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleReviewer, shared.RoleAdmin))
		r.Post("/{id}/claim", h.claim)
		r.Post("/{id}/heartbeat", h.heartbeat)
		r.Post("/{id}/release", h.release)
		r.Post("/{id}/finalize", h.finalize)
		r.Post("/{id}/re-review", h.reReview)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRole(shared.RoleAdmin))
		r.Post("/{id}/override", h.override)
		r.Post("/{id}/transfer", h.transfer)
	})
}

func docID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func actor(r *http.Request) shared.Identity {
	id, _ := shared.IdentityFromContext(r.Context())
	return id
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	if owner := r.URL.Query().Get("owner_id"); owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad owner_id")
			return
		}
		filter.OwnerID = id
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list documents", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]Response, 0, len(docs))
	for _, d := range docs {
		out = append(out, NewResponse(d))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.ToInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Create(r.Context(), actor(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewResponse(doc))
}

// view returns the document. For reviewers this implicitly attempts a claim
// unless ?claim=0 opts out.
func (h *Handler) view(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	opts := ViewOptions{NoClaim: r.URL.Query().Get("claim") == "0"}
	doc, err := h.service.View(r.Context(), actor(r), id, opts)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewResponse(doc))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	if err := h.service.Delete(r.Context(), actor(r), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	doc, err := h.service.Lease().Claim(r.Context(), id, actor(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewResponse(doc))
}

// heartbeat never fails for lease reasons; it reports ownership as a boolean
// so late or redundant beats stay harmless.
func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	alive, err := h.service.Lease().Heartbeat(r.Context(), id, actor(r).AccountID)
	if err != nil {
		h.logger.Error("heartbeat", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"holding": alive})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	if err := h.service.Lease().Release(r.Context(), id, actor(r).AccountID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	var req FinalizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.Finalize(r.Context(), actor(r), id, Status(req.Decision), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewResponse(doc))
}

func (h *Handler) reReview(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	var req ReasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON")
		return
	}
	doc, err := h.service.RequestReReview(r.Context(), actor(r), id, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewResponse(doc))
}

func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	var req ReasonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.AdminOverride(r.Context(), actor(r), id, Status(req.Status), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewResponse(doc))
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad document id")
		return
	}
	doc, err := h.service.Transfer(r.Context(), actor(r), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewResponse(doc))
}
