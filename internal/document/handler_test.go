package document

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvals/approvalsd/internal/identity"
	"github.com/approvals/approvalsd/internal/shared"
)

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	handler := NewHandler(f.service.logger, f.service, identity.Middleware{Logger: f.service.logger})
	r := chi.NewRouter()
	r.Route("/documents", handler.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, as shared.Identity, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithIdentity(context.Background(), as))
	rec := httptest.NewRecorder()
	srv.Config.Handler.ServeHTTP(rec, req)
	return rec.Result()
}

func decodeDoc(t *testing.T, resp *http.Response) Response {
	t.Helper()
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandlerCreateAndView(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)

	orgID := "0b819841-2b5c-4499-8188-a1c0cca42a55"
	resp := doJSON(t, srv, owner, http.MethodPost, "/documents", map[string]any{
		"org_id": orgID,
		"amount": "120.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeDoc(t, resp)
	assert.Equal(t, "PENDING", created.Status)
	require.NotNil(t, created.Amount)
	assert.Equal(t, "120.00", *created.Amount)

	// Read-only view keeps it pending even for a reviewer.
	reviewer := ident(shared.RoleReviewer)
	resp = doJSON(t, srv, reviewer, http.MethodGet, "/documents/"+created.ID+"?claim=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", decodeDoc(t, resp).Status)

	// Plain view claims.
	resp = doJSON(t, srv, reviewer, http.MethodGet, "/documents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	viewed := decodeDoc(t, resp)
	assert.Equal(t, "IN_REVIEW", viewed.Status)
}

func TestHandlerCreateValidation(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	owner := ident(shared.RoleOriginator)

	resp := doJSON(t, srv, owner, http.MethodPost, "/documents", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "org_id is required")

	resp = doJSON(t, srv, owner, http.MethodPost, "/documents", map[string]any{
		"org_id": "0b819841-2b5c-4499-8188-a1c0cca42a55",
		"amount": "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, owner, http.MethodPost, "/documents", map[string]any{
		"org_id":            "0b819841-2b5c-4499-8188-a1c0cca42a55",
		"advance_id":        "11111111-1111-4111-8111-111111111111",
		"budget_request_id": "22222222-2222-4222-8222-222222222222",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "at most one instrument link")
}

func TestHandlerReviewFlow(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	owner := ident(shared.RoleOriginator)
	f.repo.addAccount(owner.AccountID)
	reviewer := ident(shared.RoleReviewer)

	resp := doJSON(t, srv, owner, http.MethodPost, "/documents", map[string]any{
		"org_id": "0b819841-2b5c-4499-8188-a1c0cca42a55",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeDoc(t, resp)

	resp = doJSON(t, srv, reviewer, http.MethodPost, "/documents/"+created.ID+"/claim", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The loser of the claim race sees 409.
	other := ident(shared.RoleReviewer)
	resp = doJSON(t, srv, other, http.MethodPost, "/documents/"+created.ID+"/claim", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, srv, reviewer, http.MethodPost, "/documents/"+created.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var beat map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&beat))
	resp.Body.Close()
	assert.True(t, beat["holding"])

	resp = doJSON(t, srv, reviewer, http.MethodPost, "/documents/"+created.ID+"/finalize", map[string]any{
		"decision": "REJECTED",
		"reason":   "missing receipt",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REJECTED", decodeDoc(t, resp).Status)

	// Originators never reach the decision surface.
	resp = doJSON(t, srv, owner, http.MethodPost, "/documents/"+created.ID+"/finalize", map[string]any{
		"decision": "ACCEPTED",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerAdminRoutesAreGated(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	reviewer := ident(shared.RoleReviewer)

	resp := doJSON(t, srv, reviewer, http.MethodPost,
		"/documents/0b819841-2b5c-4499-8188-a1c0cca42a55/override", map[string]any{"status": "PENDING"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerNotFound(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f)
	owner := ident(shared.RoleOriginator)

	resp := doJSON(t, srv, owner, http.MethodGet, "/documents/0b819841-2b5c-4499-8188-a1c0cca42a55", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, srv, owner, http.MethodGet, "/documents/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
