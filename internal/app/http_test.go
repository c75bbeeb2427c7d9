package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"formhub/api/internal/config"
	"formhub/api/internal/identity"
	"formhub/api/internal/search"
	"formhub/api/internal/store"
)

func newTestServer(fs *fakeStore) (*HTTPServer, *Service) {
	svc := &Service{
		cfg:   config.Config{PageSize: 10},
		store: fs,
		identity: &fakeResolver{users: map[string]store.User{
			"owner-token":  testOwner,
			"viewer-token": testViewer,
			"admin-token":  testAdmin,
		}},
	}
	return NewHTTPServer(svc, "*"), svc
}

func doRequest(t *testing.T, server *HTTPServer, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	rec := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	fs := &fakeStore{
		ping: func(ctx context.Context) error { return errors.New("connection refused") },
	}
	server, _ := newTestServer(fs)
	rec := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// The listing scope is decided entirely by who is asking: anonymous callers
// see public templates, authenticated users additionally their own and
// shared ones, admins everything.
func TestListTemplatesScopePerCaller(t *testing.T) {
	var gotOpts store.TemplateListOptions
	fs := &fakeStore{
		listTemplates: func(ctx context.Context, opts store.TemplateListOptions) ([]store.Template, int, error) {
			gotOpts = opts
			return []store.Template{ownedTemplate("tpl-1", true)}, 1, nil
		},
	}
	server, _ := newTestServer(fs)

	cases := []struct {
		name      string
		token     string
		wantScope store.TemplateScope
		wantUser  string
	}{
		{"anonymous", "", store.TemplateScopePublic, ""},
		{"authenticated", "viewer-token", store.TemplateScopeVisible, testViewer.ID},
		{"admin", "admin-token", store.TemplateScopeAll, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, server, http.MethodGet, "/api/templates", tc.token, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if gotOpts.Scope != tc.wantScope {
				t.Fatalf("scope = %v, want %v", gotOpts.Scope, tc.wantScope)
			}
			if gotOpts.UserID != tc.wantUser {
				t.Fatalf("userID = %q, want %q", gotOpts.UserID, tc.wantUser)
			}
		})
	}
}

func TestListTemplatesEnvelope(t *testing.T) {
	fs := &fakeStore{
		listTemplates: func(ctx context.Context, opts store.TemplateListOptions) ([]store.Template, int, error) {
			return []store.Template{ownedTemplate("tpl-1", true)}, 27, nil
		},
	}
	server, _ := newTestServer(fs)

	rec := doRequest(t, server, http.MethodGet, "/api/templates?page=2&limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var envelope struct {
		Data  []json.RawMessage `json:"data"`
		Total int               `json:"total"`
		Page  int               `json:"page"`
		Limit int               `json:"limit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Total != 27 || envelope.Page != 2 || envelope.Limit != 5 {
		t.Fatalf("envelope = %+v", envelope)
	}
	if len(envelope.Data) != 1 {
		t.Fatalf("data = %d items, want 1", len(envelope.Data))
	}
}

func TestUnknownTokenUnauthorized(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	rec := doRequest(t, server, http.MethodGet, "/api/templates", "no-such-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["code"] != "UNAUTHORIZED" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestBlockedCallerForbidden(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	svc.identity = &fakeResolver{err: identity.ErrBlocked}

	rec := doRequest(t, server, http.MethodGet, "/api/templates", "any-token", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["code"] != "BLOCKED" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestSearchScopePerCaller(t *testing.T) {
	searcher := &fakeSearch{}
	server, svc := newTestServer(&fakeStore{})
	svc.search = searcher

	cases := []struct {
		name      string
		token     string
		wantScope search.Scope
		wantUser  string
	}{
		{"anonymous", "", search.ScopeAnonymous, ""},
		{"authenticated", "viewer-token", search.ScopeUser, testViewer.ID},
		{"admin", "admin-token", search.ScopeAdmin, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, server, http.MethodGet, "/api/search?q=feedback", tc.token, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if searcher.lastQuery.Scope != tc.wantScope {
				t.Fatalf("scope = %v, want %v", searcher.lastQuery.Scope, tc.wantScope)
			}
			if searcher.lastQuery.UserID != tc.wantUser {
				t.Fatalf("userID = %q, want %q", searcher.lastQuery.UserID, tc.wantUser)
			}
		})
	}
}

func TestSearchEmptyTerm(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	rec := doRequest(t, server, http.MethodGet, "/api/search?q=", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp search.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("response = %+v, want empty", resp)
	}
}

func TestSearchBackendFailureIsServerError(t *testing.T) {
	server, svc := newTestServer(&fakeStore{})
	svc.search = &fakeSearch{err: errors.New("pgfts count: connection refused")}

	rec := doRequest(t, server, http.MethodGet, "/api/search?q=feedback", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["code"] != "SERVER_ERROR" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestUpdateTemplateConflictOverHTTP(t *testing.T) {
	fs := &fakeStore{
		getTemplate: func(ctx context.Context, id string) (store.Template, error) {
			return ownedTemplate(id, true), nil
		},
		getTemplateQuestions: func(ctx context.Context, id string) ([]store.Question, error) {
			return existingQuestions(), nil
		},
		updateTemplate: func(ctx context.Context, id string, expectedVersion int, w store.TemplateWrite, purgeForms bool) error {
			return store.ErrVersionConflict
		},
	}
	server, _ := newTestServer(fs)

	body := `{"title":"Customer feedback","version":2,"questions":[]}`
	rec := doRequest(t, server, http.MethodPut, "/api/templates/tpl-1", "owner-token", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if errBody := decodeErrorBody(t, rec); errBody["code"] != "CONFLICT" {
		t.Fatalf("code = %v", errBody["code"])
	}
}

func TestCreateTemplateValidationShape(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	rec := doRequest(t, server, http.MethodPost, "/api/templates", "owner-token", `{"title":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("code = %v", body["code"])
	}
	details, ok := body["details"].([]any)
	if !ok || len(details) == 0 {
		t.Fatalf("details = %v", body["details"])
	}
	first, ok := details[0].(map[string]any)
	if !ok || first["field"] != "title" {
		t.Fatalf("details[0] = %v", details[0])
	}
}

func TestBulkDeleteTemplatesOverHTTP(t *testing.T) {
	var gotOwner string
	fs := &fakeStore{
		deleteTemplates: func(ctx context.Context, ids []string, ownerID string) (int64, []string, error) {
			gotOwner = ownerID
			return int64(len(ids)), nil, nil
		},
	}
	server, _ := newTestServer(fs)

	rec := doRequest(t, server, http.MethodDelete, "/api/templates", "owner-token", `{"ids":["tpl-1","tpl-2"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d", rec.Code)
	}
	if gotOwner != testOwner.ID {
		t.Fatalf("owner scope = %q, want %q", gotOwner, testOwner.ID)
	}

	rec = doRequest(t, server, http.MethodDelete, "/api/templates", "admin-token", `{"ids":["tpl-1"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}
	if gotOwner != "" {
		t.Fatalf("admin scope = %q, want unscoped", gotOwner)
	}
}

func TestAnonymousCannotMutate(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	targets := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/templates", `{"title":"T"}`},
		{http.MethodPost, "/api/forms", `{"templateId":"tpl-1"}`},
		{http.MethodDelete, "/api/templates", `{"ids":["tpl-1"]}`},
	}
	for _, target := range targets {
		rec := doRequest(t, server, target.method, target.path, "", target.body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: status = %d, want 401", target.method, target.path, rec.Code)
		}
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	rec := doRequest(t, server, http.MethodGet, "/api/admin/users", "viewer-token", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/admin/users", "admin-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q, want req-42", got)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	rec := doRequest(t, server, http.MethodGet, "/api/unknown", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
