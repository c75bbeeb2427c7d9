package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"formhub/api/internal/identity"
	"formhub/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	caller, err := s.service.ResolveCaller(r.Context(), bearerToken(r))
	if err != nil {
		s.fail(w, err)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "templates":
		s.handleTemplates(w, r, caller, parts[2:])
	case "forms":
		s.handleForms(w, r, caller, parts[2:])
	case "images":
		s.handleImages(w, r, caller, parts[2:])
	case "comments":
		s.handleComments(w, r, caller, parts[2:])
	case "search":
		s.handleSearch(w, r, caller, parts[2:])
	case "topics", "tags":
		s.handleLookups(w, r, parts[1], parts[2:])
	case "users":
		s.handleUsers(w, r, caller, parts[2:])
	case "admin":
		s.handleAdmin(w, r, caller, parts[2:])
	case "salesforce":
		s.handleSalesforce(w, r, caller, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		page, limit, offset := s.service.parsePage(r)
		sort := parseSort(r.URL.Query().Get("sort"))
		items, total, err := s.service.ListTemplates(r.Context(), caller, sort, limit, offset)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListEnvelope{Data: items, Total: total, Page: page, Limit: limit})

	case len(rest) == 0 && r.Method == http.MethodPost:
		var input TemplateInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.CreateTemplate(r.Context(), caller, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)

	case len(rest) == 0 && r.Method == http.MethodDelete:
		var input UserIDsInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		deleted, err := s.service.DeleteTemplates(r.Context(), caller, input.IDs)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})

	case len(rest) == 1 && rest[0] == "mine" && r.Method == http.MethodGet:
		page, limit, offset := s.service.parsePage(r)
		sort := parseSort(r.URL.Query().Get("sort"))
		items, total, err := s.service.ListMyTemplates(r.Context(), caller, sort, limit, offset)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListEnvelope{Data: items, Total: total, Page: page, Limit: limit})

	case len(rest) == 1 && r.Method == http.MethodGet:
		view, err := s.service.GetTemplate(r.Context(), caller, rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(rest) == 1 && r.Method == http.MethodPut:
		var input TemplateUpdateInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.UpdateTemplate(r.Context(), caller, rest[0], input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(rest) == 2 && rest[1] == "forms" && r.Method == http.MethodGet:
		page, limit, offset := s.service.parsePage(r)
		sort := parseSort(r.URL.Query().Get("sort"))
		items, total, err := s.service.ListTemplateForms(r.Context(), caller, rest[0], sort, limit, offset)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListEnvelope{Data: items, Total: total, Page: page, Limit: limit})

	case len(rest) == 2 && rest[1] == "analytics" && r.Method == http.MethodGet:
		analytics, err := s.service.TemplateAnalytics(r.Context(), caller, rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, analytics)

	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), caller, rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": comments})

	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodPost:
		var input CommentInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.AddComment(r.Context(), caller, rest[0], input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)

	case len(rest) == 2 && rest[1] == "like" && r.Method == http.MethodPost:
		view, err := s.service.LikeTemplate(r.Context(), caller, rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(rest) == 2 && rest[1] == "like" && r.Method == http.MethodDelete:
		view, err := s.service.UnlikeTemplate(r.Context(), caller, rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleForms(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		page, limit, offset := s.service.parsePage(r)
		sort := parseSort(r.URL.Query().Get("sort"))
		items, total, err := s.service.ListAllForms(r.Context(), caller, sort, limit, offset)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListEnvelope{Data: items, Total: total, Page: page, Limit: limit})

	case len(rest) == 0 && r.Method == http.MethodPost:
		var input FormInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.CreateForm(r.Context(), caller, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)

	case len(rest) == 0 && r.Method == http.MethodDelete:
		var input UserIDsInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		deleted, err := s.service.DeleteForms(r.Context(), caller, input.IDs)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})

	case len(rest) == 1 && rest[0] == "mine" && r.Method == http.MethodGet:
		page, limit, offset := s.service.parsePage(r)
		sort := parseSort(r.URL.Query().Get("sort"))
		items, total, err := s.service.ListMyForms(r.Context(), caller, sort, limit, offset)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListEnvelope{Data: items, Total: total, Page: page, Limit: limit})

	case len(rest) == 1 && r.Method == http.MethodGet:
		view, err := s.service.GetForm(r.Context(), caller, rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(rest) == 1 && r.Method == http.MethodPut:
		var input FormUpdateInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.UpdateForm(r.Context(), caller, rest[0], input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	if len(rest) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteComment(r.Context(), caller, rest[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	_, limit, offset := s.service.parsePage(r)
	resp, err := s.service.SearchTemplates(r.Context(), caller, r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleLookups(w http.ResponseWriter, r *http.Request, kind string, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	term := r.URL.Query().Get("search")
	if kind == "topics" {
		topics, err := s.service.ListTopics(r.Context(), term)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": topics})
		return
	}
	tags, err := s.service.ListTags(r.Context(), term)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": tags})
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	if len(rest) == 1 && rest[0] == "autocomplete" && r.Method == http.MethodGet {
		users, err := s.service.AutocompleteUsers(r.Context(), caller, r.URL.Query().Get("q"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": users})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "users" && r.Method == http.MethodGet:
		page, limit, offset := s.service.parsePage(r)
		sort := parseSort(r.URL.Query().Get("sort"))
		users, total, err := s.service.ListUsers(r.Context(), caller, sort, limit, offset)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListEnvelope{Data: users, Total: total, Page: page, Limit: limit})

	case len(rest) == 2 && rest[0] == "users" && rest[1] == "role" && r.Method == http.MethodPut:
		var input UserRoleInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		affected, err := s.service.SetUserRoles(r.Context(), caller, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": affected})

	case len(rest) == 2 && rest[0] == "users" && rest[1] == "block" && r.Method == http.MethodPut:
		var input UserBlockInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		affected, err := s.service.SetUsersBlocked(r.Context(), caller, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": affected})

	case len(rest) == 1 && rest[0] == "users" && r.Method == http.MethodDelete:
		var input UserIDsInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		deleted, err := s.service.DeleteUsers(r.Context(), caller, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSalesforce(w http.ResponseWriter, r *http.Request, caller *store.User, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "sync" && r.Method == http.MethodPost:
		var input struct {
			UserID string `json:"userId"`
			SalesforceSyncInput
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		status, err := s.service.SyncToSalesforce(r.Context(), caller, input.UserID, input.SalesforceSyncInput)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)

	case len(rest) == 1 && rest[0] == "status" && r.Method == http.MethodGet:
		status, err := s.service.SalesforceStatusFor(r.Context(), caller)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return http.StatusConflict, "CONFLICT", "Version conflict, reload and retry", nil
	}
	if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, identity.ErrBlocked) {
		return http.StatusForbidden, "BLOCKED", "Account is blocked", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
