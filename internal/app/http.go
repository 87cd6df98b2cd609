package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"quill/api/internal/auth"
	"quill/api/internal/metrics"
	"quill/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	jwtSecret  []byte
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, jwtSecret []byte, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, jwtSecret: jwtSecret, corsOrigin: corsOrigin, log: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(recordRoute)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	notes := api.PathPrefix("/notes").Subrouter()
	notes.Use(s.requireSession)
	notes.HandleFunc("", s.handleListNotes).Methods(http.MethodGet)
	notes.HandleFunc("", s.handleCreateNote).Methods(http.MethodPost)
	notes.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	notes.HandleFunc("/share", s.handleShare).Methods(http.MethodPost)
	notes.HandleFunc("/{id}", s.handleGetNote).Methods(http.MethodGet)
	notes.HandleFunc("/{id}", s.handleUpdateNote).Methods(http.MethodPut)
	notes.HandleFunc("/{id}", s.handleDeleteNote).Methods(http.MethodDelete)
	notes.HandleFunc("/{id}/detail", s.handleGetDetailed).Methods(http.MethodGet)
	notes.HandleFunc("/{id}/history", s.handleHistory).Methods(http.MethodGet)
	return router
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
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
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.service.ListNotes(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(notes) == 0 {
		writeEnvelope(w, http.StatusNotFound, "Note Not Found. Please Create a Note", "metadata", []any{})
		return
	}
	writeEnvelope(w, http.StatusOK, "Success", "metadata", noteViews(notes))
}

func (s *HTTPServer) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var body CreateNoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	note, err := s.service.Create(r.Context(), principalFrom(r.Context()), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusCreated, "Notes Created.", "data", toNoteView(note))
}

func (s *HTTPServer) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.service.GetOne(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully retrieved.", "metadata", toNoteView(note))
}

func (s *HTTPServer) handleGetDetailed(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetDetailed(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully retrieved.", "metadata", map[string]any{
		"note":   toNoteView(detail.Note),
		"grants": grantViews(detail.Grants),
	})
}

func (s *HTTPServer) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var body UpdateNoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	note, err := s.service.Update(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully updated.", "metadata", toNoteView(note))
}

func (s *HTTPServer) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully deleted.", "metadata", []any{})
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request) {
	var items []ShareItem
	if err := decodeBody(r, &items); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Share(r.Context(), principalFrom(r.Context()), items)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Notes Share Completed.", "data", map[string]any{
		"created": grantViews(result.Created),
		"updated": grantViews(result.Updated),
		"errors":  result.Errors,
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.History(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history.Kind == HistoryUnmodified {
		writeEnvelope(w, http.StatusNotFound, "Requested Note Does Not Have Any Modifications Found.", "metadata", initialView(history.Initial))
		return
	}
	writeEnvelope(w, http.StatusOK, "Note History successfully retrieved.", "metadata", map[string]any{
		"total_changes":   history.Total,
		"changes_history": auditViews(history.Entries),
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	resp, err := s.service.Search(r.Context(), principalFrom(r.Context()), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Success", "metadata", resp)
}

// fail writes the mapped error and logs anything that is not a domain error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.fail(w, r, unauthorized("Authentication credentials were not provided."))
			return
		}
		principal, err := auth.ParseToken(s.jwtSecret, token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.service.Identify(r.Context(), principal); err != nil {
			s.fail(w, r, err)
			return
		}
		if info := requestInfoFrom(r.Context()); info != nil {
			info.userID = principal.ID
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		info := &requestInfo{route: "unmatched"}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = context.WithValue(ctx, requestInfoKey{}, info)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}

		metrics.ActiveRequests.Inc()
		defer metrics.ActiveRequests.Dec()
		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.ObserveRequest(r.Method, info.route, writer.status, elapsed)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", info.route).
			Str("user_id", info.userID).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

// recordRoute copies the matched route template into the request info so
// the outer middleware can label metrics without raw IDs.
func recordRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info := requestInfoFrom(r.Context()); info != nil {
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					info.route = tmpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

type requestInfoKey struct{}

type principalKey struct{}

type requestInfo struct {
	route  string
	userID string
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

func principalFrom(ctx context.Context) auth.Principal {
	principal, _ := ctx.Value(principalKey{}).(auth.Principal)
	return principal
}

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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeEnvelope writes {status, detail, <key>: payload}. key is "data" for
// writes and "metadata" for reads.
func writeEnvelope(w http.ResponseWriter, status int, detail, key string, payload any) {
	writeJSON(w, status, map[string]any{
		"status": status,
		"detail": detail,
		key:      payload,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"status": status,
		"code":   code,
		"detail": message,
	}
	if details != nil {
		response["errors"] = details
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Token has expired", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
