package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"barcamp/api/internal/auth"
	"barcamp/api/internal/export"
	"barcamp/api/internal/grid"
	"barcamp/api/internal/rbac"
	"barcamp/api/internal/search"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
	verifier   *auth.Verifier
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

// RequireTokens makes every request carry a widget session token signed for
// the room instead of trusting the forwarded identity headers.
func (s *HTTPServer) RequireTokens(v *auth.Verifier) {
	s.verifier = v
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
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
			"store": map[string]any{"status": "ok"},
			"grid":  map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
			checks["store"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if !s.service.grid.Loaded() {
			checks["grid"] = map[string]any{"status": "not_initialized"}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "grid":
		s.handleGrid(w, r, session, parts[2:])
	case "topics":
		s.handleTopics(w, r, session, parts[2:])
	case "submissions":
		s.handleSubmissions(w, r, session, parts[2:])
	case "chat":
		s.handleChat(w, r, session, parts[2:])
	case "notifications":
		s.handleNotifications(w, r, parts[2:])
	case "search":
		s.handleSearch(w, r, session)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleGrid(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		view, err := s.service.Grid()
		if err != nil {
			writeMappedError(w, err)
			return
		}
		etag := `"` + view.Fingerprint + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(parts) == 1 && parts[0] == "export" && r.Method == http.MethodGet:
		query := r.URL.Query()
		format, err := export.ParseFormat(query.Get("format"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		result, err := s.service.ExportGrid(r.Context(), session, export.Request{
			Format:            format,
			Title:             query.Get("title"),
			IncludeParkingLot: query.Get("parkingLot") == "true",
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case len(parts) == 1 && parts[0] == "setup" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionEditGrid) {
			writeMappedError(w, forbidden(string(rbac.ActionEditGrid)))
			return
		}
		var body struct {
			Day string `json:"day"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		day := s.service.now()
		if body.Day != "" {
			parsed, err := time.ParseInLocation(time.DateOnly, body.Day, day.Location())
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "day must be YYYY-MM-DD", nil)
				return
			}
			day = parsed
		}
		g, err := s.service.SetupGrid(r.Context(), day)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"grid": g})

	case len(parts) == 1 && parts[0] == "commands" && r.Method == http.MethodPost:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		cmd, err := grid.DecodeCommand(data)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		g, err := s.service.Execute(r.Context(), session, cmd)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grid": g})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTopics(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"topics": s.service.SharedTopics()})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body TopicUpdate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		draft, err := s.service.CreateDraft(ctx, session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if body.Title != nil || body.Description != nil {
			if draft, err = s.service.UpdateTopic(ctx, session, draft.ID, body); err != nil {
				writeMappedError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusCreated, map[string]any{"topic": draft})

	case len(parts) == 1 && parts[0] == "drafts" && r.Method == http.MethodGet:
		drafts, err := s.service.Drafts(ctx, session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"topics": drafts})

	case len(parts) == 1 && r.Method == http.MethodGet:
		t, err := s.service.Topic(ctx, session, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"topic": t})

	case len(parts) == 1 && r.Method == http.MethodPut:
		var body TopicUpdate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		t, err := s.service.UpdateTopic(ctx, session, parts[0], body)
		if err != nil {
			status, code, message, details := mapError(err)
			payload := map[string]any{"code": code, "error": message}
			if details != nil {
				payload["details"] = details
			}
			if t.ID != "" {
				payload["topic"] = t
			}
			writeJSON(w, status, payload)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"topic": t})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteTopic(ctx, session, parts[0]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "submit" && r.Method == http.MethodPost:
		sub, t, err := s.service.SubmitTopic(ctx, session, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"topic": t, "submission": sub})

	case len(parts) == 2 && (parts[1] == "pin" || parts[1] == "unpin") && r.Method == http.MethodPost:
		var cmd grid.Command = grid.PinTopic{TopicID: parts[0]}
		if parts[1] == "unpin" {
			cmd = grid.UnpinTopic{TopicID: parts[0]}
		}
		if _, err := s.service.Execute(ctx, session, cmd); err != nil {
			writeMappedError(w, err)
			return
		}
		t, err := s.service.Topic(ctx, session, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"topic": t})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSubmissions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		locked, err := s.service.SubmissionsLocked(ctx)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"submissions": s.service.Submissions(),
			"locked":      locked,
		})

	case len(parts) == 1 && parts[0] == "next" && r.Method == http.MethodPost:
		g, sub, err := s.service.SelectNext(ctx, session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grid": g, "submission": sub})

	case len(parts) == 1 && parts[0] == "lock" && r.Method == http.MethodGet:
		locked, err := s.service.SubmissionsLocked(ctx)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locked": locked})

	case len(parts) == 1 && parts[0] == "lock" && r.Method == http.MethodPut:
		var body struct {
			Locked bool `json:"locked"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetSubmissionsLocked(ctx, session, body.Locked); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locked": body.Locked})

	case len(parts) == 2 && parts[1] == "consume" && r.Method == http.MethodPost:
		g, err := s.service.Consume(ctx, session, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grid": g})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 || parts[0] != "messages" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionSubmitTopic) {
		writeMappedError(w, forbidden(string(rbac.ActionSubmitTopic)))
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.HandleChatMessage(r.Context(), session.UserID, body.Body))
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"notifications": s.service.Notifications()})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.service.DismissNotification(parts[0])
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionRead) {
		writeMappedError(w, forbidden(string(rbac.ActionRead)))
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:       query.Get("q"),
		PinnedOnly: query.Get("pinned") == "true",
		Limit:      limit,
		Offset:     offset,
	}))
}

// requireSession reads the caller forwarded by the widget host.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if s.verifier != nil {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
			return Session{}, false
		}
		return Session{UserID: claims.Sub, Role: rbac.Normalize(claims.Role)}, true
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return Session{UserID: userID, Role: rbac.Normalize(strings.TrimSpace(r.Header.Get("X-User-Role")))}, true
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

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID, X-User-Role, X-Request-ID, If-None-Match")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
