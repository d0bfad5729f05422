package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/moodflo/moodflo/internal/registry"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ReportStore is the archive slice the API reads completed reports from.
type ReportStore interface {
	GetReport(sessionID string) ([]byte, error)
}

func registerAPIRoutes(mux *http.ServeMux, sessions SessionRegistry, reports ReportStore) {
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MediaRef string `json:"media_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.MediaRef) == "" {
			writeJSONError(w, http.StatusBadRequest, "media_ref is required")
			return
		}

		id, err := sessions.CreateSession(r.Context(), req.MediaRef)
		if err != nil {
			if errors.Is(err, registry.ErrDuplicateSession) {
				writeJSONError(w, http.StatusConflict, "session already active for this media")
				return
			}
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("create session: %v", err))
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}

		body := map[string]any{
			"session_id":  sess.ID,
			"media_ref":   sess.MediaRef,
			"state":       sess.Builder.State().String(),
			"duration":    sess.Duration,
			"frame_count": sess.Timeline.Len(),
			"subscribers": sess.Subscribers(),
			"created_at":  sess.CreatedAt.Format(time.RFC3339),
		}
		if err := sess.Builder.Err(); err != nil {
			body["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, body)
	})

	mux.HandleFunc("GET /api/sessions/{id}/timeline", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupSession(w, r, sessions)
		if !ok {
			return
		}

		// Partial timelines of failed sessions stay queryable.
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sess.ID,
			"state":      sess.Builder.State().String(),
			"frames":     sess.Timeline.Snapshot(),
		})
	})

	mux.HandleFunc("GET /api/sessions/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		payload, err := reports.GetReport(sessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeJSONError(w, http.StatusNotFound, "report not ready")
				return
			}
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get report: %v", err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		// Idempotent: deleting an unknown or already-deleted session is fine.
		sessions.Delete(sessionID)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"active_sessions": sessions.Len(),
		})
	})
}

func lookupSession(w http.ResponseWriter, r *http.Request, sessions SessionRegistry) (*registry.Session, bool) {
	sessionID := r.PathValue("id")
	if !validSessionID(sessionID) {
		writeJSONError(w, http.StatusForbidden, "invalid session id")
		return nil, false
	}

	sess, err := sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownSession) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session: %v", err))
		return nil, false
	}
	return sess, true
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
