package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleRecentHistory returns the latest journal events across every entity.
func (s *Server) handleRecentHistory(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	events, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent history query failed", "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleGetHistory returns journal events of one PHY or interface.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}

	kind, err := wpan.ParseEntityKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeBadRequest(w, "kind must be phy or interface")
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ref := wpan.EntityRef{Kind: kind, ID: id}
	events, err := s.history.History(r.Context(), ref, limit)
	if err != nil {
		s.logger.Error("history query failed", "entity", ref.String(), "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity": ref,
		"events": events,
		"count":  len(events),
	})
}

// journalEnabled answers 503 when the server has no journal.
func (s *Server) journalEnabled(w http.ResponseWriter) bool {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "event journal not enabled")
		return false
	}
	return true
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
