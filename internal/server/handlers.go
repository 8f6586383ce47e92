package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gdszyy/betradar-replay-tester/internal/control"
	"github.com/gdszyy/betradar-replay-tester/internal/session"
	"github.com/gdszyy/betradar-replay-tester/internal/store"
	"github.com/gdszyy/betradar-replay-tester/internal/uof"
)

const (
	defaultRecentHours  = 48
	defaultRecentLimit  = 100
	defaultMessageLimit = 100
)

type errorBody struct {
	Error        string `json:"error"`
	UpstreamCode int    `json:"upstream_code,omitempty"`
}

type sessionResponse struct {
	Status  string               `json:"status"`
	Session *store.ReplaySession `json:"session,omitempty"`
}

type playlistRequest struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type,omitempty"`
	StartTime int    `json:"start_time,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

// respondError maps domain errors onto HTTP statuses: validation problems are
// the caller's fault, conflicts mean the session slot is busy, and control
// endpoint failures surface as a bad gateway carrying the upstream code.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var verr *session.ValidationError
	var cerr *session.ConflictError
	var ctrl *control.ControlError

	switch {
	case errors.As(err, &verr):
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error()})
	case errors.As(err, &cerr):
		s.respondJSON(w, http.StatusConflict, errorBody{Error: cerr.Error()})
	case errors.Is(err, uof.ErrInvalidURN):
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &ctrl):
		s.respondJSON(w, http.StatusBadGateway, errorBody{Error: ctrl.Message, UpstreamCode: ctrl.Code})
	default:
		s.respondJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// decodeJSON treats an empty body as the zero value so POSTs without
// parameters fall back to defaults.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "betradar-replay-tester",
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var opts session.StartOpts
	if err := decodeJSON(r, &opts); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	sess, err := s.sessions.Start(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{Status: store.StatusPlaying, Session: sess})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Stop(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{Status: store.StatusStopped, Session: sess})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Reset(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{Status: store.StatusIdle, Session: sess})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sessions.Status(r.Context()))
}

func (s *Server) handlePlaylistGet(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.playlists.Get(r.Context()))
}

func (s *Server) handlePlaylistAdd(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.EventID == "" {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "event_id is required"})
		return
	}

	item, err := s.playlists.Add(r.Context(), req.EventID, req.EventType, req.StartTime)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handlePlaylistRemove(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.EventID == "" {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "event_id is required"})
		return
	}

	removed, err := s.playlists.Remove(r.Context(), req.EventID, req.EventType)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.sessions.Scenarios(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	if scenarios == nil {
		scenarios = []control.Scenario{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"scenarios": scenarios,
		"count":     len(scenarios),
	})
}

func (s *Server) handleScenarioPlay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "scenario id is required"})
		return
	}

	sess, err := s.sessions.PlayScenario(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{Status: store.StatusPlaying, Session: sess})
}

func (s *Server) handleRecentMatches(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultRecentHours)
	if hours < 1 {
		hours = defaultRecentHours
	}
	limit := queryInt(r, "limit", defaultRecentLimit)

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	matches := s.gw.ListRecentMatches(r.Context(), since, limit)
	if matches == nil {
		matches = []store.Match{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	urn, err := uof.BuildURN("", chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	match := s.gw.GetMatch(r.Context(), urn.String())
	if match == nil {
		s.respondJSON(w, http.StatusNotFound, errorBody{Error: "match not found"})
		return
	}
	s.respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleMatchSummary(w http.ResponseWriter, r *http.Request) {
	s.proxyEventDoc(w, r, s.remote.EventSummary)
}

func (s *Server) handleMatchTimeline(w http.ResponseWriter, r *http.Request) {
	s.proxyEventDoc(w, r, s.remote.EventTimeline)
}

// proxyEventDoc fetches a sport-event document from the UOF API and passes
// the XML through untouched.
func (s *Server) proxyEventDoc(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, urn uof.URN, lang string) ([]byte, error)) {
	urn, err := uof.BuildURN("", chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	lang := r.URL.Query().Get("language")
	if lang == "" {
		lang = "en"
	}

	raw, err := fetch(r.Context(), urn, lang)
	if err != nil {
		s.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	filter := store.MessageFilter{
		MatchID: r.URL.Query().Get("match_id"),
		Type:    r.URL.Query().Get("type"),
	}
	// Bare numeric ids are normalized to the stored URN form.
	if filter.MatchID != "" {
		if urn, err := uof.BuildURN("", filter.MatchID); err == nil {
			filter.MatchID = urn.String()
		}
	}
	if v := r.URL.Query().Get("session_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid session_id"})
			return
		}
		filter.SessionID = id
	}
	limit := queryInt(r, "limit", defaultMessageLimit)

	msgs := s.gw.ListMessages(r.Context(), filter, limit)
	if msgs == nil {
		msgs = []store.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
