package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/query"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const (
	maxRequestBody = 64 << 10
	submitTimeout  = 10 * time.Second
)

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/requests", s.submit},
		{http.MethodGet, "/v1/players/{player_id}", s.getPlayer},
		{http.MethodGet, "/v1/players/{player_id}/trades", s.getTrades},
		{http.MethodGet, "/v1/players/{player_id}/journals", s.getJournals},
		{http.MethodGet, "/v1/players/{player_id}/positions/{market_id}", s.getPosition},
		{http.MethodGet, "/v1/markets", s.listMarkets},
		{http.MethodGet, "/v1/markets/{market_id}", s.getMarket},
		{http.MethodGet, "/v1/leaderboard", s.getLeaderboard},
		{http.MethodGet, "/v1/admin/integrity", s.verifyIntegrity},
		{http.MethodGet, "/v1/admin/log", s.getLogInfo},
		{http.MethodPost, "/v1/admin/snapshots", s.takeSnapshot},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Submission
// ============================================================================

func (s *Server) submit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "submission disabled")
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "RateLimited", "submission rate exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, err.Error())
		return
	}
	req, err := ingestion.ParseRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	resp, err := s.deps.Submitter.Submit(ctx, req)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
		return
	}

	code := http.StatusOK
	if !resp.OK {
		code = submitStatus(resp.ErrorCode)
	}
	writeJSON(w, code, resp)
}

// submitStatus maps a rejected response to an HTTP status.
func submitStatus(errorCode string) int {
	switch {
	case ingestion.Retryable(errorCode):
		return http.StatusServiceUnavailable
	case errorCode == core.CodeOutOfOrder:
		return http.StatusConflict
	case errorCode == core.CodeInvalidRequest:
		return http.StatusBadRequest
	case strings.HasSuffix(errorCode, "NotFound"):
		return http.StatusNotFound
	case errorCode == state.ErrUnauthorized.Code || errorCode == state.ErrNotAdmin.Code:
		return http.StatusForbidden
	}
	return http.StatusUnprocessableEntity
}

// ============================================================================
// Queries
// ============================================================================

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := pathUUID(w, params, "player_id")
	if !ok {
		return
	}
	resp, err := s.deps.Query.GetPlayer(r.Context(), id)
	s.reply(w, resp, err)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := pathUUID(w, params, "player_id")
	if !ok {
		return
	}
	limit, before, ok := paging(w, r, "before")
	if !ok {
		return
	}
	resp, err := s.deps.Query.GetTrades(r.Context(), id, limit, before)
	s.reply(w, resp, err)
}

func (s *Server) getJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := pathUUID(w, params, "player_id")
	if !ok {
		return
	}
	limit, before, ok := paging(w, r, "before")
	if !ok {
		return
	}
	resp, err := s.deps.Query.GetJournalHistory(r.Context(), id, limit, before)
	s.reply(w, resp, err)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := pathUUID(w, params, "player_id")
	if !ok {
		return
	}
	market, ok := pathUint(w, params, "market_id")
	if !ok {
		return
	}
	resp, err := s.deps.Query.GetPosition(r.Context(), id, market)
	s.reply(w, resp, err)
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit, after, ok := paging(w, r, "after")
	if !ok {
		return
	}
	var afterID *uint64
	if after != nil {
		id := uint64(*after)
		afterID = &id
	}
	resp, err := s.deps.Query.ListMarkets(r.Context(), r.URL.Query().Get("status"), limit, afterID)
	s.reply(w, resp, err)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, ok := pathUint(w, params, "market_id")
	if !ok {
		return
	}
	resp, err := s.deps.Query.GetMarket(r.Context(), id)
	s.reply(w, resp, err)
}

func (s *Server) getLeaderboard(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.Query.GetLeaderboard(r.Context())
	s.reply(w, resp, err)
}

// ============================================================================
// Admin
// ============================================================================

func (s *Server) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.deps.Query.VerifyIntegrity(r.Context())
	s.reply(w, report, err)
}

func (s *Server) getLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Log == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "event log not configured")
		return
	}
	seq, err := s.deps.Log.GetLatestSequence(r.Context())
	s.reply(w, map[string]int64{"last_sequence": seq}, err)
}

func (s *Server) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "snapshots not configured")
		return
	}
	seq, err := s.deps.Snapshots.TakeSnapshot(r.Context())
	s.reply(w, map[string]any{"sequence": seq, "taken": seq > 0}, err)
}

// ============================================================================
// Helpers
// ============================================================================

// reply writes v, or maps err to a status.
func (s *Server) reply(w http.ResponseWriter, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}

	var se *state.Error
	switch {
	case errors.As(err, &se):
		code := http.StatusBadRequest
		if strings.HasSuffix(se.Code, "NotFound") || se == state.ErrNoPosition {
			code = http.StatusNotFound
		}
		writeError(w, code, se.Code, se.Message)
	case errors.Is(err, query.ErrNoProjections):
		writeError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Timeout", err.Error())
	default:
		s.logger.Error().Err(err).Msg("query failed")
		writeError(w, http.StatusInternalServerError, core.CodeInternal, "internal error")
	}
}

func pathUUID(w http.ResponseWriter, params map[string]string, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(params[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid "+name+": "+err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func pathUint(w http.ResponseWriter, params map[string]string, name string) (uint64, bool) {
	v, err := strconv.ParseUint(params[name], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid "+name+": "+err.Error())
		return 0, false
	}
	return v, true
}

// paging reads ?limit= and an optional cursor parameter.
func paging(w http.ResponseWriter, r *http.Request, cursor string) (int, *int64, bool) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid limit")
			return 0, nil, false
		}
		limit = v
	}
	var cur *int64
	if raw := q.Get(cursor); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "invalid "+cursor)
			return 0, nil, false
		}
		cur = &v
	}
	return limit, cur, true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
