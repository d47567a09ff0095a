// Package http implements the REST API for the gamification core.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/harmony-app/gamification-core/internal/application/command"
	"github.com/harmony-app/gamification-core/internal/application/query"
	"github.com/harmony-app/gamification-core/internal/domain/ledger"
	"github.com/harmony-app/gamification-core/internal/domain/level"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/domain/shared"
	"github.com/harmony-app/gamification-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Harmony Gamification API",
		"version":     "v1",
		"description": "XP ledger, levels, and multiplier windows for the Harmony app",
		"endpoints": map[string]string{
			"health":       "/health",
			"stats":        "/api/v1/users/{id}/stats",
			"award":        "/api/v1/users/{id}/xp/award",
			"transactions": "/api/v1/users/{id}/transactions",
			"multiplier":   "/api/v1/users/{id}/multiplier",
			"levels":       "/api/v1/levels",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// xpRequest is the body for award and subtract calls.
type xpRequest struct {
	Amount      int64  `json:"amount"`
	Source      string `json:"source"`
	OperationID string `json:"operation_id,omitempty"`
}

// xpResponse renders a ledger result for the client.
type xpResponse struct {
	OperationID       string  `json:"operation_id"`
	XPGained          int64   `json:"xp_gained"`
	TotalXP           int64   `json:"total_xp"`
	PreviousLevel     int     `json:"previous_level"`
	NewLevel          int     `json:"new_level"`
	LevelTitle        string  `json:"level_title"`
	LeveledUp         bool    `json:"leveled_up"`
	LeveledDown       bool    `json:"leveled_down"`
	MilestoneReached  bool    `json:"milestone_reached"`
	MultiplierApplied float64 `json:"multiplier_applied"`
	Replayed          bool    `json:"replayed"`
}

func renderResult(res *ledger.Result) xpResponse {
	return xpResponse{
		OperationID:       res.OperationID.String(),
		XPGained:          res.XPGained,
		TotalXP:           res.TotalXP.Int64(),
		PreviousLevel:     res.PreviousLevel.Int(),
		NewLevel:          res.NewLevel.Int(),
		LevelTitle:        res.LevelTitle,
		LeveledUp:         res.LeveledUp,
		LeveledDown:       res.LeveledDown,
		MilestoneReached:  res.MilestoneReached,
		MultiplierApplied: res.MultiplierApplied,
		Replayed:          res.Replayed,
	}
}

// statsResponse renders the stats aggregate.
type statsResponse struct {
	UserID              string     `json:"user_id"`
	TotalXP             int64      `json:"total_xp"`
	CurrentLevel        int        `json:"current_level"`
	LevelTitle          string     `json:"level_title"`
	XPToNextLevel       int64      `json:"xp_to_next_level"`
	XPProgressPercent   int        `json:"xp_progress_percent"`
	IsMilestoneLevel    bool       `json:"is_milestone_level"`
	MultiplierActive    bool       `json:"multiplier_active"`
	MultiplierFactor    float64    `json:"multiplier_factor"`
	MultiplierExpiresAt *time.Time `json:"multiplier_expires_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func renderStats(stats shared.GamificationStats) statsResponse {
	out := statsResponse{
		UserID:            stats.UserID.String(),
		TotalXP:           stats.TotalXP.Int64(),
		CurrentLevel:      stats.CurrentLevel.Int(),
		LevelTitle:        stats.LevelTitle,
		XPToNextLevel:     stats.XPToNextLevel,
		XPProgressPercent: stats.XPProgressPercent,
		IsMilestoneLevel:  stats.IsMilestoneLevel,
		MultiplierActive:  stats.MultiplierActive,
		MultiplierFactor:  stats.MultiplierFactor,
		UpdatedAt:         stats.UpdatedAt,
	}
	if stats.MultiplierActive {
		expires := stats.MultiplierExpiresAt
		out.MultiplierExpiresAt = &expires
	}
	return out
}

// transactionResponse renders one ledger entry.
type transactionResponse struct {
	ID                string    `json:"id"`
	OperationID       string    `json:"operation_id"`
	Amount            int64     `json:"amount"`
	RawAmount         int64     `json:"raw_amount"`
	Source            string    `json:"source"`
	MultiplierApplied float64   `json:"multiplier_applied"`
	ResultingTotal    int64     `json:"resulting_total"`
	Seq               int64     `json:"seq"`
	CreatedAt         time.Time `json:"created_at"`
}

// multiplierResponse renders the active multiplier window.
type multiplierResponse struct {
	Active      bool       `json:"active"`
	Factor      float64    `json:"factor,omitempty"`
	Source      string     `json:"source,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func renderMultiplier(state multiplier.State, active bool) multiplierResponse {
	if !active {
		return multiplierResponse{Active: false}
	}
	activated, expires := state.ActivatedAt, state.ExpiresAt
	return multiplierResponse{
		Active:      true,
		Factor:      state.Factor,
		Source:      state.Source.String(),
		ActivatedAt: &activated,
		ExpiresAt:   &expires,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// XP HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleAwardXP handles POST /api/v1/users/{id}/xp/award
func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var req xpRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	cmd := command.AwardXPCommand{
		UserID:      userID,
		Amount:      req.Amount,
		Source:      req.Source,
		OperationID: req.OperationID,
	}

	result, err := s.deps.AwardHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to award XP")
		return
	}

	s.invalidateStats(r, userID)
	writeJSON(w, http.StatusOK, renderResult(result))
}

// handleSubtractXP handles POST /api/v1/users/{id}/xp/subtract
func (s *Server) handleSubtractXP(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var req xpRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	cmd := command.SubtractXPCommand{
		UserID:      userID,
		Amount:      req.Amount,
		Source:      req.Source,
		OperationID: req.OperationID,
	}

	result, err := s.deps.AwardHandler.HandleSubtract(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to subtract XP")
		return
	}

	s.invalidateStats(r, userID)
	writeJSON(w, http.StatusOK, renderResult(result))
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS & HISTORY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStats handles GET /api/v1/users/{id}/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	q := query.GetStatsQuery{
		UserID:      r.PathValue("id"),
		BypassCache: getQueryParamBool(r, "fresh"),
	}

	stats, err := s.deps.StatsHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get stats")
		return
	}

	writeJSON(w, http.StatusOK, renderStats(stats))
}

// handleListTransactions handles GET /api/v1/users/{id}/transactions
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := query.ListTransactionsQuery{
		UserID: r.PathValue("id"),
		Limit:  getQueryParamInt(r, "limit", 0),
		Offset: getQueryParamInt(r, "offset", 0),
	}

	result, err := s.deps.TransactionsHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list transactions")
		return
	}

	out := make([]transactionResponse, 0, len(result.Transactions))
	for _, tx := range result.Transactions {
		out = append(out, transactionResponse{
			ID:                tx.ID,
			OperationID:       tx.OperationID.String(),
			Amount:            tx.Amount,
			RawAmount:         tx.RawAmount,
			Source:            tx.Source.String(),
			MultiplierApplied: tx.MultiplierApplied,
			ResultingTotal:    tx.ResultingTotal.Int64(),
			Seq:               tx.Seq,
			CreatedAt:         tx.CreatedAt,
		})
	}

	meta := &ResponseMeta{
		Limit:  result.Limit,
		Offset: result.Offset,
	}
	writeJSONWithMeta(w, r, http.StatusOK, out, meta)
}

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// activateMultiplierRequest is the body for multiplier activation.
type activateMultiplierRequest struct {
	StreakLength int    `json:"streak_length"`
	Source       string `json:"source"`
}

// handleGetMultiplier handles GET /api/v1/users/{id}/multiplier
func (s *Server) handleGetMultiplier(w http.ResponseWriter, r *http.Request) {
	state, active := s.deps.Multipliers.GetActive()
	writeJSON(w, http.StatusOK, renderMultiplier(state, active))
}

// handleActivateMultiplier handles POST /api/v1/users/{id}/multiplier/activate
func (s *Server) handleActivateMultiplier(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var req activateMultiplierRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	cmd := command.ActivateMultiplierCommand{
		UserID:       userID,
		StreakLength: req.StreakLength,
		Source:       req.Source,
	}

	result, err := s.deps.MultiplierHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to activate multiplier")
		return
	}

	s.invalidateStats(r, userID)
	writeJSON(w, http.StatusOK, renderMultiplier(result.State, true))
}

// handleDeactivateMultiplier handles POST /api/v1/users/{id}/multiplier/deactivate
func (s *Server) handleDeactivateMultiplier(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	result, err := s.deps.MultiplierHandler.HandleDeactivate(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to deactivate multiplier")
		return
	}

	s.invalidateStats(r, userID)
	writeJSON(w, http.StatusOK, renderMultiplier(result.State, false))
}

// ══════════════════════════════════════════════════════════════════════════════
// RESET HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// resetRequest is the body for the reset call.
type resetRequest struct {
	Confirm bool `json:"confirm"`
}

// handleResetProgress handles POST /api/v1/users/{id}/reset
func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var req resetRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	cmd := command.ResetProgressCommand{
		UserID:  userID,
		Confirm: req.Confirm,
	}

	if err := s.deps.ResetHandler.Handle(r.Context(), cmd); err != nil {
		s.writeDomainError(w, r, err, "failed to reset progress")
		return
	}

	s.invalidateStats(r, userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL TABLE HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// levelEntryResponse renders one row of the level table.
type levelEntryResponse struct {
	Level       int    `json:"level"`
	Threshold   int64  `json:"threshold"`
	Title       string `json:"title"`
	IsMilestone bool   `json:"is_milestone"`
}

// handleGetLevelTable handles GET /api/v1/levels
func (s *Server) handleGetLevelTable(w http.ResponseWriter, r *http.Request) {
	table := level.Table()
	out := make([]levelEntryResponse, 0, len(table))
	for _, e := range table {
		out = append(out, levelEntryResponse{
			Level:       e.Level.Int(),
			Threshold:   e.Threshold,
			Title:       e.Title,
			IsMilestone: e.IsMilestone,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody reads and parses a JSON request body, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return false
	}
	return true
}

// invalidateStats drops the cached stats aggregate after a write so the next
// read rebuilds it from the ledger.
func (s *Server) invalidateStats(r *http.Request, rawUserID string) {
	if s.deps.StatsCache == nil {
		return
	}
	userID, err := shared.NewUserID(rawUserID)
	if err != nil {
		return
	}
	if err := s.deps.StatsCache.Invalidate(r.Context(), userID); err != nil {
		s.logger.Warn("stats cache invalidation failed",
			logger.UserID(rawUserID), logger.Err(err))
	}
}

// writeDomainError maps domain error kinds to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, shared.ErrMultiplierRejected):
		writeJSONError(w, http.StatusConflict, "multiplier_rejected", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, "invalid_state", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error(message, logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", message)
	}
}
