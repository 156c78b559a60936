package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shxrxn/nethra-trust/internal/logging"
	"github.com/shxrxn/nethra-trust/internal/session"
	"github.com/shxrxn/nethra-trust/internal/validation"
)

// -----------------------------------------------------------------------------
// Session lifecycle
// -----------------------------------------------------------------------------

// startSession handles POST /v1/sessions
func (s *Server) startSession(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "user_id is required",
		})
		return
	}

	req.UserID = validation.SanitizeString(req.UserID, validation.MaxUserIDLength)
	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "user_id must be 1-64 characters of letters, digits, '.', '-' or '_'",
		})
		return
	}

	snap, err := s.sessions.Start(c.Request.Context(), req.UserID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to start session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to start monitoring session",
		})
		return
	}

	c.JSON(http.StatusCreated, snap)
}

// getSession handles GET /v1/sessions/:id
func (s *Server) getSession(c *gin.Context) {
	snap, err := s.sessions.Snapshot(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// stopSession handles DELETE /v1/sessions/:id
func (s *Server) stopSession(c *gin.Context) {
	if err := s.sessions.Stop(c.Param("id")); err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// -----------------------------------------------------------------------------
// Telemetry ingestion
// -----------------------------------------------------------------------------

// recordTap handles POST /v1/sessions/:id/events/tap
func (s *Server) recordTap(c *gin.Context) {
	var req struct {
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Pressure   float64 `json:"pressure"`
		DurationMs float64 `json:"duration_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}

	if errs := validation.Validate(
		validation.InRange("pressure", req.Pressure, 0, 1),
		validation.InRange("duration_ms", req.DurationMs, 0, 10000),
		validation.FiniteValue("x", req.X),
		validation.FiniteValue("y", req.Y),
	); len(errs) > 0 {
		s.validationError(c, errs)
		return
	}

	agg, err := s.sessions.Aggregator(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}

	agg.RecordTap(req.X, req.Y, req.Pressure, req.DurationMs)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// recordSwipe handles POST /v1/sessions/:id/events/swipe
func (s *Server) recordSwipe(c *gin.Context) {
	var req struct {
		StartX     float64 `json:"start_x"`
		StartY     float64 `json:"start_y"`
		EndX       float64 `json:"end_x"`
		EndY       float64 `json:"end_y"`
		Velocity   float64 `json:"velocity"`
		DurationMs float64 `json:"duration_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}

	if errs := validation.Validate(
		validation.InRange("velocity", req.Velocity, 0, 100),
		validation.InRange("duration_ms", req.DurationMs, 0, 10000),
		validation.FiniteValue("start_x", req.StartX),
		validation.FiniteValue("start_y", req.StartY),
		validation.FiniteValue("end_x", req.EndX),
		validation.FiniteValue("end_y", req.EndY),
	); len(errs) > 0 {
		s.validationError(c, errs)
		return
	}

	agg, err := s.sessions.Aggregator(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}

	agg.RecordSwipe(req.StartX, req.StartY, req.EndX, req.EndY, req.Velocity, req.DurationMs)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// recordMotion handles POST /v1/sessions/:id/events/motion
func (s *Server) recordMotion(c *gin.Context) {
	var req struct {
		TiltX float64 `json:"tilt_x"`
		TiltY float64 `json:"tilt_y"`
		TiltZ float64 `json:"tilt_z"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}

	if errs := validation.Validate(
		validation.FiniteValue("tilt_x", req.TiltX),
		validation.FiniteValue("tilt_y", req.TiltY),
		validation.FiniteValue("tilt_z", req.TiltZ),
	); len(errs) > 0 {
		s.validationError(c, errs)
		return
	}

	agg, err := s.sessions.Aggregator(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}

	agg.RecordMotion(req.TiltX, req.TiltY, req.TiltZ)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// recordKeystroke handles POST /v1/sessions/:id/events/keystroke
func (s *Server) recordKeystroke(c *gin.Context) {
	var req struct {
		InterKeyMs float64 `json:"inter_key_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}

	if errs := validation.Validate(
		validation.InRange("inter_key_ms", req.InterKeyMs, 0, 60000),
	); len(errs) > 0 {
		s.validationError(c, errs)
		return
	}

	agg, err := s.sessions.Aggregator(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}

	agg.RecordKeystroke(req.InterKeyMs)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// recordNavigation handles POST /v1/sessions/:id/events/navigation
func (s *Server) recordNavigation(c *gin.Context) {
	var req struct {
		Screen string `json:"screen" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badBody(c)
		return
	}

	req.Screen = validation.SanitizeString(req.Screen, 128)
	if req.Screen == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "screen is required",
		})
		return
	}

	agg, err := s.sessions.Aggregator(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}

	agg.RecordNavigation(req.Screen)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// -----------------------------------------------------------------------------
// Trust state and threat response
// -----------------------------------------------------------------------------

// getTrust handles GET /v1/sessions/:id/trust
func (s *Server) getTrust(c *gin.Context) {
	snap, err := s.sessions.Snapshot(c.Param("id"))
	if err != nil {
		s.sessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":         snap.SessionID,
		"trust_score":        snap.TrustScore,
		"trust_level":        snap.TrustLevel,
		"state":              snap.State,
		"risk_factors":       snap.RiskFactors,
		"should_show_mirage": snap.ShouldShowMirage,
		"is_learning_phase":  snap.IsLearningPhase,
		"is_personalized":    snap.IsPersonalized,
		"confidence":         snap.Confidence,
		"personal_threshold": snap.PersonalThreshold,
		"is_below_threshold": snap.BelowPersonalThreshold,
		"source":             snap.Source,
		"countdown_deadline": snap.CountdownDeadline,
		"last_evaluated_at":  snap.LastEvaluatedAt,
	})
}

// completeChallenge handles POST /v1/sessions/:id/challenge
func (s *Server) completeChallenge(c *gin.Context) {
	if err := s.sessions.ChallengeCompleted(c.Param("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrStopped) {
			s.sessionError(c, err)
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_active_challenge",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "challenge_completed"})
}

// simulateThreat handles POST /v1/sessions/:id/simulate-threat
func (s *Server) simulateThreat(c *gin.Context) {
	var req struct {
		Scenario string `json:"scenario"`
	}
	// Body is optional; default scenario keeps the current driver.
	_ = c.ShouldBindJSON(&req)

	if err := s.sessions.SimulateThreat(c.Param("id"), req.Scenario); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrStopped) {
			s.sessionError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_scenario",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "threat_simulated"})
}

// resetTrust handles POST /v1/sessions/:id/reset-trust
func (s *Server) resetTrust(c *gin.Context) {
	if err := s.sessions.ResetTrust(c.Param("id")); err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "trust_reset"})
}

// -----------------------------------------------------------------------------
// Error helpers
// -----------------------------------------------------------------------------

func (s *Server) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "session_not_found",
			"message": "No active monitoring session with that ID",
		})
	case errors.Is(err, session.ErrStopped):
		c.JSON(http.StatusGone, gin.H{
			"error":   "session_stopped",
			"message": "Monitoring session has ended",
		})
	default:
		logging.L(c.Request.Context()).Error("session operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}
}

func (s *Server) badBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}

func (s *Server) validationError(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"details": errs,
	})
}
