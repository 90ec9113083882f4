package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/plateful/doorman/internal/auth"
	"github.com/plateful/doorman/internal/fraud"
	"github.com/plateful/doorman/internal/guard"
	"github.com/plateful/doorman/internal/idgen"
	"github.com/plateful/doorman/internal/logging"
	"github.com/plateful/doorman/internal/metrics"
	"github.com/plateful/doorman/internal/moderation"
	"github.com/plateful/doorman/internal/monitor"
	"github.com/plateful/doorman/internal/netinfo"
	"github.com/plateful/doorman/internal/pagination"
	"github.com/plateful/doorman/internal/ratelimit"
)

// errBookingDenied is the user-facing rejection for fraud-blocked bookings.
// Deliberately vague: callers never learn which signal tripped.
var errBookingDenied = errors.New("Unable to complete booking. Please contact support.")

// -----------------------------------------------------------------------------
// Info & health
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Doorman",
		"description": "Trust and safety service for the Plateful reservation platform",
		"version":     "0.1.0",
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy || !s.healthy.Load() {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Moderation
// -----------------------------------------------------------------------------

func (s *Server) moderationCheckHandler(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include a text field")
		return
	}

	result := s.moderator.CheckProfanity(req.Text)
	spam := s.moderator.IsSpam(req.Text)

	if result.HasProfanity {
		metrics.ModerationHitsTotal.WithLabelValues("profanity").Inc()
	}
	if spam {
		metrics.ModerationHitsTotal.WithLabelValues("spam").Inc()
	}

	c.JSON(http.StatusOK, gin.H{
		"hasProfanity": result.HasProfanity,
		"foundWords":   result.FoundWords,
		"isSpam":       spam,
		"masked":       s.moderator.MaskProfanity(req.Text),
	})
}

func (s *Server) moderationValidateHandler(c *gin.Context) {
	var req struct {
		Text      string `json:"text"`
		FieldName string `json:"fieldName"`
		MinLength int    `json:"minLength"`
		MaxLength int    `json:"maxLength"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	maxLen := req.MaxLength
	if maxLen <= 0 {
		maxLen = s.cfg.MaxContentLength
	}

	result := s.moderator.ValidateContent(req.Text, moderation.ContentOptions{
		MaxLength:      maxLen,
		MinLength:      req.MinLength,
		CheckProfanity: true,
		FieldName:      req.FieldName,
	})

	if !result.IsValid {
		metrics.ModerationHitsTotal.WithLabelValues("validation").Inc()
	}

	c.JSON(http.StatusOK, result)
}

// -----------------------------------------------------------------------------
// Rate limiting
// -----------------------------------------------------------------------------

func (s *Server) rateLimitStatusHandler(c *gin.Context) {
	identifier := c.Param("identifier")
	action := ratelimit.Action(c.Query("action"))

	status := s.rateLimiter.Status(identifier, action)
	c.JSON(http.StatusOK, status)
}

func (s *Server) rateLimitCheckHandler(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Action     string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include identifier and action")
		return
	}

	decision := s.rateLimiter.CheckAction(req.Identifier, ratelimit.Action(req.Action))
	if !decision.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": "Rate limit exceeded. Please try again later.",
			"resetAt": decision.ResetAt,
		})
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) rateLimitResetHandler(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Action     string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include an identifier")
		return
	}

	s.rateLimiter.Reset(req.Identifier, ratelimit.Action(req.Action))
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// -----------------------------------------------------------------------------
// Fraud
// -----------------------------------------------------------------------------

func (s *Server) fraudCheckHandler(c *gin.Context) {
	var req struct {
		UserID       string `json:"userId" binding:"required"`
		RestaurantID string `json:"restaurantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include userId and restaurantId")
		return
	}

	assessment := s.detector.CheckBooking(c.Request.Context(), req.UserID, req.RestaurantID)
	observeAssessment(assessment)
	s.reportFraudSignals(c.Request.Context(), assessment, s.netinfo.FromRequest(c))

	c.JSON(http.StatusOK, assessment)
}

func observeAssessment(a *fraud.Assessment) {
	decision := "allowed"
	if !a.Allowed {
		decision = "blocked"
	}
	metrics.FraudChecksTotal.WithLabelValues(decision).Inc()
	metrics.FraudRiskScore.Observe(a.Score)
}

// reportFraudSignals records a booking_fraud event for any assessment scoring
// 0.5 or higher, whether or not the attempt was blocked.
func (s *Server) reportFraudSignals(ctx context.Context, a *fraud.Assessment, net netinfo.Info) {
	if a.Score < 0.5 {
		return
	}
	s.monitor.Report(ctx, monitor.Event{
		Type:         monitor.ActivityBookingFraud,
		UserID:       a.UserID,
		RestaurantID: a.RestaurantID,
		Metadata: monitor.FraudMetadata{
			RestaurantID: a.RestaurantID,
			Score:        a.Score,
			Reasons:      a.Reasons,
		},
		Net: net,
	})
}

// -----------------------------------------------------------------------------
// Bookings
// -----------------------------------------------------------------------------

// createBookingHandler runs booking creation through the full guard pipeline:
// auth, the booking_creation quota, argument sanitization, input validation,
// flagged-user rejection, fraud assessment, and failure monitoring.
func (s *Server) createBookingHandler(c *gin.Context) {
	var req struct {
		RestaurantID   string `json:"restaurantId" binding:"required"`
		SpecialRequest string `json:"specialRequest"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include restaurantId")
		return
	}

	op := s.guard.Wrap("booking_creation", guard.Options{
		RequireAuth:     true,
		Action:          ratelimit.ActionBookingCreation,
		SanitizeArgs:    true,
		ValidateInput:   true,
		FraudCheck:      true,
		MonitorFailures: true,
	}, s.createBooking)

	result, err := op(c.Request.Context(), guard.Request{
		UserID: auth.AuthenticatedUser(c),
		Args: map[string]any{
			"restaurantId":   req.RestaurantID,
			"specialRequest": req.SpecialRequest,
		},
		Net: s.netinfo.FromRequest(c),
	})
	if err != nil {
		s.renderGuardError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// createBooking is the guarded operation: fraud assessment, then record.
func (s *Server) createBooking(ctx context.Context, req guard.Request) (any, error) {
	restaurantID, _ := req.Args["restaurantId"].(string)

	assessment := s.detector.CheckBooking(ctx, req.UserID, restaurantID)
	observeAssessment(assessment)
	s.reportFraudSignals(ctx, assessment, req.Net)

	if !assessment.Allowed {
		return nil, errBookingDenied
	}

	booking := &fraud.Booking{
		ID:           idgen.WithPrefix("bkg"),
		UserID:       req.UserID,
		RestaurantID: restaurantID,
		Status:       fraud.StatusConfirmed,
		CreatedAt:    time.Now(),
	}
	if err := s.fraudStore.RecordBooking(ctx, booking); err != nil {
		return nil, err
	}

	return gin.H{"booking": booking, "assessment": assessment}, nil
}

func (s *Server) updateBookingStatusHandler(c *gin.Context) {
	bookingID := c.Param("id")

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include a status")
		return
	}

	status := fraud.BookingStatus(req.Status)
	switch status {
	case fraud.StatusConfirmed, fraud.StatusCompleted, fraud.StatusCancelled, fraud.StatusNoShow:
	default:
		badRequest(c, "status must be one of confirmed, completed, cancelled, no_show")
		return
	}

	if err := s.fraudStore.SetBookingStatus(c.Request.Context(), bookingID, status); err != nil {
		logging.L(c.Request.Context()).Error("failed to update booking status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update booking status",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": bookingID, "status": status})
}

// -----------------------------------------------------------------------------
// Devices
// -----------------------------------------------------------------------------

func (s *Server) deviceFingerprintHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fingerprint": s.devices.Fingerprint()})
}

func (s *Server) deviceCheckHandler(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	result := s.devices.CheckAccountLimit(c.Request.Context(), fingerprint)
	c.JSON(http.StatusOK, result)
}

func (s *Server) deviceRegisterHandler(c *gin.Context) {
	var req struct {
		Fingerprint string `json:"fingerprint" binding:"required"`
		UserID      string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include a fingerprint")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = auth.AuthenticatedUser(c)
	}

	ctx := c.Request.Context()
	check := s.devices.CheckAccountLimit(ctx, req.Fingerprint)
	if !check.Allowed {
		metrics.DeviceLimitRejectionsTotal.Inc()
		s.monitor.Report(ctx, monitor.Event{
			Type:   monitor.ActivityAccountAbuse,
			UserID: userID,
			Metadata: monitor.AccountMetadata{
				Fingerprint:  req.Fingerprint,
				AccountCount: check.AccountCount,
			},
			Net: s.netinfo.FromRequest(c),
		})
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "device_limit_exceeded",
			"message": "Account limit reached for this device.",
		})
		return
	}

	if err := s.devices.RegisterAccount(ctx, req.Fingerprint, userID); err != nil {
		logging.L(ctx).Error("failed to register device account", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register device",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"registered": true, "fingerprint": req.Fingerprint})
}

// -----------------------------------------------------------------------------
// Security events & flags
// -----------------------------------------------------------------------------

func (s *Server) reportEventHandler(c *gin.Context) {
	var req struct {
		Type         string         `json:"type" binding:"required"`
		UserID       string         `json:"userId"`
		RestaurantID string         `json:"restaurantId"`
		Metadata     map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include a type")
		return
	}

	activityType := monitor.ActivityType(req.Type)
	if !activityType.Valid() {
		badRequest(c, "Unknown activity type")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = auth.AuthenticatedUser(c)
	}

	var meta monitor.Metadata
	if len(req.Metadata) > 0 {
		meta = monitor.GenericMetadata(req.Metadata)
	}

	s.monitor.Report(c.Request.Context(), monitor.Event{
		Type:         activityType,
		UserID:       userID,
		RestaurantID: req.RestaurantID,
		Metadata:     meta,
		Net:          s.netinfo.FromRequest(c),
	})

	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

func (s *Server) userFlagsHandler(c *gin.Context) {
	userID := c.Param("id")
	flags := s.monitor.CheckUserFlags(c.Request.Context(), userID)
	c.JSON(http.StatusOK, flags)
}

// -----------------------------------------------------------------------------
// Admin
// -----------------------------------------------------------------------------

func (s *Server) auditRecentHandler(c *gin.Context) {
	limit := queryLimit(c)
	entries, err := s.auditStore.ListRecent(c.Request.Context(), limit+1,
		monitor.WithCursor(c.Query("cursor")))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list audit entries", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list audit entries",
		})
		return
	}
	renderAuditPage(c, entries, limit)
}

func (s *Server) auditByUserHandler(c *gin.Context) {
	userID := c.Param("id")
	limit := queryLimit(c)
	entries, err := s.auditStore.ListByUser(c.Request.Context(), userID, limit+1,
		monitor.WithCursor(c.Query("cursor")))
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list audit entries", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list audit entries",
		})
		return
	}
	renderAuditPage(c, entries, limit)
}

// renderAuditPage trims a limit+1 fetch to the page size and attaches the
// cursor for the next page when more entries remain.
func renderAuditPage(c *gin.Context, entries []*monitor.AuditEntry, limit int) {
	page, next, hasMore := pagination.ComputePage(entries, limit, func(e *monitor.AuditEntry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	resp := gin.H{"entries": page, "count": len(page), "hasMore": hasMore}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) escalationsHandler(c *gin.Context) {
	userID := c.Param("id")
	escalations, err := s.escStore.ListUnresolved(c.Request.Context(), userID)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list escalations", "error", err, "user_id", userID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list escalations",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalations": escalations, "count": len(escalations)})
}

func (s *Server) blacklistHandler(c *gin.Context) {
	var req struct {
		UserID       string `json:"userId" binding:"required"`
		RestaurantID string `json:"restaurantId" binding:"required"`
		Reason       string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must include userId and restaurantId")
		return
	}

	if err := s.fraudStore.AddToBlacklist(c.Request.Context(), req.UserID, req.RestaurantID, req.Reason); err != nil {
		logging.L(c.Request.Context()).Error("failed to add blacklist entry", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to add blacklist entry",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"blacklisted": true})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"realtime":          s.realtimeHub.Stats(),
		"auditDroppedTotal": s.eventWriter.Dropped(),
	})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
	})
}

// renderGuardError maps guard pipeline errors to HTTP responses.
func (s *Server) renderGuardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, guard.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
	case errors.Is(err, guard.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": guard.ErrRateLimited.Error(),
		})
	case errors.Is(err, guard.ErrRestricted):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "restricted",
			"message": guard.ErrRestricted.Error(),
		})
	case errors.Is(err, errBookingDenied):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "booking_denied",
			"message": errBookingDenied.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("operation failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "The request could not be processed",
		})
	}
}

func queryLimit(c *gin.Context) int {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
