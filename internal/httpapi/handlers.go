package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/orchestrator"
	"callbridge/internal/reporting"
	"callbridge/internal/session"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Engine  *orchestrator.Engine
	Audit   *audit.Service
	Reports *reporting.Service

	// NoAnswerMessage is spoken to a connected client when the provider
	// could not be reached.
	NoAnswerMessage string
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	tok, err := h.Auth.IssueAccess(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Sessions ---

func (h Handlers) CreateSession(c *gin.Context) {
	var req orchestrator.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	cs, err := h.Engine.CreateSession(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, cs)
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
	case errors.Is(err, session.ErrDuplicate):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request_id already used"})
	case errors.Is(err, orchestrator.ErrTooManySessions):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "concurrent session limit reached"})
	default:
		logger.FromGin(c).Error("session create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session create failed"})
	}
}

func (h Handlers) GetSession(c *gin.Context) {
	cs, err := h.Engine.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		logger.FromGin(c).Error("session lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (h Handlers) CancelSession(c *gin.Context) {
	cs, err := h.Engine.CancelSession(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, cs)
	case errors.Is(err, session.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, orchestrator.ErrSessionTerminal):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session already ended"})
	default:
		logger.FromGin(c).Error("session cancel failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session cancel failed"})
	}
}

// SessionEvents returns the audit trail for one session.
func (h Handlers) SessionEvents(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	events, err := h.Audit.BySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.FromGin(c).Error("audit lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- Reports ---

// parseReportRange reads a from/to window out of query parameters
// (RFC 3339). Both bounds are required.
func parseReportRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, errFrom := time.Parse(time.RFC3339, c.Query("from"))
	to, errTo := time.Parse(time.RFC3339, c.Query("to"))
	if errFrom != nil || errTo != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}

func (h Handlers) SessionsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, ok := parseReportRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SessionsSummary(c.Request.Context(), reporting.SessionsSummaryRequest{
		Range:      rng,
		ProviderID: c.Query("provider_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("sessions report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SettlementReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, ok := parseReportRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.SettlementSummary(c.Request.Context(), reporting.SettlementSummaryRequest{
		Range:      rng,
		ProviderID: c.Query("provider_id"),
		Currency:   c.Query("currency"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("settlement report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Webhooks ---

// LegWebhook receives per-leg status and AMD callbacks. Anything we could
// not durably record returns 500 so the provider retries the delivery;
// everything else is acknowledged with 200.
func (h Handlers) LegWebhook(c *gin.Context) {
	ev, err := telephony.ParseLegEvent(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	d, err := h.Engine.HandleLegEvent(c.Request.Context(), ev)
	if err != nil {
		logger.FromGin(c).Error("leg event failed", "call_sid", ev.CallSid, "status", ev.CallStatus, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disposition": d})
}

func (h Handlers) ConferenceWebhook(c *gin.Context) {
	ev, err := telephony.ParseConferenceEvent(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	d, err := h.Engine.HandleConferenceEvent(c.Request.Context(), ev)
	if err != nil {
		logger.FromGin(c).Error("conference event failed", "conference_sid", ev.ConferenceSid, "event", ev.Event, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disposition": d})
}

// --- TwiML ---

const contentTypeXML = "text/xml; charset=utf-8"

// ConferenceTwiML serves the bridge instructions the provider fetches when
// a leg answers.
func (h Handlers) ConferenceTwiML(c *gin.Context) {
	doc, err := h.Engine.ConferenceTwiMLFor(c.Request.Context(), c.Param("id"), session.Role(c.Param("role")))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, orchestrator.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown session or role"})
			return
		}
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml render failed"})
		return
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(doc))
}

func (h Handlers) NoAnswerTwiML(c *gin.Context) {
	msg := h.NoAnswerMessage
	if msg == "" {
		msg = "The other participant could not be reached. You will not be charged for this call. Goodbye."
	}
	doc, err := telephony.NoAnswerTwiML(msg)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml render failed"})
		return
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(doc))
}
