package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"secureattend/internal/auth"
	"secureattend/internal/roster"
)

// DashboardSummary runs the roster aggregation. role, period, and
// threshold are optional query parameters; unset values use the
// configured defaults. Bad values are caller errors, never silently
// corrected.
func (h *Handler) DashboardSummary(c *gin.Context) {
	role := roster.RoleStudent
	if v := c.Query("role"); v != "" {
		role = roster.ParseRole(v)
		if role == roster.RoleUnknown {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role: " + v})
			return
		}
	}

	period, ok := intQuery(c, "period")
	if !ok {
		return
	}
	threshold, ok := intQuery(c, "threshold")
	if !ok {
		return
	}

	snap, err := h.dash.Summarize(c.Request.Context(), role, period, threshold)
	if err != nil {
		if errors.Is(err, roster.ErrInvalidConfiguration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func intQuery(c *gin.Context, name string) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return parsed, true
}

// ListAnnouncements returns announcements for the caller's role.
func (h *Handler) ListAnnouncements(c *gin.Context) {
	claims, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return
	}
	anns, err := h.store.ListAnnouncements(c.Request.Context(), claims.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if anns == nil {
		anns = []roster.Announcement{}
	}
	c.JSON(http.StatusOK, anns)
}

// CreateAnnouncement posts a new announcement.
func (h *Handler) CreateAnnouncement(c *gin.Context) {
	var req struct {
		Title    string `json:"title" binding:"required"`
		Body     string `json:"body"`
		Audience string `json:"audience"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Audience != "" && roster.ParseRole(req.Audience) == roster.RoleUnknown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown audience: " + req.Audience})
		return
	}
	ann, err := h.store.CreateAnnouncement(c.Request.Context(), roster.Announcement{
		Title:    req.Title,
		Body:     req.Body,
		Audience: req.Audience,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ann)
}

// IssueResetToken hands out a short-lived, single-use confirmation token
// for the destructive reset. Requiring a server-issued token replaces
// the old client-side "type RESET to confirm" prompt.
func (h *Handler) IssueResetToken(c *gin.Context) {
	token := uuid.NewString()
	expires := time.Now().Add(h.authCfg.ResetTokenTTL)

	h.mu.Lock()
	for t, exp := range h.resetTokens {
		if time.Now().After(exp) {
			delete(h.resetTokens, t)
		}
	}
	h.resetTokens[token] = expires
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"confirm_token": token,
		"expires_at":    expires.Unix(),
	})
}

// Reset wipes all people and attendance events. Requires an admin
// session plus a live confirmation token in X-Confirm-Token. The token
// is consumed whether or not the wipe succeeds.
func (h *Handler) Reset(c *gin.Context) {
	token := c.GetHeader("X-Confirm-Token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Confirm-Token header required"})
		return
	}

	h.mu.Lock()
	exp, ok := h.resetTokens[token]
	delete(h.resetTokens, token)
	h.mu.Unlock()

	if !ok || time.Now().After(exp) {
		c.JSON(http.StatusForbidden, gin.H{"error": "confirmation token invalid or expired"})
		return
	}

	if err := h.store.ResetAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all data has been reset"})
}
