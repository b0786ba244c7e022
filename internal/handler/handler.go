package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"secureattend/internal/auth"
	"secureattend/internal/cloudinary"
	"secureattend/internal/dashboard"
	"secureattend/internal/faceclient"
	"secureattend/internal/notify"
	"secureattend/internal/queue"
	"secureattend/internal/roster"
)

// Store is the persistence surface the handlers need. The
// roster.Repository satisfies it; tests supply fakes.
type Store interface {
	CreateUser(ctx context.Context, p roster.Person, password string) (roster.Person, error)
	GetUser(ctx context.Context, id int64) (roster.Person, error)
	GetUserByEmail(ctx context.Context, email string) (roster.Person, error)
	VerifyPassword(ctx context.Context, email, password string) (roster.Person, error)
	ListUsers(ctx context.Context) ([]roster.Person, error)
	UpdateUser(ctx context.Context, id int64, name, department string) (roster.Person, error)
	DeleteUser(ctx context.Context, id int64) error
	InsertEvent(ctx context.Context, evt roster.Event) (roster.Event, error)
	ListEvents(ctx context.Context, userID int64, limit, offset int) ([]roster.Event, error)
	CreateAnnouncement(ctx context.Context, a roster.Announcement) (roster.Announcement, error)
	ListAnnouncements(ctx context.Context, role roster.Role) ([]roster.Announcement, error)
	ResetAll(ctx context.Context) error
}

// Dashboard is the aggregation surface.
type Dashboard interface {
	Summarize(ctx context.Context, role roster.Role, periodLength, riskThreshold int) (dashboard.Snapshot, error)
	PersonSummary(ctx context.Context, person roster.Person) (roster.PersonSummary, error)
}

// AuthConfig carries the token-issuing settings the login handler needs.
type AuthConfig struct {
	Issuer        string
	SigningKey    string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTokenTTL time.Duration
}

// Handler wires the HTTP surface to the store, the aggregator, and the
// external collaborators.
type Handler struct {
	store    Store
	dash     Dashboard
	cloud    *cloudinary.Client // nil when image storage not configured
	face     *faceclient.Client
	checkins queue.Queue
	notifier notify.Notifier
	authCfg  AuthConfig

	mu          sync.Mutex
	resetTokens map[string]time.Time
}

// New creates a handler.
func New(s Store, d Dashboard, cloud *cloudinary.Client, face *faceclient.Client, checkins queue.Queue, n notify.Notifier, authCfg AuthConfig) *Handler {
	return &Handler{
		store:       s,
		dash:        d,
		cloud:       cloud,
		face:        face,
		checkins:    checkins,
		notifier:    n,
		authCfg:     authCfg,
		resetTokens: make(map[string]time.Time),
	}
}

// Routes registers all endpoints on the engine.
func (h *Handler) Routes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)
	r.POST("/v1/auth/login", h.Login)

	authed := r.Group("/v1", auth.RequireAuth(h.authCfg.SigningKey, h.authCfg.Issuer))

	authed.GET("/users/", h.ListUsers)
	authed.GET("/users/by_email/", h.GetUserByEmail)

	authed.POST("/attendance/", h.LogAttendance)
	authed.GET("/attendance/", h.ListAttendance)
	authed.POST("/checkins", h.Checkin)

	authed.GET("/dashboard/summary", h.DashboardSummary)
	authed.GET("/dashboard/users/:id/summary", h.GetUserSummary)
	authed.GET("/announcements/", h.ListAnnouncements)

	admin := authed.Group("", auth.RequireRole(roster.RoleAdmin))
	admin.POST("/users/", h.RegisterUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.POST("/announcements/", h.CreateAnnouncement)
	admin.POST("/admin/reset/confirmation", h.IssueResetToken)
	admin.DELETE("/admin/reset/", h.Reset)
}

// Healthz reports liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Login issues a token pair for valid portal credentials.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	person, err := h.store.VerifyPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := auth.Issue(person.ID, person.Role, h.authCfg.Issuer, h.authCfg.SigningKey, h.authCfg.AccessTTL, h.authCfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"user":          person,
	})
}
