package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quotebot/internal/auth"
	"quotebot/internal/dialogue"
	"quotebot/internal/insurer"
	"quotebot/internal/models"
	"quotebot/internal/resume"
	"quotebot/internal/speech"
	"quotebot/internal/transcript"
	"quotebot/internal/worker"
)

// Insurer is the passthrough part of the insurer API the widget calls directly.
type Insurer interface {
	Login(ctx context.Context, email, password string) (*models.AuthSession, error)
	Profile(ctx context.Context, token string) (*models.User, error)
	UpdateProfile(ctx context.Context, token string, fields map[string]any) (*models.User, error)
	SubmitKYC(ctx context.Context, token string, kyc models.KYCSubmission) error
	ListQuotes(ctx context.Context, token string) ([]models.QuoteRecord, error)
	SendQuote(ctx context.Context, token string, quoteID int64) error
	GenerateQuotePDF(ctx context.Context, token string, quoteID int64) error
	DownloadQuotePDF(ctx context.Context, token string, quoteID int64) ([]byte, error)
}

// Handler wires HTTP routes to the conversation workers and the insurer API.
type Handler struct {
	transcripts *transcript.Service
	auth        *auth.Service
	workers     *worker.Manager
	insurer     Insurer
	resume      *resume.Shim
	fallbackURL string
	origins     []string
}

type Options struct {
	// FallbackURL is offered to the widget when spoken replies are unavailable.
	FallbackURL string
	// AllowedOrigins lists origin host patterns allowed to open the
	// conversation socket. Empty means same origin only.
	AllowedOrigins []string
}

// NewHandler constructs a Handler instance.
func NewHandler(transcripts *transcript.Service, authService *auth.Service, workers *worker.Manager, ins Insurer, shim *resume.Shim, opts Options) *Handler {
	return &Handler{
		transcripts: transcripts,
		auth:        authService,
		workers:     workers,
		insurer:     ins,
		resume:      shim,
		fallbackURL: opts.FallbackURL,
		origins:     opts.AllowedOrigins,
	}
}

const conversationKey = "conversation"

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api/widget")
	api.POST("/open", h.openWidget)

	authMW := h.auth.Middleware()
	visitor := api.Group("")
	visitor.Use(authMW, h.auth.CSRFMiddleware())
	visitor.POST("/session", h.completeSession)
	visitor.POST("/logout", h.logout)
	visitor.GET("/profile", h.getProfile)
	visitor.PUT("/profile", h.updateProfile)
	visitor.POST("/kyc", h.submitKYC)
	visitor.GET("/quotes", h.listQuotes)
	visitor.POST("/quotes/:quote_id/send", h.sendQuote)
	visitor.GET("/quotes/:quote_id/pdf", h.quotePDF)
	visitor.GET("/resume", h.getResume)
	visitor.GET("/conversations", h.listConversations)

	conv := visitor.Group("/conversations/:cid")
	conv.Use(h.requireConversation())
	conv.GET("", h.getConversation)
	conv.DELETE("", h.deleteConversation)
	conv.POST("/messages", h.sendMessage)
	conv.POST("/reset", h.resetConversation)
	conv.POST("/bind", h.bindPolicy)
	conv.POST("/issue", h.issuePolicy)
	conv.POST("/voice", h.setVoice)
	conv.POST("/transcript", h.feedTranscript)
	conv.POST("/transcript/stop", h.stopTranscript)
	conv.GET("/messages/:mid/audio", h.messageAudio)
	conv.GET("/ws", h.serveSocket)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) authorizedVisitorID(c *gin.Context) (int64, bool) {
	visitorID, ok := auth.VisitorIDFromContext(c)
	if !ok || visitorID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return visitorID, true
}

// requireConversation checks the :cid path parameter belongs to the visitor.
func (h *Handler) requireConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		visitorID, ok := auth.VisitorIDFromContext(c)
		if !ok || visitorID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		cid := c.Param("cid")
		if cid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
			return
		}
		conv, err := h.transcripts.GetConversation(c.Request.Context(), visitorID, cid)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Set(conversationKey, conv)
		c.Next()
	}
}

func conversationFromContext(c *gin.Context) *models.Conversation {
	v, ok := c.Get(conversationKey)
	if !ok {
		return nil
	}
	conv, _ := v.(*models.Conversation)
	return conv
}

// upstreamToken returns the visitor's insurer token or answers 401.
func (h *Handler) upstreamToken(c *gin.Context, visitorID int64) (string, bool) {
	token, err := h.transcripts.UpstreamToken(c.Request.Context(), visitorID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", false
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in required"})
		return "", false
	}
	return token, true
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeInsurerError maps insurer failures onto the widget API.
func (h *Handler) writeInsurerError(c *gin.Context, visitorID int64, err error) {
	var apiErr *insurer.APIError
	switch {
	case errors.Is(err, insurer.ErrUnauthorized):
		// the stored token is no longer accepted
		if visitorID > 0 {
			if logoutErr := h.workers.Logout(c.Request.Context(), visitorID); logoutErr != nil {
				slog.WarnContext(c.Request.Context(), "drop expired upstream session failed", "error", logoutErr)
			}
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in required"})
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		body := gin.H{"error": apiErr.Message}
		if len(apiErr.Missing) > 0 {
			body["missing_requirements"] = apiErr.Missing
		}
		c.JSON(status, body)
	case errors.Is(err, insurer.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "insurer unavailable, please retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// writeWorkerError maps conversation actor failures.
func (h *Handler) writeWorkerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, worker.ErrConversationNotFound), errors.Is(err, worker.ErrConversationClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not active"})
	case errors.Is(err, dialogue.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "please wait for the current request"})
	case errors.Is(err, dialogue.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "action not available yet"})
	case errors.Is(err, speech.ErrUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "voice is not supported", "fallback_url": h.fallbackURL})
	case errors.Is(err, speech.ErrNotListening):
		c.JSON(http.StatusConflict, gin.H{"error": "not listening"})
	case errors.Is(err, speech.ErrEmptyText):
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing was heard"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
