package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quotebot/internal/auth"
	"quotebot/internal/dialogue"
	"quotebot/internal/insurer"
	"quotebot/internal/logger"
	"quotebot/internal/models"
	"quotebot/internal/worker"
)

type openRequest struct {
	VisitorID int64 `json:"visitor_id"`
}

// openWidget resolves the visitor, restores its upstream session and resume
// record, and starts a new conversation.
func (h *Handler) openWidget(c *gin.Context) {
	var req openRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	ctx := c.Request.Context()

	presented := h.auth.ExtractToken(c)
	visitor, chatToken, err := h.resolveVisitor(ctx, presented)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// visitor_id is only a hint; it must agree with a reused token
	if req.VisitorID > 0 && req.VisitorID != visitor.ID && presented != "" && chatToken == presented {
		c.JSON(http.StatusForbidden, gin.H{"error": "visitor mismatch"})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{VisitorID: visitor.ID, Component: "api"})

	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, chatToken, csrfToken)

	session := h.restoreSession(ctx, visitor)
	state := h.resume.Restore(ctx, visitor.ID, session.AccessToken)

	phase := dialogue.PhaseAuthGate
	if session.Authenticated {
		phase = dialogue.PhaseDemographic
	}
	conv, err := h.transcripts.CreateConversation(ctx, visitor.ID, string(phase))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.workers.Open(ctx, worker.OpenRequest{
		VisitorID:      visitor.ID,
		ConversationID: conv.ID,
		Session:        session,
		Resume:         state,
	})
	if err != nil {
		slog.ErrorContext(ctx, "open conversation failed", "conversation_id", conv.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "open conversation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"visitor_id":      visitor.ID,
		"conversation_id": conv.ID,
		"auth_token":      chatToken,
		"csrf_token":      csrfToken,
		"snapshot":        snap,
	})
}

// resolveVisitor reuses the visitor behind a valid widget token or creates a
// new one with a fresh token.
func (h *Handler) resolveVisitor(ctx context.Context, chatToken string) (*models.Visitor, string, error) {
	if chatToken != "" {
		visitorID, err := h.auth.ValidateToken(ctx, chatToken)
		if err == nil {
			visitor, err := h.transcripts.GetVisitor(ctx, visitorID)
			if err == nil {
				return visitor, chatToken, nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, "", err
			}
		} else if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrTokenExpired) {
			return nil, "", err
		}
	}
	visitor, err := h.transcripts.CreateVisitor(ctx)
	if err != nil {
		return nil, "", err
	}
	issued, err := h.auth.IssueToken(ctx, visitor.ID)
	if err != nil {
		return nil, "", fmt.Errorf("issue widget token: %w", err)
	}
	return visitor, issued, nil
}

// restoreSession verifies the stored upstream token with the profile
// endpoint. A rejected token is dropped; an unreachable insurer keeps it.
func (h *Handler) restoreSession(ctx context.Context, visitor *models.Visitor) dialogue.SessionContext {
	token, err := h.transcripts.UpstreamToken(ctx, visitor.ID)
	if err != nil || token == "" {
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			slog.WarnContext(ctx, "load upstream token failed", "error", err)
		}
		return dialogue.SessionContext{}
	}
	user, err := h.insurer.Profile(ctx, token)
	if err != nil {
		if errors.Is(err, insurer.ErrUnauthorized) {
			if clearErr := h.transcripts.ClearUpstreamToken(ctx, visitor.ID); clearErr != nil {
				slog.WarnContext(ctx, "drop rejected upstream token failed", "error", clearErr)
			}
			return dialogue.SessionContext{}
		}
		slog.WarnContext(ctx, "verify upstream session failed", "error", err)
		return dialogue.SessionContext{Authenticated: true, AccessToken: token, UserName: visitor.UserName, Email: visitor.Email}
	}
	if user.Name != visitor.UserName || user.Email != visitor.Email {
		if err := h.transcripts.SetUpstreamSession(ctx, visitor.ID, token, user.Name, user.Email); err != nil {
			slog.WarnContext(ctx, "refresh visitor profile failed", "error", err)
		}
	}
	return dialogue.SessionContext{Authenticated: true, AccessToken: token, UserName: user.Name, Email: user.Email}
}

type sessionRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	AccessToken string `json:"access_token"`
}

// completeSession finishes the login handoff, with credentials or with a
// token obtained by the host page.
func (h *Handler) completeSession(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()

	token := strings.TrimSpace(req.AccessToken)
	var user *models.User
	if token == "" {
		email := strings.TrimSpace(req.Email)
		if email == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
			return
		}
		sess, err := h.insurer.Login(ctx, email, req.Password)
		if err != nil {
			writeLoginError(c, err)
			return
		}
		token = sess.AccessToken
		user = &sess.User
	}
	if user == nil || user.Name == "" {
		profile, err := h.insurer.Profile(ctx, token)
		if err != nil {
			writeLoginError(c, err)
			return
		}
		user = profile
	}
	if err := h.transcripts.SetUpstreamSession(ctx, visitorID, token, user.Name, user.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.workers.SessionChanged(ctx, visitorID, dialogue.SessionContext{
		Authenticated: true,
		AccessToken:   token,
		UserName:      user.Name,
		Email:         user.Email,
	})
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": user})
}

func writeLoginError(c *gin.Context, err error) {
	var apiErr *insurer.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status < 500:
		msg := apiErr.Message
		if msg == "" {
			msg = "invalid email or password"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
	case errors.Is(err, insurer.ErrUnavailable), errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "insurer unavailable, please retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// logout drops the upstream session; the widget token stays valid.
func (h *Handler) logout(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	if err := h.workers.Logout(c.Request.Context(), visitorID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getProfile(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	token, ok := h.upstreamToken(c, visitorID)
	if !ok {
		return
	}
	user, err := h.insurer.Profile(c.Request.Context(), token)
	if err != nil {
		h.writeInsurerError(c, visitorID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) updateProfile(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, ok := h.upstreamToken(c, visitorID)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := h.insurer.UpdateProfile(ctx, token, fields)
	if err != nil {
		h.writeInsurerError(c, visitorID, err)
		return
	}
	if err := h.transcripts.SetUpstreamSession(ctx, visitorID, token, user.Name, user.Email); err != nil {
		slog.WarnContext(ctx, "store updated profile failed", "visitor_id", visitorID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) submitKYC(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	var req models.KYCSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.DOB = strings.TrimSpace(req.DOB)
	if req.NationalID == "" || req.DOB == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "national_id and dob are required"})
		return
	}
	token, ok := h.upstreamToken(c, visitorID)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.insurer.SubmitKYC(ctx, token, req); err != nil {
		h.writeInsurerError(c, visitorID, err)
		return
	}
	h.resume.NoteKYC(ctx, visitorID, models.KYCPending)
	c.JSON(http.StatusAccepted, gin.H{"kyc_status": models.KYCPending})
}

func (h *Handler) listQuotes(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	token, ok := h.upstreamToken(c, visitorID)
	if !ok {
		return
	}
	quotes, err := h.insurer.ListQuotes(c.Request.Context(), token)
	if err != nil {
		h.writeInsurerError(c, visitorID, err)
		return
	}
	if quotes == nil {
		quotes = make([]models.QuoteRecord, 0)
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

func (h *Handler) sendQuote(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	quoteID, ok := parseID(c, "quote_id")
	if !ok {
		return
	}
	token, ok := h.upstreamToken(c, visitorID)
	if !ok {
		return
	}
	if err := h.insurer.SendQuote(c.Request.Context(), token, quoteID); err != nil {
		h.writeInsurerError(c, visitorID, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// quotePDF downloads the quote document, generating it first when the
// insurer has none yet.
func (h *Handler) quotePDF(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	quoteID, ok := parseID(c, "quote_id")
	if !ok {
		return
	}
	token, ok := h.upstreamToken(c, visitorID)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	pdf, err := h.insurer.DownloadQuotePDF(ctx, token, quoteID)
	var apiErr *insurer.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		if err = h.insurer.GenerateQuotePDF(ctx, token, quoteID); err == nil {
			pdf, err = h.insurer.DownloadQuotePDF(ctx, token, quoteID)
		}
	}
	if err != nil {
		h.writeInsurerError(c, visitorID, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=quote-%d.pdf", quoteID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (h *Handler) getResume(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"resume": h.resume.Load(c.Request.Context(), visitorID)})
}
