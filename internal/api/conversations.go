package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"quotebot/internal/models"
	"quotebot/internal/worker"
)

func (h *Handler) listConversations(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	convs, err := h.transcripts.ListConversations(c.Request.Context(), visitorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(convs) == 0 {
		convs = make([]models.Conversation, 0)
	}
	for i := range convs {
		convs[i].RemoteID = ""
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// getConversation returns the live snapshot, or the stored transcript once the
// actor has stopped.
func (h *Handler) getConversation(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	conv := conversationFromContext(c)
	ctx := c.Request.Context()
	snap, state, err := h.workers.Snapshot(ctx, visitorID, conv.ID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"conversation": conv,
			"live":         true,
			"snapshot":     snap,
			"state":        state,
		})
		return
	}
	if !errors.Is(err, worker.ErrConversationNotFound) && !errors.Is(err, worker.ErrConversationClosed) {
		h.writeWorkerError(c, err)
		return
	}
	_, msgs, err := h.transcripts.GetConversationWithMessages(ctx, visitorID, conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = make([]models.ChatMessage, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"live":         false,
		"messages":     msgs,
	})
}

type messageRequest struct {
	Content string `json:"content"`
}

// sendMessage feeds one line of input and streams the result as server-sent
// events: ack, one message per new chat line, state, then done.
func (h *Handler) sendMessage(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content required"})
		return
	}
	conv := conversationFromContext(c)
	if !h.workers.Live(visitorID, conv.ID) {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not active"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	sendEvent := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"conversation_id": conv.ID, "content": content}); err != nil {
		return
	}
	res, err := h.workers.Submit(c.Request.Context(), visitorID, conv.ID, content)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, worker.ErrConversationNotFound) || errors.Is(err, worker.ErrConversationClosed) {
			msg = "conversation is not active"
		}
		_ = sendEvent("error", gin.H{"message": msg})
		return
	}
	for i := range res.Messages {
		if err := sendEvent("message", res.Messages[i]); err != nil {
			return
		}
	}
	if err := sendEvent("state", res.State); err != nil {
		return
	}
	_ = sendEvent("done", gin.H{"outcome": res.Outcome})
}

func (h *Handler) resetConversation(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	conv := conversationFromContext(c)
	ctx := c.Request.Context()
	if err := h.workers.Reset(ctx, visitorID, conv.ID); err != nil {
		h.writeWorkerError(c, err)
		return
	}
	snap, state, err := h.workers.Snapshot(ctx, visitorID, conv.ID)
	if err != nil {
		h.writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "state": state})
}

func (h *Handler) bindPolicy(c *gin.Context) {
	h.policyAction(c, h.workers.Bind)
}

func (h *Handler) issuePolicy(c *gin.Context) {
	h.policyAction(c, h.workers.Issue)
}

// policyAction starts bind or issue; the outcome arrives as conversation events.
func (h *Handler) policyAction(c *gin.Context, action func(ctx context.Context, visitorID int64, convID string) error) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	conv := conversationFromContext(c)
	ctx := c.Request.Context()
	if err := action(ctx, visitorID, conv.ID); err != nil {
		h.writeWorkerError(c, err)
		return
	}
	_, state, err := h.workers.Snapshot(ctx, visitorID, conv.ID)
	if err != nil {
		h.writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": state})
}

type voiceRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) setVoice(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	var req voiceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled required"})
		return
	}
	conv := conversationFromContext(c)
	if err := h.workers.SetVoice(c.Request.Context(), visitorID, conv.ID, *req.Enabled); err != nil {
		h.writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voice": *req.Enabled})
}

type transcriptRequest struct {
	Chunk string `json:"chunk"`
	Final bool   `json:"final"`
}

func (h *Handler) feedTranscript(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	conv := conversationFromContext(c)
	text, err := h.workers.FeedTranscript(c.Request.Context(), visitorID, conv.ID, req.Chunk, req.Final)
	if err != nil {
		h.writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": text})
}

func (h *Handler) stopTranscript(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	conv := conversationFromContext(c)
	res, err := h.workers.StopTranscript(c.Request.Context(), visitorID, conv.ID)
	if err != nil {
		h.writeWorkerError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// messageAudio synthesizes a bot reply. Any failure answers 502 with the
// hosted voice agent as fallback.
func (h *Handler) messageAudio(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	conv := conversationFromContext(c)
	mid := c.Param("mid")
	ctx := c.Request.Context()
	audio, err := h.workers.Audio(ctx, visitorID, conv.ID, mid)
	if err != nil {
		if errors.Is(err, worker.ErrConversationNotFound) && h.workers.Live(visitorID, conv.ID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		slog.WarnContext(ctx, "synthesize reply failed", "conversation_id", conv.ID, "message_id", mid, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "voice unavailable", "fallback_url": h.fallbackURL})
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	conv := conversationFromContext(c)
	h.workers.Close(visitorID, conv.ID)
	if err := h.transcripts.DeleteConversation(c.Request.Context(), visitorID, conv.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
