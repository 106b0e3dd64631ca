package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"quotebot/internal/logger"
	"quotebot/internal/worker"
)

const socketWriteTimeout = 10 * time.Second

// socketMessage is a client frame.
type socketMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// socketFrame is a server frame; conversation events keep their own shape.
type socketFrame struct {
	Type    string `json:"type"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// serveSocket pushes conversation events to the client and accepts input
// frames as an alternative to the SSE endpoint.
func (h *Handler) serveSocket(c *gin.Context) {
	visitorID, ok := h.authorizedVisitorID(c)
	if !ok {
		return
	}
	conv := conversationFromContext(c)
	events, cancelSub, err := h.workers.Subscribe(visitorID, conv.ID)
	if err != nil {
		h.writeWorkerError(c, err)
		return
	}
	defer cancelSub()

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "accept websocket failed", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			slog.Debug("close websocket failed", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConversationID: conv.ID, VisitorID: visitorID, Component: "socket"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.socketInput(ctx, ws, visitorID, conv.ID)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		socketOutput(ctx, ws, events)
	}()
	wg.Wait()
}

func (h *Handler) socketInput(ctx context.Context, ws *websocket.Conn, visitorID int64, convID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.WarnContext(ctx, "websocket read failed", "error", err)
			}
			return
		}
		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := writeSocket(ctx, ws, socketFrame{Type: "error", Error: "invalid frame"}); err != nil {
				return
			}
			continue
		}
		switch msg.Type {
		case "input":
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			res, err := h.workers.Submit(ctx, visitorID, convID, content)
			if err != nil {
				_ = writeSocket(ctx, ws, socketFrame{Type: "error", Error: "conversation is not active"})
				return
			}
			if err := writeSocket(ctx, ws, socketFrame{Type: "result", Outcome: string(res.Outcome)}); err != nil {
				return
			}
		case "ping":
			if err := writeSocket(ctx, ws, socketFrame{Type: "pong"}); err != nil {
				return
			}
		default:
			if err := writeSocket(ctx, ws, socketFrame{Type: "error", Error: "unknown frame type"}); err != nil {
				return
			}
		}
	}
}

func socketOutput(ctx context.Context, ws *websocket.Conn, events <-chan worker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSocket(ctx, ws, ev); err != nil {
				slog.DebugContext(ctx, "websocket write failed", "error", err)
				return
			}
			if ev.Type == worker.EventClosed {
				return
			}
		}
	}
}

func writeSocket(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
