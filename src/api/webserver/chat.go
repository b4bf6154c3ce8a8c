package webserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/chat-proxy/src/ai/core"
	"github.com/stake-plus/chat-proxy/src/chat"
	"github.com/stake-plus/chat-proxy/src/data"
	"github.com/stake-plus/chat-proxy/src/stream"
)

type Chat struct {
	orch  *chat.Orchestrator
	audit TurnRecorder
	model string
}

func NewChat(orch *chat.Orchestrator, audit TurnRecorder, model string) Chat {
	return Chat{orch: orch, audit: audit, model: model}
}

type chatMessage struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages" binding:"required,dive"`
}

// POST /chat
func (h Chat) Create(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	history := make([]core.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, core.Turn{Role: m.Role, Content: m.Content})
	}

	ctx := c.Request.Context()
	turn := h.orch.NewTurn(history)
	c.Header("X-Request-Id", turn.ID)

	if err := turn.Open(ctx); err != nil {
		status := chat.StatusFor(err)
		c.JSON(status, gin.H{"error": chat.ClientMessage(err)})
		h.record(turn, status, stream.Stats{})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	stats := turn.Relay(ctx, stream.NewWriter(c.Writer))
	log.Printf("chat: turn=%s state=%s searched=%v frames=%d bytes=%d dropped=%d",
		turn.ID, turn.State(), turn.Searched, stats.Frames, stats.ContentBytes, stats.Dropped)
	h.record(turn, http.StatusOK, stats)
}

// record writes the audit row off the request path so the response ends
// as soon as the stream does.
func (h Chat) record(turn *chat.Turn, status int, stats stream.Stats) {
	if h.audit == nil {
		return
	}
	rec := data.TurnRecord{
		RequestID:    turn.ID,
		Model:        h.model,
		History:      turn.History,
		Searched:     turn.Searched,
		SearchQuery:  turn.SearchQuery,
		FinalState:   turn.State().String(),
		Status:       status,
		ContentBytes: stats.ContentBytes,
		Frames:       stats.Frames,
		DroppedLines: stats.Dropped,
		DurationMs:   time.Since(turn.Started).Milliseconds(),
		CreatedAt:    time.Now(),
	}
	if turn.Err != nil {
		rec.ErrorMessage = turn.Err.Error()
	}
	go func() {
		if err := h.audit.Record(rec); err != nil {
			log.Printf("chat: audit turn=%s: %v", turn.ID, err)
		}
	}()
}
