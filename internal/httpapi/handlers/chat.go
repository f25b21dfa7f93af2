package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/book-chat/internal/chat"
	"github.com/suPer8Hu/book-chat/internal/common"
)

type askReq struct {
	BookID         string `json:"bookId"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

func (h *Handler) askRequest(c *gin.Context) (chat.AskRequest, bool) {
	var req askReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidJSON, "invalid json")
		return chat.AskRequest{}, false
	}
	return chat.AskRequest{
		Token:          token(c),
		ClientAddr:     c.ClientIP(),
		BookID:         req.BookID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	}, true
}

func (h *Handler) SendChat(c *gin.Context) {
	req, ok := h.askRequest(c)
	if !ok {
		return
	}
	answer, err := h.Chat.Ask(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"response": answer})
}

func (h *Handler) SendChatStream(c *gin.Context) {
	req, ok := h.askRequest(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	stream, err := h.Chat.AskStream(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	writeEvent := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			// keep SSE framing intact
			b = []byte(`{"message":"json marshal failed"}`)
			event = "error"
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		if canFlush {
			flusher.Flush()
		}
	}

	// heartbeat keeps idle proxies from closing the connection
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	chunks := stream.Chunks
	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			writeEvent("chunk", gin.H{"type": "chunk", "delta": ch})

		case <-ticker.C:
			writeEvent("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case err := <-stream.Done:
			// Done fires after Chunks is closed; flush anything still buffered
			if chunks != nil {
				for ch := range chunks {
					writeEvent("chunk", gin.H{"type": "chunk", "delta": ch})
				}
			}
			if err != nil {
				writeEvent("error", gin.H{
					"type":    "error",
					"kind":    common.KindOf(err),
					"message": common.PublicMessage(err),
				})
				return
			}
			writeEvent("done", gin.H{"type": "done"})
			return

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) SendChatAsync(c *gin.Context) {
	req, ok := h.askRequest(c)
	if !ok {
		return
	}
	job, created, err := h.Chat.EnqueueAsk(c.Request.Context(), req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"code":    common.CodeOK,
		"message": "ok",
		"data":    gin.H{"job_id": job.ID, "status": job.Status},
	})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	j, err := h.Chat.GetJob(c.Request.Context(), identity(c), c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"job": j})
}
