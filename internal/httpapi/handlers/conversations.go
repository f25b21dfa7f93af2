package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/book-chat/internal/common"
)

type createConversationReq struct {
	BookID string `json:"bookId"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidJSON, "invalid json")
		return
	}
	id, err := h.Chat.CreateConversation(c.Request.Context(), identity(c), req.BookID)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"conversationId": id})
}

func (h *Handler) ListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Chat.ListConversations(c.Request.Context(), identity(c), c.Query("bookId"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"conversations": list})
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.Chat.GetConversation(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"conversation": conv})
}
