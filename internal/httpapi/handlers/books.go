package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/book-chat/internal/books"
	"github.com/suPer8Hu/book-chat/internal/common"
)

type bookSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	CoverImage  string `json:"cover_image"`
	Chapters    int    `json:"chapters"`
}

func (h *Handler) ListBooks(c *gin.Context) {
	all := h.Catalog.All()
	out := make([]bookSummary, 0, len(all))
	for _, b := range all {
		out = append(out, summarize(b))
	}
	common.OK(c, gin.H{"books": out})
}

func (h *Handler) GetBook(c *gin.Context) {
	b, ok := h.Catalog.Get(c.Param("id"))
	if !ok {
		common.Fail(c, http.StatusNotFound, common.CodeNotFound, "book not found")
		return
	}
	common.OK(c, gin.H{"book": b})
}

func summarize(b books.Book) bookSummary {
	return bookSummary{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		CoverImage:  b.CoverImage,
		Chapters:    len(b.Chapters),
	}
}
