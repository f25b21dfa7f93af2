package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/auth"
	"github.com/suPer8Hu/book-chat/internal/books"
	"github.com/suPer8Hu/book-chat/internal/chat"
	"github.com/suPer8Hu/book-chat/internal/common"
	"github.com/suPer8Hu/book-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/book-chat/internal/logging"
)

type Handler struct {
	Auth         *auth.Service
	Chat         *chat.Service
	Catalog      *books.Catalog
	SessionTTL   int // cookie max-age in seconds
	SecureCookie bool
	Log          *zap.Logger
}

func NewHandler(authSvc *auth.Service, chatSvc *chat.Service, catalog *books.Catalog, sessionTTLSeconds int, secureCookie bool, log *zap.Logger) *Handler {
	return &Handler{
		Auth:         authSvc,
		Chat:         chatSvc,
		Catalog:      catalog,
		SessionTTL:   sessionTTLSeconds,
		SecureCookie: secureCookie,
		Log:          logging.OrNop(log),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func identity(c *gin.Context) auth.Identity {
	if id, ok := middleware.IdentityFrom(c); ok {
		return id
	}
	return auth.Anonymous()
}

func token(c *gin.Context) string {
	return c.GetString(middleware.TokenKey)
}

// fail writes err through the error taxonomy and logs internal failures.
func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, chat.ErrAsyncDisabled) {
		common.Fail(c, http.StatusServiceUnavailable, common.CodeUnavailable, "async chat is not enabled")
		return
	}
	if common.KindOf(err) == common.KindInternal {
		h.Log.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err),
		)
	}
	common.FailErr(c, err)
}
