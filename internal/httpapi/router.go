// Package httpapi exposes the book chat over HTTP with a {code, message, data} envelope.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/common"
	"github.com/suPer8Hu/book-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/book-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/book-chat/internal/metrics"
)

type RouterDeps struct {
	Handler  *handlers.Handler
	Sessions middleware.SessionResolver
	IPLimit  *middleware.IPLimiter // nil disables the per-address flood guard
	Gatherer prometheus.Gatherer
	Metrics  metrics.Recorder
	Log      *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(d.Log, d.Metrics))
	r.Use(middleware.Recovery(d.Log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, common.CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, common.CodeMethodNotAllowed, "method not allowed")
	})

	h := d.Handler

	r.GET("/ping", h.Ping)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}

	api := r.Group("/api")
	if d.IPLimit != nil {
		api.Use(d.IPLimit.Middleware())
	}
	api.Use(middleware.Session(d.Sessions))

	// auth
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/session", h.Session)

	// catalog
	api.GET("/books", h.ListBooks)
	api.GET("/books/:id", h.GetBook)

	// conversations (anonymous callers share the anonymous identity)
	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations/:id", h.GetConversation)

	// chat
	api.POST("/chat", h.SendChat)
	api.POST("/chat/stream", h.SendChatStream)
	api.POST("/chat/async", h.SendChatAsync)
	api.GET("/chat/jobs/:job_id", h.GetChatJob)

	return r
}
