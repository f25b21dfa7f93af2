package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/logging"
	"github.com/suPer8Hu/book-chat/internal/metrics"
)

// AccessLog logs one line per request and counts response statuses.
func AccessLog(log *zap.Logger, rec metrics.Recorder) gin.HandlerFunc {
	log = logging.OrNop(log)
	if rec == nil {
		rec = metrics.Nop{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		rec.RecordHTTPStatus(status)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("cost", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(RequestIDKey)),
		}
		if id, ok := IdentityFrom(c); ok && !id.IsAnonymous() {
			fields = append(fields, zap.String("user_id", id.ID))
		}
		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
