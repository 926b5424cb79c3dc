package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bms360/billing-core/internal/core/domain"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderDepartment = "X-User-Department"
)

// Identity copies the caller headers set by the session layer into the
// request context. Requests without them run as anonymous.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := domain.Actor{
			UserID:     c.GetHeader(HeaderUserID),
			Department: c.GetHeader(HeaderDepartment),
		}
		if actor.UserID != "" {
			c.Request = c.Request.WithContext(domain.ContextWithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	a, ok := domain.ActorOf(c.Request.Context())
	if !ok {
		return ""
	}
	return a.UserID
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if user := c.GetHeader(HeaderUserID); user != "" {
			fields = append(fields, zap.String("user_id", user))
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("http request", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}
