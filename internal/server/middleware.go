package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/payflowhq/payflow/pkg/log/ctxlogger"
)

// CorrelationMiddleware threads a correlation id through the request
// context and echoes it back to the caller. An inbound X-Correlation-ID is
// honored so a caller can tie our logs to theirs.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if inbound := c.GetHeader("X-Correlation-ID"); inbound != "" {
			ctx = ctxlogger.WithCorrelationID(ctx, inbound)
		} else {
			ctx, _ = ctxlogger.EnsureCorrelationID(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", ctxlogger.CorrelationID(ctx))
		c.Next()
	}
}

func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctxlogger.WithContext(c.Request.Context(), log).Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
