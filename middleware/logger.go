package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger returns a Gin middleware that logs each request with zap. Health
// probes log at Debug so they do not drown the request log.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("trace_id", GetTraceID(c)),
			zap.String("client_ip", c.ClientIP()),
		}
		if claims := GetClaims(c); claims != nil {
			fields = append(fields, zap.String("node", claims.NodeID))
		}
		if strings.HasPrefix(c.Request.URL.Path, "/health") {
			log.Debug("http", fields...)
			return
		}
		log.Info("http", fields...)
	}
}
