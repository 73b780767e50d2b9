package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"forecast-card/internal/log"
)

// requestLogger logs one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if user := callerID(c); user != "" {
			fields = append(fields, zap.String("user_id", user))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Logger().Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Logger().Warn("request", fields...)
		default:
			log.Logger().Info("request", fields...)
		}
	}
}
