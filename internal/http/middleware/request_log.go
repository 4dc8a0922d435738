package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if userID, ok := CurrentUserID(c); ok {
			fields = append(fields, "user_id", userID.String())
		}
		log.Info("request", fields...)
	}
}
