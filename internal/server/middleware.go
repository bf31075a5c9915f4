package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"
	headerToken     = "X-WS-Token"
	headerPort      = "X-WS-Port"
	ctxRequestID    = "request_id"
)

// requestID propagates an inbound X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// accessLog logs one line per request. Successful gate lookups are logged
// at debug level because the proxy calls them on every hit.
func accessLog(logger *slog.Logger, quiet ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case status < http.StatusBadRequest && isQuiet(c.FullPath(), quiet):
			level = slog.LevelDebug
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"took", time.Since(start),
			"request_id", c.GetString(ctxRequestID),
		}
		if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
			attrs = append(attrs, "error", errs.Last().Error())
		}
		logger.Log(c.Request.Context(), level, "http request", attrs...)
	}
}

func isQuiet(route string, quiet []string) bool {
	for _, q := range quiet {
		if route == q {
			return true
		}
	}
	return false
}
