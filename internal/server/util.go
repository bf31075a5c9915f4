package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// writeError maps err to its status code and the {"error","message"} payload.
func writeError(c *gin.Context, err error) {
	code := werr.HTTPStatus(err)
	if code < http.StatusBadRequest {
		code = http.StatusInternalServerError
	}
	_ = c.Error(err)
	writeJSON(c, code, errorResp{Error: werr.Kind(err), Message: err.Error()})
}

// queryID parses a required positive integer query parameter.
func queryID(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, fmt.Errorf("%s query param required: %w", name, werr.ErrInvalidArgument)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q: %w", name, raw, werr.ErrInvalidArgument)
	}
	return v, nil
}

// queryInt64 parses an optional non-negative integer query parameter.
func queryInt64(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q: %w", name, raw, werr.ErrInvalidArgument)
	}
	return v, nil
}

func queryBool(c *gin.Context, name string) bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(name))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// gateToken reads the shared gate token from the X-WS-Token header, falling
// back to the token query param.
func gateToken(c *gin.Context) string {
	if t := c.GetHeader(headerToken); t != "" {
		return t
	}
	return c.Query("token")
}
