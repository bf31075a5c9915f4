package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
		{"/workspace", "/workspace"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}

func TestWriteErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
		kind string
	}{
		{fmt.Errorf("x: %w", werr.ErrInvalidArgument), http.StatusBadRequest, "invalid_argument"},
		{fmt.Errorf("x: %w", werr.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("x: %w", werr.ErrForbidden), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("x: %w", werr.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("x: %w", werr.ErrConcurrentModification), http.StatusConflict, "concurrent_modification"},
		{fmt.Errorf("x: %w", werr.ErrLogUnreadable), http.StatusInternalServerError, "log_unreadable"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "io_failure"},
	}
	for _, tc := range cases {
		r := gin.New()
		r.GET("/e", func(c *gin.Context) { writeError(c, tc.err) })
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/e", nil))
		assert.Equal(t, tc.code, rec.Code, tc.kind)
		assert.JSONEq(t, fmt.Sprintf(`{"error":%q,"message":%q}`, tc.kind, tc.err.Error()), rec.Body.String())
	}
}

func TestGateTokenHeaderWins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var got string
	r := gin.New()
	r.GET("/t", func(c *gin.Context) { got = gateToken(c) })

	req := httptest.NewRequest("GET", "/t?token=q", nil)
	req.Header.Set(headerToken, "h")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "h", got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/t?token=q", nil))
	assert.Equal(t, "q", got)
}
