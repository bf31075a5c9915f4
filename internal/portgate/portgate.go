// Package portgate answers a reverse proxy's "which port serves this user"
// question. Lookups authenticate with a shared token, or from loopback when
// no token is configured, and are strictly read-only: they never provision or
// start a workspace.
package portgate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

// PortSource reports the port currently assigned to a user's workspace.
// It returns an error wrapping werr.ErrNotFound when none is assigned.
type PortSource interface {
	CurrentPort(ctx context.Context, userID int64) (int, error)
}

// Toucher records user activity.
type Toucher interface {
	Touch(userID int64)
}

type Gate struct {
	token  string
	ports  PortSource
	touch  Toucher
	logger *slog.Logger
}

func New(token string, ports PortSource, touch Toucher, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{token: strings.TrimSpace(token), ports: ports, touch: touch, logger: logger}
}

// Authorize checks the caller against the shared token, or against the
// loopback set when no token is configured.
func (g *Gate) Authorize(token, remoteAddr string) error {
	if g.token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
			return fmt.Errorf("shared token mismatch: %w", werr.ErrUnauthorized)
		}
		return nil
	}
	if !IsLoopback(remoteAddr) {
		return fmt.Errorf("caller %q is not loopback: %w", remoteAddr, werr.ErrForbidden)
	}
	return nil
}

// Lookup authenticates the caller, touches userID's activity and returns the
// currently assigned port.
func (g *Gate) Lookup(ctx context.Context, userID int64, token, remoteAddr string) (int, error) {
	port, err := g.lookup(ctx, userID, token, remoteAddr)
	metrics.ObservePortLookup(outcome(err))
	return port, err
}

func (g *Gate) lookup(ctx context.Context, userID int64, token, remoteAddr string) (int, error) {
	if err := g.Authorize(token, remoteAddr); err != nil {
		g.logger.Debug("port lookup rejected", "user", userID, "remote", remoteAddr, "error", err)
		return 0, err
	}
	if userID <= 0 {
		return 0, fmt.Errorf("userId must be positive, got %d: %w", userID, werr.ErrInvalidArgument)
	}
	if g.touch != nil {
		g.touch.Touch(userID)
	}
	if g.ports == nil {
		return 0, fmt.Errorf("no port assigned for user %d: %w", userID, werr.ErrNotFound)
	}
	port, err := g.ports.CurrentPort(ctx, userID)
	if err != nil {
		if errors.Is(err, werr.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("port lookup for user %d: %w", userID, err)
	}
	return port, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return werr.Kind(err)
}

// IsLoopback reports whether addr (host, host:port, or bracketed IPv6) is a
// loopback address. 0:0:0:0:0:0:0:1 parses to ::1 and matches.
func IsLoopback(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
