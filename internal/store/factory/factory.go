package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/store"
	pg "github.com/ruiAndroid/fun-ai-studio-workspace/internal/store/postgres"
	sq "github.com/ruiAndroid/fun-ai-studio-workspace/internal/store/sqlite"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		d = d[len("sqlite://"):]
	}
	if strings.Contains(d, "://") {
		return nil, fmt.Errorf("unsupported store DSN %q: %w", dsn, werr.ErrInvalidArgument)
	}
	// default to sqlite path
	return sq.New(d)
}

// Open selects a backend from dsn and ensures its schema.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	s, err := NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
