package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQL implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for postgres.
type SQL struct {
	db      *sql.DB
	dialect string
}

func NewSQL(db *sql.DB, dialect string) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// DB exposes the underlying handle, mainly for tests.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS apps(
			user_id BIGINT NOT NULL,
			app_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY(user_id, app_id)
		);`,
		`CREATE TABLE IF NOT EXISTS workspace_ports(
			user_id BIGINT PRIMARY KEY,
			port INTEGER NOT NULL UNIQUE,
			assigned_at BIGINT NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func validIDs(ids ...int64) error {
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("id must be positive, got %d: %w", id, werr.ErrInvalidArgument)
		}
	}
	return nil
}

func (s *SQL) CreateApp(ctx context.Context, app App) error {
	if err := validIDs(app.UserID, app.AppID); err != nil {
		return err
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO apps(user_id, app_id, name, created_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(user_id, app_id) DO NOTHING;`),
		app.UserID, app.AppID, app.Name, app.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("app %d/%d: %w", app.UserID, app.AppID, werr.ErrAlreadyExists)
	}
	return nil
}

func (s *SQL) GetApp(ctx context.Context, userID, appID int64) (App, error) {
	var (
		a  App
		ms int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT user_id, app_id, name, created_at FROM apps
		WHERE user_id=? AND app_id=?;`), userID, appID).
		Scan(&a.UserID, &a.AppID, &a.Name, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return App{}, fmt.Errorf("app %d/%d: %w", userID, appID, werr.ErrNotFound)
	}
	if err != nil {
		return App{}, fmt.Errorf("get app: %w", err)
	}
	a.CreatedAt = time.UnixMilli(ms)
	return a, nil
}

func (s *SQL) ListApps(ctx context.Context, userID int64) ([]App, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT user_id, app_id, name, created_at FROM apps
		WHERE user_id=?
		ORDER BY app_id;`), userID)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]App, 0)
	for rows.Next() {
		var (
			a  App
			ms int64
		)
		if err := rows.Scan(&a.UserID, &a.AppID, &a.Name, &ms); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(ms)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQL) DeleteApp(ctx context.Context, userID, appID int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM apps WHERE user_id=? AND app_id=?;`), userID, appID)
	if err != nil {
		return fmt.Errorf("delete app: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("app %d/%d: %w", userID, appID, werr.ErrNotFound)
	}
	return nil
}

// AssignPort binds port to userID, replacing any previous assignment.
// A port held by another user is rejected.
func (s *SQL) AssignPort(ctx context.Context, userID int64, port int) error {
	if err := validIDs(userID); err != nil {
		return err
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port %d out of range: %w", port, werr.ErrInvalidArgument)
	}
	var holder int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT user_id FROM workspace_ports WHERE port=? AND user_id<>?;`), port, userID).Scan(&holder)
	switch {
	case err == nil:
		return fmt.Errorf("port %d held by user %d: %w", port, holder, werr.ErrAlreadyExists)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("assign port: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO workspace_ports(user_id, port, assigned_at)
		VALUES(?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			port=excluded.port,
			assigned_at=excluded.assigned_at;`),
		userID, port, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("assign port: %w", err)
	}
	return nil
}

func (s *SQL) CurrentPort(ctx context.Context, userID int64) (int, error) {
	var port int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT port FROM workspace_ports WHERE user_id=?;`), userID).Scan(&port)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no port assigned for user %d: %w", userID, werr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("current port: %w", err)
	}
	return port, nil
}

func (s *SQL) ReleasePort(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM workspace_ports WHERE user_id=?;`), userID)
	if err != nil {
		return fmt.Errorf("release port: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no port assigned for user %d: %w", userID, werr.ErrNotFound)
	}
	return nil
}

func (s *SQL) ListAssignments(ctx context.Context) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, port, assigned_at FROM workspace_ports ORDER BY user_id;`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]Assignment, 0)
	for rows.Next() {
		var (
			a  Assignment
			ms int64
		)
		if err := rows.Scan(&a.UserID, &a.Port, &ms); err != nil {
			return nil, err
		}
		a.AssignedAt = time.UnixMilli(ms)
		out = append(out, a)
	}
	return out, rows.Err()
}
