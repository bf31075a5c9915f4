package store

import (
	"context"
	"time"
)

// App is a registered application owned by a user.
type App struct {
	UserID    int64     `json:"userId"`
	AppID     int64     `json:"appId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Assignment is the port currently bound to a user's workspace.
type Assignment struct {
	UserID     int64     `json:"userId"`
	Port       int       `json:"port"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Store persists applications and workspace port assignments.
// Lookups of absent rows return errors wrapping werr.ErrNotFound.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error

	CreateApp(ctx context.Context, app App) error
	GetApp(ctx context.Context, userID, appID int64) (App, error)
	ListApps(ctx context.Context, userID int64) ([]App, error)
	DeleteApp(ctx context.Context, userID, appID int64) error

	AssignPort(ctx context.Context, userID int64, port int) error
	CurrentPort(ctx context.Context, userID int64) (int, error)
	ReleasePort(ctx context.Context, userID int64) error
	ListAssignments(ctx context.Context) ([]Assignment, error)

	Close() error
}
