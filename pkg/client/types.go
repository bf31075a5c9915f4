package client

import (
	"fmt"
	"time"
)

// LogQuery selects a run log. Type is BUILD, INSTALL or PREVIEW; TailBytes 0
// returns the whole file.
type LogQuery struct {
	UserID    int64
	AppID     int64
	Type      string
	TailBytes int64
}

// LogResponse is the body of GET /realtime/log.
type LogResponse struct {
	UserID   int64  `json:"userId"`
	AppID    int64  `json:"appId"`
	Type     string `json:"type"`
	IsFinish *bool  `json:"isFinish,omitempty"`
	Log      string `json:"log"`
}

type App struct {
	UserID    int64     `json:"userId"`
	AppID     int64     `json:"appId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Outcome reports one best-effort cleanup step of an app deletion.
type Outcome struct {
	Status         string `json:"status"`
	Path           string `json:"path,omitempty"`
	Attempts       int    `json:"attempts"`
	QuarantinePath string `json:"quarantinePath,omitempty"`
	Removed        int    `json:"removed,omitempty"`
	Error          string `json:"error,omitempty"`
}

type DeleteResponse struct {
	UserID    int64   `json:"userId"`
	AppID     int64   `json:"appId"`
	Directory Outcome `json:"directory"`
	Logs      Outcome `json:"logs"`
}

// FileRequest mirrors the body accepted by the /file endpoints.
type FileRequest struct {
	UserID                 int64  `json:"userId"`
	AppID                  int64  `json:"appId"`
	Path                   string `json:"path"`
	NewPath                string `json:"newPath,omitempty"`
	Content                string `json:"content,omitempty"`
	CreateParents          bool   `json:"createParents,omitempty"`
	ForceWrite             bool   `json:"forceWrite,omitempty"`
	ExpectedLastModifiedMs *int64 `json:"expectedLastModifiedMs,omitempty"`
}

type FileResult struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	LastModifiedMs int64  `json:"lastModifiedMs"`
	IsDir          bool   `json:"isDir,omitempty"`
	Content        string `json:"content,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError is returned for any non-2xx response. Kind is the server's error
// kind, e.g. "not_found" or "concurrent_modification".
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error %d %s: %s", e.Status, e.Kind, e.Message)
}
