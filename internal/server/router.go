package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/reclaim"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/workspace"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

// Router exposes the workspace service over HTTP.
type Router struct {
	svc      *workspace.Service
	basePath string
	logger   *slog.Logger
}

func NewRouter(svc *workspace.Service, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{svc: svc, basePath: sanitizeBase(basePath), logger: logger}
}

// Handler returns the gin engine with all routes mounted under the base path.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestID(), accessLog(r.logger, r.basePath+"/internal/nginx/port"))
	grp := g.Group(r.basePath)

	grp.GET("/git/status", r.handleGitStatus)
	grp.POST("/git/ensure", r.handleGitEnsure)

	grp.GET("/internal/nginx/port", r.handlePortLookup)
	grp.PUT("/internal/port", r.handlePortAssign)
	grp.DELETE("/internal/port", r.handlePortRelease)

	grp.GET("/realtime/log", r.handleRealtimeLog)

	grp.POST("/file/read", r.handleFile(opRead))
	grp.POST("/file/write", r.handleFile(opWrite))
	grp.POST("/file/rename", r.handleFile(opRename))
	grp.POST("/file/delete", r.handleFile(opDelete))
	grp.POST("/file/mkdir", r.handleFile(opMkdir))

	grp.POST("/apps", r.handleCreateApp)
	grp.GET("/apps", r.handleListApps)
	grp.DELETE("/apps", r.handleDeleteApp)

	g.NoRoute(func(c *gin.Context) {
		writeError(c, fmt.Errorf("no route for %s %s: %w", c.Request.Method, c.Request.URL.Path, werr.ErrNotFound))
	})
	return g
}

// NewServer builds an http.Server for the router. The caller starts it.
func NewServer(addr, basePath string, svc *workspace.Service, logger *slog.Logger) *http.Server {
	r := NewRouter(svc, basePath, logger)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// streamed logs can exceed a short write deadline
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func (r *Router) handleGitStatus(c *gin.Context) {
	userID, appID, ok := r.userApp(c)
	if !ok {
		return
	}
	st, err := r.svc.GitStatus(c.Request.Context(), userID, appID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleGitEnsure(c *gin.Context) {
	userID, appID, ok := r.userApp(c)
	if !ok {
		return
	}
	res, err := r.svc.GitEnsure(c.Request.Context(), userID, appID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// gatedQueryID parses an id on a port-gate endpoint. A caller that fails the
// gate gets the gate's error even when the id is malformed too.
func (r *Router) gatedQueryID(c *gin.Context, name string) (int64, bool) {
	id, err := queryID(c, name)
	if err == nil {
		return id, true
	}
	if aerr := r.svc.Gate().Authorize(gateToken(c), c.Request.RemoteAddr); aerr != nil {
		err = aerr
	}
	writeError(c, err)
	return 0, false
}

func (r *Router) handlePortLookup(c *gin.Context) {
	userID, ok := r.gatedQueryID(c, "userId")
	if !ok {
		return
	}
	port, err := r.svc.LookupPort(c.Request.Context(), userID, gateToken(c), c.Request.RemoteAddr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(headerPort, strconv.Itoa(port))
	c.Status(http.StatusNoContent)
}

func (r *Router) handlePortAssign(c *gin.Context) {
	userID, ok := r.gatedQueryID(c, "userId")
	if !ok {
		return
	}
	port, ok := r.gatedQueryID(c, "port")
	if !ok {
		return
	}
	if err := r.svc.AssignPort(c.Request.Context(), gateToken(c), c.Request.RemoteAddr, userID, int(port)); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePortRelease(c *gin.Context) {
	userID, ok := r.gatedQueryID(c, "userId")
	if !ok {
		return
	}
	if err := r.svc.ReleasePort(c.Request.Context(), gateToken(c), c.Request.RemoteAddr, userID); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type logResp struct {
	UserID   int64  `json:"userId"`
	AppID    int64  `json:"appId"`
	Type     string `json:"type"`
	IsFinish *bool  `json:"isFinish,omitempty"`
	Log      string `json:"log"`
}

func (r *Router) handleRealtimeLog(c *gin.Context) {
	userID, appID, ok := r.userApp(c)
	if !ok {
		return
	}
	tail, err := queryInt64(c, "tailBytes")
	if err != nil {
		writeError(c, err)
		return
	}
	kind := c.Query("type")

	if queryBool(c, "stream") {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		if _, err := r.svc.StreamLog(c.Writer, userID, appID, kind, tail); err != nil {
			if c.Writer.Written() {
				// headers are gone; the truncated body is all the client gets
				_ = c.Error(err)
				return
			}
			writeError(c, err)
			return
		}
		if !c.Writer.Written() {
			c.Status(http.StatusOK)
		}
		return
	}

	res, err := r.svc.ReadLog(userID, appID, kind, tail)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logResp{
		UserID:   userID,
		AppID:    appID,
		Type:     string(res.Kind),
		IsFinish: res.IsFinish,
		Log:      res.Log,
	})
}

type fileOp int

const (
	opRead fileOp = iota
	opWrite
	opRename
	opDelete
	opMkdir
)

func (r *Router) handleFile(op fileOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workspace.FileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fmt.Errorf("decode request: %w: %w", werr.ErrInvalidArgument, err))
			return
		}
		var (
			res workspace.FileResult
			err error
		)
		switch op {
		case opRead:
			res, err = r.svc.ReadFile(req)
		case opWrite:
			res, err = r.svc.WriteFile(req)
		case opRename:
			res, err = r.svc.RenameFile(req)
		case opMkdir:
			res, err = r.svc.Mkdir(req)
		case opDelete:
			if err := r.svc.DeleteFile(req); err != nil {
				writeError(c, err)
				return
			}
			writeJSON(c, http.StatusOK, okResp{OK: true})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, res)
	}
}

type createAppReq struct {
	UserID int64  `json:"userId"`
	AppID  int64  `json:"appId"`
	Name   string `json:"name"`
}

func (r *Router) handleCreateApp(c *gin.Context) {
	var req createAppReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("decode request: %w: %w", werr.ErrInvalidArgument, err))
		return
	}
	app, err := r.svc.CreateApp(c.Request.Context(), req.UserID, req.AppID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, app)
}

func (r *Router) handleListApps(c *gin.Context) {
	userID, err := queryID(c, "userId")
	if err != nil {
		writeError(c, err)
		return
	}
	apps, err := r.svc.ListApps(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, apps)
}

// outcomeResp adds the failure message that reclaim.Outcome keeps out of JSON.
type outcomeResp struct {
	reclaim.Outcome
	Error string `json:"error,omitempty"`
}

type deleteResp struct {
	UserID    int64       `json:"userId"`
	AppID     int64       `json:"appId"`
	Directory outcomeResp `json:"directory"`
	Logs      outcomeResp `json:"logs"`
}

func (r *Router) handleDeleteApp(c *gin.Context) {
	userID, appID, ok := r.userApp(c)
	if !ok {
		return
	}
	rep, err := r.svc.DeleteApp(c.Request.Context(), userID, appID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, deleteResp{
		UserID:    userID,
		AppID:     appID,
		Directory: outcomeResp{Outcome: rep.Directory, Error: rep.Directory.Error()},
		Logs:      outcomeResp{Outcome: rep.Logs, Error: rep.Logs.Error()},
	})
}

func (r *Router) userApp(c *gin.Context) (int64, int64, bool) {
	userID, err := queryID(c, "userId")
	if err == nil {
		var appID int64
		if appID, err = queryID(c, "appId"); err == nil {
			return userID, appID, true
		}
	}
	writeError(c, err)
	return 0, 0, false
}
