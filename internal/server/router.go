package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/scriptdeck/internal/broadcast"
	"github.com/loykin/scriptdeck/internal/discovery"
	"github.com/loykin/scriptdeck/internal/logstore"
	"github.com/loykin/scriptdeck/internal/manager"
	"github.com/loykin/scriptdeck/internal/metrics"
	"github.com/loykin/scriptdeck/internal/packages"
	"github.com/loykin/scriptdeck/internal/process"
)

// DefaultHeartbeat is the interval of keep-alive events on idle streams.
const DefaultHeartbeat = 15 * time.Second

// Options wires the router to the supervision core.
type Options struct {
	Registry   *manager.Registry
	Packages   *packages.Manager  // nil disables the package endpoints
	Hub        *broadcast.Hub     // nil disables /events
	Collector  *metrics.Collector // nil disables /resources/history
	ScriptsDir string
	BasePath   string
	// MetricsPath mounts the Prometheus handler at the root when non-empty.
	MetricsPath string
	Heartbeat   time.Duration
	Logger      *slog.Logger
}

// Router exposes the registry and package manager over HTTP.
type Router struct {
	opts   Options
	base   string
	logger *slog.Logger
}

func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.ScriptsDir != "" {
		if abs, err := filepath.Abs(opts.ScriptsDir); err == nil {
			opts.ScriptsDir = abs
		}
	}
	return &Router{opts: opts, base: sanitizeBase(opts.BasePath), logger: logger}
}

// Handler builds the gin engine with every route mounted under the base path.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	if r.opts.MetricsPath != "" {
		g.GET(r.opts.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	grp := g.Group(r.base)
	grp.GET("/scripts", r.handleScripts)
	grp.POST("/start", r.handleStart)
	grp.POST("/stop", r.handleStop)
	grp.GET("/status", r.handleStatus)
	grp.GET("/logs/*script", r.handleLogs)
	grp.GET("/resources", r.handleResources)
	if r.opts.Collector != nil {
		grp.GET("/resources/history", r.handleResourceHistory)
	}
	if r.opts.Packages != nil {
		grp.GET("/packages", r.handlePackages)
		grp.POST("/packages/install", r.handleInstall)
		grp.POST("/packages/uninstall", r.handleUninstall)
		grp.POST("/install-requirements", r.handleInstallRequirements)
	}
	if r.opts.Hub != nil {
		grp.GET("/events", r.handleEvents)
	}
	return g
}

// NewServer returns an http.Server for h. WriteTimeout stays zero because
// /events holds responses open indefinitely.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	Status string `json:"status"`
}

type startReq struct {
	Script string `json:"script"`
	Path   string `json:"path"`
	Folder string `json:"folder"`
}

type stopReq struct {
	Script string `json:"script"`
}

type packageReq struct {
	Package string `json:"package"`
}

type requirementsReq struct {
	Folder string `json:"folder"`
}

func (r *Router) handleScripts(c *gin.Context) {
	scripts, err := discovery.Scan(r.opts.ScriptsDir)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	for i := range scripts {
		scripts[i].Running = r.opts.Registry.IsRunning(scripts[i].Name)
	}
	writeJSON(c, http.StatusOK, scripts)
}

func (r *Router) handleStart(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	s, err := r.resolveScript(req)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := r.opts.Registry.Start(s); err != nil {
		r.logger.Warn("start failed", "script", s.ID, "error", err)
		writeJSON(c, startStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{Status: "started"})
}

// resolveScript validates a start request. Paths must be absolute, clean and
// inside the scripts directory. Without a path the script is looked up by its
// discovered name, which also supplies the folder when none is given.
func (r *Router) resolveScript(req startReq) (process.Script, error) {
	if strings.TrimSpace(req.Script) == "" {
		return process.Script{}, errors.New("script is required")
	}
	root := r.opts.ScriptsDir
	path := req.Path
	if path == "" {
		found, err := r.discover(req.Script)
		if err != nil {
			return process.Script{}, err
		}
		ds := found.Process()
		path = ds.Path
		if req.Folder == "" {
			req.Folder = ds.Folder
		}
	}
	if !isSafeAbsPath(path) || (root != "" && !withinDir(root, path)) {
		return process.Script{}, errors.New("invalid path")
	}
	if req.Folder != "" && (!isSafeAbsPath(req.Folder) || (root != "" && !withinDir(root, req.Folder))) {
		return process.Script{}, errors.New("invalid folder")
	}
	return process.Script{ID: req.Script, Path: path, Folder: req.Folder}, nil
}

// discover finds id among the scripts under the scripts directory. Nested
// names only keep the parent folder, so joining the name onto the root would
// miss scripts more than one level deep.
func (r *Router) discover(id string) (discovery.Script, error) {
	if r.opts.ScriptsDir == "" {
		return discovery.Script{}, errors.New("path is required")
	}
	scripts, err := discovery.Scan(r.opts.ScriptsDir)
	if err != nil {
		return discovery.Script{}, fmt.Errorf("scan scripts: %w", err)
	}
	for _, s := range scripts {
		if s.Name == id {
			return s, nil
		}
	}
	return discovery.Script{}, fmt.Errorf("unknown script %q, path is required", id)
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, logstore.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, process.ErrPreviousRunActive):
		return http.StatusConflict
	case errors.Is(err, manager.ErrClosed), errors.Is(err, process.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		// *process.SpawnError and anything unexpected
		return http.StatusInternalServerError
	}
}

func (r *Router) handleStop(c *gin.Context) {
	var req stopReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Script == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "script is required"})
		return
	}
	if err := r.opts.Registry.Stop(req.Script); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{Status: "stopped"})
}

func (r *Router) handleStatus(c *gin.Context) {
	id := c.Query("script")
	if id == "" {
		writeJSON(c, http.StatusOK, r.opts.Registry.StatusAll())
		return
	}
	writeJSON(c, http.StatusOK, r.opts.Registry.Status(id))
}

func (r *Router) handleLogs(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("script"), "/")
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "script is required"})
		return
	}
	logs, err := r.opts.Registry.Log(id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, logstore.ErrInvalidName) {
			code = http.StatusBadRequest
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"logs": logs})
}

func (r *Router) handleResources(c *gin.Context) {
	id := c.Query("script")
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "script is required"})
		return
	}
	res, err := r.opts.Registry.Resources(c.Request.Context(), id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, manager.ErrNotRunning) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleResourceHistory(c *gin.Context) {
	id := c.Query("script")
	if id == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "script is required"})
		return
	}
	writeJSON(c, http.StatusOK, r.opts.Collector.History(id))
}

func (r *Router) handlePackages(c *gin.Context) {
	list, err := r.opts.Packages.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleInstall(c *gin.Context) {
	r.packageAction(c, r.opts.Packages.Install)
}

func (r *Router) handleUninstall(c *gin.Context) {
	r.packageAction(c, r.opts.Packages.Uninstall)
}

func (r *Router) packageAction(c *gin.Context, fn func(ctx context.Context, name string) (packages.Result, error)) {
	var req packageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	res, err := fn(c.Request.Context(), req.Package)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleInstallRequirements(c *gin.Context) {
	var req requirementsReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid json"})
			return
		}
	}
	if req.Folder != "" && (!isSafeAbsPath(req.Folder) ||
		(r.opts.ScriptsDir != "" && !withinDir(r.opts.ScriptsDir, req.Folder))) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid folder"})
		return
	}
	writeJSON(c, http.StatusOK, r.opts.Packages.InstallRequirements(c.Request.Context(), req.Folder))
}

// handleEvents streams hub messages as server-sent events. An empty script
// query subscribes to every topic.
func (r *Router) handleEvents(c *gin.Context) {
	sub := r.opts.Hub.Subscribe(c.Query("script"))
	defer sub.Close()

	tick := time.NewTicker(r.opts.Heartbeat)
	defer tick.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"script": sub.Topic()})
	c.Writer.Flush()
	r.logger.Debug("event stream opened", "script", sub.Topic(), "viewers", r.opts.Hub.Subscribers())
	defer r.logger.Debug("event stream closed", "script", sub.Topic())

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, msg)
			return true
		case t := <-tick.C:
			c.SSEvent("heartbeat", t.Unix())
			return true
		}
	})
}
