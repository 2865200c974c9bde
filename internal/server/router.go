package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devrun/internal/auth"
	"github.com/loykin/devrun/internal/events"
	mng "github.com/loykin/devrun/internal/manager"
	"github.com/loykin/devrun/internal/project"
)

// storeTimeout bounds every project store call made by a handler.
const storeTimeout = 10 * time.Second

// Router provides embeddable HTTP handlers for managing dev projects.
// Endpoints, relative to basePath:
//
//	GET    /projects              list projects with their status
//	POST   /projects              register a project (body: project JSON)
//	DELETE /projects/:name        remove a stopped project
//	POST   /projects/:name/start  start the project's script
//	POST   /projects/:name/stop   stop it
//	GET    /projects/:name/status status of one project
//	GET    /events                server-sent event stream
//	POST   /auth/login            exchange credentials for a token
//
// GET /metrics is served at the root when a metrics handler is set.
//
// POST /projects also requires Path to be absolute and clean. Projects
// seeded from configuration or added to a store directly may use any
// non-empty path; the name rule of project.Validate applies everywhere.
type Router struct {
	sup      *mng.Supervisor
	store    project.Store
	bus      *events.Bus
	basePath string
	metrics  http.Handler
	auth     *auth.Middleware
	logger   *slog.Logger
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(r *Router) { r.metrics = h }
}

// WithAuth protects every endpoint except login with m.
func WithAuth(m *auth.Middleware) RouterOption {
	return func(r *Router) { r.auth = m }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter constructs a Router. Example basePath: "/api" results in
// /api/projects, /api/events and so on.
func NewRouter(sup *mng.Supervisor, store project.Store, bus *events.Bus, basePath string, opts ...RouterOption) *Router {
	r := &Router{
		sup:      sup,
		store:    store,
		bus:      bus,
		basePath: sanitizeBase(basePath),
		auth:     auth.NewMiddleware(nil),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	group := g.Group(r.basePath)
	group.POST("/auth/login", r.auth.Login)

	api := group.Group("", r.auth.GinAuth())
	read := r.auth.GinRequirePermission(auth.ActionRead)
	write := r.auth.GinRequirePermission(auth.ActionWrite)
	api.GET("/projects", read, r.handleList)
	api.POST("/projects", write, r.handleAdd)
	api.DELETE("/projects/:name", write, r.handleDelete)
	api.POST("/projects/:name/start", write, r.handleStart)
	api.POST("/projects/:name/stop", write, r.handleStop)
	api.GET("/projects/:name/status", read, r.handleStatus)
	api.GET("/events", read, r.handleEvents)
	return g
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// ProjectView is a registered project together with its run state.
type ProjectView struct {
	project.Project
	Status mng.Status `json:"status"`
}

func (r *Router) view(p project.Project) ProjectView {
	st, err := r.sup.GetStatus(p.Name)
	if err != nil {
		st = events.Stopped()
	}
	return ProjectView{Project: p, Status: st}
}

func (r *Router) handleList(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	ps, err := r.store.List(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]ProjectView, 0, len(ps))
	for _, p := range ps {
		out = append(out, r.view(p))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleAdd(c *gin.Context) {
	var p project.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := p.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if !isSafeAbsPath(p.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute path without traversal"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	if err := r.store.Add(ctx, p); err != nil {
		writeError(c, statusForStoreErr(err), err)
		return
	}
	r.logger.Info("Project added", "project", p.Name, "path", p.Path)
	writeJSON(c, http.StatusCreated, r.view(p))
}

func (r *Router) handleDelete(c *gin.Context) {
	name := c.Param("name")
	if st, err := r.sup.GetStatus(name); err == nil && st.Running {
		writeError(c, http.StatusConflict, fmt.Errorf("project '%s' is running: %w", name, mng.ErrAlreadyRunning))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	if err := r.store.Delete(ctx, name); err != nil {
		writeError(c, statusForStoreErr(err), err)
		return
	}
	r.logger.Info("Project removed", "project", name)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	p, err := r.store.Get(ctx, c.Param("name"))
	if err != nil {
		writeError(c, statusForStoreErr(err), err)
		return
	}
	if err := r.sup.Start(p.Name, p.Path, p.Script); err != nil {
		writeError(c, statusForSupervisorErr(err), err)
		return
	}
	writeJSON(c, http.StatusOK, r.view(p))
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Param("name")
	if err := r.sup.Stop(name); err != nil {
		writeError(c, statusForSupervisorErr(err), err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.sup.GetStatus(c.Param("name"))
	if err != nil {
		writeError(c, statusForSupervisorErr(err), err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func statusForStoreErr(err error) int {
	switch {
	case errors.Is(err, project.ErrEmptyName),
		errors.Is(err, project.ErrInvalidName),
		errors.Is(err, project.ErrEmptyPath):
		return http.StatusBadRequest
	case errors.Is(err, project.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func statusForSupervisorErr(err error) int {
	switch {
	case errors.Is(err, mng.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, mng.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mng.ErrAlreadyRunning),
		errors.Is(err, mng.ErrNotRunning),
		errors.Is(err, mng.ErrStopInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
