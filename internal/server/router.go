package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loykin/craftvisor/internal/auth"
	mng "github.com/loykin/craftvisor/internal/manager"
	"github.com/loykin/craftvisor/internal/profile"
	"github.com/loykin/craftvisor/internal/scheduler"
)

// Router provides embeddable HTTP handlers for the control surface.
// Endpoints:
//
//	GET  {basePath}/servers
//	GET  {basePath}/status?id=...
//	GET  {basePath}/console?id=...
//	POST {basePath}/console/send        body: {"id","command"}
//	POST {basePath}/control/start       body: {"id"}
//	POST {basePath}/control/stop        body: {"id"}
//	POST {basePath}/control/kill        body: {"id"}
//	GET  {basePath}/config?id=...
//	POST {basePath}/config              body: {"id","config"}
//	GET  {basePath}/config/properties?id=...
//	GET  {basePath}/schedules
//	POST {basePath}/auth/login          body: {"username","password"}
//	GET  {basePath}/metrics
//
// A profile may be addressed by its id (the directory path) or by its display
// name. "path" is accepted as an alias of "id".
type Router struct {
	ctl      *mng.Control
	basePath string
	timeout  time.Duration

	authSvc *auth.Service
	mw      *auth.Middleware
	sched   *scheduler.Scheduler
	metrics http.Handler
}

// Option configures a Router.
type Option func(*Router)

// WithAuth protects every route except login and metrics.
func WithAuth(s *auth.Service) Option {
	return func(r *Router) { r.authSvc = s }
}

// WithScheduler exposes the schedule list.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(r *Router) { r.sched = s }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(r *Router) { r.metrics = h }
}

// WithRequestTimeout bounds how long a mutation waits for the owner loop.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/servers, /api/status, ...
func NewRouter(ctl *mng.Control, basePath string, opts ...Option) *Router {
	r := &Router{ctl: ctl, basePath: sanitizeBase(basePath), timeout: 30 * time.Second}
	for _, o := range opts {
		o(r)
	}
	r.mw = auth.NewMiddleware(r.authSvc, r.authSvc != nil)
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestID())
	r.Register(g.Group(r.basePath))
	return g
}

// RequestIDHeader carries the per-request id set by the handler.
const RequestIDHeader = "X-Request-ID"

// requestID echoes a caller supplied id or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Register installs the routes on an existing group.
func (r *Router) Register(group *gin.RouterGroup) {
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	if r.mw.Enabled() {
		group.POST("/auth/login", r.handleLogin)
	}

	read := group.Group("", r.mw.GinAuth(), r.mw.GinRequirePermission(auth.ActionRead))
	read.GET("/servers", r.handleServers)
	read.GET("/status", r.handleStatus)
	read.GET("/console", r.handleConsole)
	read.GET("/config", r.handleConfigGet)
	read.GET("/config/properties", r.handleConfigProperties)
	read.GET("/schedules", r.handleSchedules)

	write := group.Group("", r.mw.GinAuth(), r.mw.GinRequirePermission(auth.ActionWrite))
	write.POST("/console/send", r.handleSend)
	write.POST("/control/start", r.handleControl(r.ctl.StartProcess))
	write.POST("/control/stop", r.handleControl(r.ctl.StopProcess))
	write.POST("/control/kill", r.handleControl(r.ctl.KillProcess))
	write.POST("/config", r.handleConfigPost)
}

// NewServer starts a standalone HTTP server on addr using this router. TLS is
// used when both certFile and keyFile are set. Errors from the listener are
// delivered on the returned channel.
func NewServer(addr string, h http.Handler, certFile, keyFile string) (*http.Server, <-chan error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = server.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return server, errCh
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type idReq struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

func (q idReq) key() string {
	if q.ID != "" {
		return q.ID
	}
	return q.Path
}

type sendReq struct {
	idReq
	Command string `json:"command"`
}

type configReq struct {
	idReq
	Config string `json:"config"`
}

type configResp struct {
	OK      bool   `json:"ok"`
	Warning string `json:"warning,omitempty"`
}

func (r *Router) resolve(c *gin.Context, key string) (string, bool) {
	if key == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id required"})
		return "", false
	}
	reg := r.ctl.Registry()
	if mp, ok := reg.Get(key); ok {
		return mp.ID(), true
	}
	if !isSafeKey(key) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id"})
		return "", false
	}
	mp, ok := reg.Lookup(key)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown profile: " + key})
		return "", false
	}
	return mp.ID(), true
}

func (r *Router) resolveQuery(c *gin.Context) (string, bool) {
	key := c.Query("id")
	if key == "" {
		key = c.Query("path")
	}
	return r.resolve(c, key)
}

func (r *Router) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), r.timeout)
}

func (r *Router) handleServers(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"servers": r.ctl.ListProfiles()})
}

func (r *Router) handleStatus(c *gin.Context) {
	id, ok := r.resolveQuery(c)
	if !ok {
		return
	}
	st, err := r.ctl.GetStatus(id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleConsole(c *gin.Context) {
	id, ok := r.resolveQuery(c)
	if !ok {
		return
	}
	lines, err := r.ctl.GetConsole(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, gin.H{"lines": lines})
}

func (r *Router) handleSend(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, ok := r.resolve(c, req.key())
	if !ok {
		return
	}
	ctx, cancel := r.requestContext(c)
	defer cancel()
	if err := r.ctl.SendCommand(ctx, id, req.Command); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleControl(op func(context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req idReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
		id, ok := r.resolve(c, req.key())
		if !ok {
			return
		}
		ctx, cancel := r.requestContext(c)
		defer cancel()
		if err := op(ctx, id); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleConfigGet(c *gin.Context) {
	id, ok := r.resolveQuery(c)
	if !ok {
		return
	}
	text, err := r.ctl.ReadConfig(id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"id": id, "config": text})
}

func (r *Router) handleConfigProperties(c *gin.Context) {
	id, ok := r.resolveQuery(c)
	if !ok {
		return
	}
	props, err := r.ctl.ConfigProperties(id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"id": id, "properties": props})
}

func (r *Router) handleConfigPost(c *gin.Context) {
	var req configReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, ok := r.resolve(c, req.key())
	if !ok {
		return
	}
	ctx, cancel := r.requestContext(c)
	defer cancel()
	warning, err := r.ctl.WriteConfig(ctx, id, req.Config)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, configResp{OK: true, Warning: warning})
}

func (r *Router) handleSchedules(c *gin.Context) {
	list := []scheduler.Status{}
	if r.sched != nil {
		list = append(list, r.sched.List()...)
	}
	writeJSON(c, http.StatusOK, gin.H{"schedules": list})
}

func (r *Router) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "username and password required"})
		return
	}
	res, err := r.authSvc.Authenticate(c.Request.Context(), auth.LoginRequest{
		Method:   auth.AuthMethodBasic,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil || !res.Success || res.Token == nil {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid credentials"})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"token": res.Token.Value, "expires_at": res.Token.ExpiresAt})
}

// statusFor maps control errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mng.ErrInvalidProfile), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, mng.ErrAlreadyActive),
		errors.Is(err, mng.ErrNotActive),
		errors.Is(err, mng.ErrConfigLocked):
		return http.StatusConflict
	case errors.Is(err, mng.ErrLaunchFailure),
		errors.Is(err, mng.ErrEmptyCommand),
		errors.Is(err, mng.ErrInvalidCommand),
		errors.Is(err, profile.ErrInvalidProperties):
		return http.StatusBadRequest
	case errors.Is(err, mng.ErrRouterClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}
