package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/presencer/internal/presence"
	"github.com/loykin/presencer/internal/supervisor"
)

// Router provides embeddable HTTP handlers for observing a simulation
// run. Endpoints:
//
//	GET  {basePath}/records   current presence records from the store
//	GET  {basePath}/state     supervisor/agent/watcher state
//	POST {basePath}/stop      end the run early
//	GET  {basePath}/healthz   liveness
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	store    presence.Store
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, st presence.Store, basePath string) *Router {
	return &Router{sup: sup, store: st, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted
// in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/records", r.handleRecords)
	group.GET("/state", r.handleState)
	group.POST("/stop", r.handleStop)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, st presence.Store) *http.Server {
	r := NewRouter(sup, st, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// AgentState is one agent's view in the state response.
type AgentState struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// WatcherState is one watcher's view in the state response.
type WatcherState struct {
	Observer    string `json:"observer"`
	State       string `json:"state"`
	Transitions int    `json:"transitions"`
}

// StateResp is the full /state response body.
type StateResp struct {
	State    string         `json:"state"`
	Agents   []AgentState   `json:"agents"`
	Watchers []WatcherState `json:"watchers"`
}

func (r *Router) handleRecords(c *gin.Context) {
	recs, err := r.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []presence.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (r *Router) handleState(c *gin.Context) {
	resp := StateResp{
		State:    r.sup.State().String(),
		Agents:   []AgentState{},
		Watchers: []WatcherState{},
	}
	for _, a := range r.sup.Agents() {
		resp.Agents = append(resp.Agents, AgentState{Name: a.Name(), Active: a.Active()})
	}
	for _, w := range r.sup.Watchers() {
		resp.Watchers = append(resp.Watchers, WatcherState{
			Observer:    w.Observer(),
			State:       w.State().String(),
			Transitions: w.Transitions(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleStop(c *gin.Context) {
	r.sup.Stop()
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, okResp{OK: true})
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
