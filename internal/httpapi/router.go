// Package httpapi provides a read-only introspection HTTP surface over an
// internal/pool.Pool, mountable in any server/mux. Grounded on provisr's
// internal/server/router.go (gin.New + gin.Recovery + a basePath group),
// trimmed to status-only endpoints since a Pool has no network-facing
// control surface of its own — start/stop are caller (cmd/preforge)
// operations, not HTTP ones.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/preforge/internal/pool"
	"github.com/loykin/preforge/internal/worker"
)

// Router exposes GET {basePath}/status and GET {basePath}/workers over one Pool.
type Router struct {
	p        *pool.Pool
	basePath string
}

// NewRouter constructs a Router over p. basePath may be empty or begin
// with '/'; no trailing slash.
func NewRouter(p *pool.Pool, basePath string) *Router {
	return &Router{p: p, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/workers", r.handleWorkers)
	return g
}

// NewServer starts a standalone *http.Server on addr using this router.
func NewServer(addr, basePath string, p *pool.Pool) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(p, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type statusResp struct {
	Size   int `json:"size"`
	Alive  int `json:"alive"`
	Errors int `json:"errors"`
}

func (r *Router) handleStatus(c *gin.Context) {
	var alive, errored int
	r.p.EachWorker(func(w *worker.Worker) {
		if w.Alive() {
			alive++
		}
		if w.Err() != nil {
			errored++
		}
	})
	c.JSON(http.StatusOK, statusResp{Size: r.p.Len(), Alive: alive, Errors: errored})
}

type workerResp struct {
	PID   int    `json:"pid"`
	Alive bool   `json:"alive"`
	Err   string `json:"error,omitempty"`
}

func (r *Router) handleWorkers(c *gin.Context) {
	out := make([]workerResp, 0, r.p.Len())
	r.p.EachWorker(func(w *worker.Worker) {
		pid, _ := w.PID()
		wr := workerResp{PID: pid, Alive: w.Alive()}
		if err := w.Err(); err != nil {
			wr.Err = err.Error()
		}
		out = append(out, wr)
	})
	c.JSON(http.StatusOK, out)
}

func sanitizeBase(base string) string {
	if base == "" {
		return "/"
	}
	if base[0] != '/' {
		base = "/" + base
	}
	for len(base) > 1 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base
}
