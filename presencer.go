// Package presencer simulates document-store-backed presence tracking:
// a set of independent agents periodically flip their own online flag
// while every agent's watcher observes the merged change feed.
package presencer

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/loykin/presencer/internal/config"
	"github.com/loykin/presencer/internal/history"
	hfactory "github.com/loykin/presencer/internal/history/factory"
	"github.com/loykin/presencer/internal/metrics"
	"github.com/loykin/presencer/internal/presence"
	iapi "github.com/loykin/presencer/internal/server"
	sfactory "github.com/loykin/presencer/internal/store/factory"
	"github.com/loykin/presencer/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = presence.Record

type Store = presence.Store

type Batch = presence.Batch

type Change = presence.Change

type Config = cfg.Config

type AgentSpec = supervisor.AgentSpec

type SupervisorConfig = supervisor.Config

type HistorySink = history.Sink

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// NewStore opens a presence store selected by DSN
// (memory://, sqlite://..., postgres://...).
func NewStore(namespace, dsn string) (Store, error) {
	return sfactory.NewFromDSN(namespace, dsn)
}

// NewHistorySink opens an observation sink selected by DSN
// (sqlite://..., postgres://..., clickhouse://...).
func NewHistorySink(dsn string) (HistorySink, error) {
	return hfactory.NewSinkFromDSN(dsn)
}

// NewSupervisor builds a supervisor for one simulation run. logger and
// sink may be nil.
func NewSupervisor(c SupervisorConfig, st Store, sink HistorySink) (*Supervisor, error) {
	inner, err := supervisor.New(c, st, nil, sink)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) Seed(ctx context.Context) error  { return s.inner.Seed(ctx) }
func (s *Supervisor) Start(ctx context.Context) error { return s.inner.Start(ctx) }
func (s *Supervisor) Run(ctx context.Context) error   { return s.inner.Run(ctx) }
func (s *Supervisor) Stop()                           { s.inner.Stop() }
func (s *Supervisor) Done() <-chan struct{}           { return s.inner.Done() }
func (s *Supervisor) State() string                   { return s.inner.State().String() }

// LoadConfig reads a TOML configuration file with environment
// overrides applied.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// DefaultConfig returns the built-in two-agent demo configuration.
func DefaultConfig() Config { return cfg.Default() }

// NewHTTPServer starts the status API on addr for a running
// supervisor. It never blocks; close the returned server to stop.
func NewHTTPServer(addr, basePath string, s *Supervisor, st Store) *http.Server {
	return iapi.NewServer(addr, basePath, s.inner, st)
}

// RegisterMetrics registers the simulation collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers with the default Prometheus registry.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
