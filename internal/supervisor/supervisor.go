// Package supervisor owns one simulation run: N agents flipping their
// own presence records on independent timers while N watchers observe
// the merged change feed.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/presencer/internal/agent"
	"github.com/loykin/presencer/internal/history"
	"github.com/loykin/presencer/internal/presence"
	"github.com/loykin/presencer/internal/watcher"
)

// State is the supervisor lifecycle: Idle → Running → Stopping →
// Stopped. Stopped is terminal.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// DefaultWindow is the observation window when none is configured.
const DefaultWindow = 10 * time.Second

// AgentSpec configures one simulated agent. Schedule uses the
// "@every <duration>" grammar; periods are independent per agent.
type AgentSpec struct {
	ID       string
	Name     string
	Schedule string
	Active   bool // initial presence value at seeding time
}

// Config configures one supervisor run.
type Config struct {
	Window time.Duration
	Agents []AgentSpec
}

type Supervisor struct {
	cfg    Config
	store  presence.Store
	logger *slog.Logger
	sink   history.Sink

	mu       sync.Mutex
	state    State
	agents   []*agent.Agent
	watchers []*watcher.Watcher
	sched    *agent.Scheduler
	done     chan struct{}
}

func New(cfg Config, st presence.Store, logger *slog.Logger, sink history.Sink) (*Supervisor, error) {
	if len(cfg.Agents) == 0 {
		return nil, errors.New("supervisor requires at least one agent")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	seen := make(map[string]struct{}, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.ID == "" || a.Name == "" {
			return nil, errors.New("agent requires id and name")
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
		if _, err := agent.ParseEvery(a.Schedule); err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		store:  st,
		logger: logger,
		sink:   sink,
		done:   make(chan struct{}),
	}, nil
}

// Seed clears the namespace and writes one record per configured
// agent. The id set is fixed for the run after this returns; records
// are deleted in bulk only by the next run's Seed.
func (s *Supervisor) Seed(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("seed: delete all: %w", err)
	}
	for _, spec := range s.cfg.Agents {
		rec := presence.Record{
			ID:          spec.ID,
			Name:        spec.Name,
			Active:      spec.Active,
			LastUpdated: time.Now().UTC(),
		}
		if err := s.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("seed %s: %w", spec.ID, err)
		}
	}
	s.logger.Info("seeded", "agents", len(s.cfg.Agents))
	return nil
}

// Start moves Idle → Running: verify seeded records, subscribe every
// watcher, then start every flip timer. Every watcher is subscribed
// before any timer begins, so the initial snapshot observation always
// precedes an agent's own first flip delta.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("supervisor not idle (state %s)", s.state)
	}

	for _, spec := range s.cfg.Agents {
		if _, err := s.store.Get(ctx, spec.ID); err != nil {
			return fmt.Errorf("verify %s: %w", spec.ID, err)
		}
	}

	s.agents = make([]*agent.Agent, 0, len(s.cfg.Agents))
	s.watchers = make([]*watcher.Watcher, 0, len(s.cfg.Agents))
	s.sched = agent.NewScheduler()

	for _, spec := range s.cfg.Agents {
		w := watcher.New(spec.Name, s.store, s.logger, s.sink)
		if err := w.Start(); err != nil {
			s.teardownLocked()
			return fmt.Errorf("watch %s: %w", spec.Name, err)
		}
		s.watchers = append(s.watchers, w)
	}

	for _, spec := range s.cfg.Agents {
		a := agent.New(spec.ID, spec.Name, spec.Active, s.store, s.logger)
		s.agents = append(s.agents, a)
		if err := s.sched.Add(&agent.Job{Agent: a, Schedule: spec.Schedule}); err != nil {
			s.teardownLocked()
			return err
		}
	}
	if err := s.sched.Start(ctx); err != nil {
		s.teardownLocked()
		return err
	}

	s.state = Running
	s.logger.Info("running", "agents", len(s.agents), "window", s.cfg.Window)
	return nil
}

// Run performs one complete observation run: Start, hold Running for
// the configured window (or until ctx is cancelled), then Stop.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	timer := time.NewTimer(s.cfg.Window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	s.Stop()
	return nil
}

// Stop moves Running → Stopping → Stopped: cancel every watcher first
// (stop producing observations), then clear every flip timer (stop
// producing mutations). This order guarantees no timer mutates after
// its own watcher stopped; a mutation already in flight when its
// watcher is cancelled may still land in the store unobserved, which
// is acceptable. Idempotent: repeated Stops are no-ops.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	s.logger.Info("stopping")
	s.teardownLocked()
	s.state = Stopped
	s.mu.Unlock()
	close(s.done)
	s.logger.Info("stopped")
}

func (s *Supervisor) teardownLocked() {
	for _, w := range s.watchers {
		w.Stop()
	}
	if s.sched != nil {
		s.sched.Stop()
	}
}

// Done is closed once the supervisor reaches Stopped.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Agents returns the running agents; empty before Start.
func (s *Supervisor) Agents() []*agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*agent.Agent(nil), s.agents...)
}

// Watchers returns the run's watchers; empty before Start.
func (s *Supervisor) Watchers() []*watcher.Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*watcher.Watcher(nil), s.watchers...)
}
