package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Job binds one agent to a flip schedule.
// Schedule supports only the form "@every <duration>" (e.g., "@every 3s").
// Non-overlap: if the agent's previous flip is still in flight, the
// tick is skipped, so one agent never runs two flips at once.
// Periods are independent per agent; the scheduler imposes no ordering
// across agents.
type Job struct {
	Agent    *Agent
	Schedule string

	running atomic.Bool
}

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

// Scheduler runs flip timers for a set of agents. Use Start to launch
// the background tickers and Stop to cancel them. Stop guarantees that
// no new flip is scheduled after it returns; a flip already in flight
// may still land in the store.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*Job
	quit chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler() *Scheduler { return &Scheduler{} }

func (s *Scheduler) Add(job *Job) error {
	if job.Agent == nil {
		return errors.New("flip job requires an agent")
	}
	if _, err := ParseEvery(job.Schedule); err != nil {
		return fmt.Errorf("agent %s: %w", job.Agent.Name(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches all flip loops. Call Stop to cancel.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		period, err := ParseEvery(j.Schedule)
		if err != nil {
			return fmt.Errorf("agent %s: %w", j.Agent.Name(), err)
		}
		s.wg.Add(1)
		go s.runJob(ctx, j, period)
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j *Job, period time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			// Skip the tick when the previous flip is still running.
			if !j.running.CompareAndSwap(false, true) {
				continue
			}
			go func(j *Job) {
				defer j.running.Store(false)
				j.Agent.FlipActive(ctx)
			}(j)
		}
	}
}

// Stop cancels all flip loops and waits for the tickers to exit.
// Idempotent: stopping an already-stopped or never-started scheduler
// is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.quit == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.quit:
		// already closed
	default:
		close(s.quit)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
