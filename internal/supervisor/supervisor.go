// Package supervisor implements the process-wide goroutine supervisor
// (spec §4.9): one named task per long-running sub-pipeline, each running
// under its own derived context, with a per-task health record GET /health
// can render. A task that returns an errs.KindCatastrophic error is marked
// quiesced and never restarted; every other return (nil on graceful
// shutdown, or any other error kind) is logged and left stopped, since
// no task in this daemon is expected to return on its own.
//
// This generalizes the teacher's cmd/bot/main.go pattern of one goroutine
// per concern plus signal.Notify-driven shutdown into a registry the daemon
// can introspect instead of a handful of untracked `go func(){}()` calls.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"walltrack/internal/errs"
)

// ComponentHealth is one task's current status, returned by Health.
type ComponentHealth struct {
	Name          string
	Running       bool
	Quiesced      bool
	LastError     string
	LastHeartbeat time.Time
}

type task struct {
	name      string
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	running   bool
	quiesced  bool
	lastErr   string
	heartbeat time.Time
}

// Supervisor owns every spawned task's lifecycle and health record.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
}

// New builds a Supervisor deriving every task's context from parent.
func New(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, tasks: make(map[string]*task)}
}

// Spawn runs fn in its own goroutine under a context derived from the
// Supervisor's root, recording its health under name. fn should block until
// its context is cancelled or it hits an unrecoverable condition.
func (s *Supervisor) Spawn(name string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	t := &task{name: name, cancel: cancel, done: make(chan struct{}), running: true, heartbeat: time.Now()}

	s.mu.Lock()
	s.tasks[name] = t
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		err := fn(taskCtx)

		t.mu.Lock()
		t.running = false
		t.heartbeat = time.Now()
		if err != nil {
			t.lastErr = err.Error()
		}
		kind := errs.KindOf(err)
		if kind == errs.KindCatastrophic {
			t.quiesced = true
		}
		t.mu.Unlock()

		switch {
		case err == nil:
			log.Info().Str("task", name).Msg("supervisor: task stopped")
		case kind == errs.KindCatastrophic:
			log.Error().Err(err).Str("task", name).Msg("supervisor: task hit a catastrophic error, quiesced and will not be restarted")
		default:
			log.Error().Err(err).Str("task", name).Msg("supervisor: task exited")
		}
	}()
}

// Heartbeat lets a long-running task report liveness independent of its
// terminal status, e.g. once per poll tick. Call from within the task's own
// goroutine.
func (s *Supervisor) Heartbeat(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.heartbeat = time.Now()
	t.mu.Unlock()
}

// Health snapshots every registered task's status.
func (s *Supervisor) Health() []ComponentHealth {
	s.mu.Lock()
	names := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		names = append(names, t)
	}
	s.mu.Unlock()

	out := make([]ComponentHealth, 0, len(names))
	for _, t := range names {
		t.mu.Lock()
		out = append(out, ComponentHealth{
			Name: t.name, Running: t.running, Quiesced: t.quiesced,
			LastError: t.lastErr, LastHeartbeat: t.heartbeat,
		})
		t.mu.Unlock()
	}
	return out
}

// Shutdown cancels every task's context and waits up to grace for them to
// return, logging (but not blocking on) any still running past the
// deadline.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.cancel()

	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	allDone := make(chan struct{})
	go func() {
		for _, t := range tasks {
			<-t.done
		}
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-time.After(grace):
		for _, t := range tasks {
			select {
			case <-t.done:
			default:
				log.Warn().Str("task", t.name).Msg("supervisor: shutdown grace period expired before task returned")
			}
		}
	}
}
