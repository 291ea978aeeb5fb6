// Package scheduler paces every outbound browser action. It combines a
// rolling-window budget with a jitter delay drawn per action class.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/behavior"
)

const (
	DefaultMaxPerWindow = 8
	DefaultWindow       = time.Minute
)

var (
	// ErrMisconfigured is returned for a non-positive ceiling or a request
	// that could never fit into one window.
	ErrMisconfigured = errors.New("rate limit misconfiguration")
	// ErrCancelled is returned to waiters when the scheduler is closed.
	ErrCancelled = errors.New("scheduler closed")
)

// Jitter supplies the pause that precedes an action.
type Jitter interface {
	Delay(class behavior.ActionClass) time.Duration
}

// Gate decides whether an action may be scheduled at all. Allow is called
// with the scheduler lock held and must not call back into the scheduler.
type Gate interface {
	Allow(ctx context.Context, class behavior.ActionClass) error
}

// Recorder receives a sample for every granted permit.
type Recorder interface {
	RecordPermit(class string, waited time.Duration)
}

type Config struct {
	MaxPerWindow int
	Window       time.Duration
}

// Permit is proof that an action may run now.
type Permit struct {
	Class     behavior.ActionClass
	GrantedAt time.Time
	Waited    time.Duration
	Jitter    time.Duration
}

type Stats struct {
	Ceiling  int
	InWindow int
	Granted  uint64
}

type Option func(*Scheduler)

func WithGate(g Gate) Option {
	return func(s *Scheduler) { s.gate = g }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

type Scheduler struct {
	mu      sync.Mutex
	budget  *budget
	granted uint64
	closed  bool
	done    chan struct{}

	jitter   Jitter
	gate     Gate
	recorder Recorder
	logger   *zap.Logger
}

// New validates the configuration and creates a scheduler. A zero Window
// means one minute.
func New(cfg Config, jitter Jitter, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.MaxPerWindow <= 0 {
		return nil, fmt.Errorf("%w: ceiling must be positive, got %d", ErrMisconfigured, cfg.MaxPerWindow)
	}
	if cfg.Window < 0 {
		return nil, fmt.Errorf("%w: window must not be negative, got %s", ErrMisconfigured, cfg.Window)
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		budget: newBudget(cfg.MaxPerWindow, cfg.Window),
		done:   make(chan struct{}),
		jitter: jitter,
		logger: logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Submit waits for a single permit.
func (s *Scheduler) Submit(ctx context.Context, class behavior.ActionClass) (Permit, error) {
	return s.SubmitN(ctx, class, 1)
}

// SubmitN blocks until the jitter delay has elapsed and the rolling window
// has room for n actions, then records them. Timestamps are recorded only at
// grant time and under the lock, so concurrent callers cannot overfill a window.
func (s *Scheduler) SubmitN(ctx context.Context, class behavior.ActionClass, n int) (Permit, error) {
	if n <= 0 || n > s.budget.ceiling {
		return Permit{}, fmt.Errorf("%w: requested %d permits with ceiling %d", ErrMisconfigured, n, s.budget.ceiling)
	}

	if err := s.allow(ctx, class); err != nil {
		return Permit{}, err
	}

	start := time.Now()
	var jitter time.Duration
	if s.jitter != nil {
		jitter = s.jitter.Delay(class)
	}
	ready := start.Add(jitter)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Permit{}, ErrCancelled
		}

		now := time.Now()
		wait := ready.Sub(now)
		if w := s.budget.waitFor(now, n); w > wait {
			wait = w
		}

		if wait <= 0 {
			// The gate is asked again under the lock, so a session that
			// leaves AUTHENTICATED after the first check gets no permit.
			if err := s.allow(ctx, class); err != nil {
				s.mu.Unlock()
				return Permit{}, err
			}
			s.budget.record(now, n)
			s.granted += uint64(n)
			s.mu.Unlock()

			permit := Permit{Class: class, GrantedAt: now, Waited: now.Sub(start), Jitter: jitter}
			s.logger.Debug("permit granted",
				zap.String("action_class", string(class)),
				zap.Int("amount", n),
				zap.Duration("waited", permit.Waited),
			)
			if s.recorder != nil {
				s.recorder.RecordPermit(string(class), permit.Waited)
			}

			return permit, nil
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Permit{}, ctx.Err()
		case <-s.done:
			timer.Stop()
			return Permit{}, ErrCancelled
		case <-timer.C:
		}
	}
}

// Close aborts every pending wait. Later submits fail with ErrCancelled.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.budget.prune(time.Now())

	return Stats{
		Ceiling:  s.budget.ceiling,
		InWindow: len(s.budget.stamps),
		Granted:  s.granted,
	}
}

func (s *Scheduler) allow(ctx context.Context, class behavior.ActionClass) error {
	if s.gate == nil {
		return nil
	}
	return s.gate.Allow(ctx, class)
}
