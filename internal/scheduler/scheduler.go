package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/flowop/pkg/schema"
)

// RunnerFunc starts one workflow run for a fired trigger.
type RunnerFunc func(ctx context.Context, def *schema.Definition, globals map[string]any) error

// Trigger binds a cron expression to a workflow definition.
type Trigger struct {
	ID         string
	CronExpr   string
	Definition *schema.Definition
	Globals    map[string]any

	nextRun   time.Time
	lastRun   *time.Time
	lastError string
}

// TriggerInfo is the read-only view of a registered trigger.
type TriggerInfo struct {
	ID        string     `json:"id"`
	CronExpr  string     `json:"cron"`
	Workflow  string     `json:"workflow"`
	NextRunAt time.Time  `json:"nextRunAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Scheduler fires cron triggers against registered workflow definitions.
// A trigger whose previous firing is still running is skipped (dedup).
type Scheduler struct {
	runner RunnerFunc
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration

	mu       sync.Mutex
	triggers map[string]*Trigger
	cancel   context.CancelFunc
	done     chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler. tick <= 0 defaults to one minute.
func NewScheduler(runner RunnerFunc, logger *slog.Logger, tick time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		tick:     tick,
		triggers: make(map[string]*Trigger),
		inflight: make(map[string]struct{}),
	}
}

// AddTrigger registers a cron trigger and returns its ID.
func (s *Scheduler) AddTrigger(cronExpr string, def *schema.Definition, globals map[string]any) (string, error) {
	if def == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "trigger definition is nil")
	}
	next, err := s.NextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", cronExpr, err.Error())
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.triggers[id] = &Trigger{
		ID:         id,
		CronExpr:   cronExpr,
		Definition: def,
		Globals:    globals,
		nextRun:    next,
	}
	s.mu.Unlock()
	return id, nil
}

// RemoveTrigger unregisters a trigger. Returns false if the ID is unknown.
func (s *Scheduler) RemoveTrigger(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return false
	}
	delete(s.triggers, id)
	return true
}

// Triggers lists the registered triggers.
func (s *Scheduler) Triggers() []TriggerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TriggerInfo, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, TriggerInfo{
			ID:        t.ID,
			CronExpr:  t.CronExpr,
			Workflow:  t.Definition.ID,
			NextRunAt: t.nextRun,
			LastRunAt: t.lastRun,
			LastError: t.lastError,
		})
	}
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due trigger once. Exported so callers can drive the
// scheduler manually in tests or embed it in their own loop.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Trigger, 0)
	for _, t := range s.triggers {
		if !t.nextRun.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if !s.tryAcquire(t.ID) {
			continue // previous firing still running
		}
		go func(t *Trigger) {
			defer s.release(t.ID)
			s.fire(ctx, t, now)
		}(t)
	}
}

// fire runs one trigger and advances its schedule.
func (s *Scheduler) fire(ctx context.Context, t *Trigger, now time.Time) {
	s.logger.Info("firing trigger",
		slog.String("trigger_id", t.ID),
		slog.String("workflow_id", t.Definition.ID))

	err := s.runner(ctx, t.Definition, t.Globals)

	next, nerr := s.NextRun(t.CronExpr, time.Now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.triggers[t.ID]
	if !ok {
		return // removed while running
	}
	ran := now
	cur.lastRun = &ran
	cur.lastError = ""
	if err != nil {
		cur.lastError = err.Error()
		s.logger.Error("trigger run failed",
			slog.String("trigger_id", t.ID),
			slog.String("error", err.Error()))
	}
	if nerr == nil {
		cur.nextRun = next
	}
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
