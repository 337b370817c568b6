package waits

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rendis/flowop/internal/events"
	"github.com/rendis/flowop/pkg/schema"
)

// Result is what a wait future resolves to: the resumption value or a
// cancellation/timeout error.
type Result struct {
	Value any
	Err   error
}

// TimeoutStrategy selects what happens when a wait's timer fires.
type TimeoutStrategy string

const (
	// StrategyError rejects the wait with a TIMEOUT_ERROR.
	StrategyError TimeoutStrategy = "error"
	// StrategyDefault resolves the wait with a pre-set default value.
	StrategyDefault TimeoutStrategy = "default"
	// StrategyIgnore re-arms the timer and keeps waiting.
	StrategyIgnore TimeoutStrategy = "ignore"
)

// TimeoutConfig configures the timeout behavior of a wait.
type TimeoutConfig struct {
	Timeout      time.Duration
	Strategy     TimeoutStrategy
	DefaultValue any
}

// StateSink receives step runtime state updates as waits start and resolve.
// Implemented by the orchestrator; may be nil.
type StateSink interface {
	SetWaiting(stepID string, info *schema.WaitingInfo)
	ClearWaiting(stepID string)
}

// waitItem is one active wait. gen guards against a stale timer callback
// firing after the timer was re-armed by ExtendTimeout or StrategyIgnore.
type waitItem struct {
	info     *schema.WaitingInfo
	ch       chan Result
	timer    *time.Timer
	deadline time.Time
	cfg      TimeoutConfig
	gen      int
}

// Manager turns "step is waiting for an external thing" into a first-class
// schedulable state. At most one active wait per step; every active wait has
// exactly one resolution path (resume, cancel, or timeout), and any
// resolution releases both the map entry and the timer.
type Manager struct {
	mu    sync.Mutex
	items map[string]*waitItem

	bus        *events.Bus
	sink       StateSink
	workflowID string
	instanceID string
	logger     *slog.Logger
}

// NewManager creates a per-instance wait Manager. sink and logger may be nil.
func NewManager(bus *events.Bus, sink StateSink, workflowID, instanceID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		items:      make(map[string]*waitItem),
		bus:        bus,
		sink:       sink,
		workflowID: workflowID,
		instanceID: instanceID,
		logger:     logger,
	}
}

// StartWait suspends a step until an external resume, cancellation, or the
// timeout (strategy Error). timeout <= 0 waits indefinitely. The returned
// channel resolves exactly once.
func (m *Manager) StartWait(stepID string, kind schema.WaitKind, targetID string, timeout time.Duration, data map[string]any) (<-chan Result, error) {
	return m.StartWaitWithConfig(stepID, kind, targetID, data, TimeoutConfig{Timeout: timeout, Strategy: StrategyError})
}

// StartWaitWithConfig is StartWait with an explicit timeout strategy.
// The strategy is evaluated inside the timer callback.
func (m *Manager) StartWaitWithConfig(stepID string, kind schema.WaitKind, targetID string, data map[string]any, cfg TimeoutConfig) (<-chan Result, error) {
	info := &schema.WaitingInfo{
		Kind:      kind,
		TargetID:  targetID,
		StartTime: time.Now().UTC(),
		Data:      data,
	}
	if cfg.Timeout > 0 {
		info.TimeoutMs = cfg.Timeout.Milliseconds()
	}

	item := &waitItem{
		info: info,
		ch:   make(chan Result, 1),
		cfg:  cfg,
	}

	m.mu.Lock()
	if _, exists := m.items[stepID]; exists {
		m.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "step %s already has an active wait", stepID)
	}
	m.items[stepID] = item
	if cfg.Timeout > 0 {
		m.armTimerLocked(stepID, item, cfg.Timeout)
	}
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SetWaiting(stepID, info)
	}
	m.emit(schema.EventWaitStarted, stepID, map[string]any{
		"type":     string(kind),
		"targetId": targetID,
		"timeout":  info.TimeoutMs,
	})

	return item.ch, nil
}

// armTimerLocked arms (or re-arms) the timeout timer. Caller holds m.mu.
func (m *Manager) armTimerLocked(stepID string, item *waitItem, d time.Duration) {
	item.gen++
	gen := item.gen
	item.deadline = time.Now().Add(d)
	item.timer = time.AfterFunc(d, func() { m.onTimeout(stepID, gen) })
}

// onTimeout runs in the timer goroutine. A stale generation means the timer
// was re-armed or the wait already resolved.
func (m *Manager) onTimeout(stepID string, gen int) {
	m.mu.Lock()
	item, ok := m.items[stepID]
	if !ok || item.gen != gen {
		m.mu.Unlock()
		return
	}

	elapsed := time.Since(item.info.StartTime).Milliseconds()
	payload := map[string]any{
		"type":        string(item.info.Kind),
		"targetId":    item.info.TargetID,
		"timeout":     item.info.TimeoutMs,
		"elapsedTime": elapsed,
	}

	switch item.cfg.Strategy {
	case StrategyIgnore:
		// Stay waiting; re-arm for another full interval.
		m.armTimerLocked(stepID, item, item.cfg.Timeout)
		m.mu.Unlock()
		m.emit(schema.EventWaitTimeout, stepID, payload)
		return

	case StrategyDefault:
		delete(m.items, stepID)
		m.mu.Unlock()
		if m.sink != nil {
			m.sink.ClearWaiting(stepID)
		}
		m.emit(schema.EventWaitTimeout, stepID, payload)
		item.ch <- Result{Value: item.cfg.DefaultValue}
		return

	default: // StrategyError
		delete(m.items, stepID)
		m.mu.Unlock()
		if m.sink != nil {
			m.sink.ClearWaiting(stepID)
		}
		m.emit(schema.EventWaitTimeout, stepID, payload)
		item.ch <- Result{Err: schema.NewErrorf(schema.ErrCodeTimeout,
			"wait timed out after %dms", item.info.TimeoutMs).
			WithStep(stepID).
			WithDetails(map[string]any{"timeoutMs": item.info.TimeoutMs})}
		return
	}
}

// ResumeWait resolves a step's wait with a value. Returns false if the step
// has no active wait.
func (m *Manager) ResumeWait(stepID string, value any) bool {
	item, ok := m.take(stepID)
	if !ok {
		return false
	}

	m.emit(schema.EventWaitResumed, stepID, map[string]any{
		"type":        string(item.info.Kind),
		"targetId":    item.info.TargetID,
		"result":      value,
		"elapsedTime": time.Since(item.info.StartTime).Milliseconds(),
	})
	item.ch <- Result{Value: value}
	return true
}

// FailWait rejects a step's wait with the given error. Used by external
// error responses (e.g. a tool reporting failure). Returns false if the
// step has no active wait.
func (m *Manager) FailWait(stepID string, err error) bool {
	item, ok := m.take(stepID)
	if !ok {
		return false
	}

	m.emit(schema.EventWaitCancelled, stepID, map[string]any{
		"type":     string(item.info.Kind),
		"targetId": item.info.TargetID,
		"reason":   err.Error(),
	})
	item.ch <- Result{Err: err}
	return true
}

// CancelWait rejects a step's wait with a cancellation error carrying the
// reason. Returns false if the step has no active wait.
func (m *Manager) CancelWait(stepID, reason string) bool {
	item, ok := m.take(stepID)
	if !ok {
		return false
	}

	m.emit(schema.EventWaitCancelled, stepID, map[string]any{
		"type":     string(item.info.Kind),
		"targetId": item.info.TargetID,
		"reason":   reason,
	})
	item.ch <- Result{Err: schema.NewError(schema.ErrCodeCancelled, reason).WithStep(stepID)}
	return true
}

// CancelAllWaits cancels every active wait with the same reason.
func (m *Manager) CancelAllWaits(reason string) {
	for _, stepID := range m.GetWaitingStepIDs() {
		m.CancelWait(stepID, reason)
	}
}

// take atomically removes a wait item, stopping its timer and clearing the
// runtime waiting state.
func (m *Manager) take(stepID string) (*waitItem, bool) {
	m.mu.Lock()
	item, ok := m.items[stepID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.items, stepID)
	item.gen++ // invalidate any in-flight timer callback
	if item.timer != nil {
		item.timer.Stop()
	}
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ClearWaiting(stepID)
	}
	return item, true
}

// ExtendTimeout pushes the absolute deadline of a step's wait by extra.
// If the new deadline is not in the future, the timeout path triggers
// immediately. Returns false if the step has no active wait or no timer.
func (m *Manager) ExtendTimeout(stepID string, extra time.Duration) bool {
	m.mu.Lock()
	item, ok := m.items[stepID]
	if !ok || item.timer == nil {
		m.mu.Unlock()
		return false
	}

	item.timer.Stop()
	newDeadline := item.deadline.Add(extra)
	remaining := time.Until(newDeadline)
	if remaining <= 0 {
		item.gen++
		gen := item.gen
		m.mu.Unlock()
		m.onTimeout(stepID, gen)
		return true
	}

	item.gen++
	gen := item.gen
	item.deadline = newDeadline
	item.timer = time.AfterFunc(remaining, func() { m.onTimeout(stepID, gen) })
	m.mu.Unlock()
	return true
}

// IsWaiting reports whether a step has an active wait.
func (m *Manager) IsWaiting(stepID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[stepID]
	return ok
}

// GetWaitingInfo returns a copy of a step's waiting info, or nil.
func (m *Manager) GetWaitingInfo(stepID string) *schema.WaitingInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[stepID]
	if !ok {
		return nil
	}
	info := *item.info
	return &info
}

// GetRemainingTime returns the time until a step's wait times out.
// The second return is false when the step is not waiting or has no timer.
func (m *Manager) GetRemainingTime(stepID string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[stepID]
	if !ok || item.timer == nil {
		return 0, false
	}
	return time.Until(item.deadline), true
}

// GetWaitingStepIDs returns the IDs of all waiting steps, sorted.
func (m *Manager) GetWaitingStepIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// GetWaitingCount returns the number of active waits.
func (m *Manager) GetWaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Manager) emit(eventType, stepID string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(&schema.Event{
		Type:       eventType,
		WorkflowID: m.workflowID,
		InstanceID: m.instanceID,
		StepID:     stepID,
		Payload:    payload,
	})
}
