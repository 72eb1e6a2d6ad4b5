// Package engine wires detection to execution: it materialises detected
// intents as tasks, routes them through the safety gate, dispatches to
// handlers under per-type timeouts, and records every terminal outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/audit"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/bus"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/clock"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/intent"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/registry"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/shared"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/store"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/telemetry"
)

// ErrShuttingDown is returned by Ingest once a drain has begun.
var ErrShuttingDown = errors.New("engine shutting down")

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxAttempts = 5
	defaultRetryBase  = 1 * time.Second
	defaultRetryCap   = 60 * time.Second
	defaultDrainGrace = 5 * time.Second

	// A reminder must outlive its fire time; the task would otherwise
	// expire out of PENDING before confirmation or out of the heap race.
	reminderExpiryGrace = 1 * time.Hour
)

// Config holds the orchestrator's collaborators and tuning.
type Config struct {
	Detector    *intent.Detector
	Store       *store.Store
	Registry    *registry.Registry
	Queue       *confirm.Queue
	AutoApprove *confirm.AutoApprover
	Audit       *audit.Sink
	Bus         *bus.Bus
	Clock       clock.Clock
	Logger      *slog.Logger
	Telemetry   *telemetry.Provider

	// DefaultTTL bounds a task's life when detection found no time
	// expression. Zero means 24h.
	DefaultTTL time.Duration
	// TimeoutFor returns the execute budget per action type. Nil means a
	// flat 60s.
	TimeoutFor func(task.ActionType) time.Duration
	// MaxAttempts bounds retryable failures. Zero means 5.
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
	DrainGrace  time.Duration
}

// Orchestrator is the engine entry point. One instance owns the task
// store; all task mutation flows through it or the scheduler.
type Orchestrator struct {
	detector  *intent.Detector
	store     *store.Store
	registry  *registry.Registry
	queue     *confirm.Queue
	audit     *audit.Sink
	bus       *bus.Bus
	clock     clock.Clock
	logger    *slog.Logger
	telemetry *telemetry.Provider

	defaultTTL  time.Duration
	timeoutFor  func(task.ActionType) time.Duration
	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration
	drainGrace  time.Duration

	mu          sync.Mutex
	autoApprove *confirm.AutoApprover
	inFlight    map[string]struct{}
	draining    bool
	wg          sync.WaitGroup
}

// New builds an Orchestrator from the config, applying defaults.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ck := cfg.Clock
	if ck == nil {
		ck = clock.System{}
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	timeoutFor := cfg.TimeoutFor
	if timeoutFor == nil {
		timeoutFor = func(task.ActionType) time.Duration { return defaultTimeout }
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	retryCap := cfg.RetryCap
	if retryCap <= 0 {
		retryCap = defaultRetryCap
	}
	grace := cfg.DrainGrace
	if grace <= 0 {
		grace = defaultDrainGrace
	}
	return &Orchestrator{
		detector:    cfg.Detector,
		store:       cfg.Store,
		registry:    cfg.Registry,
		queue:       cfg.Queue,
		autoApprove: cfg.AutoApprove,
		audit:       cfg.Audit,
		bus:         cfg.Bus,
		clock:       ck,
		logger:      logger,
		telemetry:   cfg.Telemetry,
		defaultTTL:  ttl,
		timeoutFor:  timeoutFor,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		retryCap:    retryCap,
		drainGrace:  grace,
		inFlight:    make(map[string]struct{}),
	}
}

// SetAutoApprover swaps the auto-approve rule set (config hot reload).
func (o *Orchestrator) SetAutoApprover(a *confirm.AutoApprover) {
	o.mu.Lock()
	o.autoApprove = a
	o.mu.Unlock()
}

// Ingest runs detection over a text chunk and materialises the resulting
// intents as tasks. Handler failures never propagate to the caller; only
// store and registry faults do. Ingest is fire-and-remember.
func (o *Orchestrator) Ingest(ctx context.Context, text string, meta intent.Metadata) error {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	o.mu.Unlock()

	ctx, span := o.startSpan(ctx, "engine.ingest")
	defer span.End()

	intents := o.detector.Detect(text, meta)
	span.SetAttributes(attribute.Int("intents", len(intents)))

	var firstErr error
	for _, in := range intents {
		if err := o.materialise(ctx, in); err != nil {
			o.logger.Error("orchestrator: materialise failed",
				"intent_id", in.ID, "kind", in.Kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// materialise turns one intent into a lifecycle-tracked task and routes it
// through the safety gate.
func (o *Orchestrator) materialise(ctx context.Context, in intent.Intent) error {
	if o.store.HasLiveIntent(in.ID) {
		o.logger.Debug("orchestrator: duplicate intent skipped", "intent_id", in.ID)
		if o.telemetry != nil {
			o.telemetry.Metrics.IntentsRejected.Add(ctx, 1)
		}
		return nil
	}
	if o.telemetry != nil {
		o.telemetry.Metrics.IntentsDetected.Add(ctx, 1)
	}

	now := o.clock.NowWall()
	at, payload := actionFor(in, now, o.defaultTTL)

	expiresAt := now.Add(o.defaultTTL)
	if in.FireAt != nil && in.FireAt.Add(reminderExpiryGrace).After(expiresAt) {
		expiresAt = in.FireAt.Add(reminderExpiryGrace)
	}

	t := &task.Task{
		ID:         uuid.NewString(),
		IntentID:   in.ID,
		ActionType: at,
		Payload:    payload,
		Safety:     task.SafetyFor(at),
		Status:     task.StatusDetected,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	if err := o.store.Insert(t); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	o.publishState(t.ID, in.ID, at, "", task.StatusDetected, "")
	o.bus.Publish(bus.TopicTaskCreated, bus.TaskStateChangedEvent{
		TaskID: t.ID, IntentID: in.ID, ActionType: string(at), NewStatus: string(task.StatusDetected),
	})

	h, err := o.registry.Lookup(at)
	if err != nil {
		terr := task.WrapError(task.KindNoHandler, err, "no handler for %s", at)
		_, uerr := o.store.UpdateViaTransition(t.ID, task.StatusFailed, o.clock.NowWall(), func(tt *task.Task) {
			tt.LastError = terr.Error()
		})
		if uerr != nil {
			return uerr
		}
		o.finishTask(ctx, t.ID)
		return nil
	}

	if _, err := o.store.UpdateViaTransition(t.ID, task.StatusPending, o.clock.NowWall(), nil); err != nil {
		return err
	}
	o.publishState(t.ID, in.ID, at, string(task.StatusDetected), task.StatusPending, "")

	o.mu.Lock()
	approver := o.autoApprove
	o.mu.Unlock()

	if t.Safety == task.SafetyPassive || approver.Allows(at, payload) {
		if _, err := o.store.UpdateViaTransition(t.ID, task.StatusActive, o.clock.NowWall(), nil); err != nil {
			return err
		}
		o.publishState(t.ID, in.ID, at, string(task.StatusPending), task.StatusActive, "")
		o.Dispatch(t.ID)
		return nil
	}

	entry := confirm.Entry{
		TaskID:      t.ID,
		ActionType:  string(at),
		Describe:    h.Describe(payload),
		PresentedAt: now,
		ExpiresAt:   expiresAt,
	}
	if err := o.queue.Enqueue(entry); err != nil {
		return fmt.Errorf("enqueue confirmation: %w", err)
	}
	o.logger.Info("orchestrator: task awaiting confirmation",
		"task_id", t.ID, "action_type", at, "describe", shared.Preview(entry.Describe, 80))
	return nil
}

// actionFor maps an intent to its action type and payload.
func actionFor(in intent.Intent, now time.Time, ttl time.Duration) (task.ActionType, task.Payload) {
	switch in.Kind {
	case intent.KindReminder:
		fireAt := now.Add(ttl)
		if in.FireAt != nil {
			fireAt = *in.FireAt
		}
		return task.ActionReminder, task.Payload{
			"message": in.Text,
			"fire_at": fireAt.Format(time.RFC3339),
		}
	case intent.KindNote:
		return task.ActionQuickNote, task.Payload{"text": in.Text}
	case intent.KindNotification:
		return task.ActionNotification, task.Payload{"title": in.Text}
	case intent.KindClipboard:
		return task.ActionClipboard, task.Payload{"text": in.Text}
	case intent.KindShellCommand:
		return task.ActionShellCommand, task.Payload{"command": in.Text}
	default:
		return task.ActionQuickNote, task.Payload{"text": in.Text}
	}
}

// Resolve applies a user decision to a queued confirmation. Approve moves
// the task PENDING -> ACTIVE and dispatches; dismiss terminates it.
func (o *Orchestrator) Resolve(ctx context.Context, taskID string, decision confirm.Decision) error {
	now := o.clock.NowWall()
	entry, err := o.queue.Resolve(taskID, decision, now)
	if err != nil {
		return err
	}
	if o.telemetry != nil {
		o.telemetry.Metrics.RecordConfirmLatency(ctx, now.Sub(entry.PresentedAt))
	}

	switch decision {
	case confirm.Approve:
		t, err := o.store.UpdateViaTransition(taskID, task.StatusActive, now, nil)
		if err != nil {
			return err
		}
		o.publishState(t.ID, t.IntentID, t.ActionType, string(task.StatusPending), task.StatusActive, "")
		o.Dispatch(taskID)
		return nil
	case confirm.Dismiss:
		t, err := o.store.UpdateViaTransition(taskID, task.StatusDismissed, now, func(tt *task.Task) {
			tt.LastError = "dismissed by user"
		})
		if err != nil {
			return err
		}
		o.publishState(t.ID, t.IntentID, t.ActionType, string(task.StatusPending), task.StatusDismissed, "")
		o.finishTask(ctx, taskID)
		return nil
	default:
		return fmt.Errorf("unknown decision %q", decision)
	}
}

// ExpireTask transitions a task to EXPIRED and records the outcome. Used
// by the scheduler's expiry sweep.
func (o *Orchestrator) ExpireTask(ctx context.Context, taskID string) error {
	now := o.clock.NowWall()
	t, err := o.store.UpdateViaTransition(taskID, task.StatusExpired, now, func(tt *task.Task) {
		tt.LastError = "expired before execution"
	})
	if err != nil {
		return err
	}
	o.queue.Drop(taskID)
	o.publishState(t.ID, t.IntentID, t.ActionType, "", task.StatusExpired, "")
	o.bus.Publish(bus.TopicTaskExpired, bus.TaskStateChangedEvent{
		TaskID: t.ID, IntentID: t.IntentID, ActionType: string(t.ActionType),
		NewStatus: string(task.StatusExpired),
	})
	o.finishTask(ctx, taskID)
	return nil
}

// Drain stops admitting intents, waits for in-flight dispatches up to the
// grace period, forces remaining non-terminal tasks to FAILED and flushes
// the audit sink.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.drainGrace):
		o.logger.Warn("orchestrator: drain grace expired with dispatches in flight")
	case <-ctx.Done():
	}

	now := o.clock.NowWall()
	for _, status := range []task.Status{task.StatusDetected, task.StatusPending, task.StatusActive} {
		for _, t := range o.store.IterByStatus(status) {
			terr := task.NewError(task.KindShuttingDown, "engine shutdown before completion")
			if _, err := o.store.UpdateViaTransition(t.ID, task.StatusFailed, now, func(tt *task.Task) {
				tt.LastError = terr.Error()
			}); err != nil {
				o.logger.Error("orchestrator: drain force-fail", "task_id", t.ID, "error", err)
				continue
			}
			o.queue.Drop(t.ID)
			o.finishTask(ctx, t.ID)
		}
	}
	return o.audit.Flush()
}

// finishTask appends the history record for a task that just went
// terminal. Exactly one record per terminal task.
func (o *Orchestrator) finishTask(ctx context.Context, taskID string) {
	t, err := o.store.Get(taskID)
	if err != nil {
		o.logger.Error("orchestrator: finish lookup failed", "task_id", taskID, "error", err)
		return
	}
	rec, ok := t.History(o.clock.NowWall())
	if !ok {
		o.logger.Error("orchestrator: finish on non-terminal task", "task_id", taskID, "status", t.Status)
		return
	}
	if err := o.audit.Append(ctx, rec); err != nil {
		o.logger.Error("orchestrator: audit append failed", "task_id", taskID, "error", err)
	}
	if o.telemetry != nil {
		o.telemetry.Metrics.RecordTerminal(ctx, string(t.Status))
	}
	topic := bus.TopicTaskCompleted
	if t.Status != task.StatusDone {
		topic = bus.TopicTaskFailed
	}
	o.bus.Publish(topic, bus.TaskStateChangedEvent{
		TaskID: t.ID, IntentID: t.IntentID, ActionType: string(t.ActionType),
		NewStatus: string(t.Status), Message: rec.Message,
	})
}

func (o *Orchestrator) publishState(taskID, intentID string, at task.ActionType, from string, to task.Status, msg string) {
	o.bus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID: taskID, IntentID: intentID, ActionType: string(at),
		OldStatus: from, NewStatus: string(to), Message: msg,
	})
}
