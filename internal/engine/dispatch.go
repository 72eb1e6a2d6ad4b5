package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/bus"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// Dispatch executes a task's handler asynchronously. Per-task dispatch is
// serialised: a second call while one is in flight is a no-op. Dispatches
// of different tasks may run in parallel; handlers are required to be
// safe for concurrent invocation.
func (o *Orchestrator) Dispatch(taskID string) {
	o.mu.Lock()
	if _, busy := o.inFlight[taskID]; busy {
		o.mu.Unlock()
		return
	}
	o.inFlight[taskID] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, taskID)
			o.mu.Unlock()
			o.wg.Done()
		}()
		o.dispatch(context.Background(), taskID)
	}()
}

// dispatch runs one execute attempt and applies the outcome.
func (o *Orchestrator) dispatch(ctx context.Context, taskID string) {
	ctx, span := o.startSpan(ctx, "engine.dispatch")
	defer span.End()

	t, err := o.store.Get(taskID)
	if err != nil {
		o.logger.Error("dispatch: task lookup failed", "task_id", taskID, "error", err)
		return
	}
	if t.Status != task.StatusActive {
		o.logger.Warn("dispatch: task not active, skipping", "task_id", taskID, "status", t.Status)
		return
	}
	span.SetAttributes(
		attribute.String("task_id", taskID),
		attribute.String("action_type", string(t.ActionType)),
	)

	h, err := o.registry.Lookup(t.ActionType)
	if err != nil {
		o.failTask(ctx, taskID, task.WrapError(task.KindNoHandler, err, "handler vanished"))
		return
	}

	// Reminder tasks are armed on first dispatch, not executed: the
	// handler validates the payload and the task stays ACTIVE until the
	// scheduler re-dispatches it at fire_at.
	if t.ActionType == task.ActionReminder {
		fireAt, ok := t.Payload.Time("fire_at")
		if ok && !fireAt.After(o.clock.NowWall()) {
			o.fireReminder(ctx, t)
			return
		}
		if _, err := h.Execute(ctx, t.Payload.Clone()); err != nil {
			o.handleExecuteError(ctx, taskID, t, task.Classify(err))
			return
		}
		o.logger.Info("dispatch: reminder armed", "task_id", taskID, "fire_at", fireAt)
		return
	}

	res, err := o.execute(ctx, h.Execute, t)
	o.applyOutcome(ctx, taskID, res, err)
}

// execFn matches a handler's Execute method.
type execFn func(ctx context.Context, payload task.Payload) (task.ActionResult, error)

// execute runs fn under the action type's timeout budget. On timeout the
// attempt fails with KindTimeout and any late handler output is discarded.
func (o *Orchestrator) execute(ctx context.Context, fn execFn, t task.Task) (task.ActionResult, error) {
	release := o.registry.Acquire(t.ActionType)
	defer release()

	budget := o.timeoutFor(t.ActionType)
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		res task.ActionResult
		err error
	}
	ch := make(chan outcome, 1)
	payload := t.Payload.Clone()
	go func() {
		res, err := fn(execCtx, payload)
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-execCtx.Done():
		o.logger.Warn("dispatch: handler exceeded budget; discarding output",
			"task_id", t.ID, "action_type", t.ActionType, "budget", budget)
		return task.ActionResult{}, task.NewError(task.KindTimeout,
			"handler for %s did not return within %s", t.ActionType, budget)
	}
}

// applyOutcome turns an execute result into a state transition. A task
// that went terminal while the handler ran wins: the result is ignored
// with a warning.
func (o *Orchestrator) applyOutcome(ctx context.Context, taskID string, res task.ActionResult, err error) {
	current, gerr := o.store.Get(taskID)
	if gerr != nil {
		o.logger.Error("dispatch: task vanished after execute", "task_id", taskID, "error", gerr)
		return
	}
	if current.Status.Terminal() {
		o.logger.Warn("dispatch: result discarded, task already terminal",
			"task_id", taskID, "status", current.Status)
		return
	}

	if err == nil {
		now := o.clock.NowWall()
		t, uerr := o.store.UpdateViaTransition(taskID, task.StatusDone, now, func(tt *task.Task) {
			tt.AttemptCount++
			tt.Result = &res
			tt.LastError = ""
		})
		if uerr != nil {
			o.logger.Error("dispatch: done transition failed", "task_id", taskID, "error", uerr)
			return
		}
		o.publishState(t.ID, t.IntentID, t.ActionType, string(task.StatusActive), task.StatusDone, res.Message)
		o.finishTask(ctx, taskID)
		return
	}

	o.handleExecuteError(ctx, taskID, current, task.Classify(err))
}

// handleExecuteError schedules a retry for retryable failures with budget
// left, and fails the task otherwise.
func (o *Orchestrator) handleExecuteError(ctx context.Context, taskID string, t task.Task, terr *task.Error) {
	now := o.clock.NowWall()
	attempt := t.AttemptCount + 1

	if terr.Retryable() && attempt < o.maxAttempts {
		delay := o.backoffDelay(attempt)
		if _, err := o.store.Mutate(taskID, now, func(tt *task.Task) {
			tt.AttemptCount = attempt
			tt.LastError = terr.Error()
			tt.Retrying = true
			tt.NextAttemptAt = now.Add(delay)
		}); err != nil {
			o.logger.Error("dispatch: retry bookkeeping failed", "task_id", taskID, "error", err)
			return
		}
		o.logger.Info("dispatch: retry scheduled",
			"task_id", taskID, "attempt", attempt, "delay", delay, "error", terr.Msg)
		o.bus.Publish(bus.TopicTaskRetrying, bus.TaskStateChangedEvent{
			TaskID: taskID, IntentID: t.IntentID, ActionType: string(t.ActionType),
			NewStatus: string(task.StatusActive), Message: terr.Error(),
		})
		return
	}

	o.failFrom(ctx, taskID, t.Status, terr, attempt)
}

// failTask fails a task from its current status.
func (o *Orchestrator) failTask(ctx context.Context, taskID string, terr *task.Error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		o.logger.Error("dispatch: fail lookup", "task_id", taskID, "error", err)
		return
	}
	o.failFrom(ctx, taskID, t.Status, terr, t.AttemptCount)
}

func (o *Orchestrator) failFrom(ctx context.Context, taskID string, from task.Status, terr *task.Error, attempts int) {
	now := o.clock.NowWall()
	t, err := o.store.UpdateViaTransition(taskID, task.StatusFailed, now, func(tt *task.Task) {
		tt.AttemptCount = attempts
		tt.LastError = terr.Error()
	})
	if err != nil {
		o.logger.Error("dispatch: failed transition rejected", "task_id", taskID, "error", err)
		return
	}
	o.publishState(t.ID, t.IntentID, t.ActionType, string(from), task.StatusFailed, terr.Error())
	o.finishTask(ctx, taskID)
}

// RetryDue reattempts a task whose backoff delay has elapsed. Called by
// the scheduler's retry sweep; clears the retry flag before dispatching
// so a tick replay does not double-dispatch.
func (o *Orchestrator) RetryDue(taskID string) {
	now := o.clock.NowWall()
	t, err := o.store.Get(taskID)
	if err != nil || !t.Retrying || t.NextAttemptAt.After(now) {
		return
	}
	if _, err := o.store.Mutate(taskID, now, func(tt *task.Task) {
		tt.Retrying = false
	}); err != nil {
		return
	}
	o.Dispatch(taskID)
}

// fireReminder fires a due reminder through the notification handler with
// a synthesised payload. Success completes the task; failure feeds the
// standard retry machinery. Called from dispatch, so already serialised
// per task.
func (o *Orchestrator) fireReminder(ctx context.Context, t task.Task) {
	ctx, span := o.startSpan(ctx, "engine.fire_reminder")
	defer span.End()

	h, err := o.registry.Lookup(task.ActionNotification)
	if err != nil {
		o.failTask(ctx, t.ID, task.WrapError(task.KindNoHandler, err, "no notification handler for reminder"))
		return
	}

	msg, _ := t.Payload.String("message")
	synth := task.Payload{"title": "Reminder"}
	if msg != "" {
		synth["title"] = msg
	}

	fireTask := t
	fireTask.Payload = synth
	res, err := o.execute(ctx, h.Execute, fireTask)
	if err == nil {
		o.bus.Publish(bus.TopicReminderFired, bus.ReminderFiredEvent{TaskID: t.ID, Message: msg})
	}
	o.applyOutcome(ctx, t.ID, res, err)
}

// backoffDelay returns the exponential delay for the given attempt
// (1-based): base, 2*base, 4*base... capped.
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	delay := o.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.retryCap {
			return o.retryCap
		}
	}
	if delay > o.retryCap {
		delay = o.retryCap
	}
	return delay
}

func (o *Orchestrator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if o.telemetry == nil {
		return nooptrace.NewTracerProvider().Tracer(TracerScope).Start(ctx, name)
	}
	return o.telemetry.Tracer.Start(ctx, name)
}

// TracerScope is the span scope used when no telemetry provider is wired.
const TracerScope = "engram/engine"
