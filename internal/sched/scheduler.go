// Package sched advances tasks on a fixed tick: expiry sweeps first, then
// reminder firing, then retry reattempts. Within one tick expirations are
// always processed before firings; across ticks wall-clock order holds to
// the tick resolution.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/clock"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/persistence"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/store"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/telemetry"
)

const (
	defaultTick = 250 * time.Millisecond
	// Expirations handled per tick; bounding the sweep keeps a backlog of
	// expired tasks from starving reminder firing.
	defaultExpiryBatch = 64
	// Terminal tasks and history rows are pruned roughly once a minute,
	// not every tick.
	evictEveryTicks = 240
)

// Driver is the engine surface the scheduler advances tasks through.
// Implemented by the orchestrator.
type Driver interface {
	ExpireTask(ctx context.Context, taskID string) error
	Dispatch(taskID string)
	RetryDue(taskID string)
}

// Config holds the scheduler's dependencies.
type Config struct {
	Store  *store.Store
	Driver Driver
	Clock  clock.Clock
	Logger *slog.Logger

	// DB, when set, has old history rows pruned on the eviction cadence.
	DB *persistence.DB
	// Queue, when set, has stale resolved markers evicted on the same
	// cadence as terminal tasks.
	Queue     *confirm.Queue
	Telemetry *telemetry.Provider

	Tick             time.Duration // defaults to 250ms
	ExpiryBatch      int           // defaults to 64
	TaskRetention    time.Duration // terminal task eviction window; defaults to 24h
	HistoryRetention time.Duration // history prune window; zero disables pruning
}

// Scheduler runs the cooperative tick loop.
type Scheduler struct {
	store  *store.Store
	driver Driver
	clock  clock.Clock
	logger *slog.Logger
	db     *persistence.DB
	queue  *confirm.Queue
	tel    *telemetry.Provider

	tick             time.Duration
	expiryBatch      int
	taskRetention    time.Duration
	historyRetention time.Duration

	ticks  uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler with the given config.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ck := cfg.Clock
	if ck == nil {
		ck = clock.System{}
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	batch := cfg.ExpiryBatch
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	retention := cfg.TaskRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Scheduler{
		store:            cfg.Store,
		driver:           cfg.Driver,
		clock:            ck,
		logger:           logger,
		db:               cfg.DB,
		queue:            cfg.Queue,
		tel:              cfg.Telemetry,
		tick:             tick,
		expiryBatch:      batch,
		taskRetention:    retention,
		historyRetention: cfg.HistoryRetention,
	}
}

// Start begins the tick loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sched: started", "tick", s.tick)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sched: stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduler pass. Exported so tests can drive the scheduler
// deterministically against a fake clock. Idempotent under replay: a
// second call with an unchanged clock and store is a no-op.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.NowWall()
	s.ticks++
	if s.tel != nil {
		s.tel.Metrics.SchedulerTicks.Add(ctx, 1)
	}

	// 1. Expiry sweep, bounded per tick.
	for _, t := range s.store.PopExpiredUntil(now, s.expiryBatch) {
		if err := s.driver.ExpireTask(ctx, t.ID); err != nil {
			s.logger.Error("sched: expire failed", "task_id", t.ID, "error", err)
		}
	}

	// 2/3. Reminder firing and retry sweep. The active set is snapshotted
	// by the store; dispatch happens without the store lock held.
	for _, t := range s.store.IterByStatus(task.StatusActive) {
		if t.Retrying {
			if !t.NextAttemptAt.After(now) {
				s.driver.RetryDue(t.ID)
			}
			continue
		}
		if t.ActionType != task.ActionReminder {
			continue
		}
		fireAt, ok := t.Payload.Time("fire_at")
		if ok && !fireAt.After(now) {
			s.logger.Info("sched: reminder due", "task_id", t.ID, "fire_at", fireAt)
			s.driver.Dispatch(t.ID)
		}
	}

	// 4. Periodic eviction of terminal tasks and stale history.
	if s.ticks%evictEveryTicks == 0 {
		if n := s.store.EvictTerminalOlderThan(now.Add(-s.taskRetention)); n > 0 {
			s.logger.Info("sched: evicted terminal tasks", "count", n)
		}
		if s.queue != nil {
			if n := s.queue.EvictResolvedBefore(now.Add(-s.taskRetention)); n > 0 {
				s.logger.Info("sched: evicted resolved confirmation markers", "count", n)
			}
		}
		if s.db != nil && s.historyRetention > 0 {
			if n, err := s.db.PruneHistoryBefore(ctx, now.Add(-s.historyRetention)); err != nil {
				s.logger.Error("sched: history prune failed", "error", err)
			} else if n > 0 {
				s.logger.Info("sched: pruned history records", "count", n)
			}
		}
	}
}
