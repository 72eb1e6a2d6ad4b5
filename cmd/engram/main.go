// Command engram runs the action engine: it watches ingested text for
// actionable intents, gates risky actions behind user confirmation, and
// executes the rest.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/audit"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/bus"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/channels"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/clock"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/config"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/engine"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/gateway"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/handlers"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/intent"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/persistence"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/registry"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/sched"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/store"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/telemetry"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: <data_dir>/config.yaml)")
	daemon := flag.Bool("daemon", false, "run without the TUI, logs to stdout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath == "" {
		*configPath = filepath.Join(config.Default().DataDir, "config.yaml")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatalStartup(nil, "E_DATA_DIR", err)
	}

	interactive := !*daemon && isatty.IsTerminal(os.Stdout.Fd())

	// Interactive mode logs to a file so the TUI stays clean.
	logger, logCloser, err := newLogger(cfg.DataDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "config", *configPath)

	telProvider, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_TELEMETRY_INIT", err)
	}
	defer func() { _ = telProvider.Shutdown(context.Background()) }()

	db, err := persistence.Open(filepath.Join(cfg.DataDir, "engram.db"))
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer db.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	auditSink, err := audit.NewSink(audit.Config{Dir: cfg.DataDir, DB: db, Logger: logger})
	if err != nil {
		fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer auditSink.Close()

	eventBus := bus.New()
	taskStore := store.New()
	queue := confirm.NewQueue(eventBus)

	autoApprover, err := confirm.NewAutoApprover(cfg.AutoApprove)
	if err != nil {
		fatalStartup(logger, "E_AUTO_APPROVE", err)
	}

	reg := registry.New()
	for _, h := range []registry.Handler{
		handlers.Clipboard{Surface: systemClipboard{}},
		handlers.Notification{Surface: logNotifier{logger: logger}},
		handlers.QuickNote{Sink: db, Clock: clock.System{}},
		handlers.Reminder{},
		handlers.ShellCommand{Logger: logger},
	} {
		if err := reg.Register(h); err != nil {
			fatalStartup(logger, "E_HANDLER_REGISTER", err)
		}
	}
	logger.Info("startup phase", "phase", "handlers_registered", "action_types", len(reg.ActionTypes()))

	detector := intent.NewDetector(intent.DetectorConfig{
		Logger:        logger,
		MinConfidence: cfg.MinConfidence,
	})

	orch := engine.New(engine.Config{
		Detector:    detector,
		Store:       taskStore,
		Registry:    reg,
		Queue:       queue,
		AutoApprove: autoApprover,
		Audit:       auditSink,
		Bus:         eventBus,
		Logger:      logger,
		Telemetry:   telProvider,
		DefaultTTL:  cfg.DefaultTaskTTL(),
		TimeoutFor:  cfg.HandlerTimeout,
	})

	scheduler := sched.New(sched.Config{
		Store:            taskStore,
		Driver:           orch,
		Logger:           logger,
		DB:               db,
		Queue:            queue,
		Telemetry:        telProvider,
		Tick:             cfg.SchedulerTick(),
		HistoryRetention: cfg.HistoryRetention(),
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	// Hot reload: detection threshold and auto-approve rules only.
	watcher := config.NewWatcher(*configPath, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				next, err := config.Load(*configPath)
				if err != nil {
					logger.Error("config reload rejected", "error", err)
					continue
				}
				approver, err := confirm.NewAutoApprover(next.AutoApprove)
				if err != nil {
					logger.Error("config reload rejected", "error", err)
					continue
				}
				detector.SetMinConfidence(next.MinConfidence)
				orch.SetAutoApprover(approver)
				logger.Info("config reloaded", "min_confidence", next.MinConfidence,
					"auto_approve_rules", len(next.AutoApprove))
			}
		}()
	}

	gw := gateway.New(gateway.Config{
		Engine:    orch,
		Queue:     queue,
		Store:     taskStore,
		Audit:     auditSink,
		Bus:       eventBus,
		Logger:    logger,
		AuthToken: cfg.AuthToken,
	})
	server := &http.Server{Addr: cfg.BindAddr, Handler: gw.Handler()}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/v1/events")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			logger.Warn("telegram channel enabled but token is missing")
		} else {
			tg := channels.NewTelegramChannel(
				cfg.Telegram.Token,
				cfg.Telegram.AllowedIDs,
				orch,
				queue,
				eventBus,
				logger,
			)
			go func() {
				if err := tg.Start(ctx); err != nil {
					logger.Error("telegram channel failed", "error", err)
				}
			}()
		}
	}

	// Piped stdin is treated as a capture feed, one chunk per line.
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		go ingestStdin(ctx, orch, logger)
	}

	if interactive {
		startedAt := time.Now()
		lastEvent := trackLastEvent(ctx, eventBus)
		go func() {
			err := tui.Run(ctx,
				func() tui.Snapshot {
					return tui.Snapshot{
						Confirmations: queue.List(),
						LiveTasks:     taskStore.Len(),
						Audited:       auditSink.AppendedCount(),
						LastEvent:     lastEvent(),
						Uptime:        time.Since(startedAt),
					}
				},
				func(taskID string, decision confirm.Decision) error {
					return orch.Resolve(context.Background(), taskID, decision)
				},
			)
			if err != nil && ctx.Err() == nil {
				logger.Error("tui exited with error", "error", err)
			}
			stop()
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Stop intake first, then drain in-flight work.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := orch.Drain(shutdownCtx); err != nil {
		logger.Warn("drain incomplete", "error", err)
	}
	logger.Info("shutdown complete")
}

// ingestStdin feeds captured text lines into the engine until EOF.
func ingestStdin(ctx context.Context, orch *engine.Orchestrator, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		meta := intent.Metadata{Source: "stdin", CapturedAt: time.Now()}
		if err := orch.Ingest(ctx, line, meta); err != nil {
			logger.Error("stdin ingest failed", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin closed with error", "error", err)
	}
}

// trackLastEvent follows the bus and returns a getter for the most recent
// topic seen.
func trackLastEvent(ctx context.Context, b *bus.Bus) func() string {
	var mu sync.Mutex
	var last string
	sub := b.Subscribe("")
	go func() {
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				mu.Lock()
				last = ev.Topic
				mu.Unlock()
			}
		}
	}()
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

// systemClipboard copies via the OS clipboard.
type systemClipboard struct{}

func (systemClipboard) Copy(_ context.Context, text string) error {
	return clipboard.WriteAll(text)
}

// logNotifier surfaces notifications as log lines. Desktop notification
// daemons vary per platform; the log line is the portable baseline.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Show(_ context.Context, title, body string) error {
	n.logger.Info("notification", "title", title, "body", body)
	return nil
}

var _ handlers.ClipboardSurface = systemClipboard{}
var _ handlers.NotificationSurface = logNotifier{}
var _ handlers.NoteSink = (*persistence.DB)(nil)

func newLogger(dataDir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", level)
	}

	var w io.Writer = os.Stdout
	closer := io.NopCloser(nil)
	if quiet {
		f, err := os.OpenFile(filepath.Join(dataDir, "engram.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closer, nil
}

func fatalStartup(logger *slog.Logger, code string, err error) {
	if logger != nil {
		logger.Error("startup failed", "code", code, "error", err)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
	os.Exit(1)
}
