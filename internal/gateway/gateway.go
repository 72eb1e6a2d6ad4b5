// Package gateway exposes the engine over local HTTP: ingest, the
// confirmation queue, history, and a WebSocket event feed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/audit"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/bus"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/engine"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/intent"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/store"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Engine is the orchestrator surface the gateway drives.
type Engine interface {
	Ingest(ctx context.Context, text string, meta intent.Metadata) error
	Resolve(ctx context.Context, taskID string, decision confirm.Decision) error
}

// Config holds the gateway's dependencies.
type Config struct {
	Engine Engine
	Queue  *confirm.Queue
	Store  *store.Store
	Audit  *audit.Sink
	Bus    *bus.Bus
	Logger *slog.Logger

	AuthToken string

	// AllowOrigins controls accepted Origin headers for browser WS
	// connections. Empty means same-origin only.
	AllowOrigins []string
}

// Server is the HTTP and WebSocket front of the engine.
type Server struct {
	cfg    Config
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

// New creates a gateway Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		clients: map[*client]struct{}{},
	}
}

// Handler returns the route mux. Everything except /healthz requires the
// bearer token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/confirmations", s.handleConfirmations)
	mux.HandleFunc("/v1/confirmations/", s.handleConfirmationByID)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/events", s.handleEvents)
	return mux
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	return token != "" && token == s.cfg.AuthToken
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"healthy":       true,
		"tasks":         s.cfg.Store.Len(),
		"confirmations": s.cfg.Queue.Len(),
		"audited":       s.cfg.Audit.AppendedCount(),
		"ws_clients":    s.ClientCount(),
		"time_unix":     time.Now().Unix(),
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleIngest accepts a captured text chunk and runs detection on it.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var p struct {
		Text       string    `json:"text"`
		Source     string    `json:"source"`
		AppHint    string    `json:"app_hint"`
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || strings.TrimSpace(p.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if p.Source == "" {
		p.Source = "api"
	}
	if p.CapturedAt.IsZero() {
		p.CapturedAt = time.Now()
	}
	meta := intent.Metadata{Source: p.Source, CapturedAt: p.CapturedAt, AppHint: p.AppHint}
	if err := s.cfg.Engine.Ingest(r.Context(), p.Text, meta); err != nil {
		if errors.Is(err, engine.ErrShuttingDown) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// handleConfirmations lists the pending confirmation queue in FIFO order.
func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmations": s.cfg.Queue.List()})
}

// handleConfirmationByID resolves one pending confirmation.
// POST /v1/confirmations/{task_id} with {"decision": "approve"|"dismiss"}.
func (s *Server) handleConfirmationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	taskID := strings.TrimPrefix(r.URL.Path, "/v1/confirmations/")
	if taskID == "" || strings.Contains(taskID, "/") {
		http.Error(w, "task_id required", http.StatusBadRequest)
		return
	}
	var p struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var decision confirm.Decision
	switch strings.ToLower(strings.TrimSpace(p.Decision)) {
	case "approve":
		decision = confirm.Approve
	case "dismiss":
		decision = confirm.Dismiss
	default:
		http.Error(w, "decision must be approve or dismiss", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Engine.Resolve(r.Context(), taskID, decision); err != nil {
		switch {
		case errors.Is(err, confirm.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, confirm.ErrAlreadyResolved):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, confirm.ErrExpired):
			http.Error(w, err.Error(), http.StatusGone)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "decision": string(decision)})
}

// handleTasks lists live tasks, optionally filtered by status.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	statuses := []task.Status{task.StatusDetected, task.StatusPending, task.StatusActive}
	if v := r.URL.Query().Get("status"); v != "" {
		st := task.Status(strings.ToUpper(v))
		if !st.Valid() {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		statuses = []task.Status{st}
	}
	var tasks []task.Task
	for _, st := range statuses {
		tasks = append(tasks, s.cfg.Store.IterByStatus(st)...)
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleHistory returns terminal-task records, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			http.Error(w, "limit must be 1..1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.cfg.Audit.Query(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []task.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// handleEvents upgrades to WebSocket and streams every bus event to the
// client as {"topic": ..., "payload": ...} frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.logger.Info("ws: client connected")

	sub := s.cfg.Bus.Subscribe("")
	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		s.cfg.Bus.Unsubscribe(sub)
		s.removeClient(c)
		s.logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	// Drain the read side so pings and the close frame are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			frame := map[string]any{"topic": ev.Topic, "payload": ev.Payload}
			if err := c.write(ctx, frame); err != nil {
				s.logger.Error("ws: write error, closing", "error", err)
				return
			}
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

// ClientCount reports connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
