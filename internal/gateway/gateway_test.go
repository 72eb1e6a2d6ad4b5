package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/audit"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/bus"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/gateway"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/intent"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/store"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

const testToken = "test-token"

// fakeEngine records gateway calls and returns canned errors.
type fakeEngine struct {
	mu         sync.Mutex
	ingested   []string
	lastMeta   intent.Metadata
	ingestErr  error
	resolved   map[string]confirm.Decision
	resolveErr error
}

func (e *fakeEngine) Ingest(_ context.Context, text string, meta intent.Metadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ingestErr != nil {
		return e.ingestErr
	}
	e.ingested = append(e.ingested, text)
	e.lastMeta = meta
	return nil
}

func (e *fakeEngine) Resolve(_ context.Context, taskID string, decision confirm.Decision) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolveErr != nil {
		return e.resolveErr
	}
	if e.resolved == nil {
		e.resolved = map[string]confirm.Decision{}
	}
	e.resolved[taskID] = decision
	return nil
}

func newTestServer(t *testing.T, eng *fakeEngine) (*httptest.Server, *store.Store, *confirm.Queue) {
	t.Helper()
	st := store.New()
	queue := confirm.NewQueue(nil)
	sink, err := audit.NewSink(audit.Config{})
	if err != nil {
		t.Fatalf("audit sink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	srv := gateway.New(gateway.Config{
		Engine:    eng,
		Queue:     queue,
		Store:     st,
		Audit:     sink,
		Bus:       bus.New(),
		AuthToken: testToken,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st, queue
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthzUnauthenticated(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeEngine{})
	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["healthy"] != true {
		t.Errorf("payload = %v", payload)
	}
	if payload["ws_clients"] != float64(0) {
		t.Errorf("ws_clients = %v, want 0", payload["ws_clients"])
	}
}

func TestIngestRequiresToken(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeEngine{})
	body := `{"text": "remind me to call mum"}`

	for _, token := range []string{"", "wrong"} {
		resp := doRequest(t, http.MethodPost, ts.URL+"/v1/ingest", token, body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
	}
}

func TestIngest(t *testing.T) {
	eng := &fakeEngine{}
	ts, _, _ := newTestServer(t, eng)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/ingest", testToken,
		`{"text": "todo: send invoices", "source": "ocr", "app_hint": "Preview"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(eng.ingested) != 1 || eng.ingested[0] != "todo: send invoices" {
		t.Errorf("ingested = %v", eng.ingested)
	}
	if eng.lastMeta.Source != "ocr" || eng.lastMeta.AppHint != "Preview" {
		t.Errorf("meta = %+v", eng.lastMeta)
	}
}

func TestIngestDefaultsSource(t *testing.T) {
	eng := &fakeEngine{}
	ts, _, _ := newTestServer(t, eng)

	doRequest(t, http.MethodPost, ts.URL+"/v1/ingest", testToken, `{"text": "x"}`)
	if eng.lastMeta.Source != "api" {
		t.Errorf("Source = %q, want api", eng.lastMeta.Source)
	}
	if eng.lastMeta.CapturedAt.IsZero() {
		t.Error("CapturedAt not defaulted")
	}
}

func TestIngestRejectsEmptyText(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeEngine{})
	for _, body := range []string{`{}`, `{"text": "  "}`, `not json`} {
		resp := doRequest(t, http.MethodPost, ts.URL+"/v1/ingest", testToken, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestConfirmationsList(t *testing.T) {
	ts, _, queue := newTestServer(t, &fakeEngine{})
	queue.Enqueue(confirm.Entry{
		TaskID:      "t1",
		ActionType:  string(task.ActionShellCommand),
		Describe:    "run: ls",
		PresentedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/confirmations", testToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Confirmations []confirm.Entry `json:"confirmations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Confirmations) != 1 || payload.Confirmations[0].TaskID != "t1" {
		t.Errorf("confirmations = %+v", payload.Confirmations)
	}
}

func TestResolveConfirmation(t *testing.T) {
	eng := &fakeEngine{}
	ts, _, _ := newTestServer(t, eng)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/confirmations/t1", testToken,
		`{"decision": "approve"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if eng.resolved["t1"] != confirm.Approve {
		t.Errorf("resolved = %v", eng.resolved)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/confirmations/t1", testToken,
		`{"decision": "shrug"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad decision status = %d", resp.StatusCode)
	}
}

func TestResolveErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{confirm.ErrNotFound, http.StatusNotFound},
		{confirm.ErrAlreadyResolved, http.StatusConflict},
		{confirm.ErrExpired, http.StatusGone},
	}
	for _, tc := range cases {
		eng := &fakeEngine{resolveErr: tc.err}
		ts, _, _ := newTestServer(t, eng)
		resp := doRequest(t, http.MethodPost, ts.URL+"/v1/confirmations/t1", testToken,
			`{"decision": "dismiss"}`)
		if resp.StatusCode != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, resp.StatusCode, tc.want)
		}
	}
}

func TestTasksFilter(t *testing.T) {
	ts, st, _ := newTestServer(t, &fakeEngine{})
	now := time.Now()
	st.Insert(&task.Task{
		ID: "t1", IntentID: "i1", ActionType: task.ActionQuickNote,
		Status: task.StatusDetected, CreatedAt: now, UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/tasks", testToken, "")
	var payload struct {
		Tasks []task.Task `json:"tasks"`
	}
	json.NewDecoder(resp.Body).Decode(&payload)
	if len(payload.Tasks) != 1 {
		t.Fatalf("tasks = %+v", payload.Tasks)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/tasks?status=active", testToken, "")
	payload.Tasks = nil
	json.NewDecoder(resp.Body).Decode(&payload)
	if len(payload.Tasks) != 0 {
		t.Errorf("active tasks = %+v", payload.Tasks)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/tasks?status=bogus", testToken, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status = %d", resp.StatusCode)
	}
}

func TestHistoryLimitValidation(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeEngine{})
	for _, q := range []string{"?limit=0", "?limit=1001", "?limit=abc"} {
		resp := doRequest(t, http.MethodGet, ts.URL+"/v1/history"+q, testToken, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/history", testToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("default limit status = %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeEngine{})
	cases := []struct{ method, path string }{
		{http.MethodGet, "/v1/ingest"},
		{http.MethodPost, "/v1/tasks"},
		{http.MethodGet, "/v1/confirmations/t1"},
		{http.MethodPost, "/v1/history"},
	}
	for _, tc := range cases {
		resp := doRequest(t, tc.method, ts.URL+tc.path, testToken, "")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tc.method, tc.path, resp.StatusCode)
		}
	}
}
