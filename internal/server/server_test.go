package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/processor"
	"github.com/conductorhq/conductor/internal/tools"
	"github.com/conductorhq/conductor/pkg/models"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     int
}

func (c *scriptedClient) next() *llm.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	if idx >= len(c.responses) {
		return &llm.Response{Content: "done", FinishReason: "stop"}
	}
	return c.responses[idx]
}

func (c *scriptedClient) Complete(context.Context, string, []models.Message, llm.Options) (*llm.Response, error) {
	return c.next(), nil
}

func (c *scriptedClient) Stream(_ context.Context, _ string, _ []models.Message, _ llm.Options, _ llm.Events) (*llm.Response, error) {
	return c.next(), nil
}

type blockingTool struct {
	startedOnce sync.Once
	started     chan struct{}
	release     chan struct{}
}

func (b *blockingTool) Name() string            { return "run_command" }
func (b *blockingTool) Description() string     { return "runs a command" }
func (b *blockingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (b *blockingTool) Execute(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
	b.startedOnce.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return &tools.Result{Content: "command output"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type nullEmitter struct{}

func (nullEmitter) SendMessage(context.Context, string, string) (string, error) { return "m1", nil }
func (nullEmitter) EditMessage(context.Context, string, string, string) error   { return nil }
func (nullEmitter) DeleteMessage(context.Context, string, string) error         { return nil }

type memStore struct {
	mu     sync.Mutex
	states map[string]*models.TaskState
}

func (m *memStore) Get(_ context.Context, userID, slot string) (*models.TaskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID+"/"+slot]
	if !ok {
		return nil, nil
	}
	copied := *st
	return &copied, nil
}

func (m *memStore) Put(_ context.Context, userID, slot string, state *models.TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]*models.TaskState)
	}
	copied := *state
	m.states[userID+"/"+slot] = &copied
	return nil
}

func (m *memStore) List(context.Context, string) ([]models.CheckpointInfo, error) {
	return nil, nil
}

func newTestServer(t *testing.T, client *scriptedClient, reg *tools.Registry) *httptest.Server {
	t.Helper()
	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	manager := processor.NewManager(processor.Deps{
		Client: client,
		Catalog: llm.NewCatalog([]llm.ModelInfo{
			{Alias: "free-a", ID: "free-a", MaxContext: 131072, MaxTokens: 4096,
				SupportsTools: true, SupportsParallelTools: true, IsFree: true},
		}),
		Registry:   reg,
		Classifier: tools.NewClassifier(),
		Store:      &memStore{},
		Emitter:    nullEmitter{},
		Logger:     logger,
		Metrics:    metrics,
	})
	srv := NewServer(Config{
		Manager:  manager,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: promReg,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func waitForStatus(t *testing.T, ts *httptest.Server, userID, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, body := getJSON(t, ts.URL+"/v1/tasks/status?userId="+userID)
		if body["status"] == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s never reached status %s", userID, want)
}

func TestProcessStartsTask(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{Content: "4", FinishReason: "stop"},
	}}
	ts := newTestServer(t, client, tools.NewRegistry())

	code, body := postJSON(t, ts.URL+"/v1/tasks/process",
		`{"userId":"u1","chatId":"c1","modelAlias":"free-a","prompt":"What is 2+2?"}`)
	if code != http.StatusOK {
		t.Fatalf("code = %d, body = %v", code, body)
	}
	if body["status"] != "started" || body["taskId"] == "" {
		t.Errorf("body = %v", body)
	}

	waitForStatus(t, ts, "u1", "completed")
	_, snap := getJSON(t, ts.URL+"/v1/tasks/status?userId=u1")
	if !strings.Contains(snap["result"].(string), "4") {
		t.Errorf("result = %v", snap["result"])
	}
}

func TestProcessAcceptsMessageHistory(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{Content: "Yes, still 4.", FinishReason: "stop"},
	}}
	ts := newTestServer(t, client, tools.NewRegistry())

	body := `{"userId":"u1","chatId":"c1","modelAlias":"free-a",` +
		`"messages":[` +
		`{"role":"system","content":"You are helpful."},` +
		`{"role":"user","content":"What is 2+2?"},` +
		`{"role":"assistant","content":"4"}],` +
		`"prompt":"Are you sure?","reasoningLevel":"low","responseFormat":""}`
	code, out := postJSON(t, ts.URL+"/v1/tasks/process", body)
	if code != http.StatusOK || out["status"] != "started" {
		t.Fatalf("code = %d, body = %v", code, out)
	}

	waitForStatus(t, ts, "u1", "completed")
	_, snap := getJSON(t, ts.URL+"/v1/tasks/status?userId=u1")
	msgs, ok := snap["messages"].([]any)
	if !ok || len(msgs) < 4 {
		t.Fatalf("history not seeded: %v", snap["messages"])
	}
	if snap["reasoningLevel"] != "low" {
		t.Errorf("reasoningLevel = %v", snap["reasoningLevel"])
	}
	if !strings.Contains(snap["result"].(string), "still 4") {
		t.Errorf("result = %v", snap["result"])
	}
}

func TestProcessRejectsMalformedInput(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{}, tools.NewRegistry())

	code, _ := postJSON(t, ts.URL+"/v1/tasks/process", `{not json`)
	if code != http.StatusBadRequest {
		t.Errorf("invalid JSON: code = %d", code)
	}
	code, _ = postJSON(t, ts.URL+"/v1/tasks/process", `{"userId":"u1"}`)
	if code != http.StatusBadRequest {
		t.Errorf("missing prompt: code = %d", code)
	}
	code, _ = postJSON(t, ts.URL+"/v1/tasks/process", `{"prompt":"hi"}`)
	if code != http.StatusBadRequest {
		t.Errorf("missing userId: code = %d", code)
	}
}

func TestStatusUnknownUser(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{}, tools.NewRegistry())
	code, body := getJSON(t, ts.URL+"/v1/tasks/status?userId=nobody")
	if code != http.StatusOK || body["status"] != "not_found" {
		t.Errorf("code = %d, body = %v", code, body)
	}
}

func TestCancelAndSteerLifecycle(t *testing.T) {
	tool := &blockingTool{started: make(chan struct{}), release: make(chan struct{})}
	reg := tools.NewRegistry()
	reg.Register(tool)

	client := &scriptedClient{responses: []*llm.Response{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "run_command", Arguments: `{}`}}, FinishReason: "tool_calls"},
		{Content: "never used", FinishReason: "stop"},
	}}
	ts := newTestServer(t, client, reg)

	code, _ := postJSON(t, ts.URL+"/v1/tasks/process",
		`{"userId":"u1","chatId":"c1","modelAlias":"free-a","prompt":"run it"}`)
	if code != http.StatusOK {
		t.Fatalf("process code = %d", code)
	}

	select {
	case <-tool.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}

	// A second process for the same user must be refused while running.
	code, body := postJSON(t, ts.URL+"/v1/tasks/process",
		`{"userId":"u1","chatId":"c1","modelAlias":"free-a","prompt":"again"}`)
	if code != http.StatusConflict || body["status"] != "already_running" {
		t.Errorf("concurrent process: code = %d, body = %v", code, body)
	}

	code, body = postJSON(t, ts.URL+"/v1/tasks/steer",
		`{"userId":"u1","instruction":"hurry up"}`)
	if code != http.StatusOK || body["status"] != "steered" || body["queued"] != float64(1) {
		t.Errorf("steer: code = %d, body = %v", code, body)
	}

	code, _ = postJSON(t, ts.URL+"/v1/tasks/steer", `{"userId":"u1","instruction":"  "}`)
	if code != http.StatusBadRequest {
		t.Errorf("empty instruction: code = %d", code)
	}

	code, body = postJSON(t, ts.URL+"/v1/tasks/cancel", `{"userId":"u1"}`)
	if code != http.StatusOK || body["status"] != "cancelled" {
		t.Errorf("cancel: code = %d, body = %v", code, body)
	}
	close(tool.release)
	waitForStatus(t, ts, "u1", "cancelled")

	// Cancelling a finished task reports the current status.
	code, body = postJSON(t, ts.URL+"/v1/tasks/cancel", `{"userId":"u1"}`)
	if code != http.StatusOK || body["status"] != "not_processing" || body["current"] != "cancelled" {
		t.Errorf("second cancel: code = %d, body = %v", code, body)
	}
}

func TestSteerIdleUser(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{}, tools.NewRegistry())
	code, body := postJSON(t, ts.URL+"/v1/tasks/steer",
		`{"userId":"ghost","instruction":"do something"}`)
	if code != http.StatusOK || body["status"] != "not_processing" {
		t.Errorf("code = %d, body = %v", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{Content: "4", FinishReason: "stop"},
	}}
	ts := newTestServer(t, client, tools.NewRegistry())

	postJSON(t, ts.URL+"/v1/tasks/process",
		`{"userId":"u1","chatId":"c1","modelAlias":"free-a","prompt":"What is 2+2?"}`)
	waitForStatus(t, ts, "u1", "completed")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "conductor_tasks_started_total") {
		t.Error("task metrics missing from exposition")
	}
	if !strings.Contains(string(raw), "conductor_http_requests_total") {
		t.Error("http metrics missing from exposition")
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &scriptedClient{}, tools.NewRegistry())
	code, body := getJSON(t, ts.URL+"/healthz")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("code = %d, body = %v", code, body)
	}
}
