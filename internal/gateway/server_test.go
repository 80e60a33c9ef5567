package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/crucial/internal/auth"
	"github.com/haasonsaas/crucial/internal/canvas"
	"github.com/haasonsaas/crucial/internal/config"
	"github.com/haasonsaas/crucial/internal/dispatch"
	"github.com/haasonsaas/crucial/internal/observability"
	"github.com/haasonsaas/crucial/internal/ratelimit"
	"github.com/haasonsaas/crucial/internal/registry"
)

type testGateway struct {
	server  *Server
	http    *httptest.Server
	manager *canvas.Manager
}

func newTestGateway(t *testing.T, opts ...Option) *testGateway {
	t.Helper()
	reg, err := registry.Load()
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := canvas.NewManager(canvas.NewMemoryStore(), canvas.NewHub(canvas.WithHubLogger(logger)), logger)
	d, err := dispatch.New(reg, manager, dispatch.WithLogger(logger))
	if err != nil {
		t.Fatalf("dispatch.New() error = %v", err)
	}
	promReg := prometheus.NewRegistry()
	base := []Option{
		WithLogger(logger),
		WithGatherer(promReg),
		WithHTTPMetrics(observability.NewHTTPMetrics(promReg)),
	}
	server := NewServer(config.Default().Server, d, append(base, opts...)...)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		manager.Hub().Close()
		ts.Close()
	})
	return &testGateway{server: server, http: ts, manager: manager}
}

func (g *testGateway) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, g.http.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := g.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (g *testGateway) create(t *testing.T, params map[string]any) createResponse {
	t.Helper()
	resp, body := g.do(t, http.MethodPost, "/canvas/create", params)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var out createResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	return out
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return out
}

func TestCreateDrawAndReadBack(t *testing.T) {
	g := newTestGateway(t)
	created := g.create(t, map[string]any{"name": "T", "x": 640, "y": 480, "color": "#000"})
	if created.Status != "created" || created.CanvasID == "" || created.HumanID == "" {
		t.Fatalf("unexpected create response %+v", created)
	}
	if created.Metadata.Width != 640 || created.Metadata.Height != 480 || created.Metadata.Background != "#000" {
		t.Fatalf("expected aliases to apply, got %+v", created.Metadata)
	}

	params := map[string]any{
		"canvas_id": created.HumanID,
		"start_x":   0, "start_y": 0, "end_x": 10, "end_y": 10,
		"color": "#000", "width": 2,
	}
	resp, body := g.do(t, http.MethodPost, "/canvas", dispatch.Request{Action: "draw_line", Params: params})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status = %d: %s", resp.StatusCode, body)
	}
	var dispatched dispatchResponse
	if err := json.Unmarshal(body, &dispatched); err != nil {
		t.Fatalf("decode dispatch: %v", err)
	}
	if dispatched.Status != "ok" || dispatched.Result.CanvasID != created.CanvasID {
		t.Fatalf("unexpected dispatch response %+v", dispatched)
	}

	resp, body = g.do(t, http.MethodGet, "/object/"+created.HumanID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata status = %d: %s", resp.StatusCode, body)
	}
	var meta canvas.Canvas
	if err := json.Unmarshal(body, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.ID != created.CanvasID || meta.Name != "T" {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	resp, body = g.do(t, http.MethodGet, "/object/"+created.CanvasID+"/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d: %s", resp.StatusCode, body)
	}
	var history []canvas.HistoryEntry
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	want := map[string]any{"start_x": 0.0, "start_y": 0.0, "end_x": 10.0, "end_y": 10.0, "color": "#000", "width": 2.0}
	if len(history) != 1 || history[0].Action != "draw_line" || !reflect.DeepEqual(history[0].Params, want) {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestCreateWithEmptyBodyUsesDefaults(t *testing.T) {
	g := newTestGateway(t)
	resp, body := g.do(t, http.MethodPost, "/canvas/create", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out createResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Metadata.Width != 800 || out.Metadata.Height != 600 {
		t.Fatalf("expected default dimensions, got %+v", out.Metadata)
	}
	if out.Metadata.Name != "Untitled" || out.Metadata.Background != "#000000" {
		t.Fatalf("expected default name and background, got %+v", out.Metadata)
	}
}

func TestErrorMapping(t *testing.T) {
	g := newTestGateway(t)
	created := g.create(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown action", http.MethodPost, "/canvas", dispatch.Request{Action: "draw_unicorn", Params: map[string]any{"canvas_id": created.CanvasID}}, http.StatusNotFound, "NotFound"},
		{"invalid params", http.MethodPost, "/canvas", dispatch.Request{Action: "draw_point", Params: map[string]any{"canvas_id": created.CanvasID, "x": "one", "y": 1}}, http.StatusBadRequest, "ValidationFailed"},
		{"missing canvas", http.MethodPost, "/canvas", dispatch.Request{Action: "clear", Params: map[string]any{"canvas_id": "nope"}}, http.StatusNotFound, "NotFound"},
		{"missing canvas id", http.MethodPost, "/canvas", dispatch.Request{Action: "clear", Params: map[string]any{}}, http.StatusBadRequest, "ValidationFailed"},
		{"metadata", http.MethodGet, "/object/nope", nil, http.StatusNotFound, "NotFound"},
		{"history", http.MethodGet, "/object/nope/history", nil, http.StatusNotFound, "NotFound"},
		{"load", http.MethodPost, "/object/nope/load", map[string]any{"history": []any{}}, http.StatusNotFound, "NotFound"},
		{"schema", http.MethodGet, "/schema/draw_unicorn.json", nil, http.StatusNotFound, "NotFound"},
		{"live", http.MethodGet, "/ws/canvas/nope", nil, http.StatusNotFound, "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := g.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.status, body)
			}
			if got := decodeError(t, body); got.Error != tt.kind || got.Detail == "" {
				t.Fatalf("unexpected error body %+v", got)
			}
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	g := newTestGateway(t)
	resp, err := g.http.Client().Post(g.http.URL+"/canvas", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLoadReplacesHistory(t *testing.T) {
	g := newTestGateway(t)
	created := g.create(t, nil)
	g.do(t, http.MethodPost, "/canvas", dispatch.Request{Action: "draw_point", Params: map[string]any{"canvas_id": created.CanvasID, "x": 1, "y": 1, "color": "#000"}})

	history := []canvas.HistoryEntry{
		{Action: "set_background", Params: map[string]any{"color": "#111"}, Timestamp: time.Now().UTC()},
		{Action: "draw_circle", Params: map[string]any{"center_x": 5.0, "center_y": 5.0, "radius": 2.0, "color": "#fff"}, Timestamp: time.Now().UTC()},
	}
	resp, body := g.do(t, http.MethodPost, "/object/"+created.HumanID+"/load", loadRequest{History: history})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load status = %d: %s", resp.StatusCode, body)
	}
	var loaded loadResponse
	if err := json.Unmarshal(body, &loaded); err != nil {
		t.Fatalf("decode load: %v", err)
	}
	if loaded.Status != "loaded" || loaded.ActionsLoaded != 2 || loaded.CanvasID != created.CanvasID {
		t.Fatalf("unexpected load response %+v", loaded)
	}

	actions, err := g.manager.History(context.Background(), created.CanvasID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(actions) != 2 || actions[0].Name != "set_background" || actions[1].Name != "draw_circle" {
		t.Fatalf("expected imported history only, got %+v", actions)
	}
}

func TestLoadRejectsUnknownActions(t *testing.T) {
	g := newTestGateway(t)
	created := g.create(t, nil)
	resp, body := g.do(t, http.MethodPost, "/canvas", dispatch.Request{Action: "draw_point", Params: map[string]any{"canvas_id": created.CanvasID, "x": 1, "y": 1, "color": "#000"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draw status = %d: %s", resp.StatusCode, body)
	}

	history := []canvas.HistoryEntry{
		{Action: "draw_point", Params: map[string]any{"x": 2.0, "y": 2.0}},
		{Action: "draw_unicorn", Params: map[string]any{}},
	}
	resp, body = g.do(t, http.MethodPost, "/object/"+created.CanvasID+"/load", loadRequest{History: history})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("load status = %d, want 400: %s", resp.StatusCode, body)
	}
	if got := decodeError(t, body); got.Error != "ValidationFailed" || !strings.Contains(got.Detail, "draw_unicorn") {
		t.Fatalf("unexpected error body %+v", got)
	}

	actions, err := g.manager.History(context.Background(), created.CanvasID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(actions) != 1 || actions[0].Name != "draw_point" {
		t.Fatalf("expected history to be untouched, got %+v", actions)
	}
}

func TestRegistryAndSchema(t *testing.T) {
	g := newTestGateway(t)
	resp, body := g.do(t, http.MethodGet, "/mcp/registry", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("registry status = %d", resp.StatusCode)
	}
	var out struct {
		Modules []registry.Module `json:"modules"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode registry: %v", err)
	}
	if len(out.Modules) != 26 {
		t.Fatalf("expected 26 modules, got %d", len(out.Modules))
	}

	resp, body = g.do(t, http.MethodGet, "/schema/draw_line.json", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schema status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"draw_line"`) {
		t.Fatalf("expected raw draw_line schema, got %s", body)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	g := newTestGateway(t)
	resp, body := g.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("unexpected healthz %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	resp, body = g.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "crucial_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	service := auth.NewService(auth.Config{Required: true, APIKeys: []string{"secret-key"}})
	g := newTestGateway(t, WithAuth(service))

	resp, body := g.do(t, http.MethodPost, "/canvas/create", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d: %s", resp.StatusCode, body)
	}
	resp, _ = g.do(t, http.MethodPost, "/canvas/create", nil, "X-API-Key", "wrong")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for bad key, got %d", resp.StatusCode)
	}
	resp, body = g.do(t, http.MethodPost, "/canvas/create", nil, "X-API-Key", "secret-key")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with key, got %d: %s", resp.StatusCode, body)
	}

	// Reads stay open.
	resp, _ = g.do(t, http.MethodGet, "/mcp/registry", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected open registry, got %d", resp.StatusCode)
	}
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 1})
	g := newTestGateway(t, WithRateLimiter(limiter))

	g.create(t, nil)
	resp, body := g.do(t, http.MethodPost, "/canvas/create", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", resp.StatusCode, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	g := newTestGateway(t)
	g.server.config.CORSOrigins = []string{"https://viewer.example"}
	handler := g.server.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/canvas", nil)
	req.Header.Set("Origin", "https://viewer.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://viewer.example" {
		t.Fatalf("expected allowed origin header")
	}
}

func TestStartStop(t *testing.T) {
	g := newTestGateway(t)
	cfg := config.Default().Server
	cfg.Host = "127.0.0.1"
	cfg.HTTPPort = 0
	g.server.config = cfg

	if err := g.server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := g.server.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start() to fail")
	}
	resp, err := http.Get("http://" + g.server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.server.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if g.server.Addr() != "" {
		t.Fatalf("expected address to be cleared after Stop")
	}
}
