package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/busnephew-hub/internal/auth"
	"github.com/nerrad567/busnephew-hub/internal/device"
	"github.com/nerrad567/busnephew-hub/internal/hub"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/config"
	"github.com/nerrad567/busnephew-hub/internal/infrastructure/logging"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

type fakeEvents struct {
	mu   sync.Mutex
	last device.EventFilter
}

func (f *fakeEvents) List(_ context.Context, filter device.EventFilter) (*device.EventListResult, error) {
	f.mu.Lock()
	f.last = filter
	f.mu.Unlock()
	return &device.EventListResult{
		Events: []device.Event{{ID: "evt-1", Kind: device.EventRegistered, DeviceID: "d1"}},
		Total:  1,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// testServer creates a Server around a fresh hub. A non-empty secret
// enables token auth.
func testServer(t *testing.T, secret string) (*Server, *hub.Hub) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	h := hub.New(device.NewRegistry(), hub.Options{ServiceName: "Test Hub"})
	t.Cleanup(func() { h.Close() }) //nolint:errcheck

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     16,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, AccessTokenTTL: 15},
		},
		Logger:  log,
		Hub:     h,
		Events:  &fakeEvents{},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, h
}

func doRequest(t *testing.T, srv *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
}

// testDevice is a real WebSocket client registered with the hub.
type testDevice struct {
	id   string
	conn *websocket.Conn
}

func (d *testDevice) read(t *testing.T) hub.Message {
	t.Helper()
	d.conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, frame, err := d.conn.ReadMessage()
	if err != nil {
		t.Fatalf("device read: %v", err)
	}
	msg, err := hub.ParseMessage(frame)
	if err != nil {
		t.Fatalf("device parse: %v", err)
	}
	return msg
}

// startDevices serves the router and connects one device per registration.
func startDevices(t *testing.T, srv *Server, regs ...device.Registration) []*testDevice {
	t.Helper()
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	out := make([]*testDevice, 0, len(regs))
	for _, reg := range regs {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		d := &testDevice{conn: conn}
		if msg := d.read(t); msg.Type != hub.TypeConnectionEstablished {
			t.Fatalf("greeting = %s", msg.Type)
		}

		env, _ := hub.NewMessage(hub.TypeDeviceRegistration, "", reg)
		frame, _ := env.Encode()
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		msg := d.read(t)
		if msg.Type != hub.TypeRegistrationSuccess {
			t.Fatalf("registration reply = %s %s", msg.Type, msg.Data)
		}
		d.id = msg.DeviceID
		out = append(out, d)
	}
	return out
}

func displayReg(name string) device.Registration {
	return device.Registration{
		Name:         name,
		Type:         device.TypeDisplay,
		Capabilities: []string{device.CapabilityTransitDisplay},
		Config:       device.Config{"brightness": 80.0},
	}
}

func sensorReg(name string) device.Registration {
	return device.Registration{Name: name, Type: device.TypeSensor, Capabilities: []string{"temperature"}}
}

// ─── Health & Metrics ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "")
	for _, path := range []string{"/health", "/api/v1/health"} {
		w := doRequest(t, srv, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
		var resp map[string]any
		decodeBody(t, w, &resp)
		if resp["status"] != "healthy" || resp["version"] != "test" {
			t.Errorf("%s body = %v", path, resp)
		}
		if _, ok := resp["devices"].(map[string]any); !ok {
			t.Errorf("%s missing devices stats", path)
		}
	}
}

func TestMetricsEndpoints(t *testing.T) {
	srv, _ := testServer(t, "")
	startDevices(t, srv, displayReg("Display"))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var m SystemMetrics
	decodeBody(t, w, &m)
	if m.Devices.Total != 1 || m.Hub.BoundDevices != 1 {
		t.Errorf("metrics = %+v", m)
	}

	w = doRequest(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"busnephew_hub_connected_devices", "busnephew_hub_registrations_total", "busnephew_api_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

// ─── Devices ──────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t, "")
	startDevices(t, srv, displayReg("D1"), displayReg("D2"), sensorReg("S1"))

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?type=display", 2},
		{"?type=sensor", 1},
		{"?status=connected", 3},
		{"?status=error", 0},
		{"?capability=transit_display", 2},
		{"?capability=transit_display,temperature", 0},
		{"?type=sensor&capability=temperature", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodGet, "/api/v1/devices"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			var resp struct {
				Devices []device.Device `json:"devices"`
				Count   int             `json:"count"`
			}
			decodeBody(t, w, &resp)
			if resp.Count != tt.want || len(resp.Devices) != tt.want {
				t.Errorf("count = %d (%d devices), want %d", resp.Count, len(resp.Devices), tt.want)
			}
		})
	}

	for _, bad := range []string{"?type=toaster", "?status=asleep"} {
		if w := doRequest(t, srv, http.MethodGet, "/api/v1/devices"+bad, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", bad, w.Code)
		}
	}
}

func TestDeviceStats(t *testing.T) {
	srv, _ := testServer(t, "")
	startDevices(t, srv, displayReg("D1"), sensorReg("S1"))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/stats", "")
	var resp struct {
		Total       int            `json:"total"`
		ByStatus    map[string]int `json:"byStatus"`
		ByType      map[string]int `json:"byType"`
		Connections int            `json:"connections"`
	}
	decodeBody(t, w, &resp)
	if resp.Total != 2 || resp.ByStatus["connected"] != 2 || resp.ByType["display"] != 1 || resp.Connections != 2 {
		t.Errorf("stats = %+v", resp)
	}
	if _, ok := resp.ByType["kiosk"]; !ok {
		t.Error("stats should list zero counts")
	}
}

func TestGetDevice(t *testing.T) {
	srv, _ := testServer(t, "")
	devs := startDevices(t, srv, displayReg("D1"))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/"+devs[0].id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var dev device.Device
	decodeBody(t, w, &dev)
	if dev.ID != devs[0].id || dev.Name != "D1" {
		t.Errorf("device = %+v", dev)
	}

	if w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestUpdateDeviceConfig(t *testing.T) {
	srv, _ := testServer(t, "")
	devs := startDevices(t, srv, displayReg("D1"))
	path := "/api/v1/devices/" + devs[0].id + "/config"

	w := doRequest(t, srv, http.MethodPut, path, `{"config":{"mode":"night"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	msg := devs[0].read(t)
	if msg.Type != hub.TypeConfigUpdate {
		t.Fatalf("device received %s, want config_update", msg.Type)
	}
	var p hub.ConfigUpdate
	if err := msg.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Config["mode"] != "night" || p.Config["brightness"] != 80.0 {
		t.Errorf("pushed config = %v", p.Config)
	}

	for _, body := range []string{`not json`, `{}`, `{"config":"x"}`} {
		if w := doRequest(t, srv, http.MethodPut, path, body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s status = %d, want 400", body, w.Code)
		}
	}
	if w := doRequest(t, srv, http.MethodPut, "/api/v1/devices/nope/config", `{"config":{}}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestSendMessage(t *testing.T) {
	srv, _ := testServer(t, "")
	devs := startDevices(t, srv, displayReg("D1"))
	path := "/api/v1/devices/" + devs[0].id + "/message"

	w := doRequest(t, srv, http.MethodPost, path, `{"type":"reboot","data":{"delay":5}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	msg := devs[0].read(t)
	if msg.Type != "reboot" || msg.DeviceID != devs[0].id || !strings.Contains(string(msg.Data), `"delay":5`) {
		t.Errorf("device received %+v", msg)
	}

	doRequest(t, srv, http.MethodPost, path, `{"type":"ping"}`)
	if msg := devs[0].read(t); string(msg.Data) != "{}" {
		t.Errorf("missing data should be sent as {}, got %s", msg.Data)
	}

	if w := doRequest(t, srv, http.MethodPost, path, `{"data":{}}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing type status = %d, want 400", w.Code)
	}
	if w := doRequest(t, srv, http.MethodPost, "/api/v1/devices/nope/message", `{"type":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestBroadcast(t *testing.T) {
	srv, _ := testServer(t, "")
	devs := startDevices(t, srv, displayReg("D1"), displayReg("D2"), sensorReg("S1"))

	tests := []struct {
		body string
		want int
	}{
		{`{"type":"announcement","data":{"text":"hi"}}`, 3},
		{`{"type":"announcement","deviceFilter":{"type":"display"}}`, 2},
		{`{"type":"announcement","deviceFilter":{"capabilities":["temperature"]}}`, 1},
		{`{"type":"announcement","deviceFilter":{"status":"disconnected"}}`, 0},
	}
	for _, tt := range tests {
		w := doRequest(t, srv, http.MethodPost, "/api/v1/broadcast", tt.body)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			SentCount int `json:"sentCount"`
		}
		decodeBody(t, w, &resp)
		if resp.SentCount != tt.want {
			t.Errorf("%s sentCount = %d, want %d", tt.body, resp.SentCount, tt.want)
		}
	}

	// The sensor got exactly the unfiltered and capability broadcasts.
	for range 2 {
		if msg := devs[2].read(t); msg.Type != "announcement" || msg.DeviceID != "" {
			t.Errorf("sensor received %+v", msg)
		}
	}

	for _, body := range []string{`{}`, `{"type":"x","deviceFilter":{"type":"toaster"}}`} {
		if w := doRequest(t, srv, http.MethodPost, "/api/v1/broadcast", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", body, w.Code)
		}
	}
}

// ─── Events ───────────────────────────────────────────────────────

func TestEvents(t *testing.T) {
	srv, _ := testServer(t, "")
	events := srv.events.(*fakeEvents)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/events?kind=registered&limit=10&offset=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res device.EventListResult
	decodeBody(t, w, &res)
	if res.Total != 1 || len(res.Events) != 1 {
		t.Errorf("result = %+v", res)
	}
	if events.last.Kind != device.EventRegistered || events.last.Limit != 10 || events.last.Offset != 5 {
		t.Errorf("filter = %+v", events.last)
	}

	doRequest(t, srv, http.MethodGet, "/api/v1/devices/d42/events", "")
	if events.last.DeviceID != "d42" {
		t.Errorf("device filter = %q", events.last.DeviceID)
	}

	if w := doRequest(t, srv, http.MethodGet, "/api/v1/events?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	srv.events = nil
	if w := doRequest(t, srv, http.MethodGet, "/api/v1/events", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled journal status = %d, want 503", w.Code)
	}
}

// ─── Auth ─────────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	srv, _ := testServer(t, testJWTSecret)

	viewer, err := auth.GenerateAccessToken("dash", auth.RoleViewer, testJWTSecret, 5)
	if err != nil {
		t.Fatal(err)
	}
	operator, _ := auth.GenerateAccessToken("ops", auth.RoleOperator, testJWTSecret, 5)
	foreign, _ := auth.GenerateAccessToken("ops", auth.RoleOperator, "some-other-secret-some-other-secret", 5)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"health open", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
		{"no token", http.MethodGet, "/api/v1/devices", "", "", http.StatusUnauthorized},
		{"foreign token", http.MethodGet, "/api/v1/devices", "", foreign, http.StatusUnauthorized},
		{"viewer read", http.MethodGet, "/api/v1/devices", "", viewer, http.StatusOK},
		{"viewer events", http.MethodGet, "/api/v1/events", "", viewer, http.StatusOK},
		{"viewer broadcast", http.MethodPost, "/api/v1/broadcast", `{"type":"x"}`, viewer, http.StatusForbidden},
		{"operator broadcast", http.MethodPost, "/api/v1/broadcast", `{"type":"x"}`, operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.token != "" {
				headers = []string{"Authorization", "Bearer " + tt.token}
			}
			w := doRequest(t, srv, tt.method, tt.path, tt.body, headers...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Middleware ───────────────────────────────────────────────────

func TestCORS(t *testing.T) {
	srv, _ := testServer(t, "")

	w := doRequest(t, srv, http.MethodOptions, "/api/v1/devices", "", "Origin", "http://localhost:5173")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/health", "", "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin echoed: %q", got)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, "")
	w := doRequest(t, srv, http.MethodGet, "/health", "", "X-Request-ID", "abc123")
	if got := w.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q", got)
	}
	w = doRequest(t, srv, http.MethodGet, "/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("request id not generated")
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv, _ := testServer(t, "")
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err == nil {
		t.Fatal("dial from a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────

func TestStartClose(t *testing.T) {
	srv, _ := testServer(t, "")
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if srv.Port() == 0 {
		t.Fatal("Port() = 0 after Start")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", srv.Addr()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without hub should fail")
	}
}
