package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homecore/internal/auth"
	"github.com/nerrad567/homecore/internal/eventbus"
	"github.com/nerrad567/homecore/internal/history"
	"github.com/nerrad567/homecore/internal/infrastructure/config"
	"github.com/nerrad567/homecore/internal/infrastructure/logging"
	"github.com/nerrad567/homecore/internal/state"
)

const (
	testPassword = "letmein"
	testSecret   = "test-secret-key-at-least-32-characters-long"
)

// testServer creates a Server around a fresh bus and state machine.
func testServer(t *testing.T, opts ...func(*Deps)) (*Server, *state.Machine, *eventbus.Bus) {
	t.Helper()

	bus := eventbus.New()
	machine := state.NewMachine(bus)

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Password: testPassword,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testSecret,
				AccessTokenTTL: 15,
			},
		},
		Logger:  logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Machine: machine,
		Bus:     bus,
		Version: "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, machine, bus
}

// post sends a form-encoded POST through h.
func post(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding envelope %q: %v", rec.Body.String(), err)
	}
	return body
}

func authed(kv ...string) url.Values {
	form := url.Values{"api_password": {testPassword}}
	for i := 0; i+1 < len(kv); i += 2 {
		form.Add(kv[i], kv[i+1])
	}
	return form
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Output: "stdout"}, "test")
	bus := eventbus.New()
	machine := state.NewMachine(bus)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Machine: machine, Bus: bus}},
		{"no machine", Deps{Logger: log, Bus: bus}},
		{"no bus", Deps{Logger: log, Machine: machine}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestStateCategories(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()
	ctx := context.Background()
	_ = machine.Set(ctx, "light.kitchen", "on", nil)
	_ = machine.Set(ctx, "switch.fan", "off", nil)

	rec := post(t, h, "/api/state/categories", authed())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	if body["status"] != StatusOK {
		t.Errorf("status field = %v", body["status"])
	}
	cats, _ := body["categories"].([]any)
	if len(cats) != 2 || cats[0] != "light.kitchen" || cats[1] != "switch.fan" {
		t.Errorf("categories = %v", body["categories"])
	}
}

func TestPassword_ArgonHash(t *testing.T) {
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	srv, _, _ := testServer(t, func(d *Deps) { d.Config.Password = hash })
	h := srv.buildRouter()

	if rec := post(t, h, "/api/state/categories", authed()); rec.Code != http.StatusOK {
		t.Errorf("plaintext against hash: status = %d, want 200", rec.Code)
	}
	form := url.Values{"api_password": {hash}}
	if rec := post(t, h, "/api/state/categories", form); rec.Code != http.StatusUnauthorized {
		t.Errorf("hash as password: status = %d, want 401", rec.Code)
	}
}

func TestStateGet(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()
	_ = machine.Set(context.Background(), "light.kitchen", "on", map[string]any{"brightness": 80})

	tests := []struct {
		name       string
		form       url.Values
		wantCode   int
		wantStatus string
	}{
		{"known category", authed("category", "light.kitchen"), http.StatusOK, StatusOK},
		{"missing category", authed(), http.StatusBadRequest, StatusError},
		{"unknown category", authed("category", "light.none"), http.StatusBadRequest, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, "/api/state/get", tt.form)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decodeEnvelope(t, rec)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %v", body["status"], tt.wantStatus)
			}
			if body["message"] == "" {
				t.Error("message is empty")
			}
		})
	}

	body := decodeEnvelope(t, post(t, h, "/api/state/get", authed("category", "light.kitchen")))
	if body["state"] != "on" || body["category"] != "light.kitchen" {
		t.Errorf("envelope = %v", body)
	}
	if attrs, _ := body["attributes"].(map[string]any); attrs["brightness"] != 80.0 {
		t.Errorf("attributes = %v", body["attributes"])
	}
	if _, err := time.ParseInLocation(state.TimeFormat, body["last_changed"].(string), time.Local); err != nil {
		t.Errorf("last_changed %v: %v", body["last_changed"], err)
	}
}

func TestUnauthorized_JSON(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()
	_ = machine.Set(context.Background(), "light.kitchen", "on", map[string]any{"brightness": 80})

	paths := []string{"/api/state/categories", "/api/state/get", "/api/state/change", "/api/event/fire", "/api/auth/token"}
	forms := []url.Values{
		{"api_password": {"wrong"}, "category": {"light.kitchen"}},
		{"category": {"light.kitchen"}},
		{"api_password": {"wrong"}, "category": {"light.none"}},
	}

	for _, path := range paths {
		for _, form := range forms {
			rec := post(t, h, path, form)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s code = %d, want 401", path, rec.Code)
			}
			body := decodeEnvelope(t, rec)
			if body["status"] != StatusUnauthorized {
				t.Errorf("%s status = %v", path, body["status"])
			}
			if len(body) != 2 {
				t.Errorf("%s leaked fields: %v", path, body)
			}
		}
	}

	if !machine.Is("light.kitchen", "on") {
		t.Error("unauthorized request changed state")
	}
}

func TestUnauthorized_PasswordInQueryIgnoredForPOST(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/state/categories?api_password="+testPassword, nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", rec.Code)
	}
}

func TestStateChange_MismatchedLengths(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()

	form := authed("category", "a", "category", "b", "new_state", "1")
	rec := post(t, h, "/api/state/change", form)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}

	body := decodeEnvelope(t, rec)
	changed, _ := body["changed"].([]any)
	if len(changed) != 1 || changed[0] != "a=1" {
		t.Errorf("changed = %v, want [a=1]", body["changed"])
	}
	if !machine.Is("a", "1") {
		t.Error("aligned pair not applied")
	}
	if _, ok := machine.Get("b"); ok {
		t.Error("unaligned category was created")
	}
}

func TestStateChange_MalformedAttributesAppliesNothing(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()

	form := authed(
		"category", "a", "new_state", "1", "attributes", `{"x":1}`,
		"category", "b", "new_state", "2", "attributes", `{bad`,
	)
	rec := post(t, h, "/api/state/change", form)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	if decodeEnvelope(t, rec)["status"] != StatusError {
		t.Error("status != ERROR")
	}
	if len(machine.Categories()) != 0 {
		t.Errorf("partially applied: %v", machine.Categories())
	}
}

func TestStateChange_Attributes(t *testing.T) {
	tests := []struct {
		name      string
		attrs     []string
		wantCode  int
		wantAttrs map[string]any
	}{
		{name: "object replaces", attrs: []string{`{"brightness":80}`}, wantCode: http.StatusOK, wantAttrs: map[string]any{"brightness": 80.0}},
		{name: "absent keeps", attrs: nil, wantCode: http.StatusOK, wantAttrs: map[string]any{"old": true}},
		{name: "empty keeps", attrs: []string{""}, wantCode: http.StatusOK, wantAttrs: map[string]any{"old": true}},
		{name: "null keeps", attrs: []string{"null"}, wantCode: http.StatusOK, wantAttrs: map[string]any{"old": true}},
		{name: "empty object clears", attrs: []string{"{}"}, wantCode: http.StatusOK, wantAttrs: map[string]any{}},
		{name: "array rejected", attrs: []string{"[1,2]"}, wantCode: http.StatusBadRequest, wantAttrs: map[string]any{"old": true}},
		{name: "string rejected", attrs: []string{`"x"`}, wantCode: http.StatusBadRequest, wantAttrs: map[string]any{"old": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, machine, _ := testServer(t)
			_ = machine.Set(context.Background(), "light.kitchen", "off", map[string]any{"old": true})

			form := authed("category", "light.kitchen", "new_state", "on")
			for _, a := range tt.attrs {
				form.Add("attributes", a)
			}
			rec := post(t, srv.buildRouter(), "/api/state/change", form)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}

			got, _ := machine.Get("light.kitchen")
			if len(got.Attributes) != len(tt.wantAttrs) {
				t.Fatalf("attributes = %v, want %v", got.Attributes, tt.wantAttrs)
			}
			for k, v := range tt.wantAttrs {
				if got.Attributes[k] != v {
					t.Errorf("attributes[%s] = %v, want %v", k, got.Attributes[k], v)
				}
			}
		})
	}
}

func TestStateChange_CreatesUnknownCategory(t *testing.T) {
	srv, machine, _ := testServer(t)

	rec := post(t, srv.buildRouter(), "/api/state/change", authed("category", "sensor.new", "new_state", "12"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !machine.Is("sensor.new", "12") {
		t.Error("unknown category not created")
	}
}

func TestStateChange_InvalidParams(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.buildRouter()

	for name, form := range map[string]url.Values{
		"no category":    authed("new_state", "on"),
		"no new_state":   authed("category", "a"),
		"empty category": authed("category", "", "new_state", "on"),
	} {
		t.Run(name, func(t *testing.T) {
			if rec := post(t, h, "/api/state/change", form); rec.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", rec.Code)
			}
		})
	}
}

func TestEventFire(t *testing.T) {
	srv, _, bus := testServer(t)
	h := srv.buildRouter()

	var (
		mu       sync.Mutex
		received []eventbus.Event
	)
	bus.Listen("doorbell", func(_ context.Context, e eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	})

	tests := []struct {
		name     string
		form     url.Values
		wantCode int
		wantData any
		fired    bool
	}{
		{"with data", authed("event_name", "doorbell", "event_data", `{"button":"front"}`), http.StatusOK, map[string]any{"button": "front"}, true},
		{"empty data", authed("event_name", "doorbell", "event_data", ""), http.StatusOK, nil, true},
		{"no data", authed("event_name", "doorbell"), http.StatusOK, nil, true},
		{"invalid json", authed("event_name", "doorbell", "event_data", "{invalid json"), http.StatusBadRequest, nil, false},
		{"missing name", authed("event_data", "{}"), http.StatusBadRequest, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			received = nil
			mu.Unlock()

			rec := post(t, h, "/api/event/fire", tt.form)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			mu.Lock()
			defer mu.Unlock()
			if !tt.fired {
				if len(received) != 0 {
					t.Errorf("listener invoked %d times, want 0", len(received))
				}
				return
			}
			if len(received) != 1 {
				t.Fatalf("listener invoked %d times, want 1", len(received))
			}
			if tt.wantData == nil {
				if received[0].Data != nil {
					t.Errorf("data = %v, want nil", received[0].Data)
				}
				return
			}
			if m, _ := received[0].Data.(map[string]any); m["button"] != "front" {
				t.Errorf("data = %v", received[0].Data)
			}
		})
	}
}

func TestHTMLMode_FlashShownOnce(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()

	rec := post(t, h, "/state/change", authed("category", "light.kitchen", "new_state", "on"))
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("code = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/?api_password="+testPassword {
		t.Errorf("Location = %q", loc)
	}
	if !machine.Is("light.kitchen", "on") {
		t.Error("HTML change not applied")
	}

	first := get(t, h, "/?api_password="+testPassword)
	if first.Code != http.StatusOK {
		t.Fatalf("index code = %d", first.Code)
	}
	if !strings.Contains(first.Body.String(), "States changed: light.kitchen=on") {
		t.Errorf("flash missing from first render:\n%s", first.Body)
	}
	if !strings.Contains(first.Body.String(), "<td>light.kitchen</td>") {
		t.Error("entity table missing light.kitchen")
	}

	second := get(t, h, "/?api_password="+testPassword)
	if strings.Contains(second.Body.String(), "States changed") {
		t.Error("flash rendered twice")
	}
}

func TestHTMLMode_ErrorsUseFlash(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.buildRouter()

	rec := post(t, h, "/event/fire", authed("event_name", "x", "event_data", "{nope"))
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("code = %d, want 301", rec.Code)
	}
	page := get(t, h, "/?api_password="+testPassword)
	if !strings.Contains(page.Body.String(), "Invalid event_data") {
		t.Errorf("error flash missing:\n%s", page.Body)
	}
}

func TestHTMLMode_Unauthorized(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()
	_ = machine.Set(context.Background(), "light.secret", "on", nil)

	rec := post(t, h, "/state/change", url.Values{"api_password": {"wrong"}, "category": {"x"}, "new_state": {"1"}})
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/" {
		t.Errorf("code = %d, Location = %q; want 301 to /", rec.Code, rec.Header().Get("Location"))
	}
	if _, ok := machine.Get("x"); ok {
		t.Error("unauthorized HTML change applied")
	}

	for _, target := range []string{"/", "/?api_password=wrong"} {
		page := get(t, h, target)
		if page.Code != http.StatusOK {
			t.Errorf("%s code = %d, want 200", target, page.Code)
		}
		body := page.Body.String()
		if !strings.Contains(body, `name="api_password"`) {
			t.Errorf("%s did not render password form", target)
		}
		if strings.Contains(body, "light.secret") {
			t.Errorf("%s leaked entity data", target)
		}
	}
}

func TestIndex_EscapesEntityData(t *testing.T) {
	srv, machine, _ := testServer(t)
	_ = machine.Set(context.Background(), "sensor.x", "<script>alert(1)</script>", nil)

	body := get(t, srv.buildRouter(), "/?api_password="+testPassword).Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("state value rendered unescaped")
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.buildRouter()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/api/nope"},
		{http.MethodPost, "/api/"},
		{http.MethodGet, "/state/get"},
		{http.MethodGet, "/api/state/get"},
		{http.MethodPost, "/"},
		{http.MethodPut, "/api/event/fire"},
		{http.MethodPost, "/state/history"},
		{http.MethodPost, "/api/state/history"}, // history store not configured
		{http.MethodPost, "/api/event/log"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != http.StatusNotFound {
				t.Errorf("code = %d, want 404", rec.Code)
			}
		})
	}
}

// fakeHistory implements history.Repository and history.EventLog in memory.
type fakeHistory struct {
	entries []history.Entry
	events  []history.EventRecord
	filter  history.EventFilter
	limit   int
	err     error
}

func (f *fakeHistory) Record(context.Context, state.State) error { return nil }

func (f *fakeHistory) Get(_ context.Context, _ string, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func (f *fakeHistory) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeHistory) RecordEvent(context.Context, eventbus.Event) error { return nil }

func (f *fakeHistory) ListEvents(_ context.Context, filter history.EventFilter) ([]history.EventRecord, error) {
	f.filter = filter
	return f.events, f.err
}

func (f *fakeHistory) PruneEvents(context.Context, time.Duration) (int64, error) { return 0, nil }

func TestStateHistory(t *testing.T) {
	fake := &fakeHistory{entries: []history.Entry{
		{ID: 2, State: state.State{Category: "light.kitchen", State: "off"}},
		{ID: 1, State: state.State{Category: "light.kitchen", State: "on"}},
	}}
	srv, _, _ := testServer(t, func(d *Deps) { d.History = fake })
	h := srv.buildRouter()

	rec := post(t, h, "/api/state/history", authed("category", "light.kitchen", "limit", "5"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	body := decodeEnvelope(t, rec)
	if entries, _ := body["history"].([]any); len(entries) != 2 {
		t.Errorf("history = %v", body["history"])
	}
	if fake.limit != 5 {
		t.Errorf("limit passed = %d, want 5", fake.limit)
	}

	for name, form := range map[string]url.Values{
		"missing category": authed(),
		"bad limit":        authed("category", "light.kitchen", "limit", "ten"),
		"negative limit":   authed("category", "light.kitchen", "limit", "-1"),
	} {
		if rec := post(t, h, "/api/state/history", form); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", name, rec.Code)
		}
	}

	fake.err = errors.New("disk gone")
	if rec := post(t, h, "/api/state/history", authed("category", "light.kitchen")); rec.Code != http.StatusBadRequest {
		t.Errorf("store error: code = %d, want 400", rec.Code)
	}
}

func TestEventLog(t *testing.T) {
	fake := &fakeHistory{}
	srv, _, _ := testServer(t, func(d *Deps) { d.Events = fake })
	h := srv.buildRouter()

	rec := post(t, h, "/api/event/log", authed("event_type", "doorbell", "limit", "3", "offset", "1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body)
	}
	body := decodeEnvelope(t, rec)
	if events, ok := body["events"].([]any); !ok || len(events) != 0 {
		t.Errorf("events = %v, want empty list", body["events"])
	}
	want := history.EventFilter{Type: "doorbell", Limit: 3, Offset: 1}
	if fake.filter != want {
		t.Errorf("filter = %+v, want %+v", fake.filter, want)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := get(t, srv.buildRouter(), "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["version"] != "test" || body["status"] != StatusOK {
		t.Errorf("body = %v", body)
	}

	failing, _, _ := testServer(t, func(d *Deps) { d.DB = failingDB{} })
	if rec := get(t, failing.buildRouter(), "/api/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

type failingDB struct{}

func (failingDB) HealthCheck(context.Context) error { return errors.New("closed") }

func TestMetrics(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()
	_ = machine.Set(context.Background(), "light.kitchen", "on", nil)

	if rec := get(t, h, "/api/metrics?api_password=wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthorized code = %d, want 401", rec.Code)
	}

	_ = post(t, h, "/api/state/categories", authed())
	rec := get(t, h, "/api/metrics?api_password="+testPassword)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"homecore_entities 1",
		`homecore_http_requests_total{code="200",method="POST",route="/api/state/categories"} 1`,
		"homecore_websocket_clients 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	srv, _, _ := testServer(t, func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})
	h := srv.buildRouter()

	for i := range 2 {
		if rec := get(t, h, "/api/health"); rec.Code != http.StatusOK {
			t.Fatalf("request %d code = %d", i, rec.Code)
		}
	}
	rec := get(t, h, "/api/health")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.buildRouter()

	rec := get(t, h, "/api/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS(t *testing.T) {
	srv, _, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://panel.local"}
	})
	h := srv.buildRouter()

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/state/get", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://panel.local")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://panel.local" {
		t.Errorf("allowed preflight: code = %d, headers = %v", rec.Code, rec.Header())
	}

	rec = preflight("https://evil.example")
	if rec.Code != http.StatusNotFound || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("disallowed preflight: code = %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := get(t, h, "/")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, _, _ := testServer(t)

	big := url.Values{"api_password": {testPassword}, "event_name": {"x"}, "event_data": {strings.Repeat("a", maxRequestBodySize)}}
	rec := post(t, srv.buildRouter(), "/api/event/fire", big)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestConcurrentRequests(t *testing.T) {
	srv, machine, _ := testServer(t)
	h := srv.buildRouter()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v := string(rune('a' + i))
			post(t, h, "/api/state/change", authed("category", "counter", "new_state", v, "attributes", `{"v":"`+v+`"}`))
		}()
		go func() {
			defer wg.Done()
			post(t, h, "/api/state/get", authed("category", "counter"))
		}()
	}
	wg.Wait()

	got, ok := machine.Get("counter")
	if !ok || got.Attributes["v"] != got.State {
		t.Errorf("final state torn: %+v", got)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _, _ := testServer(t)

	if srv.Addr() != "" {
		t.Error("Addr() before Start should be empty")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup

	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestServer_StartsOnHomeStart(t *testing.T) {
	srv, _, bus := testServer(t)
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup

	bus.ListenOnce(eventbus.EventHomeStart, func(ctx context.Context, _ eventbus.Event) error {
		return srv.Start(ctx)
	})
	if srv.Addr() != "" {
		t.Fatal("server started before homecore_start")
	}

	bus.Fire(context.Background(), eventbus.EventHomeStart, nil)
	bus.Fire(context.Background(), eventbus.EventHomeStart, nil)

	if srv.Addr() == "" {
		t.Error("server not started by homecore_start")
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv, _, _ := testServer(t, func(d *Deps) {
		d.Config.Port = ln.Addr().(*net.TCPAddr).Port
	})
	if err := srv.Start(context.Background()); err == nil {
		srv.Close() //nolint:errcheck // Test cleanup
		t.Fatal("Start() expected error for port in use")
	}
	if srv.Addr() != "" {
		t.Error("Addr() set after failed Start")
	}
}

func TestServer_RealRoundTrip(t *testing.T) {
	srv, machine, _ := testServer(t)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	resp, err := http.PostForm(ts.URL+"/api/state/change", authed("category", "light.kitchen", "new_state", "on", "attributes", `{"brightness":80}`))
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain
	resp.Body.Close()

	got, _ := machine.Get("light.kitchen")
	if got.State != "on" || got.Attributes["brightness"] != 80.0 {
		t.Errorf("state = %+v", got)
	}
}
