package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/homecore/internal/auth"
	"github.com/nerrad567/homecore/internal/infrastructure/config"
)

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a minimal config with MQTT and InfluxDB disabled.
func writeConfig(t *testing.T, port int, extra string) string {
	t.Helper()

	dir := t.TempDir()
	content := fmt.Sprintf(`
site:
  id: test-site

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

api:
  host: "127.0.0.1"
  port: %d
  password: "letmein"

security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
  rate_limit:
    enabled: false

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
%s`, filepath.Join(dir, "homecore.db"), port, extra)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HOMECORE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config failure", err)
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	path := writeConfig(t, freePort(t), "")
	t.Setenv("HOMECORE_CONFIG", path)
	t.Setenv("HOMECORE_JWT_SECRET", "short")

	if err := run(context.Background()); err == nil {
		t.Error("run() expected error for short JWT secret")
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	t.Setenv("HOMECORE_CONFIG", writeConfig(t, port, ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := http.PostForm(base+"/api/state/change", url.Values{
			"api_password": {"letmein"},
			"category":     {"light.kitchen"},
			"new_state":    {"on"},
		})
		if err == nil {
			resp = r
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if resp == nil {
		cancel()
		t.Fatalf("API never came up: %v", <-done)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("state/change status = %d", resp.StatusCode)
	}

	hist, err := http.PostForm(base+"/api/state/history", url.Values{
		"api_password": {"letmein"},
		"category":     {"light.kitchen"},
	})
	if err != nil {
		t.Fatal(err)
	}
	hist.Body.Close()
	if hist.StatusCode != http.StatusOK {
		t.Errorf("state/history status = %d", hist.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRun_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	t.Setenv("HOMECORE_CONFIG", writeConfig(t, ln.Addr().(*net.TCPAddr).Port, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil || !strings.Contains(err.Error(), "starting API server") {
		t.Errorf("run() error = %v, want API start failure", err)
	}
}

func TestObservabilityConfig_MergesEnvHeaders(t *testing.T) {
	t.Setenv("HOMECORE_OTEL_HEADERS", "authorization=Bearer abc,x-tenant=home")

	got := observabilityConfig(config.ObservabilityConfig{
		Headers: map[string]string{"x-tenant": "file", "x-keep": "1"},
	})
	want := map[string]string{"authorization": "Bearer abc", "x-tenant": "home", "x-keep": "1"}
	if len(got.Headers) != len(want) {
		t.Fatalf("headers = %v, want %v", got.Headers, want)
	}
	for k, v := range want {
		if got.Headers[k] != v {
			t.Errorf("headers[%s] = %q, want %q", k, got.Headers[k], v)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("HOMECORE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("HOMECORE_CONFIG", "/etc/homecore.yaml")
	if got := getConfigPath(); got != "/etc/homecore.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestHashPassword(t *testing.T) {
	var out strings.Builder
	if err := hashPassword(strings.NewReader("s3cret\n"), &out); err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if ok, err := auth.VerifyPassword("s3cret", hash); err != nil || !ok {
		t.Errorf("VerifyPassword() = %v, %v for %q", ok, err, hash)
	}

	if err := hashPassword(strings.NewReader(""), &out); err == nil {
		t.Error("hashPassword() expected error for empty input")
	}
}

func TestMigrate(t *testing.T) {
	t.Setenv("HOMECORE_CONFIG", writeConfig(t, freePort(t), ""))
	ctx := context.Background()

	steps := []struct {
		action      string
		wantApplied int
		wantPending int
	}{
		{"status", 0, 2},
		{"up", 2, 0},
		{"down", 1, 1},
		{"status", 1, 1},
		{"up", 2, 0},
	}
	for _, st := range steps {
		var out strings.Builder
		if err := migrate(ctx, []string{st.action}, &out); err != nil {
			t.Fatalf("migrate %s: %v", st.action, err)
		}
		got := out.String()
		if n := strings.Count(got, "\napplied "); n != st.wantApplied {
			t.Errorf("migrate %s: applied rows = %d, want %d\n%s", st.action, n, st.wantApplied, got)
		}
		if n := strings.Count(got, "\npending "); n != st.wantPending {
			t.Errorf("migrate %s: pending rows = %d, want %d\n%s", st.action, n, st.wantPending, got)
		}
	}
}

func TestMigrate_Usage(t *testing.T) {
	t.Setenv("HOMECORE_CONFIG", writeConfig(t, freePort(t), ""))

	for _, args := range [][]string{nil, {"sideways"}, {"up", "extra"}} {
		if err := migrate(context.Background(), args, io.Discard); !errors.Is(err, errMigrateUsage) {
			t.Errorf("migrate(%v) = %v, want usage error", args, err)
		}
	}
}
