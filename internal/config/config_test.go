package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvStrSliceValid(t *testing.T) {
	t.Setenv("TEST_SLICE", "a, b ,c")
	got := envStrSlice("TEST_SLICE", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEnvStrSliceFallback(t *testing.T) {
	got := envStrSlice("TEST_SLICE_MISSING", []string{"*"})
	if len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected fallback [*], got %v", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("ARBITERD_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid ARBITERD_PORT")
	}
	if got := err.Error(); !contains(got, "ARBITERD_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention ARBITERD_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("ARBITERD_PORT", "abc")
	t.Setenv("ARBITERD_MAX_TOLERANCE", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "ARBITERD_PORT") {
		t.Fatalf("error should mention ARBITERD_PORT, got: %s", got)
	}
	if !contains(got, "ARBITERD_MAX_TOLERANCE") {
		t.Fatalf("error should mention ARBITERD_MAX_TOLERANCE, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected RedisAddr empty by default, got %q", cfg.RedisAddr)
	}
	if cfg.SimulatorURL != "ws://localhost:9000/engine" {
		t.Fatalf("expected default SimulatorURL, got %q", cfg.SimulatorURL)
	}
	if _, ok := cfg.MapPool["1v1"]; !ok {
		t.Fatal("expected default map pool to seed mode 1v1")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoad_JWTKeyPathValidation(t *testing.T) {
	bogusPath := "/tmp/arbiterd-test-nonexistent-key-file.pem"
	t.Setenv("ARBITERD_JWT_PUBLIC_KEY", bogusPath)

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when ARBITERD_JWT_PUBLIC_KEY points to a nonexistent file")
	}
	got := err.Error()
	if !contains(got, bogusPath) {
		t.Fatalf("error should mention the path %q, got: %s", bogusPath, got)
	}
	if !contains(got, "ARBITERD_JWT_PUBLIC_KEY") {
		t.Fatalf("error should mention ARBITERD_JWT_PUBLIC_KEY, got: %s", got)
	}
}

func TestLoad_JWTKeyEmptySucceeds(t *testing.T) {
	t.Setenv("ARBITERD_JWT_PUBLIC_KEY", "")

	_, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with an empty public key path, got: %v", err)
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_MaxToleranceBelowInitialFails(t *testing.T) {
	t.Setenv("ARBITERD_INITIAL_TOLERANCE", "300")
	t.Setenv("ARBITERD_MAX_TOLERANCE", "100")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when MAX_TOLERANCE < INITIAL_TOLERANCE")
	}
	if !contains(err.Error(), "ARBITERD_MAX_TOLERANCE") {
		t.Fatalf("error should mention ARBITERD_MAX_TOLERANCE, got: %s", err.Error())
	}
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("ARBITERD_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("NOTIFY_URL", "postgres://test:test@db:5432/testdb_notify")
	t.Setenv("ARBITERD_REDIS_ADDR", "localhost:6379")
	t.Setenv("ARBITERD_SIMULATOR_URL", "wss://engine.example.com/v1")
	t.Setenv("ARBITERD_QUEUE_TIMEOUT", "10m")
	t.Setenv("OTEL_SERVICE_NAME", "arbiterd-test")
	t.Setenv("ARBITERD_LOG_LEVEL", "debug")
	t.Setenv("ARBITERD_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("ARBITERD_MATCH_RETENTION", "1m")
	t.Setenv("ARBITERD_FACTION_HISTORY_WINDOW", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.Port != 9090 {
		t.Fatalf("expected Port 9090, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.NotifyURL != "postgres://test:test@db:5432/testdb_notify" {
		t.Fatalf("expected NotifyURL %q, got %q", "postgres://test:test@db:5432/testdb_notify", cfg.NotifyURL)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("expected RedisAddr %q, got %q", "localhost:6379", cfg.RedisAddr)
	}
	if cfg.SimulatorURL != "wss://engine.example.com/v1" {
		t.Fatalf("expected SimulatorURL %q, got %q", "wss://engine.example.com/v1", cfg.SimulatorURL)
	}
	if cfg.QueueTimeout != 10*time.Minute {
		t.Fatalf("expected QueueTimeout 10m, got %s", cfg.QueueTimeout)
	}
	if cfg.ServiceName != "arbiterd-test" {
		t.Fatalf("expected ServiceName %q, got %q", "arbiterd-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %d", len(cfg.CORSAllowedOrigins))
	}
	if cfg.CORSAllowedOrigins[0] != "https://a.example.com" {
		t.Fatalf("expected first CORS origin %q, got %q", "https://a.example.com", cfg.CORSAllowedOrigins[0])
	}
	if cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("expected second CORS origin %q, got %q", "https://b.example.com", cfg.CORSAllowedOrigins[1])
	}
	if cfg.MatchRetention != time.Minute {
		t.Fatalf("expected MatchRetention 1m, got %s", cfg.MatchRetention)
	}
	if cfg.FactionHistoryWindow != 8 {
		t.Fatalf("expected FactionHistoryWindow 8, got %d", cfg.FactionHistoryWindow)
	}
}
