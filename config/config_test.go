package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"CHAT_WS_URL", "COLLECT_WINDOW", "PING_INTERVAL", "RECENT_MESSAGE_COUNT", "HTTP_ADDR", "MAX_CONCURRENT_SESSIONS", "RECENT_OUTCOMES", "RECONNECT_MAX_ATTEMPTS", "DB_DSN"} {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("failed to unset %s: %v", k, err)
		}
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChatURL != "wss://kr-ss1.chat.naver.com/chat" || cfg.ChatOrigin != "https://chzzk.naver.com" {
		t.Errorf("chat endpoint defaults = %q %q", cfg.ChatURL, cfg.ChatOrigin)
	}
	if cfg.CollectWindow != 30*time.Second || cfg.PingInterval != 60*time.Second {
		t.Errorf("timing defaults = %v %v", cfg.CollectWindow, cfg.PingInterval)
	}
	if cfg.RecentMessageCount != 50 || cfg.MaxConcurrentSessions != 4 || cfg.HTTPAddr != ":3001" || cfg.RecentOutcomes != 256 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReconnectMaxAttempts != 0 {
		t.Errorf("reconnect should default off, got %d attempts", cfg.ReconnectMaxAttempts)
	}
	if cfg.HistoryEnabled() {
		t.Error("history enabled without DB_DSN")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COLLECT_WINDOW", "45s")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("DB_DSN", "postgres://x")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CollectWindow != 45*time.Second || cfg.ReconnectMaxAttempts != 3 || cfg.RateLimitEnabled {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if !cfg.HistoryEnabled() {
		t.Error("history disabled with DB_DSN set")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("COLLECT_WINDOW", "thirty")
	if _, err := Load(); err == nil {
		t.Error("expected error for unparsable COLLECT_WINDOW")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("BACKEND_BASE_URL", "")
	t.Setenv("JOIN_SOURCE_URL", "")
	t.Setenv("JOIN_PAYLOAD", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected error when backend and join source are missing")
	}
	for _, want := range []string{"BACKEND_BASE_URL", "JOIN_SOURCE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	cfg.BackendBaseURL = "http://backend:8080"
	cfg.JoinPayload = `{"cid":"x"}`
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
	cfg.MaxConcurrentSessions = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero concurrency")
	}
}
