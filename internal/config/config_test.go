package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear relevant envs
	for _, k := range []string{"PORT", "LOG_LEVEL", "STORE_BACKEND", "CHAT_HISTORY_LIMIT", "CHAT_DEV_MODE_FAIL_OPEN", "COGNITO_USER_POOL_ID", "CHAT_ENROLLMENTS", "SHUTDOWN_GRACE_PERIOD"} {
		t.Setenv(k, "")
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.Server.Port != "3000" {
		t.Fatalf("expected default port 3000, got %q", c.Server.Port)
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if c.Store.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", c.Store.Backend)
	}
	if c.Chat.HistoryLimit != 50 {
		t.Fatalf("expected history limit 50, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.DevModeFailOpen {
		t.Fatalf("dev mode fail-open must default to false")
	}
	if c.Server.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("expected 10s grace period, got %s", c.Server.ShutdownGracePeriod)
	}
	if c.Issuer() != "" {
		t.Fatalf("expected empty issuer without a user pool, got %q", c.Issuer())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("COGNITO_USER_POOL_ID", "eu-west-1_abc")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("CHAT_DEV_MODE_FAIL_OPEN", "true")
	t.Setenv("CHAT_ENROLLMENTS", "enr-1=inf-1, enr-2=inf-2")
	t.Setenv("SHUTDOWN_GRACE_PERIOD", "3s")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != "8081" {
		t.Fatalf("port: got %q", c.Server.Port)
	}
	if c.Store.Backend != BackendSQLite {
		t.Fatalf("backend: got %q", c.Store.Backend)
	}
	if !c.Chat.DevModeFailOpen {
		t.Fatalf("expected fail-open from env")
	}
	if c.Server.ShutdownGracePeriod != 3*time.Second {
		t.Fatalf("grace: got %s", c.Server.ShutdownGracePeriod)
	}
	if got := c.Chat.Enrollments["enr-2"]; got != "inf-2" {
		t.Fatalf("enrollments: got %v", c.Chat.Enrollments)
	}
	want := "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc"
	if c.Issuer() != want {
		t.Fatalf("issuer: got %q want %q", c.Issuer(), want)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestParsePairsMalformed(t *testing.T) {
	if _, err := parsePairs("enr-1"); err == nil {
		t.Fatalf("expected error for pair without '='")
	}
}
