package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadEnv_ExecutorKeyedVars(t *testing.T) {
	t.Setenv("EXEC_CONCURRENCY_NOOP", "4")
	t.Setenv("EXEC_TIMEOUT_NOOP_MS", "90000")
	t.Setenv("GATEWAY_PORT", "19999")
	t.Setenv("CONTEXT_PACK_V1_REQUIRED", "false")

	cfg := LoadEnv(Default())
	if cfg.GatewayPort != 19999 {
		t.Fatalf("expected port 19999, got %d", cfg.GatewayPort)
	}
	if cfg.ContextPackV1Required {
		t.Fatalf("expected strict attestation disabled")
	}
	if got := cfg.ExecutorConcurrencyCap("noop"); got != 4 {
		t.Fatalf("expected concurrency cap 4, got %d", got)
	}
	if got := cfg.ExecutorTimeout("noop", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %v", got)
	}
}

func TestLoadEnv_UnsetFallsBackToDefault(t *testing.T) {
	os.Unsetenv("GATEWAY_PORT")
	cfg := LoadEnv(Default())
	if cfg.GatewayPort != 18788 {
		t.Fatalf("expected default port 18788, got %d", cfg.GatewayPort)
	}
}

func TestLoadFile_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	if err := os.WriteFile(path, []byte("gateway_port: 20000\nseen_window_ms: 5000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFile(path, Default())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GatewayPort != 20000 {
		t.Fatalf("expected port 20000, got %d", cfg.GatewayPort)
	}
	if cfg.SeenWindow != 5*time.Second {
		t.Fatalf("expected 5s seen window, got %v", cfg.SeenWindow)
	}
	if cfg.StallSeconds != Default().StallSeconds {
		t.Fatalf("expected unset field to keep default, got %v", cfg.StallSeconds)
	}
}
