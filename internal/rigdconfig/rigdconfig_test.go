package rigdconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RpcUdpAddr != DefaultRpcUdpAddr {
		t.Fatalf("expected default rpcudp addr, got %q", cfg.RpcUdpAddr)
	}
	if cfg.RigctldAddr != DefaultRigctldAddr {
		t.Fatalf("expected default rigctld addr, got %q", cfg.RigctldAddr)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "rpcudp_addr: 127.0.0.1:9999\nlog_level: debug\npoll_interval: 5s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RpcUdpAddr != "127.0.0.1:9999" {
		t.Fatalf("expected overridden rpcudp addr, got %q", cfg.RpcUdpAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected overridden log level, got %q", cfg.LogLevel)
	}
	if time.Duration(cfg.PollInterval) != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %v", cfg.PollInterval)
	}
	// Fields the file didn't set must still fall back to Default().
	if cfg.RigctldAddr != DefaultRigctldAddr {
		t.Fatalf("expected default rigctld addr to survive, got %q", cfg.RigctldAddr)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("rpcudp_addr: 127.0.0.1:1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RIGD_RPCUDP_ADDR", "127.0.0.1:2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RpcUdpAddr != "127.0.0.1:2" {
		t.Fatalf("expected env override to win, got %q", cfg.RpcUdpAddr)
	}
}
