package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConf(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentd.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_BasicProperties(t *testing.T) {
	path := writeTempConf(t, `
net_listen_ip=0.0.0.0
net_listen_port=7100
net_max_connections=128
log_dir=/var/log/agentlink
debug=true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.GetString("net_listen_ip", "127.0.0.1") != "0.0.0.0" {
		t.Errorf("expected net_listen_ip=0.0.0.0, got %q", cfg.GetString("net_listen_ip", "127.0.0.1"))
	}
	if cfg.GetInt("net_listen_port", 0) != 7100 {
		t.Errorf("expected listen port 7100, got %d", cfg.GetInt("net_listen_port", 0))
	}
	if cfg.GetInt("net_max_connections", 64) != 128 {
		t.Errorf("expected max connections 128, got %d", cfg.GetInt("net_max_connections", 64))
	}
	if cfg.GetString("log_dir", "./logs") != "/var/log/agentlink" {
		t.Errorf("expected log_dir=/var/log/agentlink, got %q", cfg.GetString("log_dir", "./logs"))
	}
	if cfg.GetBool("debug", false) != true {
		t.Error("expected debug=true")
	}
}

func TestLoad_Comments(t *testing.T) {
	path := writeTempConf(t, `
# This is a comment
server_id=1

# Another comment

net_udp_listen_port=8100
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetString("server_id", "0") != "1" {
		t.Errorf("expected server_id=1, got %q", cfg.GetString("server_id", "0"))
	}
	if cfg.GetInt("net_udp_listen_port", 6100) != 8100 {
		t.Errorf("expected 8100, got %d", cfg.GetInt("net_udp_listen_port", 6100))
	}
	// Ensure comments are not parsed as keys.
	if cfg.GetString("# This is a comment", "") != "" {
		t.Error("comment should not be a key")
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load an empty config file.
	path := writeTempConf(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetString("server_id", "0") != "0" {
		t.Errorf("expected default server_id=0, got %q", cfg.GetString("server_id", "0"))
	}
	if cfg.GetInt("net_udp_listen_port", 6100) != 6100 {
		t.Errorf("expected default 6100, got %d", cfg.GetInt("net_udp_listen_port", 6100))
	}
	if cfg.GetBool("debug", false) != false {
		t.Error("expected default debug=false")
	}
}

func TestGetString(t *testing.T) {
	path := writeTempConf(t, "key1=value1\n  key2 = value with spaces  \n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetString("key1", "") != "value1" {
		t.Errorf("expected value1, got %q", cfg.GetString("key1", ""))
	}
	if cfg.GetString("key2", "") != "value with spaces" {
		t.Errorf("expected 'value with spaces', got %q", cfg.GetString("key2", ""))
	}
	if cfg.GetString("nonexistent", "def") != "def" {
		t.Errorf("expected default 'def', got %q", cfg.GetString("nonexistent", "def"))
	}
}

func TestGetInt(t *testing.T) {
	path := writeTempConf(t, "port=9090\nbad=abc\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetInt("port", 0) != 9090 {
		t.Errorf("expected 9090, got %d", cfg.GetInt("port", 0))
	}
	// Non-numeric should fall back to default.
	if cfg.GetInt("bad", 42) != 42 {
		t.Errorf("expected default 42 for non-numeric value, got %d", cfg.GetInt("bad", 42))
	}
	// Missing key.
	if cfg.GetInt("missing", 100) != 100 {
		t.Errorf("expected default 100, got %d", cfg.GetInt("missing", 100))
	}
}

func TestGetBool(t *testing.T) {
	path := writeTempConf(t, "a=true\nb=false\nc=1\nd=0\ne=yes\nf=no\ng=on\nh=off\ni=TRUE\nj=invalid\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		key      string
		expected bool
	}{
		{"a", true},
		{"b", false},
		{"c", true},
		{"d", false},
		{"e", true},
		{"f", false},
		{"g", true},
		{"h", false},
		{"i", true},
	}
	for _, tc := range cases {
		got := cfg.GetBool(tc.key, !tc.expected) // default is opposite to detect override
		if got != tc.expected {
			t.Errorf("GetBool(%q): expected %v, got %v", tc.key, tc.expected, got)
		}
	}

	// Invalid bool string should return default.
	if cfg.GetBool("j", true) != true {
		t.Error("invalid bool value should return default")
	}
	if cfg.GetBool("j", false) != false {
		t.Error("invalid bool value should return default")
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent_agentd_test_12345.conf")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil Config for missing file")
	}
	// Should return defaults.
	if cfg.ListenIP() != "127.0.0.1" {
		t.Errorf("expected default ListenIP=127.0.0.1, got %q", cfg.ListenIP())
	}
	if cfg.MaxConnections() != 64 {
		t.Errorf("expected default MaxConnections=64, got %d", cfg.MaxConnections())
	}
}

func TestConvenienceMethods(t *testing.T) {
	path := writeTempConf(t, `
net_listen_ip=0.0.0.0
net_listen_port=7100
net_max_connections=128
net_idle_timeout_ms=9000
net_request_timeout_ms=15000
pin_unpin_jitter_min_ms=500
pin_unpin_jitter_max_ms=4000
client_proxy_cache_size=2048
log_dir=/var/agentlink/logs
log_rotation_enabled=false
log_keep_days=7
debug=true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"ListenIP", cfg.ListenIP(), "0.0.0.0"},
		{"ListenPort", cfg.ListenPort(), 7100},
		{"MaxConnections", cfg.MaxConnections(), 128},
		{"IdleTimeoutMs", cfg.IdleTimeoutMs(), 9000},
		{"RequestTimeoutMs", cfg.RequestTimeoutMs(), 15000},
		{"PinUnpinJitterMinMs", cfg.PinUnpinJitterMinMs(), 500},
		{"PinUnpinJitterMaxMs", cfg.PinUnpinJitterMaxMs(), 4000},
		{"ProxyCacheSize", cfg.ProxyCacheSize(), 2048},
		{"LogDir", cfg.LogDir(), "/var/agentlink/logs"},
		{"LogRotationEnabled", cfg.LogRotationEnabled(), false},
		{"LogKeepDays", cfg.LogKeepDays(), 7},
		{"IsDebug", cfg.IsDebug(), true},
		{"ConfigReloadIntervalMs", cfg.ConfigReloadIntervalMs(), 5000},
	}

	for _, tc := range tests {
		if tc.got != tc.expected {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, tc.got)
		}
	}
}

func TestStartWatcherReloadsOnModification(t *testing.T) {
	path := writeTempConf(t, "debug=false\n")
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reloaded := make(chan *Config, 1)
	StartWatcher(ctx, path, 10*time.Millisecond, func(c *Config) {
		reloaded <- c
	})

	// Advance the mtime comparison point: os.Stat resolution on some
	// filesystems is coarser than 10ms, so sleep past it before rewriting.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte("debug=true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if !c.IsDebug() {
			t.Fatal("expected reloaded config to have debug=true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config watcher to observe the file change")
	}
}

func TestGetInt64(t *testing.T) {
	path := writeTempConf(t, "big=9223372036854775807\nsmall=42\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetInt64("big", 0) != 9223372036854775807 {
		t.Errorf("expected max int64, got %d", cfg.GetInt64("big", 0))
	}
	if cfg.GetInt64("small", 0) != 42 {
		t.Errorf("expected 42, got %d", cfg.GetInt64("small", 0))
	}
	if cfg.GetInt64("missing", -1) != -1 {
		t.Errorf("expected default -1, got %d", cfg.GetInt64("missing", -1))
	}
}
