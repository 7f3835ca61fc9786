package config

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds all server configuration values.
type Config struct {
	mu       sync.RWMutex
	props    map[string]string
	filePath string
	modTime  time.Time
}

var globalConfig atomic.Pointer[Config]

// Get returns the global config instance.
func Get() *Config {
	return globalConfig.Load()
}

// Load reads an agentd.conf file and returns a new Config.
// If the file does not exist, a Config with empty props (defaults) is returned
// without an error, so the server can start without a config file.
func Load(filePath string) (*Config, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}

	cfg := &Config{
		props:    make(map[string]string),
		filePath: absPath,
	}

	info, err := os.Stat(absPath)
	if err != nil {
		// File does not exist -- return default config, no error.
		globalConfig.Store(cfg)
		return cfg, nil
	}
	cfg.modTime = info.ModTime()

	f, err := os.Open(absPath)
	if err != nil {
		slog.Warn("config file open failed, using defaults", "path", absPath, "error", err)
		globalConfig.Store(cfg)
		return cfg, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key != "" {
			cfg.props[key] = val
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	globalConfig.Store(cfg)
	slog.Info("config loaded", "path", absPath, "properties", len(cfg.props))
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Generic typed getters
// ---------------------------------------------------------------------------

// GetString returns a config value, or the default if not set.
func (c *Config) GetString(key, defaultVal string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.props[key]; ok {
		return v
	}
	return defaultVal
}

// GetInt returns an integer config value.
func (c *Config) GetInt(key string, defaultVal int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.props[key]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetInt64 returns an int64 config value.
func (c *Config) GetInt64(key string, defaultVal int64) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.props[key]; ok {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetBool returns a boolean config value.
// Truthy values: "true", "1", "yes", "on" (case-insensitive).
func (c *Config) GetBool(key string, defaultVal bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.props[key]; ok {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

// ---------------------------------------------------------------------------
// Convenience accessors for well-known configuration keys
// ---------------------------------------------------------------------------

// ListenIP returns net_listen_ip (default "127.0.0.1"): the Agent binds
// loopback-only by default per spec.md §5.
func (c *Config) ListenIP() string {
	return c.GetString("net_listen_ip", "127.0.0.1")
}

// ListenPort returns net_listen_port (default 0, meaning "let the OS
// choose a free port"; see internal/bootstrap for how a Client
// discovers it).
func (c *Config) ListenPort() int {
	return c.GetInt("net_listen_port", 0)
}

// MaxConnections returns net_max_connections (default 64).
func (c *Config) MaxConnections() int {
	return c.GetInt("net_max_connections", 64)
}

// IdleTimeoutMs returns net_idle_timeout_ms (default 5000), spec.md §5
// "idle (on the order of 5s)".
func (c *Config) IdleTimeoutMs() int {
	return c.GetInt("net_idle_timeout_ms", 5000)
}

// RequestTimeoutMs returns net_request_timeout_ms (default 30000),
// spec.md §5's default per-request timeout.
func (c *Config) RequestTimeoutMs() int {
	return c.GetInt("net_request_timeout_ms", 30000)
}

// PinUnpinJitterMinMs/PinUnpinJitterMaxMs bound the delayed-unpin
// grace period a released proxy waits before actually releasing its
// pin token (internal/client/proxy), spec.md §4.11.
func (c *Config) PinUnpinJitterMinMs() int {
	return c.GetInt("pin_unpin_jitter_min_ms", 800)
}

func (c *Config) PinUnpinJitterMaxMs() int {
	return c.GetInt("pin_unpin_jitter_max_ms", 6000)
}

// ProxyCacheSize returns client_proxy_cache_size (default 4096): the
// LRU bound on internal/client/proxy.Cache.
func (c *Config) ProxyCacheSize() int {
	return c.GetInt("client_proxy_cache_size", 4096)
}

// LogDir returns log_dir (default "./logs").
func (c *Config) LogDir() string {
	return c.GetString("log_dir", "./logs")
}

// LogRotationEnabled returns log_rotation_enabled (default true).
func (c *Config) LogRotationEnabled() bool {
	return c.GetBool("log_rotation_enabled", true)
}

// LogKeepDays returns log_keep_days (default 3), per spec.md §6
// "Persisted state" (logs rotated by age, default 3 days).
func (c *Config) LogKeepDays() int {
	return c.GetInt("log_keep_days", 3)
}

// IsDebug returns debug (default false).
func (c *Config) IsDebug() bool {
	return c.GetBool("debug", false)
}

// ConfigReloadIntervalMs returns config_reload_interval_ms (default 5000):
// how often internal/config.StartWatcher stats agentd.conf for changes.
// A value of 0 disables the watcher.
func (c *Config) ConfigReloadIntervalMs() int {
	return c.GetInt("config_reload_interval_ms", 5000)
}

// BootstrapDiscoveryDir returns bootstrap_discovery_dir (default
// os.UserConfigDir()/agentlink): where the Agent publishes its
// discovery handshake file for internal/bootstrap.
func (c *Config) BootstrapDiscoveryDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return c.GetString("bootstrap_discovery_dir", filepath.Join(dir, "agentlink"))
}

// FilePath returns the absolute path to the config file.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// ConfDir returns the directory containing the config file.
func (c *Config) ConfDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filePath == "" {
		return ""
	}
	return filepath.Dir(c.filePath)
}
