package config

// ValueType distinguishes a config key's expected shape so a config
// editor can render the right input widget.
const (
	ValueTypeString = 1 // Plain string
	ValueTypeNum    = 2 // Integer/Long
	ValueTypeBool   = 3 // Boolean
)

// ConfigMeta holds description and value type for a config key.
type ConfigMeta struct {
	Desc      string
	ValueType int
}

// ConfigMetaMap returns metadata for all known Agent/Client config
// keys.
func ConfigMetaMap() map[string]ConfigMeta {
	return map[string]ConfigMeta{
		// Listener
		"net_listen_ip":          {"Agent loopback listen IP address", ValueTypeString},
		"net_listen_port":        {"Agent listen port (0 = let the OS choose)", ValueTypeNum},
		"net_max_connections":    {"Maximum concurrent Client connections", ValueTypeNum},
		"net_idle_timeout_ms":    {"Idle connection timeout in ms", ValueTypeNum},
		"net_request_timeout_ms": {"Default per-request timeout in ms", ValueTypeNum},

		// Pinning / proxy
		"pin_unpin_jitter_min_ms":  {"Minimum delayed-unpin grace period in ms", ValueTypeNum},
		"pin_unpin_jitter_max_ms":  {"Maximum delayed-unpin grace period in ms", ValueTypeNum},
		"client_proxy_cache_size": {"Maximum live proxies cached per connection", ValueTypeNum},

		// Logging
		"debug":                {"Enable debug logging", ValueTypeBool},
		"log_dir":              {"Log directory path", ValueTypeString},
		"log_rotation_enabled": {"Enable log file rotation", ValueTypeBool},
		"log_keep_days":        {"Number of days to keep log files", ValueTypeNum},

		// Bootstrap / discovery
		"bootstrap_discovery_dir": {"Directory for Agent discovery handshake files", ValueTypeString},
	}
}
