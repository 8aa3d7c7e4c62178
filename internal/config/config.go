// Package config provides kernel configuration.
//
// Configuration is loaded from environment variables with sensible defaults.
// All timeouts and operational parameters are configurable.
//
// Configuration categories:
//   - Socket: the local stream socket the dispatcher listens on
//   - LLM: the single worker subprocess fed by the SYS_THINK scheduler
//   - Resources: default sandbox memory/CPU/PID limits for SYS_SPAWN
//   - Restart: default max restarts and window for the supervisor's restart policy
//   - Audit: ring capacity and recorder buffer capacity
//   - Admin: the optional read-only operator HTTP surface
//
// For a complete list of all environment variables, see .env.example
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SocketConfig controls the kernel's client-facing listener (spec §4.1).
type SocketConfig struct {
	Path       string // unix socket path, or "" to use Addr (tcp, tests only)
	Addr       string
	AcceptBack int // listen backlog
}

// LLMConfig describes the single SYS_THINK worker subprocess (spec §4.6).
type LLMConfig struct {
	Command string
	Args    []string
	APIKey  string // passed to the worker's env, never logged
}

// ResourceDefaults holds the configured default sandbox limits (spec
// §4.8). Load fills them in, but handleSpawn does not read them: a spawn
// request that omits a limit leaves that limit unset.
type ResourceDefaults struct {
	MemoryLimitBytes int64
	CPUQuota         int64 // microseconds per 100ms period
	MaxPIDs          int64
}

// RestartDefaults holds the configured default restart limits. Load
// fills them in, but handleSpawn does not read them: a spawn request
// that omits max_restarts or restart_window_s gets zero for that field.
type RestartDefaults struct {
	MaxRestarts    int
	RestartWindowS int
}

// AuditConfig sizes the audit ring and recorder buffer (spec §4.10).
type AuditConfig struct {
	RingCapacity     int
	RecorderCapacity int
	// SQLitePath, if set, mirrors every audit entry to a durable
	// SQLite tail so audit history survives a restart. Empty disables
	// the sink; the in-memory ring remains the kernel's authoritative
	// state either way.
	SQLitePath string
}

// AdminConfig controls the optional read-only operator HTTP surface.
type AdminConfig struct {
	Enabled bool
	Addr    string
}

// Config holds all kernel configuration.
type Config struct {
	Socket   SocketConfig
	LLM      LLMConfig
	Defaults ResourceDefaults
	Restart  RestartDefaults
	Audit    AuditConfig
	Admin    AdminConfig

	ProcRoot string // "/proc" in production, a fake root in tests
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Socket: SocketConfig{
			Path:       getEnv("CLOVE_SOCKET_PATH", "/var/run/clove/kernel.sock"),
			Addr:       getEnv("CLOVE_SOCKET_ADDR", ""),
			AcceptBack: getEnvInt("CLOVE_SOCKET_BACKLOG", 128),
		},
		LLM: LLMConfig{
			Command: getEnv("CLOVE_LLM_COMMAND", ""),
			Args:    splitEnvList(getEnv("CLOVE_LLM_ARGS", "")),
			APIKey:  getEnv("API_KEY", ""),
		},
		Defaults: ResourceDefaults{
			MemoryLimitBytes: getEnvInt64("CLOVE_DEFAULT_MEMORY_LIMIT", 256*1024*1024),
			CPUQuota:         getEnvInt64("CLOVE_DEFAULT_CPU_QUOTA", 50000),
			MaxPIDs:          getEnvInt64("CLOVE_DEFAULT_MAX_PIDS", 64),
		},
		Restart: RestartDefaults{
			MaxRestarts:    getEnvInt("CLOVE_DEFAULT_MAX_RESTARTS", 5),
			RestartWindowS: getEnvInt("CLOVE_DEFAULT_RESTART_WINDOW_S", 60),
		},
		Audit: AuditConfig{
			RingCapacity:     getEnvInt("CLOVE_AUDIT_RING_CAPACITY", 10000),
			RecorderCapacity: getEnvInt("CLOVE_RECORDER_CAPACITY", 10000),
			SQLitePath:       getEnv("CLOVE_AUDIT_DB_PATH", ""),
		},
		Admin: AdminConfig{
			Enabled: getEnvBool("CLOVE_ADMIN_ENABLED", true),
			Addr:    getEnv("CLOVE_ADMIN_ADDR", "127.0.0.1:7780"),
		},
		ProcRoot: getEnv("CLOVE_PROC_ROOT", "/proc"),
		LogLevel: getEnv("CLOVE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Socket.Path == "" && c.Socket.Addr == "" {
		return fmt.Errorf("one of CLOVE_SOCKET_PATH or CLOVE_SOCKET_ADDR must be set")
	}
	if c.LLM.Command == "" {
		return fmt.Errorf("CLOVE_LLM_COMMAND cannot be empty")
	}
	if c.ProcRoot == "" {
		return fmt.Errorf("CLOVE_PROC_ROOT cannot be empty")
	}
	if c.Audit.RingCapacity <= 0 {
		return fmt.Errorf("CLOVE_AUDIT_RING_CAPACITY must be > 0")
	}
	if c.Audit.RecorderCapacity <= 0 {
		return fmt.Errorf("CLOVE_RECORDER_CAPACITY must be > 0")
	}
	return nil
}

func splitEnvList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
