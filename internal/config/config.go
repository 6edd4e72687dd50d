package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

func init() {
	loadConfig()
}

// Defaults
const (
	DefaultPortMin          = 18100
	DefaultPortMax          = 18200
	DefaultHealthRetries    = 30
	DefaultHealthInterval   = 500 * time.Millisecond
	DefaultReconnectDelay   = 3 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultStopGracePeriod  = 2 * time.Second
	DefaultMaxRestarts      = 3
	DefaultWorkerBinaryName = "c0lor-mem-backend"
)

// Restart policies
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
)

// Config file structure
type configFile struct {
	WorkerPath       string            `json:"worker_path" yaml:"worker_path"`
	WorkerArgs       []string          `json:"worker_args" yaml:"worker_args"`
	WorkerEnv        map[string]string `json:"worker_env" yaml:"worker_env"`
	ResourcesDir     string            `json:"resources_dir" yaml:"resources_dir"`
	UIOrigin         string            `json:"ui_origin" yaml:"ui_origin"`
	PortMin          int               `json:"port_min" yaml:"port_min"`
	PortMax          int               `json:"port_max" yaml:"port_max"`
	HealthRetries    int               `json:"health_max_retries" yaml:"health_max_retries"`
	HealthIntervalMS int               `json:"health_interval_ms" yaml:"health_interval_ms"`
	ReconnectDelayMS int               `json:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	RequestTimeoutMS int               `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	RestartPolicy    string            `json:"restart_policy" yaml:"restart_policy"`
	MaxRestarts      int               `json:"max_restarts" yaml:"max_restarts"`
	LogPath          string            `json:"log_path" yaml:"log_path"`
}

var (
	loadedConfig configFile
	configMu     sync.RWMutex
)

// loadConfig loads configuration from file
func loadConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	// Reset to empty
	loadedConfig = configFile{}

	configPath := ConfigPath()
	data, err := os.ReadFile(configPath)
	if err != nil {
		return // Config file doesn't exist, use defaults
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		yaml.Unmarshal(data, &loadedConfig)
	default:
		json.Unmarshal(data, &loadedConfig)
	}
}

// reloadConfig reloads configuration (for testing)
func reloadConfig() {
	loadConfig()
}

// Reload re-reads the config file.
func Reload() {
	loadConfig()
}

func file() configFile {
	configMu.RLock()
	defer configMu.RUnlock()
	return loadedConfig
}

// appDir returns the base directory for shell files
func appDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/.c0lor-mem"
	}
	return filepath.Join(home, ".c0lor-mem")
}

// ConfigPath returns the config file path
// Priority: C0LOR_MEM_CONFIG_PATH env var > default
func ConfigPath() string {
	if envPath := os.Getenv("C0LOR_MEM_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return filepath.Join(appDir(), "config.json")
}

// WorkerPath returns the backend executable
// Priority: C0LOR_MEM_WORKER_PATH env var > config file > next to this binary
func WorkerPath() string {
	if envPath := os.Getenv("C0LOR_MEM_WORKER_PATH"); envPath != "" {
		return envPath
	}
	if p := file().WorkerPath; p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return DefaultWorkerBinaryName
	}
	return filepath.Join(filepath.Dir(exe), "backend", DefaultWorkerBinaryName)
}

// WorkerArgs returns extra arguments passed before the port flags.
func WorkerArgs() []string {
	return append([]string(nil), file().WorkerArgs...)
}

// WorkerEnv returns extra environment handed to the worker, sorted by the
// caller if order matters.
func WorkerEnv() map[string]string {
	src := file().WorkerEnv
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ResourcesDir returns the directory of assets the worker reads.
// Priority: C0LOR_MEM_SHELL_RESOURCES env var > config file > <binary dir>/resources
func ResourcesDir() string {
	if envPath := os.Getenv("C0LOR_MEM_SHELL_RESOURCES"); envPath != "" {
		return envPath
	}
	if p := file().ResourcesDir; p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "resources")
}

// UIOrigin returns the origin the UI layer issues requests from.
func UIOrigin() string {
	if v := os.Getenv("C0LOR_MEM_UI_ORIGIN"); v != "" {
		return v
	}
	return file().UIOrigin
}

// PortRange returns the inclusive range scanned for a free worker port.
func PortRange() (min, max int) {
	min = envInt("C0LOR_MEM_PORT_MIN", file().PortMin, DefaultPortMin)
	max = envInt("C0LOR_MEM_PORT_MAX", file().PortMax, DefaultPortMax)
	return min, max
}

// HealthPolicy returns the readiness probe budget.
func HealthPolicy() (maxRetries int, interval time.Duration) {
	maxRetries = envInt("C0LOR_MEM_HEALTH_RETRIES", file().HealthRetries, DefaultHealthRetries)
	interval = envMillis("C0LOR_MEM_HEALTH_INTERVAL_MS", file().HealthIntervalMS, DefaultHealthInterval)
	return maxRetries, interval
}

// ReconnectDelay returns the fixed delay before the stream reconnects.
func ReconnectDelay() time.Duration {
	return envMillis("C0LOR_MEM_RECONNECT_DELAY_MS", file().ReconnectDelayMS, DefaultReconnectDelay)
}

// RequestTimeout bounds every API request.
func RequestTimeout() time.Duration {
	return envMillis("C0LOR_MEM_REQUEST_TIMEOUT_MS", file().RequestTimeoutMS, DefaultRequestTimeout)
}

// RestartPolicy returns what happens when the worker exits on its own.
func RestartPolicy() (policy string, maxRestarts int) {
	policy = os.Getenv("C0LOR_MEM_RESTART_POLICY")
	if policy == "" {
		policy = file().RestartPolicy
	}
	if policy != RestartOnFailure {
		policy = RestartNever
	}
	maxRestarts = envInt("C0LOR_MEM_MAX_RESTARTS", file().MaxRestarts, DefaultMaxRestarts)
	return policy, maxRestarts
}

// LogPath returns the log file path
func LogPath() string {
	if envPath := os.Getenv("C0LOR_MEM_LOG_PATH"); envPath != "" {
		return envPath
	}
	if p := file().LogPath; p != "" {
		return p
	}
	return filepath.Join(appDir(), "shell.log")
}

// RegistryPath returns where the running shell records its worker.
func RegistryPath() string {
	if envPath := os.Getenv("C0LOR_MEM_REGISTRY_PATH"); envPath != "" {
		return envPath
	}
	return filepath.Join(appDir(), "worker.json")
}

// HistoryPath returns the batch history database path.
func HistoryPath() string {
	if envPath := os.Getenv("C0LOR_MEM_HISTORY_PATH"); envPath != "" {
		return envPath
	}
	return filepath.Join(appDir(), "history.db")
}

// Settings is the effective configuration, for display.
type Settings struct {
	ConfigPath       string            `yaml:"config_path"`
	WorkerPath       string            `yaml:"worker_path"`
	WorkerArgs       []string          `yaml:"worker_args,omitempty"`
	WorkerEnv        map[string]string `yaml:"worker_env,omitempty"`
	ResourcesDir     string            `yaml:"resources_dir"`
	UIOrigin         string            `yaml:"ui_origin"`
	PortMin          int               `yaml:"port_min"`
	PortMax          int               `yaml:"port_max"`
	HealthMaxRetries int               `yaml:"health_max_retries"`
	HealthInterval   time.Duration     `yaml:"health_interval"`
	ReconnectDelay   time.Duration     `yaml:"reconnect_delay"`
	RequestTimeout   time.Duration     `yaml:"request_timeout"`
	RestartPolicy    string            `yaml:"restart_policy"`
	MaxRestarts      int               `yaml:"max_restarts"`
	LogPath          string            `yaml:"log_path"`
	RegistryPath     string            `yaml:"registry_path"`
	HistoryPath      string            `yaml:"history_path"`
}

// Current resolves every setting.
func Current() Settings {
	portMin, portMax := PortRange()
	retries, interval := HealthPolicy()
	policy, maxRestarts := RestartPolicy()
	return Settings{
		ConfigPath:       ConfigPath(),
		WorkerPath:       WorkerPath(),
		WorkerArgs:       WorkerArgs(),
		WorkerEnv:        WorkerEnv(),
		ResourcesDir:     ResourcesDir(),
		UIOrigin:         UIOrigin(),
		PortMin:          portMin,
		PortMax:          portMax,
		HealthMaxRetries: retries,
		HealthInterval:   interval,
		ReconnectDelay:   ReconnectDelay(),
		RequestTimeout:   RequestTimeout(),
		RestartPolicy:    policy,
		MaxRestarts:      maxRestarts,
		LogPath:          LogPath(),
		RegistryPath:     RegistryPath(),
		HistoryPath:      HistoryPath(),
	}
}

func envInt(key string, fromFile, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if fromFile > 0 {
		return fromFile
	}
	return def
}

func envMillis(key string, fromFile int, def time.Duration) time.Duration {
	ms := envInt(key, fromFile, 0)
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
