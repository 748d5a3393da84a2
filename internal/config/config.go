// Package config handles loading and validating Amri configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Amri.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.amri/data. Override: AMRI_DATA_DIR env var.
	LLM           LLMConfig            `json:"llm" yaml:"llm"`
	Safety        SafetyConfig         `json:"safety" yaml:"safety"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Cache         CacheConfig          `json:"cache" yaml:"cache"`
	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"`             // nil = history persistence disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = no metrics listener
}

// LLMConfig configures the Ollama backend.
type LLMConfig struct {
	Model       string  `json:"model" yaml:"model"`                                   // Default: "llama3.2". Override: AMRI_MODEL env var.
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`         // Default: http://localhost:11434. Override: AMRI_OLLAMA_URL env var.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`   // 0 = Ollama default.
	NumPredict  int     `json:"num_predict,omitempty" yaml:"num_predict,omitempty"`   // Max tokens per reply. 0 = Ollama default.
	NumCtx      int     `json:"num_ctx,omitempty" yaml:"num_ctx,omitempty"`           // Context window. 0 = Ollama default.
	TimeoutSecs int     `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"` // Per-request timeout. Default: 60.
}

// ModelName returns the configured model with a default of "llama3.2".
func (l *LLMConfig) ModelName() string {
	if l.Model != "" {
		return l.Model
	}
	return "llama3.2"
}

// Timeout returns the per-request timeout with a default of 60s.
func (l *LLMConfig) Timeout() time.Duration {
	if l.TimeoutSecs > 0 {
		return time.Duration(l.TimeoutSecs) * time.Second
	}
	return 60 * time.Second
}

// SafetyConfig tunes command classification. Empty lists keep the built-in
// defaults; non-empty lists replace them entirely.
type SafetyConfig struct {
	SafeCommands      []string `json:"safe_commands,omitempty" yaml:"safe_commands,omitempty"`
	ModerateCommands  []string `json:"moderate_commands,omitempty" yaml:"moderate_commands,omitempty"`
	DangerousPatterns []string `json:"dangerous_patterns,omitempty" yaml:"dangerous_patterns,omitempty"`
	// RunModerateOnHost executes moderate-tier commands on the host instead
	// of the sandbox. Safe commands always run on the host; dangerous ones
	// never do.
	RunModerateOnHost bool `json:"run_moderate_on_host" yaml:"run_moderate_on_host"`
}

// SandboxConfig configures the container sandbox.
type SandboxConfig struct {
	Image               string  `json:"image" yaml:"image"`                                     // Default: "amri-sandbox:latest". Override: AMRI_SANDBOX_IMAGE env var.
	MaxMemory           string  `json:"max_memory" yaml:"max_memory"`                           // Docker-style size string (e.g. "512m"). Default: 512m.
	CPUCores            float64 `json:"cpu_cores" yaml:"cpu_cores"`                             // Docker --cpus flag. 0 = 1.0 default.
	PIDsLimit           int     `json:"pids_limit" yaml:"pids_limit"`                           // Docker --pids-limit flag. 0 = 128 default.
	NetworkAllowed      bool    `json:"network_allowed" yaml:"network_allowed"`                 // Default: no network.
	ReuseSession        bool    `json:"reuse_session" yaml:"reuse_session"`                     // Keep one container alive across commands.
	MaxExecutionSeconds int     `json:"max_execution_seconds" yaml:"max_execution_seconds"`     // Per-command budget. Default: 300.
	StopGraceSeconds    int     `json:"stop_grace_seconds,omitempty" yaml:"stop_grace_seconds,omitempty"` // Graceful stop budget at teardown. Default: 2.
}

// SandboxImage returns the container image with a default.
func (s *SandboxConfig) SandboxImage() string {
	if s.Image != "" {
		return s.Image
	}
	return "amri-sandbox:latest"
}

// MemoryBytes parses MaxMemory into bytes with a default of 512 MiB.
func (s *SandboxConfig) MemoryBytes() (int64, error) {
	if s.MaxMemory == "" {
		return 512 * 1024 * 1024, nil
	}
	return units.RAMInBytes(s.MaxMemory)
}

// CPUs returns the CPU share with a default of 1.0.
func (s *SandboxConfig) CPUs() float64 {
	if s.CPUCores > 0 {
		return s.CPUCores
	}
	return 1.0
}

// PIDs returns the process limit with a default of 128.
func (s *SandboxConfig) PIDs() int64 {
	if s.PIDsLimit > 0 {
		return int64(s.PIDsLimit)
	}
	return 128
}

// MaxExecution returns the per-command budget with a default of 5m.
func (s *SandboxConfig) MaxExecution() time.Duration {
	if s.MaxExecutionSeconds > 0 {
		return time.Duration(s.MaxExecutionSeconds) * time.Second
	}
	return 5 * time.Minute
}

// CacheConfig configures the generation cache.
type CacheConfig struct {
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Size     int  `json:"size,omitempty" yaml:"size,omitempty"` // Max entries. Default: 50.
}

// HistoryConfig configures persistent exchange history.
// When nil, nothing is persisted and context recall is disabled.
type HistoryConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`                 // Database file path. Default: derived from data dir.
	MaxContext  int    `json:"max_context,omitempty" yaml:"max_context,omitempty"`   // Exchanges recalled as conversation context. Default: 5.
	JournalMode string `json:"journal_mode,omitempty" yaml:"journal_mode,omitempty"` // "wal" (default), "delete", etc.
}

// ContextSize returns the number of exchanges recalled with a default of 5.
func (h *HistoryConfig) ContextSize() int {
	if h != nil && h.MaxContext > 0 {
		return h.MaxContext
	}
	return 5
}

// Journal returns the SQLite journal mode with a default of "wal".
func (h *HistoryConfig) Journal() string {
	if h != nil && h.JournalMode != "" {
		return h.JournalMode
	}
	return "wal"
}

// ObservabilityConfig configures the Prometheus metrics listener.
// When nil, no listener is started; metrics are still collected in-process.
type ObservabilityConfig struct {
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"` // e.g. "127.0.0.1:9182". Override: AMRI_METRICS_ADDR env var.
}

// DefaultConfigPath returns the default config file path (~/.amri/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/amri.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".amri", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file is not an error; Amri runs fine on
// defaults. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	var cfg Config
	data, err := os.ReadFile(resolved)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	default:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	}

	// Environment variable overrides; env vars take precedence over config values.
	if env := os.Getenv("AMRI_MODEL"); env != "" {
		cfg.LLM.Model = env
	}
	if env := os.Getenv("AMRI_OLLAMA_URL"); env != "" {
		cfg.LLM.BaseURL = env
	}
	if env := os.Getenv("AMRI_DATA_DIR"); env != "" {
		cfg.DataDir = env
	}
	if env := os.Getenv("AMRI_SANDBOX_IMAGE"); env != "" {
		cfg.Sandbox.Image = env
	}
	if env := os.Getenv("AMRI_METRICS_ADDR"); env != "" {
		if cfg.Observability == nil {
			cfg.Observability = &ObservabilityConfig{}
		}
		cfg.Observability.MetricsAddr = env
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if _, err := c.Sandbox.MemoryBytes(); err != nil {
		return fmt.Errorf("sandbox.max_memory: %w", err)
	}
	if c.Sandbox.CPUCores < 0 {
		return fmt.Errorf("sandbox.cpu_cores must not be negative, got %v", c.Sandbox.CPUCores)
	}
	if c.Sandbox.MaxExecutionSeconds < 0 {
		return fmt.Errorf("sandbox.max_execution_seconds must not be negative, got %d", c.Sandbox.MaxExecutionSeconds)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size must not be negative, got %d", c.Cache.Size)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	return nil
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".amri", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// HistoryPath returns the SQLite database path for exchange history.
func (c *Config) HistoryPath() string {
	if c.History != nil && c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "amri.db")
}
