package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"voxrag/internal/domain"
)

// Config is the root configuration for voxrag. It is read once at session
// start and immutable thereafter.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Context   ContextConfig   `yaml:"context"`
	Documents DocumentsConfig `yaml:"documents"`
	Audio     AudioConfig     `yaml:"audio"`
}

type GeneralConfig struct {
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`
	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9090".
	MetricsAddr string `yaml:"metricsAddr,omitempty"`
}

// BackendConfig describes one generation backend. Kind selects the concrete
// provider; unknown kinds with an apiBase are treated as OpenAI-compatible.
type BackendConfig struct {
	Kind    string `yaml:"kind"` // "openai" | "ollama" | "custom"
	Model   string `yaml:"model"`
	APIBase string `yaml:"apiBase,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
}

type LLMConfig struct {
	BackendConfig `yaml:",inline"`
	// Fallbacks are tried in order when the primary backend fails.
	Fallbacks      []BackendConfig `yaml:"fallbacks,omitempty"`
	Temperature    float64         `yaml:"temperature"`
	MaxTokens      int             `yaml:"maxTokens"`
	TimeoutSeconds int             `yaml:"timeoutSeconds"`
	MaxRetries     int             `yaml:"maxRetries"`
}

type EmbeddingConfig struct {
	Kind            string `yaml:"kind"` // "hash" | "openai" | "ollama"
	Model           string `yaml:"model,omitempty"`
	APIBase         string `yaml:"apiBase,omitempty"`
	APIKey          string `yaml:"apiKey,omitempty"`
	Dimension       int    `yaml:"dimension,omitempty"` // hash embedder only
	CacheTTLSeconds int    `yaml:"cacheTtlSeconds"`
}

type IndexConfig struct {
	Metric       string `yaml:"metric"` // "cosine" | "dot"
	SnapshotPath string `yaml:"snapshotPath"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"topK"`
	MinScore      float64 `yaml:"minScore"`
	MinQueryWords int     `yaml:"minQueryWords"`
}

type ContextConfig struct {
	BudgetChars int `yaml:"budgetChars"`
	HistoryCap  int `yaml:"historyCap"` // max turns kept before FIFO truncation
}

type DocumentsConfig struct {
	Dir          string `yaml:"dir"`
	ChunkSize    int    `yaml:"chunkSize"`
	ChunkOverlap int    `yaml:"chunkOverlap"`
	Watch        bool   `yaml:"watch"`
}

type AudioConfig struct {
	Enabled bool      `yaml:"enabled"`
	STT     STTConfig `yaml:"stt"`
	TTS     TTSConfig `yaml:"tts"`
}

type STTConfig struct {
	APIBase string `yaml:"apiBase,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type TTSConfig struct {
	Kind    string `yaml:"kind,omitempty"` // "openai" | "elevenlabs"
	APIBase string `yaml:"apiBase,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Voice   string `yaml:"voice,omitempty"`
}

// DefaultConfigPath returns the default config file location (~/.voxrag).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voxrag/config.yaml"
	}
	return filepath.Join(home, ".voxrag", "config.yaml")
}

// Load reads, env-expands, parses, and validates a config file.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Documents.Dir = ExpandPath(cfg.Documents.Dir)
	cfg.Index.SnapshotPath = ExpandPath(cfg.Index.SnapshotPath)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to disk. Used by `voxrag init`.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate checks the config and returns a domain.ConfigError listing every
// problem found. Configuration errors are fatal at startup.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.LLM.Kind == "" {
		errs = append(errs, "llm.kind is required")
	}
	if cfg.LLM.TimeoutSeconds < 1 {
		errs = append(errs, "llm.timeoutSeconds must be >= 1")
	}
	if cfg.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.maxRetries must be >= 0")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}

	switch cfg.Embedding.Kind {
	case "hash", "openai", "ollama":
	default:
		errs = append(errs, "embedding.kind must be one of: hash, openai, ollama")
	}
	if cfg.Embedding.Kind == "hash" && cfg.Embedding.Dimension < 8 {
		errs = append(errs, "embedding.dimension must be >= 8 for the hash embedder")
	}

	switch cfg.Index.Metric {
	case "cosine", "dot":
	default:
		errs = append(errs, "index.metric must be one of: cosine, dot")
	}

	if cfg.Retrieval.TopK < 1 {
		errs = append(errs, "retrieval.topK must be >= 1")
	}
	if cfg.Retrieval.MinScore < 0 || cfg.Retrieval.MinScore > 1 {
		errs = append(errs, "retrieval.minScore must be between 0 and 1")
	}

	if cfg.Context.BudgetChars < 1 {
		errs = append(errs, "context.budgetChars must be >= 1")
	}
	if cfg.Context.HistoryCap < 2 {
		errs = append(errs, "context.historyCap must be >= 2")
	}

	if cfg.Documents.ChunkSize < 1 {
		errs = append(errs, "documents.chunkSize must be >= 1")
	}
	if cfg.Documents.ChunkOverlap < 0 || cfg.Documents.ChunkOverlap >= cfg.Documents.ChunkSize {
		errs = append(errs, "documents.chunkOverlap must be >= 0 and < documents.chunkSize")
	}

	if len(errs) > 0 {
		return domain.NewConfigError(strings.Join(errs, "; "))
	}
	return nil
}
