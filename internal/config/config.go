// Package config loads and validates the engine's configuration: corpus
// paths, the query-time "recognized options" record, and the ambient
// embedding/vision/logging endpoints.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects which lanes a query runs through.
type Mode string

const (
	ModeText   Mode = "text"
	ModeVision Mode = "vision"
	ModeHybrid Mode = "hybrid"
)

// FusionMode selects how the hybrid ranker combines lane scores.
type FusionMode string

const (
	FusionRRF      FusionMode = "rrf"
	FusionWeighted FusionMode = "weighted"
)

// Config is the complete engine configuration.
type Config struct {
	Version    int             `yaml:"version" json:"version"`
	Paths      PathsConfig     `yaml:"paths" json:"paths"`
	Query      QueryConfig     `yaml:"query" json:"query"`
	Embeddings EmbeddingConfig `yaml:"embeddings" json:"embeddings"`
	Vision     VisionConfig    `yaml:"vision" json:"vision"`
	Logging    LogConfig       `yaml:"logging" json:"logging"`
}

// PathsConfig configures which paths are included in the walked corpus.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// QueryConfig carries the recognized query-time options.
type QueryConfig struct {
	TopK            int               `yaml:"top_k" json:"top_k"`
	Threshold       float64           `yaml:"threshold" json:"threshold"`
	Mode            Mode              `yaml:"mode" json:"mode"`
	RecencyWeight   float64           `yaml:"recency_weight" json:"recency_weight"`
	HalfLifeDays    float64           `yaml:"half_life_days" json:"half_life_days"`
	Filters         map[string]string `yaml:"filters" json:"filters"`
	ModelID         string            `yaml:"model_id" json:"model_id"`
	ChunkCharBudget int               `yaml:"chunk_char_budget" json:"chunk_char_budget"`
	FusionMode      FusionMode        `yaml:"fusion_mode" json:"fusion_mode"`
	RRFConstant     int               `yaml:"rrf_constant" json:"rrf_constant"`
}

// EmbeddingConfig configures the text embedding adapter.
type EmbeddingConfig struct {
	ServerURL string `yaml:"server_url" json:"server_url"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// VisionConfig configures the vision worker subprocess.
type VisionConfig struct {
	Backend string `yaml:"backend" json:"backend"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
}

// NewConfig returns a Config populated with the engine's defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Query: QueryConfig{
			TopK:            20,
			Threshold:       0,
			Mode:            ModeHybrid,
			RecencyWeight:   0,
			HalfLifeDays:    90,
			Filters:         map[string]string{},
			ChunkCharBudget: 2000,
			FusionMode:      FusionRRF,
			RRFConstant:     60,
		},
		Embeddings: EmbeddingConfig{
			ServerURL: "http://localhost:8100",
			BatchSize: 32,
		},
		Vision: VisionConfig{
			Backend: "",
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file,
// honoring XDG_CONFIG_HOME when set.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "retrieval-skill", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "retrieval-skill", "config.yaml")
	}
	return filepath.Join(home, ".config", "retrieval-skill", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load loads configuration for the corpus rooted at dir, applying, in order
// of increasing precedence: compiled-in defaults, the user config file, the
// project config file (.retrieval-skill.yaml next to dir), and environment
// variable overrides.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".retrieval-skill.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".retrieval-skill.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero-valued fields of other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Query.TopK != 0 {
		c.Query.TopK = other.Query.TopK
	}
	if other.Query.Threshold != 0 {
		c.Query.Threshold = other.Query.Threshold
	}
	if other.Query.Mode != "" {
		c.Query.Mode = other.Query.Mode
	}
	if other.Query.RecencyWeight != 0 {
		c.Query.RecencyWeight = other.Query.RecencyWeight
	}
	if other.Query.HalfLifeDays != 0 {
		c.Query.HalfLifeDays = other.Query.HalfLifeDays
	}
	if len(other.Query.Filters) > 0 {
		c.Query.Filters = other.Query.Filters
	}
	if other.Query.ModelID != "" {
		c.Query.ModelID = other.Query.ModelID
	}
	if other.Query.ChunkCharBudget != 0 {
		c.Query.ChunkCharBudget = other.Query.ChunkCharBudget
	}
	if other.Query.FusionMode != "" {
		c.Query.FusionMode = other.Query.FusionMode
	}
	if other.Query.RRFConstant != 0 {
		c.Query.RRFConstant = other.Query.RRFConstant
	}

	if other.Embeddings.ServerURL != "" {
		c.Embeddings.ServerURL = other.Embeddings.ServerURL
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}

	if other.Vision.Backend != "" {
		c.Vision.Backend = other.Vision.Backend
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// applyEnvOverrides applies the environment variable overrides named in §6
// (EMBEDDING_SERVER_URL, VISION_BACKEND) plus the RETRIEVAL_-prefixed
// overrides for the remaining recognized options.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EMBEDDING_SERVER_URL"); v != "" {
		c.Embeddings.ServerURL = v
	}
	if v := os.Getenv("VISION_BACKEND"); v != "" {
		c.Vision.Backend = v
	}

	if v := os.Getenv("RETRIEVAL_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Query.TopK = n
		}
	}
	if v := os.Getenv("RETRIEVAL_THRESHOLD"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Query.Threshold = f
		}
	}
	if v := os.Getenv("RETRIEVAL_MODE"); v != "" {
		c.Query.Mode = Mode(v)
	}
	if v := os.Getenv("RETRIEVAL_RECENCY_WEIGHT"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Query.RecencyWeight = f
		}
	}
	if v := os.Getenv("RETRIEVAL_HALF_LIFE_DAYS"); v != "" {
		if f, err := parseFloat64(v); err == nil && f > 0 {
			c.Query.HalfLifeDays = f
		}
	}
	if v := os.Getenv("RETRIEVAL_FUSION_MODE"); v != "" {
		c.Query.FusionMode = FusionMode(v)
	}
	if v := os.Getenv("RETRIEVAL_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Query.RRFConstant = n
		}
	}
	if v := os.Getenv("RETRIEVAL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Query.TopK < 0 {
		return fmt.Errorf("query.top_k must be non-negative, got %d", c.Query.TopK)
	}
	if c.Query.RecencyWeight < 0 || c.Query.RecencyWeight > 1 {
		return fmt.Errorf("query.recency_weight must be between 0 and 1, got %f", c.Query.RecencyWeight)
	}
	if c.Query.HalfLifeDays <= 0 {
		return fmt.Errorf("query.half_life_days must be positive, got %f", c.Query.HalfLifeDays)
	}
	if c.Query.ChunkCharBudget < 0 {
		return fmt.Errorf("query.chunk_char_budget must be non-negative, got %d", c.Query.ChunkCharBudget)
	}

	switch c.Query.Mode {
	case ModeText, ModeVision, ModeHybrid:
	default:
		return fmt.Errorf("query.mode must be 'text', 'vision', or 'hybrid', got %q", c.Query.Mode)
	}

	switch c.Query.FusionMode {
	case FusionRRF, FusionWeighted:
	default:
		return fmt.Errorf("query.fusion_mode must be 'rrf' or 'weighted', got %q", c.Query.FusionMode)
	}
	if c.Query.FusionMode == FusionWeighted && c.Query.Mode != ModeText {
		return fmt.Errorf("query.fusion_mode 'weighted' is only valid in 'text' mode")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	if math.IsNaN(c.Query.Threshold) {
		return fmt.Errorf("query.threshold must not be NaN")
	}

	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file, if any.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
