package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension" validate:"gte=0"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
	MaxRetries  int    `yaml:"max_retries" validate:"gte=0,lte=10"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type" validate:"oneof=tfidf openai"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// OpenAIGeneratorConfig holds configuration for an OpenAI-compatible chat endpoint.
type OpenAIGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	TimeoutSecs int     `yaml:"timeout_secs" validate:"gte=0"`
	MaxRetries  int     `yaml:"max_retries" validate:"gte=0,lte=10"`
}

// GeneratorConfig selects the generation backend.
type GeneratorConfig struct {
	Type   string                 `yaml:"type" validate:"oneof=openai"`
	OpenAI *OpenAIGeneratorConfig `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" validate:"oneof=memory qdrant sqlite"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// SQLiteConfig points at the database file holding indexed matches.
type SQLiteConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// CacheConfig enables an embedding cache in front of the embedder.
type CacheConfig struct {
	Type     string `yaml:"type" validate:"oneof=none memory redis"`
	RedisURL string `yaml:"redis_url" validate:"required_if=Type redis"`
	TTLSecs  int    `yaml:"ttl_secs" validate:"gte=0"`
}

// DatasetConfig describes how rows of the match history are interpreted.
type DatasetConfig struct {
	Path              string `yaml:"path"`
	CompetitionSuffix string `yaml:"competition_suffix"`
}

// RetrievalConfig bounds how much evidence is pulled into a prompt.
type RetrievalConfig struct {
	TopK       int `yaml:"top_k" validate:"gte=1,lte=100"`
	BucketSize int `yaml:"bucket_size" validate:"gte=1,lte=20"`
	AnswerTopK int `yaml:"answer_top_k" validate:"gte=1,lte=100"`
}

// BuildConfig tunes knowledge base construction.
type BuildConfig struct {
	EmbedWorkers int `yaml:"embed_workers" validate:"gte=1,lte=64"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	File   string `yaml:"file"`
}

// HTTPConfig configures the HTTP API binary.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// DatasetDir bounds the paths clients may ask to build from. Empty means
	// the directory of dataset.path.
	DatasetDir string `yaml:"dataset_dir"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Cache       CacheConfig       `yaml:"cache"`
	Dataset     DatasetConfig     `yaml:"dataset"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Build       BuildConfig       `yaml:"build"`
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
}

const DefaultCompetitionSuffix = "_2023_2025.csv"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	applyConfigDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and backend-specific sections.
func Validate(cfg *AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant == nil {
		return errors.New("invalid config: vector_store.qdrant section missing")
	}
	if cfg.VectorStore.Type == "sqlite" && cfg.VectorStore.SQLite == nil {
		return errors.New("invalid config: vector_store.sqlite section missing")
	}
	return nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/matchrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/matchrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "matchrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "tfidf"},
		Generator:   GeneratorConfig{Type: "openai", OpenAI: &OpenAIGeneratorConfig{}},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Cache:       CacheConfig{Type: "none"},
		Dataset:     DatasetConfig{CompetitionSuffix: DefaultCompetitionSuffix},
		Retrieval:   RetrievalConfig{TopK: 10, BucketSize: 3, AnswerTopK: 2},
		Build:       BuildConfig{EmbedWorkers: 4},
		Log:         LogConfig{Level: "info", Format: "console"},
		HTTP:        HTTPConfig{Addr: ":8080", AllowedOrigins: []string{"http://localhost:3000"}},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Retrieval.BucketSize == 0 {
		cfg.Retrieval.BucketSize = 3
	}
	if cfg.Retrieval.AnswerTopK == 0 {
		cfg.Retrieval.AnswerTopK = 2
	}
	if cfg.Build.EmbedWorkers == 0 {
		cfg.Build.EmbedWorkers = 4
	}
	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "none"
	}
	if strings.TrimSpace(cfg.Dataset.CompetitionSuffix) == "" {
		cfg.Dataset.CompetitionSuffix = DefaultCompetitionSuffix
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		e := cfg.Embedder.OpenAI
		if e.BaseURL == "" {
			e.BaseURL = "http://localhost:1234/v1"
		}
		if e.APIKeyEnv == "" {
			e.APIKeyEnv = "OPENAI_API_KEY"
		}
		if e.Model == "" {
			e.Model = "text-embedding-nomic-embed-text-v1.5"
		}
		if e.Dimension == 0 {
			e.Dimension = 768
		}
		if e.MaxRetries == 0 {
			e.MaxRetries = 5
		}
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "openai"
	}
	if cfg.Generator.OpenAI == nil {
		cfg.Generator.OpenAI = &OpenAIGeneratorConfig{}
	}
	g := cfg.Generator.OpenAI
	if g.BaseURL == "" {
		g.BaseURL = "http://localhost:1234/v1"
	}
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = "OPENAI_API_KEY"
	}
	if g.Model == "" {
		g.Model = "local-model"
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
}
