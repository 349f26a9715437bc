package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kioku/common/environment"
	"github.com/bdobrica/kioku/internal/kioku/completion"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// Provider names accepted in CompletionConfig.Provider.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds application configuration.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// StoreDSN selects the persistence backend, see store.Open.
	StoreDSN string `yaml:"store_dsn"`

	// RequestTimeout bounds every API request, summarization included.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	Memory     memory.Config         `yaml:"memory"`
	Enricher   memory.EnricherConfig `yaml:"enricher"`
	Completion CompletionConfig      `yaml:"completion"`
	Retrieval  RetrievalConfig       `yaml:"retrieval"`
}

// CompletionConfig selects the summarization backend.
type CompletionConfig struct {
	// Provider is "openai", "anthropic" or "none".  With "none" every
	// summary comes from the extractive fallback.
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	// MaxTokens caps each summary completion.
	MaxTokens int `yaml:"max_tokens"`

	// APIKey is only ever read from the environment (KIOKU_COMPLETION_API_KEY).
	APIKey string `yaml:"-"`

	// RateLimit is the number of summarization calls allowed per
	// conversation per minute.
	RateLimit int `yaml:"rate_limit"`
	// DailyTokenBudget is the completion token allowance per conversation
	// per UTC day.
	DailyTokenBudget int `yaml:"daily_token_budget"`
}

// RetrievalConfig controls the document search adapter.
type RetrievalConfig struct {
	Enabled bool `yaml:"enabled"`
	// TopK is the default number of documents returned per turn.
	TopK int `yaml:"top_k"`
	// Embedder is "none" (term overlap) or "openai".
	Embedder       string `yaml:"embedder"`
	EmbeddingModel string `yaml:"embedding_model"`
	// EmbeddingBaseURL defaults to the completion base URL for openai.
	EmbeddingBaseURL string `yaml:"embedding_base_url"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		LogFormat:      "text",
		StoreDSN:       "./kioku.db",
		RequestTimeout: 2 * time.Minute,
		MaxBodyBytes:   4 << 20,
		Memory:         memory.DefaultConfig(),
		Completion: CompletionConfig{
			Provider:         ProviderNone,
			Timeout:          30 * time.Second,
			MaxTokens:        1024,
			RateLimit:        completion.DefaultRateLimit,
			DailyTokenBudget: completion.DefaultTokenBudget,
		},
		Retrieval: RetrievalConfig{
			TopK:     5,
			Embedder: "none",
		},
	}
}

// LoadConfig layers the YAML file at path (optional) over DefaultConfig and
// then applies KIOKU_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("app: read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("app: parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	e := environment.Name

	cfg.HTTPAddr = environment.StringOr(e("HTTP_ADDR"), cfg.HTTPAddr)
	cfg.LogLevel = environment.StringOr(e("LOG_LEVEL"), cfg.LogLevel)
	cfg.LogFormat = environment.StringOr(e("LOG_FORMAT"), cfg.LogFormat)
	cfg.StoreDSN = environment.StringOr(e("STORE_DSN"), cfg.StoreDSN)
	cfg.RequestTimeout = environment.DurationOr(e("REQUEST_TIMEOUT"), cfg.RequestTimeout)

	m := &cfg.Memory
	m.MaxHistoryTokens = environment.IntOr(e("MAX_HISTORY_TOKENS"), m.MaxHistoryTokens)
	m.SummarizationTriggerRatio = environment.FloatOr(e("SUMMARIZATION_TRIGGER_RATIO"), m.SummarizationTriggerRatio)
	m.RecentWindowSize = environment.IntOr(e("RECENT_WINDOW_SIZE"), m.RecentWindowSize)
	m.EnableSummarization = environment.BoolOr(e("ENABLE_SUMMARIZATION"), m.EnableSummarization)
	m.MaxSummarizationRetries = environment.IntOr(e("MAX_SUMMARIZATION_RETRIES"), m.MaxSummarizationRetries)
	m.SummarizationTimeout = environment.DurationOr(e("SUMMARIZATION_TIMEOUT"), m.SummarizationTimeout)
	m.Strict = environment.BoolOr(e("STRICT"), m.Strict)

	c := &cfg.Completion
	c.Provider = environment.StringOr(e("COMPLETION_PROVIDER"), c.Provider)
	c.BaseURL = environment.StringOr(e("COMPLETION_BASE_URL"), c.BaseURL)
	c.Model = environment.StringOr(e("COMPLETION_MODEL"), c.Model)
	c.APIKey = environment.StringOr(e("COMPLETION_API_KEY"), c.APIKey)
	c.RateLimit = environment.IntOr(e("COMPLETION_RATE_LIMIT"), c.RateLimit)
	c.DailyTokenBudget = environment.IntOr(e("COMPLETION_TOKEN_BUDGET"), c.DailyTokenBudget)

	r := &cfg.Retrieval
	r.Enabled = environment.BoolOr(e("RETRIEVAL_ENABLED"), r.Enabled)
	r.TopK = environment.IntOr(e("RETRIEVAL_TOP_K"), r.TopK)
	r.Embedder = environment.StringOr(e("RETRIEVAL_EMBEDDER"), r.Embedder)
}

// Validate reports every problem at once, including those of the memory
// configuration.
func (c Config) Validate() error {
	var problems []string
	if err := c.Memory.Validate(); err != nil {
		var ce *memory.ConfigurationError
		if errors.As(err, &ce) {
			problems = append(problems, ce.Problems...)
		} else {
			problems = append(problems, err.Error())
		}
	}
	switch c.Completion.Provider {
	case ProviderNone, "", ProviderOpenAI:
		// OpenAI-compatible local servers (Ollama) need no key.
	case ProviderAnthropic:
		if c.Completion.APIKey == "" {
			problems = append(problems, "completion provider anthropic requires KIOKU_COMPLETION_API_KEY")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown completion provider %q", c.Completion.Provider))
	}
	switch c.Retrieval.Embedder {
	case "", "none", "openai":
	default:
		problems = append(problems, fmt.Sprintf("unknown retrieval embedder %q", c.Retrieval.Embedder))
	}
	if c.Retrieval.TopK < 0 {
		problems = append(problems, fmt.Sprintf("retrieval top_k must not be negative, got %d", c.Retrieval.TopK))
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if len(problems) > 0 {
		return &memory.ConfigurationError{Problems: problems}
	}
	return nil
}
