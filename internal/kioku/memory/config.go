package memory

import (
	"fmt"
	"strings"
	"time"
)

// Config controls budget and summarization behaviour.  Zero values are not
// defaults; start from DefaultConfig.
type Config struct {
	// MaxHistoryTokens is the hard budget for summary + recent messages.
	MaxHistoryTokens int `yaml:"max_history_tokens" json:"max_history_tokens"`
	// SummarizationTriggerRatio is the fraction of MaxHistoryTokens above
	// which older messages are compressed.  Must be in (0, 1].
	SummarizationTriggerRatio float64 `yaml:"summarization_trigger_ratio" json:"summarization_trigger_ratio"`
	// RecentWindowSize is the number of newest messages kept verbatim.
	RecentWindowSize int `yaml:"recent_window_size" json:"recent_window_size"`
	// EnableSummarization turns the summarizer on; when false, over-budget
	// history is truncated instead.
	EnableSummarization bool `yaml:"enable_summarization" json:"enable_summarization"`
	// MaxSummarizationRetries is the number of retries after the first
	// failed attempt.
	MaxSummarizationRetries int `yaml:"max_summarization_retries" json:"max_summarization_retries"`
	// SummarizationTimeout bounds each summarization attempt.
	SummarizationTimeout time.Duration `yaml:"summarization_timeout" json:"summarization_timeout"`
	// RetryInitialDelay and RetryMaxDelay shape the exponential backoff
	// between attempts.  Both must be positive.  A Retry-After hint from the provider replaces the
	// computed delay, still capped at RetryMaxDelay.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" json:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
	// FallbackSummaryChars caps the content of a fallback summary.
	FallbackSummaryChars int `yaml:"fallback_summary_chars" json:"fallback_summary_chars"`
	// Strict makes summarization failures fatal instead of degrading to the
	// fallback summarizer.
	Strict bool `yaml:"strict" json:"strict"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistoryTokens:          4000,
		SummarizationTriggerRatio: 0.8,
		RecentWindowSize:          6,
		EnableSummarization:       true,
		MaxSummarizationRetries:   2,
		SummarizationTimeout:      30 * time.Second,
		RetryInitialDelay:         500 * time.Millisecond,
		RetryMaxDelay:             8 * time.Second,
		FallbackSummaryChars:      1200,
	}
}

// Threshold returns the token total above which summarization triggers.
func (c Config) Threshold() float64 {
	return float64(c.MaxHistoryTokens) * c.SummarizationTriggerRatio
}

// ConfigurationError reports an invalid Config.  It is the only error
// PrepareContext can return outside strict mode, and it is always raised
// before any work is done.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "memory: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.MaxHistoryTokens <= 0 {
		add("max_history_tokens must be positive, got %d", c.MaxHistoryTokens)
	}
	if c.SummarizationTriggerRatio <= 0 || c.SummarizationTriggerRatio > 1 {
		add("summarization_trigger_ratio must be in (0, 1], got %g", c.SummarizationTriggerRatio)
	}
	if c.RecentWindowSize < 1 {
		add("recent_window_size must be at least 1, got %d", c.RecentWindowSize)
	}
	if c.MaxSummarizationRetries < 0 {
		add("max_summarization_retries must not be negative, got %d", c.MaxSummarizationRetries)
	}
	if c.SummarizationTimeout <= 0 {
		add("summarization_timeout must be positive, got %s", c.SummarizationTimeout)
	}
	if c.RetryInitialDelay <= 0 {
		add("retry_initial_delay must be positive, got %s", c.RetryInitialDelay)
	}
	if c.RetryMaxDelay <= 0 {
		add("retry_max_delay must be positive, got %s", c.RetryMaxDelay)
	}
	if c.RetryInitialDelay > c.RetryMaxDelay {
		add("retry_initial_delay (%s) exceeds retry_max_delay (%s)", c.RetryInitialDelay, c.RetryMaxDelay)
	}
	if c.FallbackSummaryChars <= 0 {
		add("fallback_summary_chars must be positive, got %d", c.FallbackSummaryChars)
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
