// Package app wires the Kioku service: configuration, persistence, the
// memory manager, the completion backend and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bdobrica/kioku/common/redact"
	"github.com/bdobrica/kioku/internal/kioku/completion"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/observability"
	"github.com/bdobrica/kioku/internal/kioku/retrieval"
	"github.com/bdobrica/kioku/internal/kioku/store"
)

// App is the running service.
type App struct {
	cfg    Config
	logger *slog.Logger

	store    store.Store
	index    retrieval.Index
	provider completion.Provider
	manager  *memory.Manager
	enricher *memory.QueryEnricher
	limiter  *completion.RateLimiter
	budget   *completion.TokenBudget
	metrics  *observability.Metrics
	locks    *keyedMutex

	startedAt time.Time
	handler   http.Handler
	server    *http.Server
}

// Option customises New.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	provider completion.Provider
	store    store.Store
	index    retrieval.Index
	registry *prometheus.Registry
	now      func() time.Time
}

// WithLogger sets the base logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithProvider replaces the provider built from Config.Completion.
func WithProvider(p completion.Provider) Option { return func(o *options) { o.provider = p } }

// WithStore replaces the store opened from Config.StoreDSN.  The app closes
// it on Close.
func WithStore(s store.Store) Option { return func(o *options) { o.store = s } }

// WithIndex replaces the retrieval index.
func WithIndex(ix retrieval.Index) Option { return func(o *options) { o.index = ix } }

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.registry = reg } }

// WithClock sets the clock used for summaries (tests).
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New builds the service from cfg.  It validates cfg, opens the store and
// constructs the completion provider, but does not start listening.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		enricher:  memory.NewQueryEnricher(cfg.Enricher),
		limiter:   completion.NewRateLimiter(cfg.Completion.RateLimit, time.Minute),
		budget:    completion.NewTokenBudget(cfg.Completion.DailyTokenBudget),
		metrics:   observability.NewMetrics("kioku", o.registry),
		locks:     newKeyedMutex(),
		startedAt: time.Now(),
	}

	a.store = o.store
	if a.store == nil {
		st, err := store.Open(ctx, cfg.StoreDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("app: open store %s: %w", redact.DSN(cfg.StoreDSN), err)
		}
		a.store = st
	}

	a.index = o.index
	if a.index == nil && cfg.Retrieval.Enabled {
		a.index = a.buildIndex()
	}

	a.provider = o.provider
	if a.provider == nil {
		p, err := buildProvider(cfg.Completion)
		if err != nil {
			a.store.Close()
			return nil, err
		}
		a.provider = p
	}

	var summarizer memory.Summarizer
	if a.provider != nil {
		metered := completion.NewMetered(a.provider, a.budget, a.metrics.ObserveUsage)
		summarizer = memory.NewLLMSummarizer(metered, memory.LLMSummarizerConfig{
			MaxTokens: cfg.Completion.MaxTokens,
			Logger:    logger,
			Now:       o.now,
		})
	}

	mopts := []memory.Option{memory.WithLogger(logger), memory.WithObserver(a.metrics)}
	if o.now != nil {
		mopts = append(mopts, memory.WithClock(o.now))
	}
	mgr, err := memory.NewManager(cfg.Memory, summarizer, mopts...)
	if err != nil {
		a.store.Close()
		return nil, err
	}
	a.manager = mgr
	a.handler = a.routes()

	logger.Info("kioku initialised",
		"store", redact.DSN(cfg.StoreDSN),
		"provider", providerName(a.provider, cfg.Completion.Provider),
		"retrieval", a.index != nil,
		"max_history_tokens", cfg.Memory.MaxHistoryTokens,
		"recent_window_size", cfg.Memory.RecentWindowSize)
	return a, nil
}

func buildProvider(cfg CompletionConfig) (completion.Provider, error) {
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderOpenAI:
		return completion.NewOpenAI(completion.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case ProviderAnthropic:
		return completion.NewAnthropic(completion.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("app: unknown completion provider %q", cfg.Provider)
	}
}

func providerName(p completion.Provider, configured string) string {
	if p == nil {
		return ProviderNone
	}
	if configured == "" || configured == ProviderNone {
		return "custom"
	}
	return configured
}

func (a *App) buildIndex() retrieval.Index {
	var embedder retrieval.Embedder = retrieval.NoopEmbedder{}
	if a.cfg.Retrieval.Embedder == "openai" {
		base := a.cfg.Retrieval.EmbeddingBaseURL
		if base == "" && a.cfg.Completion.Provider == ProviderOpenAI {
			base = a.cfg.Completion.BaseURL
		}
		embedder = retrieval.NewOpenAIEmbedder(retrieval.OpenAIEmbedderConfig{
			APIKey:  a.cfg.Completion.APIKey,
			BaseURL: base,
			Model:   a.cfg.Retrieval.EmbeddingModel,
		})
	}
	if sq, ok := a.store.(*store.SQLiteStore); ok {
		return retrieval.NewSQLiteIndex(sq.DB(), embedder, a.logger)
	}
	return retrieval.NewMemoryIndex(embedder, a.logger)
}

// Handler returns the HTTP API (for tests and embedding).
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.HTTPAddr, err)
	}
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("kioku listening", "addr", ln.Addr().String())
		errCh <- a.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown error", "err", err)
	}
	a.logger.Info("kioku stopped")
	return nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}
