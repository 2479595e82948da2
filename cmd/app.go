package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/ai"
	"github.com/sells-group/ocs-answerer/internal/bank"
	"github.com/sells-group/ocs-answerer/internal/cache"
	"github.com/sells-group/ocs-answerer/internal/manual"
	"github.com/sells-group/ocs-answerer/internal/metrics"
	"github.com/sells-group/ocs-answerer/internal/normalize"
	"github.com/sells-group/ocs-answerer/internal/resilience"
	"github.com/sells-group/ocs-answerer/internal/resolver"
	"github.com/sells-group/ocs-answerer/internal/store"
)

// appEnv holds the initialized components needed by serve and ask.
type appEnv struct {
	Cache    cache.Cache
	Store    store.AnswerStore
	Manual   *manual.Bank
	Banks    *bank.Connector
	AI       *ai.Fallback
	Metrics  *metrics.Metrics
	Resolver *resolver.Orchestrator

	closers []func()
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initApp builds every configured component and the orchestrator.
// Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &appEnv{Metrics: metrics.New()}

	c, closeCache, err := initCache(ctx)
	if err != nil {
		return nil, err
	}
	env.Cache = c
	env.closers = append(env.closers, closeCache)

	st, err := initStore(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	if st != nil {
		env.Store = st
		env.closers = append(env.closers, func() { _ = st.Close() })
	}

	if env.Manual, err = initManual(); err != nil {
		env.Close()
		return nil, err
	}

	if env.Banks, err = initBanks(env.Metrics); err != nil {
		env.Close()
		return nil, err
	}

	if env.AI, err = initAI(env.Metrics); err != nil {
		env.Close()
		return nil, err
	}

	env.Resolver = resolver.Build(resolver.Components{
		Cache:    env.Cache,
		CacheTTL: cfg.Cache.TTL(),
		Store:    env.Store,
		Manual:   env.Manual,
		Banks:    env.Banks,
		AI:       env.AI,
	},
		resolver.WithNormalizer(normalize.New(normalize.Judgment{True: cfg.Judgment.True, False: cfg.Judgment.False})),
		resolver.WithSharedTimeout(sharedTimeout()),
		resolver.WithRecorder(env.Metrics),
	)

	stages := make([]string, 0, 5)
	for _, s := range env.Resolver.Stages() {
		stages = append(stages, string(s))
	}
	zap.L().Info("pipeline ready", zap.Strings("stages", stages))

	return env, nil
}

// sharedTimeout bounds the bank and AI stages together.
func sharedTimeout() time.Duration {
	d := time.Duration(cfg.Banks.TimeoutSecs+cfg.AI.TimeoutSecs)*time.Second + 5*time.Second
	if d < resolver.DefaultSharedTimeout {
		return resolver.DefaultSharedTimeout
	}
	return d
}

// initCache returns nil when caching is disabled. The returned close
// func is always safe to call.
func initCache(ctx context.Context) (cache.Cache, func(), error) {
	noop := func() {}
	memory := func() *cache.Memory { return cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL()) }

	switch cfg.Cache.Driver {
	case "none":
		zap.L().Info("cache disabled")
		return nil, noop, nil
	case "memory":
		return memory(), noop, nil
	case "redis":
		r, err := cache.DialRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.KeyPrefix, cfg.Cache.TTL())
		if err != nil {
			return nil, noop, eris.Wrap(err, "init redis cache")
		}
		return r, func() { _ = r.Close() }, nil
	case "tiered":
		r, err := cache.DialRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.KeyPrefix, cfg.Cache.TTL())
		if err != nil {
			zap.L().Warn("redis unavailable, using in-memory cache", zap.Error(err))
			return memory(), noop, nil
		}
		return cache.NewTiered(r, memory()), func() { _ = r.Close() }, nil
	default:
		return nil, noop, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

// initStore opens and migrates the answer store, or returns nil when
// the driver is "none".
func initStore(ctx context.Context) (store.AnswerStore, error) {
	var (
		st  store.AnswerStore
		err error
	)
	switch cfg.Store.Driver {
	case "none":
		zap.L().Info("answer store disabled")
		return nil, nil
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initManual loads the manual bank, or returns nil when no path is set.
func initManual() (*manual.Bank, error) {
	if cfg.Manual.Path == "" {
		zap.L().Info("manual bank disabled")
		return nil, nil
	}
	mb, err := manual.New(cfg.Manual.Path, manual.WithMinFuzzyRunes(cfg.Manual.MinFuzzyRunes))
	if err != nil {
		return nil, eris.Wrap(err, "load manual bank")
	}
	for _, issue := range mb.Issues() {
		zap.L().Warn("manual entry skipped", zap.String("issue", issue.String()))
	}
	zap.L().Info("manual bank loaded",
		zap.String("path", cfg.Manual.Path),
		zap.Int("entries", mb.Len()),
	)
	return mb, nil
}

// loadBankConfigs reads and validates the configured bank definitions.
func loadBankConfigs() ([]bank.Config, error) {
	raw, err := cfg.Banks.Raw()
	if err != nil {
		return nil, err
	}
	configs, err := bank.ParseConfigs(raw)
	if err != nil {
		return nil, eris.Wrap(err, "load bank configs")
	}
	// The global rate limit applies to banks that set none.
	for i := range configs {
		if configs[i].RateLimit == 0 {
			configs[i].RateLimit = cfg.Banks.RateLimit
		}
	}
	return configs, nil
}

// initBanks always returns a connector so that a reload can add banks
// to a process that started with none.
func initBanks(m *metrics.Metrics) (*bank.Connector, error) {
	configs, err := loadBankConfigs()
	if err != nil {
		return nil, err
	}

	opts := []bank.Option{
		bank.WithDefaultTimeout(time.Duration(cfg.Banks.TimeoutSecs) * time.Second),
		bank.WithBreakerConfig(resilience.BreakerConfig{
			FailureThreshold: cfg.Banks.FailureThreshold,
			Cooldown:         time.Duration(cfg.Banks.CooldownSecs) * time.Second,
			OnStateChange:    m.CircuitChanged,
		}),
		bank.WithObserver(m.BankAttempt),
	}
	if cfg.Banks.HandlerTimeoutMS > 0 {
		opts = append(opts, bank.WithHandlerTimeout(time.Duration(cfg.Banks.HandlerTimeoutMS)*time.Millisecond))
	}

	conn, err := bank.NewConnector(configs, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "init bank connector")
	}
	if conn.Len() == 0 {
		zap.L().Warn("no question banks configured")
	} else {
		zap.L().Info("question banks configured", zap.Int("count", conn.Len()))
	}
	return conn, nil
}

// reloadBanks re-reads the bank definitions and swaps them in. The
// active set is kept when the new one does not validate.
func reloadBanks(conn *bank.Connector) error {
	configs, err := loadBankConfigs()
	if err != nil {
		return err
	}
	if err := conn.Replace(configs); err != nil {
		return eris.Wrap(err, "replace bank configs")
	}
	zap.L().Info("question banks reloaded", zap.Int("count", conn.Len()))
	return nil
}

// initAI returns nil when the provider is disabled or has no key.
func initAI(m *metrics.Metrics) (*ai.Fallback, error) {
	if cfg.AI.Provider != ai.ProviderNone && cfg.AI.Provider != "" && cfg.AI.Key == "" {
		zap.L().Warn("ai key not set, AI fallback disabled", zap.String("provider", cfg.AI.Provider))
		return nil, nil
	}

	model, baseURL := aiEndpoint()
	client, err := ai.NewClient(cfg.AI.Provider, cfg.AI.Key, model, baseURL)
	if err != nil {
		return nil, eris.Wrap(err, "init ai client")
	}
	if client == nil {
		zap.L().Info("ai fallback disabled")
		return nil, nil
	}

	breaker := resilience.NewBreaker("ai", resilience.BreakerConfig{
		OnStateChange: m.CircuitChanged,
	})
	opts := []ai.FallbackOption{
		ai.WithTimeout(time.Duration(cfg.AI.TimeoutSecs) * time.Second),
		ai.WithRetries(cfg.AI.MaxRetries),
		ai.WithBreaker(breaker),
	}
	if cfg.AI.AgentPrompt != "" {
		opts = append(opts, ai.WithAgentPrompt(cfg.AI.AgentPrompt))
	}

	zap.L().Info("ai fallback enabled",
		zap.String("provider", cfg.AI.Provider),
		zap.String("model", model),
	)
	return ai.NewFallback(client, opts...), nil
}

// aiEndpoint drops the OpenAI defaults when another provider is chosen.
func aiEndpoint() (model, baseURL string) {
	model, baseURL = cfg.AI.Model, cfg.AI.BaseURL
	if cfg.AI.Provider == ai.ProviderAnthropic {
		if model == ai.DefaultOpenAIModel {
			model = ai.DefaultAnthropicModel
		}
		if baseURL == ai.DefaultOpenAIBaseURL {
			baseURL = ""
		}
	}
	return model, baseURL
}
