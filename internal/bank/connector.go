package bank

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/resilience"
)

// Outcome labels for a single bank attempt.
const (
	OutcomeHit         = "hit"
	OutcomeEmpty       = "empty"
	OutcomeTransport   = "transport"
	OutcomeHandler     = "handler"
	OutcomeTimeout     = "timeout"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeRateLimited = "rate_limited"
	OutcomeCancelled   = "cancelled"
)

// ErrRateLimited marks an attempt skipped because the bank's rate limit
// would not admit it before the deadline.
var ErrRateLimited = eris.New("bank: rate limited")

// Hit is a usable answer from one bank.
type Hit struct {
	Question string
	Answer   string
	Bank     string
	// Index is the bank's position in the configuration.
	Index int
}

// Observer receives the outcome of every bank attempt.
type Observer func(bank, outcome string, elapsed time.Duration)

// Status describes a configured bank for status output.
type Status struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Method  string `json:"method"`
	Circuit string `json:"status"`
}

type remote struct {
	cfg     Config
	index   int
	handler *Handler
	limiter *rate.Limiter
	timeout time.Duration
}

// Connector races all configured banks for a request.
type Connector struct {
	client         HTTPClient
	defaultTimeout time.Duration
	handlerTimeout time.Duration
	breakers       *resilience.Breakers
	observe        Observer
	active         atomic.Pointer[[]*remote]
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient sets the transport.
func WithHTTPClient(c HTTPClient) Option {
	return func(cn *Connector) { cn.client = c }
}

// WithDefaultTimeout sets the per-bank timeout used when a config has none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(cn *Connector) { cn.defaultTimeout = d }
}

// WithHandlerTimeout sets the handler evaluation cap.
func WithHandlerTimeout(d time.Duration) Option {
	return func(cn *Connector) { cn.handlerTimeout = d }
}

// WithBreakers shares a circuit breaker registry.
func WithBreakers(b *resilience.Breakers) Option {
	return func(cn *Connector) { cn.breakers = b }
}

// WithBreakerConfig builds the breaker registry from cfg. A nil
// ShouldTrip counts transport failures only.
func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(cn *Connector) {
		if cfg.ShouldTrip == nil {
			cfg.ShouldTrip = isTransportFailure
		}
		cn.breakers = resilience.NewBreakers(cfg)
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(cn *Connector) { cn.observe = o }
}

// NewConnector compiles configs and returns a ready Connector.
func NewConnector(configs []Config, opts ...Option) (*Connector, error) {
	c := &Connector{
		client:         &http.Client{},
		defaultTimeout: DefaultTimeout,
		handlerTimeout: DefaultHandlerTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breakers == nil {
		WithBreakerConfig(resilience.DefaultBreakerConfig())(c)
	}
	if err := c.Replace(configs); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace compiles configs and swaps them in atomically. On error the
// active set is unchanged.
func (c *Connector) Replace(configs []Config) error {
	set := make([]*remote, 0, len(configs))
	for i, cfg := range configs {
		h, err := CompileHandler(cfg.Handler, c.handlerTimeout)
		if err != nil {
			return eris.Wrapf(err, "bank: config[%d] (%s)", i, cfg.Name)
		}
		r := &remote{cfg: cfg, index: i, handler: h, timeout: cfg.timeout(c.defaultTimeout)}
		if cfg.RateLimit > 0 {
			burst := int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
			r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
		set = append(set, r)
	}
	c.active.Store(&set)
	return nil
}

func (c *Connector) snapshot() []*remote {
	p := c.active.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len returns the number of active banks.
func (c *Connector) Len() int { return len(c.snapshot()) }

// Configs returns the active configurations in order.
func (c *Connector) Configs() []Config {
	set := c.snapshot()
	out := make([]Config, len(set))
	for i, r := range set {
		out[i] = r.cfg
	}
	return out
}

// Statuses reports each bank with its circuit state.
func (c *Connector) Statuses() []Status {
	set := c.snapshot()
	out := make([]Status, len(set))
	for i, r := range set {
		out[i] = Status{
			Name:    r.cfg.Name,
			URL:     r.cfg.URL,
			Method:  r.cfg.method(),
			Circuit: c.breakers.For(r.cfg.Name).State().String(),
		}
	}
	return out
}

type attempt struct {
	index int
	hit   *Hit
}

// Query sends req to every bank concurrently and returns the first usable
// answer, cancelling the rest. Answers that arrive together are resolved
// in configuration order. Every bank failure is a miss; Query returns
// nil when no bank answers.
func (c *Connector) Query(ctx context.Context, req model.Request) (*Hit, error) {
	set := c.snapshot()
	if len(set) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vars := VarsFor(req)
	results := make(chan attempt, len(set))
	var wg sync.WaitGroup
	for _, r := range set {
		wg.Add(1)
		go func(r *remote) {
			defer wg.Done()
			results <- attempt{index: r.index, hit: c.queryOne(ctx, r, vars)}
		}(r)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var best *Hit
	for a := range results {
		if a.hit != nil {
			best = a.hit
			break
		}
	}
	if best == nil {
		return nil, nil
	}

	// Prefer an earlier bank whose answer is already waiting.
	for drained := false; !drained; {
		select {
		case a, ok := <-results:
			if !ok {
				drained = true
				break
			}
			if a.hit != nil && a.index < best.Index {
				best = a.hit
			}
		default:
			drained = true
		}
	}
	return best, nil
}

func (c *Connector) queryOne(ctx context.Context, r *remote, vars Vars) *Hit {
	start := time.Now()
	log := zap.L().With(zap.String("bank", r.cfg.Name))

	hit, err := c.attempt(ctx, r, vars)
	outcome := classify(hit, err)
	if c.observe != nil {
		c.observe(r.cfg.Name, outcome, time.Since(start))
	}

	switch outcome {
	case OutcomeHit:
		log.Debug("bank: hit", zap.Duration("elapsed", time.Since(start)))
	case OutcomeEmpty, OutcomeCancelled:
		log.Debug("bank: no result", zap.String("outcome", outcome))
	default:
		log.Warn("bank: attempt failed", zap.String("outcome", outcome), zap.Error(err))
	}
	return hit
}

func (c *Connector) attempt(ctx context.Context, r *remote, vars Vars) (*Hit, error) {
	breaker := c.breakers.For(r.cfg.Name)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	body, err := c.fetch(ctx, r, vars)
	if ctx.Err() != nil {
		// Cancelled because another bank won or the caller gave up.
		breaker.Abandon()
		return nil, eris.Wrap(context.Canceled, "bank: cancelled")
	}
	if errors.Is(err, ErrRateLimited) {
		breaker.Abandon()
		return nil, err
	}
	breaker.Record(err)
	if err != nil {
		return nil, err
	}

	res, err := decode(r.cfg, body)
	if err != nil {
		return nil, err
	}
	ans, err := r.handler.Run(ctx, Env{Res: res, Raw: string(body), Vars: vars})
	if err != nil || ans == nil {
		return nil, err
	}

	question := ans.Question
	if question == "" {
		question = vars.Title
	}
	return &Hit{Question: question, Answer: ans.Answer, Bank: r.cfg.Name, Index: r.index}, nil
}

func (c *Connector) fetch(ctx context.Context, r *remote, vars Vars) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrapf(ErrRateLimited, "wait: %v", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := buildRequest(callCtx, r.cfg, vars)
	if err != nil {
		return nil, err
	}
	return call(c.client, req)
}

func classify(hit *Hit, err error) string {
	switch {
	case err == nil && hit != nil:
		return OutcomeHit
	case err == nil:
		return OutcomeEmpty
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case errors.Is(err, resilience.ErrCircuitOpen):
		return OutcomeCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrHandlerTimeout):
		return OutcomeTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, ErrHandler):
		return OutcomeHandler
	default:
		return OutcomeTransport
	}
}

func isTransportFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrHandler) &&
		!errors.Is(err, ErrRateLimited) &&
		!errors.Is(err, context.Canceled)
}
