package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/ocs-answerer/internal/ai"
	"github.com/sells-group/ocs-answerer/internal/bank"
	"github.com/sells-group/ocs-answerer/internal/cache"
	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/manual"
	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/normalize"
	"github.com/sells-group/ocs-answerer/internal/store"
)

// DefaultSharedTimeout bounds the remote-bank and AI path of a request.
const DefaultSharedTimeout = 60 * time.Second

// Stage outcomes reported to the Recorder.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Recorder observes pipeline activity.
type Recorder interface {
	Stage(stage model.Source, outcome string, elapsed time.Duration)
	Resolved(source model.Source, found bool, elapsed time.Duration)
	Coalesced()
}

type nopRecorder struct{}

func (nopRecorder) Stage(model.Source, string, time.Duration) {}

func (nopRecorder) Resolved(model.Source, bool, time.Duration) {}

func (nopRecorder) Coalesced() {}

// Orchestrator resolves requests through an ordered list of stages.
// Inline stages run on the caller's goroutine; shared stages run once per
// fingerprint no matter how many callers are waiting on it.
type Orchestrator struct {
	inline []Stage
	shared []Stage

	cache    cache.Cache
	store    store.AnswerStore
	cacheTTL time.Duration

	normalizer    *normalize.Normalizer
	sharedTimeout time.Duration
	recorder      Recorder
	group         singleflight.Group
	now           func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInline appends stages run directly for every caller.
func WithInline(stages ...Stage) Option {
	return func(o *Orchestrator) { o.inline = append(o.inline, stages...) }
}

// WithShared appends stages run once per fingerprint across callers.
func WithShared(stages ...Stage) Option {
	return func(o *Orchestrator) { o.shared = append(o.shared, stages...) }
}

// WithWriteThrough sets where shared-stage answers are recorded. Either
// target may be nil.
func WithWriteThrough(s store.AnswerStore, c cache.Cache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.store = s
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithNormalizer sets the answer normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithSharedTimeout bounds the shared path independently of any caller.
func WithSharedTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.sharedTimeout = d
		}
	}
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// New returns an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		normalizer:    normalize.New(normalize.DefaultJudgment),
		sharedTimeout: DefaultSharedTimeout,
		recorder:      nopRecorder{},
		cacheTTL:      cache.DefaultTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Components are the optional sources of a standard pipeline.
type Components struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Store    store.AnswerStore
	Manual   *manual.Bank
	Banks    *bank.Connector
	AI       *ai.Fallback
}

// Build wires the standard stage order from c, leaving out absent
// components. Answers from remote banks and AI are written to the store
// and the cache.
func Build(c Components, opts ...Option) *Orchestrator {
	var inline, shared []Stage
	if c.Cache != nil {
		inline = append(inline, CacheStage{Cache: c.Cache})
	}
	if c.Store != nil {
		inline = append(inline, StoreStage{Store: c.Store})
	}
	if c.Manual != nil {
		inline = append(inline, ManualStage{Bank: c.Manual})
	}
	if c.Banks != nil {
		shared = append(shared, BankStage{Connector: c.Banks})
	}
	if c.AI != nil {
		shared = append(shared, AIStage{Fallback: c.AI})
	}
	base := []Option{
		WithInline(inline...),
		WithShared(shared...),
		WithWriteThrough(c.Store, c.Cache, c.CacheTTL),
	}
	return New(append(base, opts...)...)
}

// Stages lists the configured stage names in order.
func (o *Orchestrator) Stages() []model.Source {
	out := make([]model.Source, 0, len(o.inline)+len(o.shared))
	for _, s := range o.inline {
		out = append(out, s.Name())
	}
	for _, s := range o.shared {
		out = append(out, s.Name())
	}
	return out
}

// Resolve answers req. An empty question is model.ErrInvalidRequest; a
// request no stage can answer is Outcome{Found: false} with a nil error.
// A missing or unknown type is inferred from the question and options.
func (o *Orchestrator) Resolve(ctx context.Context, req model.Request) (model.Outcome, error) {
	start := time.Now()
	req = o.prepare(req)

	fp, err := fingerprint.Build(req)
	if err != nil {
		return model.Outcome{}, err
	}
	log := zap.L().With(zap.String("fp", fp.Short()))

	for _, s := range o.inline {
		if res := o.attempt(ctx, log, s, req, fp); res != nil {
			return o.found(res, start), nil
		}
	}
	if len(o.shared) == 0 {
		return o.notFound(start), nil
	}

	ch := o.group.DoChan(string(fp), func() (any, error) {
		return o.runShared(ctx, log, req, fp), nil
	})
	select {
	case <-ctx.Done():
		return model.Outcome{}, eris.Wrap(ctx.Err(), "resolver: resolve")
	case r := <-ch:
		if r.Shared {
			o.recorder.Coalesced()
		}
		res, _ := r.Val.(*model.Result)
		if res == nil {
			return o.notFound(start), nil
		}
		return o.found(res.Clone(), start), nil
	}
}

func (o *Orchestrator) prepare(req model.Request) model.Request {
	req.Question = normalize.CollapseQuestion(req.Question)
	if req.Type == model.TypeUnknown || !req.Type.Valid() {
		req.Type = normalize.DetectType(req.Question, req.RawOptions)
	}
	return req
}

// runShared executes the shared stages detached from the caller that
// started them so other waiters are unaffected if it goes away.
func (o *Orchestrator) runShared(ctx context.Context, log *zap.Logger, req model.Request, fp fingerprint.Fingerprint) *model.Result {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sharedTimeout)
	defer cancel()

	// A flight for this fingerprint may have finished between the
	// caller's inline miss and this one starting.
	if res := o.recheck(sctx, log, fp); res != nil {
		return res
	}

	for _, s := range o.shared {
		res := o.attempt(sctx, log, s, req, fp)
		if res == nil {
			continue
		}
		res.CreatedAt = o.now().UTC()
		o.writeThrough(sctx, log, fp, res)
		return res
	}
	return nil
}

// recheck reads the write-through targets once more.
func (o *Orchestrator) recheck(ctx context.Context, log *zap.Logger, fp fingerprint.Fingerprint) *model.Result {
	if o.cache != nil {
		res, ok, err := o.cache.Get(ctx, fp)
		switch {
		case err != nil:
			log.Debug("resolver: cache recheck failed", zap.Error(err))
		case ok:
			res = res.Clone()
			res.Source = model.SourceCache
			return res
		}
	}
	if o.store != nil {
		res, err := o.store.Find(ctx, fp)
		switch {
		case err != nil:
			log.Debug("resolver: store recheck failed", zap.Error(err))
		case res != nil:
			res.Source = model.SourceStore
			return res
		}
	}
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, log *zap.Logger, s Stage, req model.Request, fp fingerprint.Fingerprint) *model.Result {
	start := time.Now()
	stage := s.Name()
	slog := log.With(zap.String("stage", string(stage)))

	res, err := s.Attempt(ctx, req, fp)
	switch {
	case err != nil:
		o.recorder.Stage(stage, OutcomeError, time.Since(start))
		if errors.Is(err, context.Canceled) {
			slog.Debug("resolver: stage cancelled")
		} else {
			slog.Warn("resolver: stage failed", zap.Error(err))
		}
		return nil
	case res == nil:
		o.recorder.Stage(stage, OutcomeMiss, time.Since(start))
		slog.Debug("resolver: stage miss")
		return nil
	}

	qtype := res.Type
	if qtype == "" || qtype == model.TypeUnknown {
		qtype = req.Type
	}
	answer, err := o.normalizer.Answer(res.Answer, qtype, req.Options)
	if err != nil {
		o.recorder.Stage(stage, OutcomeRejected, time.Since(start))
		slog.Info("resolver: answer rejected", zap.String("raw", res.Answer), zap.Error(err))
		return nil
	}
	res.Answer = answer
	res.Type = qtype
	if res.Question == "" {
		res.Question = req.Question
	}
	o.recorder.Stage(stage, OutcomeHit, time.Since(start))
	slog.Debug("resolver: stage hit", zap.String("answer", answer))
	return res
}

func (o *Orchestrator) writeThrough(ctx context.Context, log *zap.Logger, fp fingerprint.Fingerprint, res *model.Result) {
	if o.store != nil {
		if err := o.store.Save(ctx, fp, res); err != nil {
			log.Warn("resolver: store write failed", zap.Error(err))
		}
	}
	if o.cache != nil {
		if err := o.cache.Set(ctx, fp, res, o.cacheTTL); err != nil {
			log.Warn("resolver: cache write failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) found(res *model.Result, start time.Time) model.Outcome {
	o.recorder.Resolved(res.Source, true, time.Since(start))
	return model.Outcome{Found: true, Result: res}
}

func (o *Orchestrator) notFound(start time.Time) model.Outcome {
	o.recorder.Resolved("", false, time.Since(start))
	return model.Outcome{}
}

// InvalidateCache drops every cached answer. The store is untouched.
func (o *Orchestrator) InvalidateCache(ctx context.Context) error {
	if o.cache == nil {
		return nil
	}
	return eris.Wrap(o.cache.InvalidateAll(ctx), "resolver: invalidate cache")
}
