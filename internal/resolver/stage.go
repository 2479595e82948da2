// Package resolver runs the answer pipeline: cache, persisted store,
// manual bank, remote banks, then AI.
package resolver

import (
	"context"

	"github.com/sells-group/ocs-answerer/internal/ai"
	"github.com/sells-group/ocs-answerer/internal/bank"
	"github.com/sells-group/ocs-answerer/internal/cache"
	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/manual"
	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/store"
)

// Stage is one answer source. A miss is (nil, nil); an error is logged
// by the orchestrator and also treated as a miss.
type Stage interface {
	Name() model.Source
	Attempt(ctx context.Context, req model.Request, fp fingerprint.Fingerprint) (*model.Result, error)
}

// CacheStage reads the answer cache.
type CacheStage struct{ Cache cache.Cache }

func (CacheStage) Name() model.Source { return model.SourceCache }

func (s CacheStage) Attempt(ctx context.Context, _ model.Request, fp fingerprint.Fingerprint) (*model.Result, error) {
	res, ok, err := s.Cache.Get(ctx, fp)
	if err != nil || !ok {
		return nil, err
	}
	res = res.Clone()
	res.Source = model.SourceCache
	return res, nil
}

// StoreStage reads the persisted answer table.
type StoreStage struct{ Store store.AnswerStore }

func (StoreStage) Name() model.Source { return model.SourceStore }

func (s StoreStage) Attempt(ctx context.Context, _ model.Request, fp fingerprint.Fingerprint) (*model.Result, error) {
	res, err := s.Store.Find(ctx, fp)
	if err != nil || res == nil {
		return nil, err
	}
	res.Source = model.SourceStore
	return res, nil
}

// ManualStage looks the question up in the curated bank.
type ManualStage struct{ Bank *manual.Bank }

func (ManualStage) Name() model.Source { return model.SourceManual }

func (s ManualStage) Attempt(_ context.Context, req model.Request, _ fingerprint.Fingerprint) (*model.Result, error) {
	e, _, ok := s.Bank.Lookup(req.Question, req.Type)
	if !ok {
		return nil, nil
	}
	return &model.Result{
		Question: req.Question,
		Type:     e.Type,
		Options:  req.RawOptions,
		Answer:   e.Answer,
		Source:   model.SourceManual,
	}, nil
}

// BankStage fans the request out to the remote banks.
type BankStage struct{ Connector *bank.Connector }

func (BankStage) Name() model.Source { return model.SourceBank }

func (s BankStage) Attempt(ctx context.Context, req model.Request, _ fingerprint.Fingerprint) (*model.Result, error) {
	hit, err := s.Connector.Query(ctx, req)
	if err != nil || hit == nil {
		return nil, err
	}
	return &model.Result{
		Question: hit.Question,
		Type:     req.Type,
		Options:  req.RawOptions,
		Answer:   hit.Answer,
		Source:   model.SourceBank,
		Bank:     hit.Bank,
	}, nil
}

// AIStage asks the language model.
type AIStage struct{ Fallback *ai.Fallback }

func (AIStage) Name() model.Source { return model.SourceAI }

func (s AIStage) Attempt(ctx context.Context, req model.Request, _ fingerprint.Fingerprint) (*model.Result, error) {
	answer, err := s.Fallback.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return &model.Result{
		Question: req.Question,
		Type:     req.Type,
		Options:  req.RawOptions,
		Answer:   answer,
		Source:   model.SourceAI,
	}, nil
}
