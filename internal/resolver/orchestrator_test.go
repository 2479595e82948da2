package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ocs-answerer/internal/bank"
	"github.com/sells-group/ocs-answerer/internal/cache"
	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/manual"
	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/normalize"
	"github.com/sells-group/ocs-answerer/internal/store"
)

type fakeStage struct {
	name  model.Source
	res   *model.Result
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeStage) Name() model.Source { return f.name }

func (f *fakeStage) Attempt(ctx context.Context, _ model.Request, _ fingerprint.Fingerprint) (*model.Result, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil || f.res == nil {
		return nil, f.err
	}
	return f.res.Clone(), nil
}

func answering(name model.Source, answer string) *fakeStage {
	return &fakeStage{name: name, res: &model.Result{Answer: answer, Source: name}}
}

type countingRecorder struct {
	mu        sync.Mutex
	stages    map[string]int
	resolved  map[model.Source]int
	coalesced int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{stages: map[string]int{}, resolved: map[model.Source]int{}}
}

func (r *countingRecorder) Stage(stage model.Source, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[string(stage)+":"+outcome]++
}

func (r *countingRecorder) Resolved(source model.Source, _ bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved[source]++
}

func (r *countingRecorder) Coalesced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coalesced++
}

func choiceRequest() model.Request {
	return model.NewRequest("Go 语言的作者之一是？", model.TypeSingle, "A. Rob Pike\nB. Guido\nC. Matz")
}

func TestResolve_EmptyQuestion(t *testing.T) {
	s := answering(model.SourceManual, "A")
	o := New(WithInline(s))

	_, err := o.Resolve(context.Background(), model.NewRequest("  <p></p> ", model.TypeSingle, ""))
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	assert.Zero(t, s.calls.Load())
}

func TestResolve_FirstHitWins(t *testing.T) {
	miss := &fakeStage{name: model.SourceCache}
	failing := &fakeStage{name: model.SourceStore, err: errors.New("db down")}
	hit := answering(model.SourceManual, "答案：a")
	later := answering(model.SourceBank, "B")

	rec := newCountingRecorder()
	o := New(WithInline(miss, failing, hit), WithShared(later), WithRecorder(rec))

	out, err := o.Resolve(context.Background(), choiceRequest())
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, "A", out.Result.Answer)
	assert.Equal(t, model.SourceManual, out.Result.Source)
	assert.Equal(t, model.TypeSingle, out.Result.Type)
	assert.Zero(t, later.calls.Load())

	assert.Equal(t, 1, rec.stages["cache:miss"])
	assert.Equal(t, 1, rec.stages["store:error"])
	assert.Equal(t, 1, rec.stages["manual:hit"])
	assert.Equal(t, 1, rec.resolved[model.SourceManual])
}

func TestResolve_AllMissIsNotFound(t *testing.T) {
	o := New(
		WithInline(&fakeStage{name: model.SourceCache}),
		WithShared(&fakeStage{name: model.SourceBank}, &fakeStage{name: model.SourceAI, err: errors.New("ai down")}),
	)
	out, err := o.Resolve(context.Background(), choiceRequest())
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Nil(t, out.Result)
}

func TestResolve_NoStages(t *testing.T) {
	out, err := New().Resolve(context.Background(), choiceRequest())
	require.NoError(t, err)
	assert.False(t, out.Found)
}

func TestResolve_JudgmentNormalizationFailureIsMiss(t *testing.T) {
	ai := answering(model.SourceAI, "也许吧")
	o := New(WithShared(ai))

	out, err := o.Resolve(context.Background(), model.NewRequest("地球是圆的", model.TypeJudgment, ""))
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Equal(t, int32(1), ai.calls.Load())
}

func TestResolve_JudgmentTokens(t *testing.T) {
	o := New(
		WithShared(answering(model.SourceAI, "正确")),
		WithNormalizer(normalize.New(normalize.Judgment{True: "T", False: "F"})),
	)
	out, err := o.Resolve(context.Background(), model.NewRequest("地球是圆的", model.TypeJudgment, ""))
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, "T", out.Result.Answer)
}

func TestResolve_WriteThroughThenCached(t *testing.T) {
	mem := cache.NewMemory(100, time.Hour)
	dbPath := filepath.Join(t.TempDir(), "answers.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	remote := &fakeStage{name: model.SourceBank, res: &model.Result{Answer: "a", Bank: "demo", Source: model.SourceBank}}
	o := New(
		WithInline(CacheStage{Cache: mem}, StoreStage{Store: st}),
		WithShared(remote),
		WithWriteThrough(st, mem, time.Hour),
	)

	req := choiceRequest()
	first, err := o.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Found)
	assert.Equal(t, model.SourceBank, first.Result.Source)
	assert.Equal(t, "A", first.Result.Answer)
	assert.False(t, first.Result.CreatedAt.IsZero())

	second, err := o.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Found)
	assert.Equal(t, model.SourceCache, second.Result.Source)
	assert.Equal(t, first.Result.Answer, second.Result.Answer)
	assert.Equal(t, int32(1), remote.calls.Load())

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, o.InvalidateCache(context.Background()))
	third, err := o.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStore, third.Result.Source)
	assert.Equal(t, "A", third.Result.Answer)
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestResolve_InlineHitsAreNotWrittenThrough(t *testing.T) {
	mem := cache.NewMemory(100, time.Hour)
	o := New(
		WithInline(CacheStage{Cache: mem}, answering(model.SourceManual, "B")),
		WithWriteThrough(nil, mem, time.Hour),
	)
	out, err := o.Resolve(context.Background(), choiceRequest())
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Zero(t, mem.Len())
}

func TestResolve_ConcurrentCallersShareOneComputation(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeStage{name: model.SourceBank, res: &model.Result{Answer: "C"}, gate: gate}
	rec := newCountingRecorder()
	o := New(WithShared(remote), WithRecorder(rec))

	const callers = 10
	var wg sync.WaitGroup
	answers := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := o.Resolve(context.Background(), choiceRequest())
			if err == nil && out.Found {
				answers[i] = out.Result.Answer
			}
		}(i)
	}

	require.Eventually(t, func() bool { return remote.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), remote.calls.Load())
	for i, a := range answers {
		assert.Equal(t, "C", a, "caller %d", i)
	}
	assert.Equal(t, callers, rec.coalesced)
}

// heldCache returns a stale miss to the first Get carrying holdKey and
// blocks it until release is closed.
type heldCache struct {
	cache.Cache
	entered chan struct{}
	release chan struct{}
	held    atomic.Bool
}

type holdKey struct{}

func (h *heldCache) Get(ctx context.Context, fp fingerprint.Fingerprint) (*model.Result, bool, error) {
	res, ok, err := h.Cache.Get(ctx, fp)
	if ctx.Value(holdKey{}) != nil && h.held.CompareAndSwap(false, true) {
		close(h.entered)
		<-h.release
		return nil, false, nil
	}
	return res, ok, err
}

func TestResolve_LateCallerReusesFinishedFlight(t *testing.T) {
	hc := &heldCache{
		Cache:   cache.NewMemory(100, time.Hour),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	ai := answering(model.SourceAI, "A")
	o := New(
		WithInline(CacheStage{Cache: hc}),
		WithShared(ai),
		WithWriteThrough(nil, hc, time.Hour),
	)

	late := make(chan model.Outcome, 1)
	go func() {
		ctx := context.WithValue(context.Background(), holdKey{}, true)
		out, _ := o.Resolve(ctx, choiceRequest())
		late <- out
	}()
	<-hc.entered

	first, err := o.Resolve(context.Background(), choiceRequest())
	require.NoError(t, err)
	require.True(t, first.Found)
	assert.Equal(t, model.SourceAI, first.Result.Source)

	close(hc.release)
	select {
	case out := <-late:
		require.True(t, out.Found)
		assert.Equal(t, "A", out.Result.Answer)
		assert.Equal(t, model.SourceCache, out.Result.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("late caller never resolved")
	}
	assert.Equal(t, int32(1), ai.calls.Load())
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeStage{name: model.SourceBank, res: &model.Result{Answer: "A"}, gate: gate}
	o := New(WithShared(remote))

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := o.Resolve(leaderCtx, choiceRequest())
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return remote.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	follower := make(chan model.Outcome, 1)
	go func() {
		out, _ := o.Resolve(context.Background(), choiceRequest())
		follower <- out
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(gate)
	select {
	case out := <-follower:
		require.True(t, out.Found)
		assert.Equal(t, "A", out.Result.Answer)
	case <-time.After(2 * time.Second):
		t.Fatal("follower never resolved")
	}
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestResolve_DetectsMissingType(t *testing.T) {
	remote := answering(model.SourceBank, "B、C")
	o := New(WithShared(remote))

	req := model.NewRequest("以下哪些是编程语言（多选）", model.TypeUnknown, "A. 猫\nB. Go\nC. Rust")
	out, err := o.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, model.TypeMultiple, out.Result.Type)
	assert.Equal(t, "B#C", out.Result.Answer)
}

func TestResolve_ManualBankEntryType(t *testing.T) {
	mb := manual.NewFromEntries([]manual.Entry{
		{Question: "1+1=?", Type: model.TypeCompletion, Typed: true, Answer: " 2 "},
	})
	o := Build(Components{Manual: mb})

	out, err := o.Resolve(context.Background(), model.NewRequest("1+1=?", model.TypeCompletion, ""))
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, "2", out.Result.Answer)
	assert.Equal(t, model.SourceManual, out.Result.Source)
}

func TestResolve_ThreeBanksOnlySecondAnswers(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 1, "question": "Go 语言的作者之一是？", "answer": "Rob Pike"})
	}))
	t.Cleanup(good.Close)
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0})
	}))
	t.Cleanup(empty.Close)

	handler := "return (res)=> res.code === 1 ? [res.question, res.answer] : undefined"
	conn, err := bank.NewConnector([]bank.Config{
		{Name: "down", URL: down.URL + "?q=${title}", Handler: handler},
		{Name: "good", URL: good.URL + "?q=${title}", Handler: handler},
		{Name: "empty", URL: empty.URL + "?q=${title}", Handler: handler},
	})
	require.NoError(t, err)

	mem := cache.NewMemory(10, time.Hour)
	o := Build(Components{Cache: mem, Banks: conn})

	req := model.NewRequest("Go 语言的作者之一是？", model.TypeCompletion, "")
	out, err := o.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, out.Found)
	assert.Equal(t, "Rob Pike", out.Result.Answer)
	assert.Equal(t, "good", out.Result.Bank)
	assert.Equal(t, 1, mem.Len())
}

func TestBuild_StageOrder(t *testing.T) {
	mem := cache.NewMemory(10, time.Hour)
	mb := manual.NewFromEntries(nil)
	conn, err := bank.NewConnector(nil)
	require.NoError(t, err)

	o := Build(Components{Cache: mem, Manual: mb, Banks: conn})
	assert.Equal(t, []model.Source{model.SourceCache, model.SourceManual, model.SourceBank}, o.Stages())
}

func TestInvalidateCache_NoCache(t *testing.T) {
	assert.NoError(t, New().InvalidateCache(context.Background()))
}
