package manual

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ocs-answerer/internal/model"
)

func writeBankFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manual.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLookup_TypeSpecificWins(t *testing.T) {
	b := NewFromEntries([]Entry{
		{Question: "Q", Type: model.TypeSingle, Typed: true, Answer: "B"},
		{Question: "Q", Type: model.TypeCompletion, Typed: true, Answer: "2"},
	})

	e, kind, ok := b.Lookup("Q", model.TypeCompletion)
	require.True(t, ok)
	assert.Equal(t, "2", e.Answer)
	assert.Equal(t, MatchExact, kind)

	e, kind, ok = b.Lookup("Q", model.TypeJudgment)
	require.True(t, ok)
	assert.Equal(t, "B", e.Answer)
	assert.Equal(t, model.TypeSingle, e.Type)
	assert.Equal(t, MatchQuestion, kind)
}

func TestLookup_QuestionOnlyPrefersUntyped(t *testing.T) {
	b := NewFromEntries([]Entry{
		{Question: "Q", Type: model.TypeMultiple, Typed: true, Answer: "A#B"},
		{Question: "Q", Type: model.TypeSingle, Answer: "C"},
	})

	e, _, ok := b.Lookup("Q", model.TypeCompletion)
	require.True(t, ok)
	assert.Equal(t, "C", e.Answer)
}

func TestLookup_NormalizesWhitespaceNotCase(t *testing.T) {
	b := NewFromEntries([]Entry{{Question: "What is Go?", Type: model.TypeSingle, Answer: "A"}})

	_, kind, ok := b.Lookup("  What\n is  Go? ", model.TypeSingle)
	require.True(t, ok)
	assert.Equal(t, MatchExact, kind)

	_, _, ok = b.Lookup("what is go?", model.TypeSingle)
	assert.False(t, ok)
}

func TestLookup_FuzzyLongestWins(t *testing.T) {
	b := NewFromEntries([]Entry{
		{Question: "中国的首都", Type: model.TypeCompletion, Typed: true, Answer: "short"},
		{Question: "中国的首都是哪座城市", Type: model.TypeCompletion, Typed: true, Answer: "long"},
		{Question: "无关题目内容", Type: model.TypeCompletion, Typed: true, Answer: "other"},
	})

	e, kind, ok := b.Lookup("【填空题】中国的首都是哪座城市？", model.TypeCompletion)
	require.True(t, ok)
	assert.Equal(t, MatchFuzzy, kind)
	assert.Equal(t, "long", e.Answer)

	// Request contained in an entry question.
	e, _, ok = b.Lookup("的首都是哪座", model.TypeCompletion)
	require.True(t, ok)
	assert.Equal(t, "long", e.Answer)
}

func TestLookup_FuzzyIgnoresShortQuestions(t *testing.T) {
	b := NewFromEntries([]Entry{{Question: "Go", Type: model.TypeSingle, Answer: "A"}})

	_, _, ok := b.Lookup("Which company created Go?", model.TypeSingle)
	assert.False(t, ok)

	loose := NewFromEntries([]Entry{{Question: "Go", Type: model.TypeSingle, Answer: "A"}}, WithMinFuzzyRunes(2))
	_, _, ok = loose.Lookup("Which company created Go?", model.TypeSingle)
	assert.True(t, ok)
}

func TestLookup_Empty(t *testing.T) {
	b := NewFromEntries(nil)
	_, _, ok := b.Lookup("anything at all", model.TypeSingle)
	assert.False(t, ok)
	_, _, ok = b.Lookup("  ", model.TypeSingle)
	assert.False(t, ok)
}

func TestNew_MissingFileStartsEmpty(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestNew_InvalidFileIsError(t *testing.T) {
	path := writeBankFile(t, "a: [unclosed")
	_, err := New(path)
	assert.Error(t, err)
}

func TestReload_KeepsPreviousTableOnDecodeError(t *testing.T) {
	path := writeBankFile(t, "q1: A\n")
	b, err := New(path)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())

	require.NoError(t, os.WriteFile(path, []byte("a: [unclosed"), 0o644))
	assert.Error(t, b.Reload())

	_, _, ok := b.Lookup("q1", model.TypeSingle)
	assert.True(t, ok)
}

func TestReload_SurfacesIssues(t *testing.T) {
	path := writeBankFile(t, "good: A\nbad: {type: single}\n")
	b, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, 1, b.Len())
	require.Len(t, b.Issues(), 1)
	assert.Contains(t, b.Issues()[0].Reason, "missing answer")
}

func TestMutations_Persist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "manual.yaml")
	b, err := New(path)
	require.NoError(t, err)

	require.NoError(t, b.Add(ctx, Entry{Question: "Q", Answer: "B"}))
	require.NoError(t, b.Add(ctx, Entry{Question: "Q", Type: model.TypeCompletion, Answer: "2", Note: "n"}))
	require.NoError(t, b.Add(ctx, Entry{Question: "Q", Answer: "C"}))
	assert.Equal(t, 2, b.Len())

	reloaded, err := New(path)
	require.NoError(t, err)
	e, _, ok := reloaded.Lookup("Q", model.TypeSingle)
	require.True(t, ok)
	assert.Equal(t, "C", e.Answer)
	e, _, ok = reloaded.Lookup("Q", model.TypeCompletion)
	require.True(t, ok)
	assert.Equal(t, "n", e.Note)

	n, err := b.Remove(ctx, "Q", model.TypeCompletion)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.Clear(ctx))
	assert.Equal(t, 0, b.Len())
	require.NoError(t, reloaded.Reload())
	assert.Equal(t, 0, reloaded.Len())
}

func TestAdd_Validation(t *testing.T) {
	b := NewFromEntries(nil)
	assert.Error(t, b.Add(context.Background(), Entry{Question: " ", Answer: "A"}))
	assert.Error(t, b.Add(context.Background(), Entry{Question: "Q"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, b.Add(ctx, Entry{Question: "Q", Answer: "A"}))
}

func TestRemove_AllTypes(t *testing.T) {
	ctx := context.Background()
	b := NewFromEntries([]Entry{
		{Question: "Q", Type: model.TypeSingle, Answer: "B"},
		{Question: "Q", Type: model.TypeCompletion, Typed: true, Answer: "2"},
		{Question: "R", Type: model.TypeSingle, Answer: "A"},
	})

	n, err := b.Remove(ctx, "Q", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []Entry{{Question: "R", Type: model.TypeSingle, Answer: "A"}}, b.List())
}

func TestDuplicateEntriesLaterWins(t *testing.T) {
	b := NewFromEntries([]Entry{
		{Question: "Q", Type: model.TypeSingle, Answer: "A"},
		{Question: "Q ", Type: model.TypeSingle, Answer: "B"},
	})

	e, _, ok := b.Lookup("Q", model.TypeSingle)
	require.True(t, ok)
	assert.Equal(t, "B", e.Answer)
	assert.Equal(t, 1, b.Len())
	assert.Len(t, b.Issues(), 1)
}

func TestLookup_ConcurrentWithMutations(t *testing.T) {
	ctx := context.Background()
	b := NewFromEntries([]Entry{{Question: "stable question", Type: model.TypeSingle, Answer: "A"}})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				_, _, ok := b.Lookup("stable question", model.TypeSingle)
				assert.True(t, ok)
			}
		}()
	}
	for i := range 20 {
		require.NoError(t, b.Add(ctx, Entry{Question: "extra", Answer: string(rune('A' + i%4))}))
	}
	wg.Wait()
}
