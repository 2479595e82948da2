package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func aiResult(answer string) *model.Result {
	return &model.Result{
		Question: "Go 的作者是？",
		Type:     model.TypeMultiple,
		Options:  "A. Rob\nB. Ken\nC. Guido",
		Answer:   answer,
		Source:   model.SourceAI,
	}
}

func TestSQLite_FindMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	res, err := st.Find(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSQLite_SaveAndFind(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	require.NoError(t, st.Save(ctx, "fp1", aiResult("A#B")))

	res, err := st.Find(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Go 的作者是？", res.Question)
	assert.Equal(t, model.TypeMultiple, res.Type)
	assert.Equal(t, "A. Rob\nB. Ken\nC. Guido", res.Options)
	assert.Equal(t, "A#B", res.Answer)
	assert.Equal(t, model.SourceAI, res.Source)
	assert.True(t, fixed.Equal(res.CreatedAt))
}

func TestSQLite_SaveOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "fp1", aiResult("A")))
	bank := aiResult("B")
	bank.Source = model.SourceBank
	bank.Bank = "wanneng"
	require.NoError(t, st.Save(ctx, "fp1", bank))

	res, err := st.Find(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "B", res.Answer)
	assert.Equal(t, "wanneng", res.Bank)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_ConcurrentSaves(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp := fingerprint.Fingerprint([]string{"x", "y"}[i%2])
			assert.NoError(t, st.Save(ctx, fp, aiResult("C")))
		}(i)
	}
	wg.Wait()

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_PingAndMigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Ping(ctx))
	require.NoError(t, st.Migrate(ctx))
}

func TestSQLite_ImplementsAnswerStore(t *testing.T) {
	var _ AnswerStore = (*SQLiteStore)(nil)
	var _ AnswerStore = (*PostgresStore)(nil)
}
