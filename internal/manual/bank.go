package manual

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/model"
)

// DefaultMinFuzzyRunes is the shortest question that takes part in
// substring matching.
const DefaultMinFuzzyRunes = 4

// MatchKind records which rule produced a lookup hit.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchQuestion MatchKind = "question"
	MatchFuzzy    MatchKind = "fuzzy"
)

type tableKey struct {
	question string
	qtype    model.QuestionType
}

// table is an immutable snapshot of the bank.
type table struct {
	entries    []Entry
	exact      map[tableKey]Entry
	byQuestion map[string][]Entry
	// fuzzy holds distinct normalized questions, longest first.
	fuzzy []string
}

func newTable(entries []Entry) (*table, []LoadIssue) {
	t := &table{
		exact:      make(map[tableKey]Entry, len(entries)),
		byQuestion: make(map[string][]Entry),
	}
	var issues []LoadIssue

	for _, e := range entries {
		nq := normalizedQuestion(e.Question)
		key := tableKey{question: nq, qtype: e.Type}
		if _, dup := t.exact[key]; dup {
			issues = append(issues, LoadIssue{Question: e.Question, Reason: "duplicate question and type, later entry wins"})
			t.replace(key, e)
			continue
		}
		t.exact[key] = e
		t.entries = append(t.entries, e)
		if _, seen := t.byQuestion[nq]; !seen {
			t.fuzzy = append(t.fuzzy, nq)
		}
		t.byQuestion[nq] = append(t.byQuestion[nq], e)
	}

	sort.Slice(t.fuzzy, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(t.fuzzy[i]), utf8.RuneCountInString(t.fuzzy[j])
		if li != lj {
			return li > lj
		}
		return t.fuzzy[i] < t.fuzzy[j]
	})
	return t, issues
}

func (t *table) replace(key tableKey, e Entry) {
	t.exact[key] = e
	for i, old := range t.entries {
		if normalizedQuestion(old.Question) == key.question && old.Type == key.qtype {
			t.entries[i] = e
		}
	}
	group := t.byQuestion[key.question]
	for i, old := range group {
		if old.Type == key.qtype {
			group[i] = e
		}
	}
}

// questionOnly picks the entry used when no entry matches the requested
// type: an untyped entry first, else the first declared.
func (t *table) questionOnly(nq string) (Entry, bool) {
	group := t.byQuestion[nq]
	if len(group) == 0 {
		return Entry{}, false
	}
	for _, e := range group {
		if !e.Typed {
			return e, true
		}
	}
	return group[0], true
}

func (t *table) lookup(question string, qtype model.QuestionType, minFuzzy int) (Entry, MatchKind, bool) {
	nq := normalizedQuestion(question)
	if nq == "" {
		return Entry{}, "", false
	}

	if e, ok := t.exact[tableKey{question: nq, qtype: qtype}]; ok {
		return e, MatchExact, true
	}
	if e, ok := t.questionOnly(nq); ok {
		return e, MatchQuestion, true
	}

	if utf8.RuneCountInString(nq) < minFuzzy {
		return Entry{}, "", false
	}
	for _, cand := range t.fuzzy {
		if utf8.RuneCountInString(cand) < minFuzzy {
			break
		}
		if !strings.Contains(nq, cand) && !strings.Contains(cand, nq) {
			continue
		}
		if e, ok := t.exact[tableKey{question: cand, qtype: qtype}]; ok {
			return e, MatchFuzzy, true
		}
		e, _ := t.questionOnly(cand)
		return e, MatchFuzzy, true
	}
	return Entry{}, "", false
}

// Bank serves lookups from an atomically swapped table backed by a file.
type Bank struct {
	path     string
	minFuzzy int
	current  atomic.Pointer[table]
	writeMu  sync.Mutex
	issues   atomic.Pointer[[]LoadIssue]
}

// Option configures a Bank.
type Option func(*Bank)

// WithMinFuzzyRunes sets the minimum question length for substring
// matching. Non-positive values keep the default.
func WithMinFuzzyRunes(n int) Option {
	return func(b *Bank) {
		if n > 0 {
			b.minFuzzy = n
		}
	}
}

// New creates a Bank for path and performs the initial load. A missing
// file yields an empty bank.
func New(path string, opts ...Option) (*Bank, error) {
	b := &Bank{path: path, minFuzzy: DefaultMinFuzzyRunes}
	for _, o := range opts {
		o(b)
	}
	b.current.Store(&table{exact: map[tableKey]Entry{}, byQuestion: map[string][]Entry{}})
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewFromEntries builds a file-less bank, used by tests and one-off tools.
func NewFromEntries(entries []Entry, opts ...Option) *Bank {
	b := &Bank{minFuzzy: DefaultMinFuzzyRunes}
	for _, o := range opts {
		o(b)
	}
	t, issues := newTable(entries)
	b.current.Store(t)
	b.issues.Store(&issues)
	return b
}

// Path returns the backing file path.
func (b *Bank) Path() string { return b.path }

// Reload reads the file and swaps in a new table. On a decode error the
// previous table stays active.
func (b *Bank) Reload() error {
	if b.path == "" {
		return nil
	}
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Info("manual: bank file not found, starting empty", zap.String("path", b.path))
		b.swap(nil, nil)
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "manual: read %s", b.path)
	}

	entries, issues, err := Parse(data)
	if err != nil {
		return eris.Wrapf(err, "manual: load %s", b.path)
	}
	b.swap(entries, issues)
	return nil
}

func (b *Bank) swap(entries []Entry, issues []LoadIssue) {
	t, dupIssues := newTable(entries)
	issues = append(issues, dupIssues...)
	b.current.Store(t)
	b.issues.Store(&issues)

	for _, issue := range issues {
		zap.L().Warn("manual: skipped entry",
			zap.String("path", b.path),
			zap.String("issue", issue.String()),
		)
	}
	zap.L().Info("manual: bank loaded",
		zap.String("path", b.path),
		zap.Int("entries", len(t.entries)),
		zap.Int("issues", len(issues)),
	)
}

// Issues returns the problems found during the last load.
func (b *Bank) Issues() []LoadIssue {
	p := b.issues.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Lookup finds an entry for question: exact (question, type) first, then
// question alone using the entry's own type, then the longest entry whose
// question contains or is contained in the request's.
func (b *Bank) Lookup(question string, qtype model.QuestionType) (Entry, MatchKind, bool) {
	return b.current.Load().lookup(question, qtype, b.minFuzzy)
}

// List returns all entries in file order.
func (b *Bank) List() []Entry {
	t := b.current.Load()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (b *Bank) Len() int { return len(b.current.Load().entries) }

// Add inserts or replaces the entry with the same question and type.
func (b *Bank) Add(ctx context.Context, e Entry) error {
	e.Question = strings.TrimSpace(e.Question)
	e.Answer = strings.TrimSpace(e.Answer)
	if e.Question == "" || e.Answer == "" {
		return eris.New("manual: question and answer are required")
	}
	if e.Type == "" || e.Type == model.TypeUnknown {
		e.Type = model.TypeSingle
		e.Typed = false
	} else {
		e.Typed = true
	}

	return b.mutate(ctx, func(entries []Entry) []Entry {
		nq := normalizedQuestion(e.Question)
		for i, old := range entries {
			if normalizedQuestion(old.Question) == nq && old.Type == e.Type {
				entries[i] = e
				return entries
			}
		}
		return append(entries, e)
	})
}

// Remove deletes entries for question. An empty qtype removes every type.
func (b *Bank) Remove(ctx context.Context, question string, qtype model.QuestionType) (int, error) {
	nq := normalizedQuestion(question)
	removed := 0
	err := b.mutate(ctx, func(entries []Entry) []Entry {
		kept := entries[:0]
		for _, e := range entries {
			if normalizedQuestion(e.Question) == nq && (qtype == "" || e.Type == qtype) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		return kept
	})
	return removed, err
}

// Clear removes every entry.
func (b *Bank) Clear(ctx context.Context) error {
	return b.mutate(ctx, func([]Entry) []Entry { return nil })
}

// Merge adds or replaces many entries in one write.
func (b *Bank) Merge(ctx context.Context, add []Entry) error {
	return b.mutate(ctx, func(entries []Entry) []Entry {
		index := make(map[tableKey]int, len(entries))
		for i, e := range entries {
			index[tableKey{normalizedQuestion(e.Question), e.Type}] = i
		}
		for _, e := range add {
			k := tableKey{normalizedQuestion(e.Question), e.Type}
			if i, ok := index[k]; ok {
				entries[i] = e
				continue
			}
			index[k] = len(entries)
			entries = append(entries, e)
		}
		return entries
	})
}

func (b *Bank) mutate(ctx context.Context, fn func([]Entry) []Entry) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "manual: mutate")
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	entries := fn(b.List())
	if b.path != "" {
		if err := writeFile(b.path, entries); err != nil {
			return err
		}
	}
	t, issues := newTable(entries)
	b.current.Store(t)
	b.issues.Store(&issues)
	return nil
}

// writeFile replaces path atomically via a temp file and rename.
func writeFile(path string, entries []Entry) error {
	data, err := Marshal(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "manual: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".manual-*.yaml")
	if err != nil {
		return eris.Wrap(err, "manual: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "manual: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "manual: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "manual: replace %s", path)
	}
	return nil
}
