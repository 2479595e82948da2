package manual

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ocs-answerer/internal/model"
)

func TestParse_MappingForms(t *testing.T) {
	doc := `
"1+1=?": B
"首都是（ ）":
  answer: 北京
  type: completion
  note: from textbook
"同一题":
  - {answer: B, type: single}
  - {answer: "2", type: completion}
`
	entries, issues, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, entries, 4)

	assert.Equal(t, Entry{Question: "1+1=?", Type: model.TypeSingle, Answer: "B"}, entries[0])
	assert.Equal(t, Entry{Question: "首都是（ ）", Type: model.TypeCompletion, Typed: true, Answer: "北京", Note: "from textbook"}, entries[1])
	assert.Equal(t, "2", entries[3].Answer)
	assert.Equal(t, model.TypeCompletion, entries[3].Type)
}

func TestParse_ListForm(t *testing.T) {
	doc := `[{"question": "q1", "answer": "A"}, {"question": "q2", "answer": "对", "type": "judgment"}]`

	entries, issues, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, entries, 2)
	assert.Equal(t, model.TypeJudgment, entries[1].Type)
}

func TestParse_MalformedEntriesSurfaced(t *testing.T) {
	doc := `
good: A
no-answer: {type: single}
bad-type: {answer: A, type: essay}
"": A
nested: {answer: [1, 2]}
`
	entries, issues, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].Question)
	require.Len(t, issues, 4)
	assert.Contains(t, issues[0].String(), "missing answer")
	assert.Contains(t, issues[1].String(), `unknown type "essay"`)
	assert.Contains(t, issues[2].Reason, "non-empty")
}

func TestParse_EmptyAndInvalid(t *testing.T) {
	entries, issues, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, issues)

	_, _, err = Parse([]byte("just a string"))
	assert.Error(t, err)

	_, _, err = Parse([]byte("a: [unclosed"))
	assert.Error(t, err)
}

func TestMarshal_RoundTrip(t *testing.T) {
	in := []Entry{
		{Question: "true", Type: model.TypeSingle, Answer: "1"},
		{Question: "key: with colon", Type: model.TypeCompletion, Typed: true, Answer: "x", Note: "n"},
		{Question: "Q", Type: model.TypeSingle, Typed: true, Answer: "B"},
		{Question: "Q", Type: model.TypeCompletion, Typed: true, Answer: "2"},
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	out, issues, err := Parse(data)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, in, out)
}
