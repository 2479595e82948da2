package bank

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/ocs-answerer/internal/model"
)

func TestVarsFor(t *testing.T) {
	req := model.NewRequest("1+1=2", "judgment", "")
	v := VarsFor(req)
	assert.Equal(t, "1+1=2", v.Title)
	assert.Equal(t, "judgement", v.Type)

	req = model.NewRequest("pick", "single", "A. x\nB. y")
	v = VarsFor(req)
	assert.Equal(t, "single", v.Type)
	assert.Equal(t, "A. x\nB. y", v.Options)
}

func TestRenderURL_Escapes(t *testing.T) {
	got := RenderURL("https://x.example/s?q=${title}&t=${type}", Vars{Title: "a b&c", Type: "single"})
	u, err := url.Parse(got)
	assert.NoError(t, err)
	assert.Equal(t, "a b&c", u.Query().Get("q"))
	assert.Equal(t, "single", u.Query().Get("t"))
}

func TestRender_NoEscape(t *testing.T) {
	got := Render(`{"q":"${title}","o":"${options}"}`, Vars{Title: "问题", Options: "A"}, nil)
	assert.Equal(t, `{"q":"问题","o":"A"}`, got)
}

func TestRenderData_Nested(t *testing.T) {
	data := map[string]any{
		"q":     "${title}",
		"n":     float64(3),
		"inner": map[string]any{"t": "${type}"},
		"list":  []any{"${options}", true},
	}
	got := RenderData(data, Vars{Title: "T", Type: "multiple", Options: "O"})
	assert.Equal(t, "T", got["q"])
	assert.Equal(t, float64(3), got["n"])
	assert.Equal(t, map[string]any{"t": "multiple"}, got["inner"])
	assert.Equal(t, []any{"O", true}, got["list"])
	assert.Equal(t, "${title}", data["q"], "input untouched")
	assert.Nil(t, RenderData(nil, Vars{}))
}

func TestAppendQuery(t *testing.T) {
	assert.Equal(t, "https://x.example/s", AppendQuery("https://x.example/s", nil))
	assert.Equal(t, "https://x.example/s?a=1&b=two", AppendQuery("https://x.example/s", map[string]any{"b": "two", "a": 1}))
	assert.Equal(t, "https://x.example/s?k=v&a=1", AppendQuery("https://x.example/s?k=v", map[string]any{"a": 1}))
}
