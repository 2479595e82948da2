package bank

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sells-group/ocs-answerer/internal/model"
)

// Vars are the values substituted into ${title}, ${type} and ${options}.
type Vars struct {
	Title   string
	Type    string
	Options string
}

// VarsFor builds template values for a request. The type uses the OCS
// spelling ("judgement") that existing bank endpoints expect.
func VarsFor(req model.Request) Vars {
	t := string(req.Type)
	if req.Type == model.TypeJudgment {
		t = "judgement"
	}
	opts := req.RawOptions
	if opts == "" && len(req.Options) > 0 {
		opts = req.Options.Text()
	}
	return Vars{Title: req.Question, Type: t, Options: opts}
}

// Render substitutes placeholders in tmpl, passing each value through
// escape first when it is non-nil.
func Render(tmpl string, v Vars, escape func(string) string) string {
	if escape == nil {
		escape = func(s string) string { return s }
	}
	return strings.NewReplacer(
		"${title}", escape(v.Title),
		"${type}", escape(v.Type),
		"${options}", escape(v.Options),
	).Replace(tmpl)
}

// RenderURL substitutes query-escaped values into a URL template.
func RenderURL(tmpl string, v Vars) string {
	return Render(tmpl, v, url.QueryEscape)
}

// RenderData substitutes values into every string in data, recursing into
// nested maps and lists. Non-string scalars are kept as they are.
func RenderData(data map[string]any, v Vars) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, val := range data {
		out[k] = renderValue(val, v)
	}
	return out
}

func renderValue(val any, v Vars) any {
	switch x := val.(type) {
	case string:
		return Render(x, v, nil)
	case map[string]any:
		return RenderData(x, v)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = renderValue(item, v)
		}
		return out
	default:
		return x
	}
}

// AppendQuery adds rendered data to a URL's query string in key order.
func AppendQuery(rawURL string, data map[string]any) string {
	if len(data) == 0 {
		return rawURL
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := url.Values{}
	for _, k := range keys {
		q.Set(k, fmt.Sprint(data[k]))
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + q.Encode()
}
