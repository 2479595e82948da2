package bank

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/ocs-answerer/internal/normalize"
)

const (
	// DefaultHandlerTimeout caps a single handler evaluation.
	DefaultHandlerTimeout = 20 * time.Millisecond
	// MaxHandlerSource caps handler source length.
	MaxHandlerSource = 4096
	// MaxHandlerNodes caps the compiled expression size.
	MaxHandlerNodes = 1000
	// HandlerMemoryBudget caps allocations made by one evaluation.
	HandlerMemoryBudget = 100_000
)

var (
	// ErrHandler marks a handler that failed to evaluate or returned an
	// unusable shape.
	ErrHandler = eris.New("bank: handler error")
	// ErrHandlerTimeout marks a handler that exceeded its time cap.
	ErrHandlerTimeout = eris.New("bank: handler timed out")
)

var (
	leadingReturn = regexp.MustCompile(`^return\s+`)
	arrowPrefix   = regexp.MustCompile(`^(?:\(\s*([A-Za-z_$][\w$]*)?\s*\)|([A-Za-z_$][\w$]*))\s*=>\s*`)
	strictEq      = regexp.MustCompile(`===`)
	strictNeq     = regexp.MustCompile(`!==`)
	nilWords      = regexp.MustCompile(`\b(?:undefined|null)\b`)
)

// Handler is a compiled response-mapping expression. Evaluations share
// no state and can only read the values passed in.
type Handler struct {
	source  string
	param   string
	program *vm.Program
	timeout time.Duration
}

// Env is the data visible to a handler.
type Env struct {
	// Res is the decoded response: a JSON value or the body text.
	Res any
	// Raw is the undecoded body.
	Raw  string
	Vars Vars
}

// Answer is a handler's mapped output.
type Answer struct {
	Question string
	Answer   string
}

// Translate rewrites an OCS-style JavaScript arrow handler such as
//
//	return (res) => res.code === 1 ? [res.question, res.answer] : undefined
//
// into expression syntax. It returns the rewritten body and the name the
// response was bound to, which defaults to "res".
func Translate(src string) (body, param string, err error) {
	s := strings.TrimSpace(src)
	s = strings.TrimSuffix(s, ";")
	s = leadingReturn.ReplaceAllString(s, "")
	param = "res"

	if m := arrowPrefix.FindStringSubmatch(s); m != nil {
		switch {
		case m[1] != "":
			param = m[1]
		case m[2] != "":
			param = m[2]
		}
		s = strings.TrimSpace(s[len(m[0]):])
	}
	if strings.HasPrefix(s, "{") {
		return "", "", eris.New("block-bodied functions are not supported, use a single expression")
	}

	s = strictNeq.ReplaceAllString(s, "!=")
	s = strictEq.ReplaceAllString(s, "==")
	s = nilWords.ReplaceAllString(s, "nil")
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	if s == "" {
		return "", "", eris.New("empty handler")
	}
	return s, param, nil
}

// CompileHandler translates and compiles src. A non-positive timeout uses
// DefaultHandlerTimeout.
func CompileHandler(src string, timeout time.Duration) (*Handler, error) {
	if len(src) > MaxHandlerSource {
		return nil, eris.Errorf("handler exceeds %d bytes", MaxHandlerSource)
	}
	body, param, err := Translate(src)
	if err != nil {
		return nil, err
	}
	program, err := expr.Compile(body,
		expr.AllowUndefinedVariables(),
		expr.MaxNodes(MaxHandlerNodes),
		expr.Function("path", pathFunc, new(func(string, string) any)),
		expr.Function("join", joinFunc,
			new(func([]any) string),
			new(func([]any, string) string),
		),
	)
	if err != nil {
		return nil, eris.Wrap(err, "compile handler")
	}
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &Handler{source: src, param: param, program: program, timeout: timeout}, nil
}

// pathFunc exposes gjson path queries: path(raw, "data.answer").
func pathFunc(params ...any) (any, error) {
	raw, _ := params[0].(string)
	p, _ := params[1].(string)
	return gjson.Get(raw, p).Value(), nil
}

// joinFunc joins a list with the multiple-choice separator unless a
// separator is given: join(res.answers) or join(res.answers, ",").
func joinFunc(params ...any) (any, error) {
	sep := normalize.MultiSeparator
	if len(params) > 1 {
		s, ok := params[1].(string)
		if !ok {
			return nil, eris.Errorf("join: separator must be a string, got %T", params[1])
		}
		sep = s
	}
	switch list := params[0].(type) {
	case nil:
		return "", nil
	case []any:
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = scalarText(item)
		}
		return strings.Join(parts, sep), nil
	case []string:
		return strings.Join(list, sep), nil
	default:
		return nil, eris.Errorf("join: expected a list, got %T", params[0])
	}
}

// Run evaluates the handler. A nil Answer with nil error means the bank
// reported no result.
func (h *Handler) Run(ctx context.Context, env Env) (*Answer, error) {
	vars := map[string]any{
		"res":     env.Res,
		"raw":     env.Raw,
		"title":   env.Vars.Title,
		"qtype":   env.Vars.Type,
		"options": env.Vars.Options,
	}
	if h.param != "res" {
		vars[h.param] = env.Res
	}

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: eris.Errorf("handler panic: %v", r)}
			}
		}()
		machine := vm.VM{MemoryBudget: HandlerMemoryBudget}
		out, err := machine.Run(h.program, vars)
		done <- outcome{out: out, err: err}
	}()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "bank: handler cancelled")
	case <-timer.C:
		return nil, ErrHandlerTimeout
	case o := <-done:
		if o.err != nil {
			return nil, eris.Wrapf(ErrHandler, "evaluate: %v", o.err)
		}
		return interpret(o.out)
	}
}

// interpret maps handler output onto an Answer. Falsy values mean no
// result; [question, answer] is the usual shape and a list answer is
// joined with the multiple-choice separator.
func interpret(out any) (*Answer, error) {
	switch v := out.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return nil, eris.Wrap(ErrHandler, "handler returned true")
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return &Answer{Answer: v}, nil
	case []any:
		switch len(v) {
		case 0:
			return nil, nil
		case 1:
			ans := answerText(v[0])
			if ans == "" {
				return nil, nil
			}
			return &Answer{Answer: ans}, nil
		default:
			ans := answerText(v[1])
			if ans == "" {
				return nil, nil
			}
			return &Answer{Question: scalarText(v[0]), Answer: ans}, nil
		}
	default:
		return nil, eris.Wrapf(ErrHandler, "unsupported result type %T", out)
	}
}

func answerText(v any) string {
	if list, ok := v.([]any); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if s := strings.TrimSpace(scalarText(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, normalize.MultiSeparator)
	}
	return strings.TrimSpace(scalarText(v))
}

func scalarText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
