package ai

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/normalize"
	"github.com/sells-group/ocs-answerer/internal/resilience"
)

// DefaultTimeout bounds one Resolve call, retries included.
const DefaultTimeout = 30 * time.Second

// ErrNoAnswer means the model replied without a usable answer.
var ErrNoAnswer = eris.New("ai: no usable answer")

// Fallback asks a Client for an answer under a timeout, a retry policy
// and a circuit breaker.
type Fallback struct {
	client      Client
	agentPrompt string
	timeout     time.Duration
	policy      resilience.Policy
	breaker     *resilience.Breaker
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithAgentPrompt overrides the free-text system prompt.
func WithAgentPrompt(p string) FallbackOption {
	return func(f *Fallback) { f.agentPrompt = p }
}

// WithTimeout sets the overall deadline.
func WithTimeout(d time.Duration) FallbackOption {
	return func(f *Fallback) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) FallbackOption {
	return func(f *Fallback) {
		if n >= 0 {
			f.policy.Attempts = n + 1
		}
	}
}

// WithPolicy replaces the retry policy.
func WithPolicy(p resilience.Policy) FallbackOption {
	return func(f *Fallback) { f.policy = p }
}

// WithBreaker guards the client with b.
func WithBreaker(b *resilience.Breaker) FallbackOption {
	return func(f *Fallback) { f.breaker = b }
}

// NewFallback wraps client.
func NewFallback(client Client, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		client:  client,
		timeout: DefaultTimeout,
		policy:  resilience.DefaultPolicy(),
		breaker: resilience.NewBreaker("ai", resilience.DefaultBreakerConfig()),
	}
	f.policy.OnRetry = resilience.LogRetry("ai")
	for _, o := range opts {
		o(f)
	}
	return f
}

// Resolve asks the model about req. For choice questions the reply is
// reduced to option letters in option order; a reply without any valid
// letter is ErrNoAnswer. Other types return the trimmed reply.
func (f *Fallback) Resolve(ctx context.Context, req model.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	prompt := BuildPrompt(req, f.agentPrompt)
	start := time.Now()
	reply, err := resilience.Guard(ctx, f.breaker, func(ctx context.Context) (string, error) {
		return resilience.Retry(ctx, f.policy, func(ctx context.Context) (string, error) {
			return f.client.Complete(ctx, prompt)
		})
	})
	if err != nil {
		return "", eris.Wrap(err, "ai: resolve")
	}
	zap.L().Debug("ai: reply",
		zap.String("question", truncate(req.Question, 60)),
		zap.String("reply", truncate(reply, 60)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if req.Type.IsChoice() && req.HasOptions() {
		letters := inOptionOrder(normalize.ExtractLetters(reply, req.Options), req.Options)
		if len(letters) == 0 {
			return "", eris.Wrapf(ErrNoAnswer, "no option letter in %q", truncate(reply, 60))
		}
		if req.Type == model.TypeSingle {
			letters = letters[:1]
		}
		return strings.Join(letters, normalize.MultiSeparator), nil
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrNoAnswer
	}
	return reply, nil
}

func inOptionOrder(letters []string, opts model.Options) []string {
	picked := make(map[string]bool, len(letters))
	for _, l := range letters {
		picked[l] = true
	}
	out := make([]string, 0, len(letters))
	for _, o := range opts {
		if picked[o.Letter] {
			out = append(out, o.Letter)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
