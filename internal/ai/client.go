package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sells-group/ocs-answerer/internal/resilience"
	"github.com/sells-group/ocs-answerer/pkg/anthropic"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// Defaults for the OpenAI-compatible provider.
const (
	DefaultOpenAIModel    = "gpt-3.5-turbo"
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultAnthropicModel = "claude-haiku-4-5"
)

// Client completes a prompt and returns the model's text.
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI returns an OpenAI client. Empty model or baseURL use the
// defaults.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete implements Client.
func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if p.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: float32(p.Temperature),
	})
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIError(err error) error {
	wrapped := eris.Wrap(err, "ai: openai completion")
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(wrapped, status)
	}
	return wrapped
}

// Anthropic adapts the Messages API to Client.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic wraps an anthropic client.
func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{client: client, model: model}
}

// Complete implements Client.
func (a *Anthropic) Complete(ctx context.Context, p Prompt) (string, error) {
	temp := p.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(p.MaxTokens),
		System:      p.System,
		User:        p.User,
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "ai: anthropic completion")
	}
	return resp.Text, nil
}

// NewClient builds the Client for provider. ProviderNone and an empty
// provider return nil, meaning AI fallback is disabled.
func NewClient(provider, apiKey, model, baseURL string) (Client, error) {
	switch strings.ToLower(provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, eris.New("ai: openai provider requires ai.key")
		}
		return NewOpenAI(apiKey, model, baseURL), nil
	case ProviderAnthropic:
		if apiKey == "" {
			return nil, eris.New("ai: anthropic provider requires ai.key")
		}
		var opts []anthropic.Option
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		return NewAnthropic(anthropic.NewClient(apiKey, opts...), model), nil
	default:
		return nil, eris.Errorf("ai: unknown provider %q", provider)
	}
}
