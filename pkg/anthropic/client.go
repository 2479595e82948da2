// Package anthropic is a thin wrapper over the Anthropic Messages API for
// short single-turn completions.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/resilience"
)

// Client creates messages.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a single-turn request.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	User        string
	Temperature *float64
}

// MessageResponse is the subset of a message the caller needs.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Log writes usage at debug level.
func (u TokenUsage) Log(model string) {
	zap.L().Debug("anthropic: usage",
		zap.String("model", model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// Option customises the underlying SDK client.
type Option = option.RequestOption

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option { return option.WithBaseURL(u) }

type sdkClient struct {
	client sdk.Client
}

// NewClient returns an SDK-backed client. SDK-level retries are disabled;
// callers apply their own policy.
func NewClient(apiKey string, opts ...Option) Client {
	all := append([]Option{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &sdkClient{client: sdk.NewClient(all...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.User))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	resp := fromSDKMessage(msg)
	resp.Usage.Log(resp.Model)
	return resp, nil
}

func classify(err error) error {
	wrapped := eris.Wrap(err, "anthropic: create message")
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(wrapped, apiErr.StatusCode)
	}
	return wrapped
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}
