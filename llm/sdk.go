package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

// SDKBackend talks to the Anthropic Messages API directly. It requires
// a standard API key.
type SDKBackend struct {
	client anthropic.Client
}

// NewSDKBackend builds the API-key backend.
func NewSDKBackend(apiKey string) *SDKBackend {
	return &SDKBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (b *SDKBackend) Name() string { return "sdk" }

func (b *SDKBackend) CreateMessage(ctx context.Context, model string, maxTokens int, prompt string) (string, error) {
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "anthropic messages.create failed")
	}

	out := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return "", errors.New("anthropic response contained no text content")
	}
	return out, nil
}
