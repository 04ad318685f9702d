package generate

import (
	"context"
	"errors"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/callweave/relay/pkg/relay/store"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// backend. It is satisfied by *sdk.MessageService so tests can substitute a
// fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicBackend produces replies via the Anthropic Messages API.
type AnthropicBackend struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

func NewAnthropicBackend(msg MessagesClient, model string, maxTokens int64) (*AnthropicBackend, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("model identifier is required")
	}
	if maxTokens <= 0 {
		return nil, errors.New("max tokens must be positive")
	}
	return &AnthropicBackend{msg: msg, model: model, maxTokens: maxTokens}, nil
}

func NewAnthropicBackendFromAPIKey(apiKey, model string, maxTokens int64) (*AnthropicBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicBackend(&client.Messages, model, maxTokens)
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Complete(ctx context.Context, history []store.Message) (string, error) {
	params := b.encodeHistory(history)
	msg, err := b.msg.New(ctx, params)
	if err != nil {
		return "", &BackendError{Provider: b.Name(), Err: err}
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	return out.String(), nil
}

func (b *AnthropicBackend) Stream(ctx context.Context, history []store.Message) (FragmentStream, error) {
	params := b.encodeHistory(history)
	stream := b.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, &BackendError{Provider: b.Name(), Err: err}
	}
	return &anthropicFragmentStream{provider: b.Name(), stream: stream}, nil
}

func (b *AnthropicBackend) encodeHistory(history []store.Message) sdk.MessageNewParams {
	system := make([]sdk.TextBlockParam, 0, 1)
	msgs := make([]sdk.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case store.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case store.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case store.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(b.model),
		MaxTokens: b.maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

type anthropicFragmentStream struct {
	provider string
	stream   *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *anthropicFragmentStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if td, ok := delta.Delta.AsAny().(sdk.TextDelta); ok && td.Text != "" {
			return td.Text, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", &BackendError{Provider: s.provider, Err: err}
	}
	return "", io.EOF
}

func (s *anthropicFragmentStream) Close() error {
	return s.stream.Close()
}
