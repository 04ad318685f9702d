package generate

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/callweave/relay/pkg/relay/store"
)

// ChatClient captures the subset of the go-openai client used by the
// backend.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStreamReceiver, error)
}

// ChatStreamReceiver matches *openai.ChatCompletionStream.
type ChatStreamReceiver interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// OpenAIBackend produces replies via the OpenAI Chat Completions API.
type OpenAIBackend struct {
	chat  ChatClient
	model string
}

func NewOpenAIBackend(chat ChatClient, model string) (*OpenAIBackend, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("model identifier is required")
	}
	return &OpenAIBackend{chat: chat, model: model}, nil
}

func NewOpenAIBackendFromAPIKey(apiKey, model string) (*OpenAIBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	return NewOpenAIBackend(chatClientAdapter{client: openai.NewClient(apiKey)}, model)
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Complete(ctx context.Context, history []store.Message) (string, error) {
	resp, err := b.chat.CreateChatCompletion(ctx, b.encodeHistory(history))
	if err != nil {
		return "", &BackendError{Provider: b.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *OpenAIBackend) Stream(ctx context.Context, history []store.Message) (FragmentStream, error) {
	stream, err := b.chat.CreateChatCompletionStream(ctx, b.encodeHistory(history))
	if err != nil {
		return nil, &BackendError{Provider: b.Name(), Err: err}
	}
	return &openaiFragmentStream{provider: b.Name(), stream: stream}, nil
}

func (b *OpenAIBackend) encodeHistory(history []store.Message) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: messages,
	}
}

type openaiFragmentStream struct {
	provider string
	stream   ChatStreamReceiver
}

func (s *openaiFragmentStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", &BackendError{Provider: s.provider, Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openaiFragmentStream) Close() error {
	return s.stream.Close()
}

// chatClientAdapter narrows *openai.Client to ChatClient.
type chatClientAdapter struct {
	client *openai.Client
}

func (a chatClientAdapter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return a.client.CreateChatCompletion(ctx, req)
}

func (a chatClientAdapter) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStreamReceiver, error) {
	return a.client.CreateChatCompletionStream(ctx, req)
}
