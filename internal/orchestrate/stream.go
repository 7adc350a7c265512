package orchestrate

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
)

// persistTimeout bounds the detached transcript write after a turn ends.
const persistTimeout = 10 * time.Second

// ErrStreamDone is returned by TokenStream.Recv after the final fragment.
var ErrStreamDone = errors.New("stream done")

// Role identifies the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PromptMessage is one message of the generation prompt.
type PromptMessage struct {
	Role    Role
	Content string
}

// TokenStream yields answer fragments until ErrStreamDone or a failure.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// ChatStreamer opens a streaming completion for a prompt.
type ChatStreamer interface {
	Stream(ctx context.Context, messages []PromptMessage) (TokenStream, error)
}

// DefaultChatModel is the generation model used when none is configured.
const DefaultChatModel = "gpt-4o-mini"

// OpenAIStreamer is the provider-backed ChatStreamer.
type OpenAIStreamer struct {
	client *openai.Client
	model  string
}

// NewOpenAIStreamer wraps a provider client. An empty model falls back to
// the default.
func NewOpenAIStreamer(client *openai.Client, model string) *OpenAIStreamer {
	if model == "" {
		model = DefaultChatModel
	}
	return &OpenAIStreamer{client: client, model: model}
}

// Stream opens a streaming chat completion.
func (s *OpenAIStreamer) Stream(ctx context.Context, messages []PromptMessage) (TokenStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(s.model),
		Messages: toProviderMessages(messages),
	}
	return &openaiStream{stream: s.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func toProviderMessages(messages []PromptMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) Recv() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", err
	}
	return "", ErrStreamDone
}

func (s *openaiStream) Close() error { return s.stream.Close() }
