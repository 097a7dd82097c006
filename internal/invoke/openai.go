package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIInvoker produces agent output through any OpenAI-compatible chat
// completion API (including local runtimes that speak the same protocol).
type OpenAIInvoker struct {
	client *openai.Client
	model  string
}

// NewOpenAIInvoker creates an invoker against the given endpoint. baseURL may
// be empty for the hosted API.
func NewOpenAIInvoker(apiKey, baseURL, model string) *OpenAIInvoker {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIInvoker{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Invoke opens a streaming chat completion. Prior-step context rides along as
// a system message so the model sees the conversation so far.
func (o *OpenAIInvoker) Invoke(ctx context.Context, req Request) (Stream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if len(req.Context) > 0 {
		ctxBlock := "Prior pipeline output:\n"
		for _, c := range req.Context {
			ctxBlock += c + "\n"
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: ctxBlock,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	model := o.model
	if m, ok := req.Settings["model"].(string); ok && m != "" {
		model = m
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai invoker: %w", err)
	}
	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("openai stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return delta, nil
	}
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
