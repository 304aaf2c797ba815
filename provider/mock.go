package provider

import (
	"context"
	"fmt"
	"time"
)

// MockBackend is a deterministic in-process backend used in mock mode and
// in tests.
type MockBackend struct{}

// NewMockBackend creates a new mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

var _ Backend = (*MockBackend)(nil)

// Name returns the backend identifier.
func (m *MockBackend) Name() string {
	return "mock"
}

// CreateChatCompletion returns a canned response echoing the last user
// message.
func (m *MockBackend) CreateChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	content := m.generateResponse(req)

	return &ChatResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(content) / 4,
			TotalTokens:      m.estimateTokens(req) + len(content)/4,
		},
	}, nil
}

// CreateChatCompletionStream simulates streaming by sending the canned
// response in small chunks.
func (m *MockBackend) CreateChatCompletionStream(ctx context.Context, req *ChatRequest, callback StreamCallback) (*Usage, error) {
	content := m.generateResponse(req)
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	chunks := splitIntoChunks(content, 10)
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		finishReason := ""
		if i == len(chunks)-1 {
			finishReason = "stop"
		}

		streamChunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []ChatChoice{
				{
					Index: 0,
					Delta: &ChatMessage{
						Role:    "assistant",
						Content: chunk,
					},
					FinishReason: finishReason,
				},
			},
		}

		if err := callback(streamChunk); err != nil {
			return nil, err
		}
	}

	usage := &Usage{
		PromptTokens:     m.estimateTokens(req),
		CompletionTokens: len(content) / 4,
		TotalTokens:      m.estimateTokens(req) + len(content)/4,
	}
	return usage, nil
}

// CreateEmbedding returns a fixed-size zero-adjacent vector derived from
// the input length.
func (m *MockBackend) CreateEmbedding(ctx context.Context, input, model string) ([]float64, error) {
	vec := make([]float64, 8)
	for i := range vec {
		vec[i] = float64((len(input)+i)%7) / 7.0
	}
	return vec, nil
}

// ListModels returns a list of mock models.
func (m *MockBackend) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{
		{ID: "mock-gpt-4", Object: "model", Created: time.Now().Unix(), OwnedBy: "mock"},
		{ID: "mock-gpt-3.5-turbo", Object: "model", Created: time.Now().Unix(), OwnedBy: "mock"},
	}, nil
}

func (m *MockBackend) generateResponse(req *ChatRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

func (m *MockBackend) estimateTokens(req *ChatRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}
	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
