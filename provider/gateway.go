package provider

import (
	"context"
	"strings"

	"github.com/xuanyiying/ai-ace-job-sub001/retry"
)

// Defaults applied when a request leaves a field unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultTopP        = 1.0
)

// Request is the provider-agnostic generation request accepted by the
// gateway. Exactly one of Messages or Prompt should be set; SystemPrompt,
// if present, is prepended as a system-role message.
type Request struct {
	Model         string
	Prompt        string
	Messages      []ChatMessage
	SystemPrompt  string
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	StopSequences []string
	Metadata      map[string]any
}

// Response is the provider-agnostic result of a one-shot call.
type Response struct {
	Content      string
	Model        string
	Provider     string
	Usage        Usage
	FinishReason string
	RequestID    string
}

// Chunk is one partial unit of generated text pushed during streaming.
type Chunk struct {
	Content      string
	FinishReason string
}

// ChunkCallback receives streamed chunks in emission order.
type ChunkCallback func(Chunk) error

// Gateway exposes a uniform call/stream/embed/healthCheck surface over a
// backend. One-shot calls are retried per policy; streaming is never
// retried: once partial content has been emitted downstream a transparent
// retry would duplicate output, so a mid-stream failure surfaces
// immediately.
type Gateway struct {
	backend Backend
	policy  retry.Policy
}

// NewGateway creates a gateway over the given backend with the default
// retry policy.
func NewGateway(backend Backend) *Gateway {
	policy := retry.DefaultPolicy()
	policy.RetryIf = IsRetryable
	return &Gateway{backend: backend, policy: policy}
}

// NewGatewayWithPolicy creates a gateway with a custom retry policy. The
// policy's retry predicate is forced to the normalized-retryable check.
func NewGatewayWithPolicy(backend Backend, policy retry.Policy) *Gateway {
	policy.RetryIf = IsRetryable
	return &Gateway{backend: backend, policy: policy}
}

// Call performs a one-shot completion with retry.
func (g *Gateway) Call(ctx context.Context, req *Request) (*Response, error) {
	chatReq := buildChatRequest(req)

	resp, err := retry.Do(ctx, g.policy, func(ctx context.Context) (*ChatResponse, error) {
		return g.backend.CreateChatCompletion(ctx, chatReq)
	})
	if err != nil {
		return nil, Normalize(err, g.backend.Name(), req.Model)
	}

	out := &Response{
		Model:     resp.Model,
		Provider:  g.backend.Name(),
		RequestID: resp.ID,
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message != nil {
			out.Content = choice.Message.Content
		}
		out.FinishReason = choice.FinishReason
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
	}
	return out, nil
}

// Stream performs a streaming completion. Chunks are delivered to the
// callback in emission order; any failure terminates the sequence with a
// single normalized error and no retry.
func (g *Gateway) Stream(ctx context.Context, req *Request, callback ChunkCallback) error {
	chatReq := buildChatRequest(req)

	_, err := g.backend.CreateChatCompletionStream(ctx, chatReq, func(chunk *StreamChunk) error {
		if len(chunk.Choices) == 0 {
			return nil
		}
		choice := chunk.Choices[0]
		out := Chunk{FinishReason: choice.FinishReason}
		if choice.Delta != nil {
			out.Content = choice.Delta.Content
		}
		if out.Content == "" && out.FinishReason == "" {
			return nil
		}
		return callback(out)
	})
	if err != nil {
		return Normalize(err, g.backend.Name(), req.Model)
	}
	return nil
}

// Embed returns the embedding vector for the given text, with retry.
func (g *Gateway) Embed(ctx context.Context, text, model string) ([]float64, error) {
	vec, err := retry.Do(ctx, g.policy, func(ctx context.Context) ([]float64, error) {
		return g.backend.CreateEmbedding(ctx, text, model)
	})
	if err != nil {
		return nil, Normalize(err, g.backend.Name(), model)
	}
	return vec, nil
}

// ListModels retrieves the list of available models.
func (g *Gateway) ListModels(ctx context.Context) ([]Model, error) {
	models, err := g.backend.ListModels(ctx)
	if err != nil {
		return nil, Normalize(err, g.backend.Name(), "")
	}
	return models, nil
}

// HealthCheck reports whether the backend is reachable.
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	_, err := g.backend.ListModels(ctx)
	return err == nil
}

// internalMetadataKeys are request metadata entries consumed by the
// surrounding business logic and never forwarded to the backend.
var internalMetadataKeys = map[string]bool{
	"templateName":      true,
	"templateVariables": true,
}

// buildChatRequest constructs the backend payload. The system prompt, if
// present, is prepended as a system-role message; otherwise an explicit
// message list is used verbatim, else the prompt is wrapped as a single
// user message. Internal-only metadata keys are stripped; response_format
// is forwarded only when set.
func buildChatRequest(req *Request) *ChatRequest {
	var messages []ChatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	if len(req.Messages) > 0 {
		messages = append(messages, req.Messages...)
	} else if strings.TrimSpace(req.Prompt) != "" {
		messages = append(messages, ChatMessage{Role: "user", Content: req.Prompt})
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	topP := DefaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}

	out := &ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		TopP:        &topP,
		Stop:        req.StopSequences,
	}

	for key, value := range req.Metadata {
		if internalMetadataKeys[key] {
			continue
		}
		if key == "response_format" && value != nil {
			switch v := value.(type) {
			case string:
				out.ResponseFormat = map[string]any{"type": v}
			case map[string]any:
				out.ResponseFormat = v
			}
		}
	}

	return out
}
