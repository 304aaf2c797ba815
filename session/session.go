// Package session implements the per-conversation streaming session: the
// generation state machine, chunk fan-out to subscribers, cancellation and
// side-channel progress events for background jobs.
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
	"github.com/xuanyiying/ai-ace-job-sub001/provider"
	"github.com/xuanyiying/ai-ace-job-sub001/store"
)

// ErrGenerationInFlight is returned when a message request arrives while
// the conversation is already generating. One active generation per
// conversation: a second request is rejected, never interleaved.
var ErrGenerationInFlight = errors.New("generation already in progress for this conversation")

// Publisher fans events out to a conversation's subscribers. *hub.Hub
// satisfies it.
type Publisher interface {
	BroadcastJSON(conversationID string, v any) error
}

// Generator is the streaming surface of the provider gateway consumed by
// sessions. *provider.Gateway satisfies it.
type Generator interface {
	Stream(ctx context.Context, req *provider.Request, callback provider.ChunkCallback) error
}

// Config holds generation parameters for the session manager.
type Config struct {
	Model        string
	SystemPrompt string
}

// Manager owns the per-conversation generation state. It is the only
// writer of that state; all transitions go through StartGeneration,
// Cancel and the internal run loop.
type Manager struct {
	gateway   Generator
	store     store.Store
	pub       Publisher
	processor ResumeProcessor
	cfg       Config

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewManager creates a session manager.
func NewManager(gateway Generator, st store.Store, pub Publisher, processor ResumeProcessor, cfg Config) *Manager {
	if processor == nil {
		processor = NopProcessor{}
	}
	return &Manager{
		gateway:   gateway,
		store:     st,
		pub:       pub,
		processor: processor,
		cfg:       cfg,
		active:    make(map[string]context.CancelFunc),
	}
}

// Generating reports whether a generation is in flight for a conversation.
func (m *Manager) Generating(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[conversationID]
	return ok
}

// StartGeneration persists the user message and starts streaming a reply.
// It returns the message id assigned to the upcoming assistant message, or
// ErrGenerationInFlight if the conversation is already generating. The id
// never changes for the lifetime of the generation.
func (m *Manager) StartGeneration(ctx context.Context, conversationID, content string, metadata map[string]any) (string, error) {
	m.mu.Lock()
	if _, ok := m.active[conversationID]; ok {
		m.mu.Unlock()
		return "", ErrGenerationInFlight
	}

	// The generation outlives the triggering request.
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messageID := "msg_" + uuid.New().String()[:8]
	m.active[conversationID] = cancel
	m.mu.Unlock()

	go m.run(genCtx, conversationID, messageID, content, metadata)
	return messageID, nil
}

// Cancel stops an in-flight generation. Cancelling an idle conversation is
// a no-op.
func (m *Manager) Cancel(conversationID string) {
	m.mu.Lock()
	cancel, ok := m.active[conversationID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// finish clears the active slot after a generation ends.
func (m *Manager) finish(conversationID string, cancel bool) {
	m.mu.Lock()
	if c, ok := m.active[conversationID]; ok {
		delete(m.active, conversationID)
		if cancel {
			c()
		}
	}
	m.mu.Unlock()
}

// run drives one generation: persist the user turn, stream chunks to the
// conversation's subscribers, persist the assistant turn on completion.
func (m *Manager) run(ctx context.Context, conversationID, messageID, content string, metadata map[string]any) {
	defer m.finish(conversationID, true)

	userMsg := &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
	}
	if _, err := m.store.AppendMessage(ctx, userMsg); err != nil {
		log.Printf("Failed to persist user message: %v", err)
		m.publishError(conversationID, messageID, "failed to save message")
		return
	}
	m.publish(conversationID, domain.StreamEvent{
		Type:      domain.EventTypeMessage,
		MessageID: userMsg.MessageID,
		Role:      domain.RoleUser,
		Content:   userMsg.Content,
	})

	// Generation has started; the first token may still be a while away.
	m.publish(conversationID, domain.StreamEvent{
		Type:      domain.EventTypeTyping,
		MessageID: messageID,
		Role:      domain.RoleAssistant,
	})

	history, err := m.store.LoadMessages(ctx, conversationID)
	if err != nil {
		log.Printf("Failed to load history: %v", err)
		m.publishError(conversationID, messageID, "failed to load conversation history")
		return
	}

	req := &provider.Request{
		Model:        m.cfg.Model,
		SystemPrompt: m.cfg.SystemPrompt,
		Messages:     historyToMessages(history),
		Metadata:     metadata,
	}

	var full strings.Builder
	err = m.gateway.Stream(ctx, req, func(chunk provider.Chunk) error {
		if chunk.Content == "" {
			return nil
		}
		full.WriteString(chunk.Content)
		m.publish(conversationID, domain.StreamEvent{
			Type:      domain.EventTypeChunk,
			MessageID: messageID,
			Role:      domain.RoleAssistant,
			Content:   chunk.Content,
		})
		return nil
	})

	if err != nil {
		if provider.IsAborted(err) || errors.Is(ctx.Err(), context.Canceled) {
			// User cancel: partial output is discarded, not persisted.
			m.publish(conversationID, domain.StreamEvent{
				Type:      domain.EventTypeCancelled,
				MessageID: messageID,
			})
			return
		}
		log.Printf("Generation failed for conversation %s: %v", conversationID, err)
		m.publishError(conversationID, messageID, err.Error())
		return
	}

	assistantMsg := &domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        full.String(),
	}
	if _, err := m.store.AppendMessage(ctx, assistantMsg); err != nil {
		log.Printf("Failed to persist assistant message: %v", err)
		m.publishError(conversationID, messageID, "failed to save reply")
		return
	}

	m.publish(conversationID, domain.StreamEvent{
		Type:      domain.EventTypeDone,
		MessageID: messageID,
	})
}

// historyToMessages converts persisted history to the provider shape.
func historyToMessages(history []domain.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(history))
	for _, msg := range history {
		out = append(out, provider.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

func (m *Manager) publish(conversationID string, ev domain.StreamEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	if err := m.pub.BroadcastJSON(conversationID, ev); err != nil {
		log.Printf("Failed to broadcast %s event: %v", ev.Type, err)
	}
}

func (m *Manager) publishError(conversationID, messageID, message string) {
	m.publish(conversationID, domain.StreamEvent{
		Type:      domain.EventTypeError,
		MessageID: messageID,
		Content:   message,
	})
}
