package store

import (
	"context"
	"testing"
	"time"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.AppendMessage(ctx, &domain.Message{
		ConversationID: "c1",
		Role:           domain.RoleUser,
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.MessageID == "" {
		t.Fatal("expected message id to be assigned")
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be assigned")
	}
}

func TestLoadMessagesAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	contents := []string{"first", "second", "third"}
	for i, content := range contents {
		_, err := s.AppendMessage(ctx, &domain.Message{
			ConversationID: "c1",
			Role:           domain.RoleUser,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}
	// Message in another conversation must not leak into c1.
	if _, err := s.AppendMessage(ctx, &domain.Message{ConversationID: "c2", Role: domain.RoleUser, Content: "other"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	messages, err := s.LoadMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, content := range contents {
		if messages[i].Content != content {
			t.Fatalf("position %d: expected %q, got %q", i, content, messages[i].Content)
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, &domain.Message{
		MessageID:      "m1",
		ConversationID: "c1",
		Role:           domain.RoleAssistant,
		Content:        "done",
		Metadata: &domain.Metadata{
			Kind:        domain.MetadataKindSuggestions,
			Suggestions: []string{"量化工作成果", "补充项目经历"},
		},
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	messages, err := s.LoadMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	meta := messages[0].Metadata
	if meta == nil || meta.Kind != domain.MetadataKindSuggestions {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if len(meta.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(meta.Suggestions))
	}
}

func TestLoadMessagesEmptyConversation(t *testing.T) {
	s := newTestStore(t)

	messages, err := s.LoadMessages(context.Background(), "nope")
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
}
