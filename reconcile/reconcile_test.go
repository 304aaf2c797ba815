package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
)

func persistedMsg(id string, role domain.Role, content string) domain.Message {
	return domain.Message{
		MessageID:      id,
		ConversationID: "c1",
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

func keys(items []DisplayItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Key
	}
	return out
}

func TestMergeSeedsWelcomeItem(t *testing.T) {
	items := Merge(nil, nil, StreamBuffer{})
	require.Len(t, items, 1)
	assert.Equal(t, WelcomeKey, items[0].Key)
	assert.Equal(t, TypeWelcome, items[0].Type)
}

func TestMergeIsIdempotent(t *testing.T) {
	persisted := []domain.Message{
		persistedMsg("m1", domain.RoleUser, "hi"),
		persistedMsg("m2", domain.RoleAssistant, "hello"),
	}
	local := []domain.LocalItem{
		{Key: "j1", Role: domain.RoleUser, Content: "resume.pdf", AttachmentStatus: &domain.AttachmentStatus{Status: domain.AttachmentUploading}},
	}
	buf := StreamBuffer{Content: "partial", IsStreaming: true}

	first := Merge(persisted, local, buf)
	second := Merge(persisted, local, buf)
	assert.Equal(t, first, second)

	seen := map[string]bool{}
	for _, item := range first {
		assert.False(t, seen[item.Key], "duplicate key %s", item.Key)
		seen[item.Key] = true
	}
}

func TestMergeOrderPersistedThenLocalThenStreaming(t *testing.T) {
	persisted := []domain.Message{
		persistedMsg("m1", domain.RoleUser, "hi"),
		persistedMsg("m2", domain.RoleAssistant, "hello"),
	}
	local := []domain.LocalItem{
		{Key: "l1", Role: domain.RoleUser, Content: "pending"},
	}
	buf := StreamBuffer{Content: "typing...", IsStreaming: true}

	items := Merge(persisted, local, buf)
	assert.Equal(t, []string{WelcomeKey, "m1", "m2", "l1", StreamingKey}, keys(items))
}

func TestNonTerminalLocalWinsOverPersisted(t *testing.T) {
	persisted := []domain.Message{persistedMsg("j1", domain.RoleUser, "resume.pdf")}
	local := []domain.LocalItem{
		{
			Key:     "j1",
			Role:    domain.RoleUser,
			Content: "resume.pdf",
			AttachmentStatus: &domain.AttachmentStatus{
				Status:         domain.AttachmentUploading,
				UploadProgress: 40,
			},
		},
	}

	items := Merge(persisted, local, StreamBuffer{})
	require.Len(t, items, 2)
	assert.Equal(t, TypeLocal, items[1].Type, "live progress must keep rendering")
	assert.Equal(t, 40, items[1].Local.AttachmentStatus.UploadProgress)
}

func TestTerminalLocalPromotedToPersisted(t *testing.T) {
	persisted := []domain.Message{persistedMsg("j1", domain.RoleUser, "resume.pdf")}
	local := []domain.LocalItem{
		{
			Key:              "j1",
			Role:             domain.RoleUser,
			AttachmentStatus: &domain.AttachmentStatus{Status: domain.AttachmentCompleted},
		},
	}

	items := Merge(persisted, local, StreamBuffer{})
	require.Len(t, items, 2)
	assert.Equal(t, TypeMessage, items[1].Type)
}

func TestLocalWithoutPersistedCounterpartKept(t *testing.T) {
	local := []domain.LocalItem{
		{
			Key:              "j1",
			Role:             domain.RoleUser,
			AttachmentStatus: &domain.AttachmentStatus{Status: domain.AttachmentCompleted},
		},
	}

	// Terminal but not yet persisted: must stay visible.
	items := Merge(nil, local, StreamBuffer{})
	require.Len(t, items, 2)
	assert.Equal(t, "j1", items[1].Key)
}

func TestStreamingTailSuppressedWhenPersisted(t *testing.T) {
	persisted := []domain.Message{
		persistedMsg("m1", domain.RoleAssistant, "Hello world, here is your answer"),
	}
	buf := StreamBuffer{Content: "Hello world", IsStreaming: true}

	items := Merge(persisted, nil, buf)
	for _, item := range items {
		assert.NotEqual(t, TypeStreaming, item.Type, "synthetic item must be suppressed")
	}
}

func TestStreamingTailSuppressionIgnoresUserMessages(t *testing.T) {
	persisted := []domain.Message{
		persistedMsg("m1", domain.RoleUser, "Hello world"),
	}
	buf := StreamBuffer{Content: "Hello world", IsStreaming: true}

	items := Merge(persisted, nil, buf)
	assert.Equal(t, TypeStreaming, items[len(items)-1].Type)
}

func TestEmptyBufferNoStreamingTail(t *testing.T) {
	items := Merge(nil, nil, StreamBuffer{Content: "", IsStreaming: true})
	assert.Equal(t, []string{WelcomeKey}, keys(items))

	items = Merge(nil, nil, StreamBuffer{Content: "leftover", IsStreaming: false})
	assert.Equal(t, []string{WelcomeKey}, keys(items))
}

func TestRekeyLocal(t *testing.T) {
	local := []domain.LocalItem{{Key: "local_abc", Role: domain.RoleUser, Content: "hi"}}

	require.True(t, RekeyLocal(local, "local_abc", "m9"))
	assert.Equal(t, "m9", local[0].Key)
	assert.False(t, RekeyLocal(local, "local_abc", "m10"))

	// After re-keying, a persisted counterpart de-duplicates it.
	persisted := []domain.Message{persistedMsg("m9", domain.RoleUser, "hi")}
	items := Merge(persisted, local, StreamBuffer{})
	assert.Equal(t, []string{WelcomeKey, "m9"}, keys(items))
}
