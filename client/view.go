package client

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
	"github.com/xuanyiying/ai-ace-job-sub001/reconcile"
)

// Loader loads persisted conversation history. store.Store satisfies it.
type Loader interface {
	LoadMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// View owns one conversation's display state: the persisted layer, the
// optimistic local layer and (through the client) the streaming buffer.
// Wire HandleEvent as the client's event handler.
type View struct {
	client *Client
	loader Loader

	conversationID string
	settle         time.Duration

	mu        sync.Mutex
	persisted []domain.Message
	local     []domain.LocalItem
}

// NewView creates a view for a conversation. settle is the delay between
// the post-done persisted reload and the buffer clear.
func NewView(c *Client, loader Loader, conversationID string, settle time.Duration) *View {
	return &View{
		client:         c,
		loader:         loader,
		conversationID: conversationID,
		settle:         settle,
	}
}

// Display returns the merged display list.
func (v *View) Display() []reconcile.DisplayItem {
	state := v.client.State()

	v.mu.Lock()
	persisted := make([]domain.Message, len(v.persisted))
	copy(persisted, v.persisted)
	local := make([]domain.LocalItem, len(v.local))
	copy(local, v.local)
	v.mu.Unlock()

	return reconcile.Merge(persisted, local, reconcile.StreamBuffer{
		Content:     state.StreamingContent,
		IsStreaming: state.IsStreaming,
	})
}

// Reload replaces the persisted layer from the store.
func (v *View) Reload(ctx context.Context) error {
	messages, err := v.loader.LoadMessages(ctx, v.conversationID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.persisted = messages
	v.mu.Unlock()
	return nil
}

// AddLocalMessage inserts an optimistic message placeholder under a
// locally-generated temporary key and returns that key.
func (v *View) AddLocalMessage(role domain.Role, content string) string {
	key := "local_" + uuid.New().String()[:8]
	v.mu.Lock()
	v.local = append(v.local, domain.LocalItem{
		Key:     key,
		Role:    role,
		Content: content,
		Type:    "message",
	})
	v.mu.Unlock()
	return key
}

// AddLocalAttachment inserts an optimistic attachment placeholder tracking
// a background job, keyed by the job id.
func (v *View) AddLocalAttachment(jobID string, status *domain.AttachmentStatus) {
	v.mu.Lock()
	v.local = append(v.local, domain.LocalItem{
		Key:              jobID,
		Role:             domain.RoleUser,
		Content:          status.FileName,
		Type:             "attachment",
		AttachmentStatus: status,
	})
	v.mu.Unlock()
}

// HandleEvent routes server events into the view's state. Register it as
// the client's Handler.
func (v *View) HandleEvent(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventTypeMessage:
		// The server confirmed persistence of an optimistic item: re-key
		// it to the server id rather than letting both render.
		v.rekeyLocal(ev)
		go v.refresh()
	case domain.EventTypeDone:
		go v.finishStream()
	case domain.EventTypeSystem:
		v.applyProgress(ev)
	}
}

// Leave discards all ephemeral state so nothing leaks into another
// conversation's list.
func (v *View) Leave() {
	v.client.Reset()
	v.mu.Lock()
	v.local = nil
	v.mu.Unlock()
}

// finishStream swaps from ephemeral to persisted rendering: reload first,
// then clear the buffer after a short settle delay so the swap shows no
// gap and no duplicate.
func (v *View) finishStream() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := v.Reload(ctx); err != nil {
		log.Printf("Reload after done failed: %v", err)
	}
	time.Sleep(v.settle)
	v.client.Reset()
}

// refresh reloads the persisted layer in the background.
func (v *View) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := v.Reload(ctx); err != nil {
		log.Printf("Reload failed: %v", err)
	}
}

// rekeyLocal matches a confirmed message to its optimistic placeholder by
// role and content and re-keys it to the server-assigned id.
func (v *View) rekeyLocal(ev domain.StreamEvent) {
	if ev.MessageID == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.local {
		li := &v.local[i]
		if strings.HasPrefix(li.Key, "local_") && li.Role == ev.Role && li.Content == ev.Content {
			reconcile.RekeyLocal(v.local, li.Key, ev.MessageID)
			return
		}
	}
}

// applyProgress updates the matching local attachment from a system
// progress event.
func (v *View) applyProgress(ev domain.StreamEvent) {
	jobID, _ := ev.Metadata["jobId"].(string)
	if jobID == "" {
		return
	}
	status := decodeAttachment(ev.Metadata["attachment"])
	if status == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.local {
		if v.local[i].Key == jobID {
			v.local[i].AttachmentStatus = status
			return
		}
	}
	// No placeholder yet: the job was started elsewhere (another tab).
	v.local = append(v.local, domain.LocalItem{
		Key:              jobID,
		Role:             domain.RoleUser,
		Content:          status.FileName,
		Type:             "attachment",
		AttachmentStatus: status,
	})
}

// decodeAttachment converts the loosely-typed metadata value back into an
// AttachmentStatus.
func decodeAttachment(value any) *domain.AttachmentStatus {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var status domain.AttachmentStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil
	}
	return &status
}
