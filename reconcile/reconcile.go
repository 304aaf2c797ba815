// Package reconcile merges the three independently-arriving data sources
// of a conversation view (persisted history, optimistic local items and
// the live streaming buffer) into one ordered, de-duplicated display
// list.
package reconcile

import (
	"log"
	"strings"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
)

// Item types in the merged display list.
const (
	TypeWelcome   = "welcome"
	TypeMessage   = "message"
	TypeLocal     = "local"
	TypeStreaming = "streaming"
)

// Reserved keys for synthetic items.
const (
	WelcomeKey   = "welcome"
	StreamingKey = "streaming"
)

// DefaultWelcomeText is the fixed leading welcome item's content.
const DefaultWelcomeText = "你好！我是你的 AI 简历助手，上传简历或直接提问即可开始。"

// DisplayItem is one entry of the merged display list. Exactly one of
// Message and Local is set for message/local items; synthetic items carry
// content only.
type DisplayItem struct {
	Key     string
	Role    domain.Role
	Content string
	Type    string
	Message *domain.Message
	Local   *domain.LocalItem
}

// StreamBuffer is the live streaming state fed into the merge.
type StreamBuffer struct {
	Content     string
	IsStreaming bool
}

// Merge produces the display list for a conversation. It is a pure
// function of its inputs: calling it twice with identical inputs yields
// identical lists, each key appears exactly once, and the order is
// persisted insertion order, then local-only items, then the synthetic
// streaming item.
//
// A local item is promoted (dropped) only once a persisted item with the
// same key exists AND the local item's own progress is terminal;
// non-terminal local items win over their persisted counterpart so live
// progress bars keep updating.
func Merge(persisted []domain.Message, local []domain.LocalItem, buf StreamBuffer) []DisplayItem {
	items := []DisplayItem{{
		Key:     WelcomeKey,
		Role:    domain.RoleAssistant,
		Content: DefaultWelcomeText,
		Type:    TypeWelcome,
	}}
	index := map[string]int{WelcomeKey: 0}

	// Authoritative layer: persisted messages, keyed by id.
	for i := range persisted {
		msg := &persisted[i]
		item := DisplayItem{
			Key:     msg.MessageID,
			Role:    msg.Role,
			Content: msg.Content,
			Type:    TypeMessage,
			Message: msg,
		}
		if pos, ok := index[msg.MessageID]; ok {
			items[pos] = item
			continue
		}
		index[msg.MessageID] = len(items)
		items = append(items, item)
	}

	// Optimistic layer: local items that are not yet promoted. A local
	// item overwriting a persisted entry keeps the persisted position.
	for i := range local {
		li := &local[i]
		pos, persistedExists := index[li.Key]
		if persistedExists && li.Terminal() {
			// Promoted: the persisted counterpart supersedes it.
			continue
		}

		item := DisplayItem{
			Key:     li.Key,
			Role:    li.Role,
			Content: li.Content,
			Type:    TypeLocal,
			Local:   li,
		}
		if persistedExists {
			// Both sources claim the key but the local side is still in
			// flight. The promotion rule resolves it: local wins.
			log.Printf("reconcile: key %s present in persisted and non-terminal local, keeping local", li.Key)
			items[pos] = item
			continue
		}
		index[li.Key] = len(items)
		items = append(items, item)
	}

	// Ephemeral layer: the streaming tail. Suppressed when a persisted
	// assistant message already contains the buffered text, which happens
	// when the backend finished and the reload landed before the buffer
	// was cleared.
	if buf.IsStreaming && buf.Content != "" && !containsAssistantContent(persisted, buf.Content) {
		items = append(items, DisplayItem{
			Key:     StreamingKey,
			Role:    domain.RoleAssistant,
			Content: buf.Content,
			Type:    TypeStreaming,
		})
	}

	return items
}

// containsAssistantContent reports whether any persisted assistant message
// already contains the given text.
func containsAssistantContent(persisted []domain.Message, content string) bool {
	for i := range persisted {
		if persisted[i].Role == domain.RoleAssistant && strings.Contains(persisted[i].Content, content) {
			return true
		}
	}
	return false
}

// RekeyLocal re-keys a local item in place once the server-assigned id is
// known, so the optimistic placeholder is matched rather than duplicated.
// Returns true if an item with the old key was found.
func RekeyLocal(local []domain.LocalItem, oldKey, newKey string) bool {
	for i := range local {
		if local[i].Key == oldKey {
			local[i].Key = newKey
			return true
		}
	}
	return false
}
