package domain

// EventType is the type of a server-pushed stream event.
type EventType string

const (
	EventTypeConnected EventType = "connected"
	EventTypeMessage   EventType = "message"
	EventTypeTyping    EventType = "typing"
	EventTypeChunk     EventType = "chunk"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
	EventTypeCancelled EventType = "cancelled"
	EventTypeSystem    EventType = "system"
)

// StreamEvent is an ephemeral server-to-client event. Events are never
// persisted; the messageId, once assigned, never changes for the lifetime
// of a generation.
type StreamEvent struct {
	Type      EventType      `json:"type"`
	MessageID string         `json:"messageId,omitempty"`
	Content   string         `json:"content,omitempty"`
	Role      Role           `json:"role,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
