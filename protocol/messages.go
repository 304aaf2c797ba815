// Package protocol defines the duplex-channel message protocol between
// clients and the server.
package protocol

// Request types from client to server
const (
	TypeMessage      = "message"
	TypeCancel       = "cancel"
	TypeJoin         = "join"
	TypeFileUploaded = "file_uploaded"
	TypeResumeParsed = "resume_parsed"
)

// Request is the client-to-server envelope. Type selects which fields are
// meaningful:
//   - message:        conversationId, content, metadata?
//   - cancel:         (none)
//   - join:           conversationId
//   - file_uploaded:  conversationId, resumeId, filename
//   - resume_parsed:  conversationId, resumeId, parsedContent
type Request struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId,omitempty"`
	Content        string         `json:"content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ResumeID       string         `json:"resumeId,omitempty"`
	Filename       string         `json:"filename,omitempty"`
	ParsedContent  string         `json:"parsedContent,omitempty"`
	Ts             int64          `json:"ts,omitempty"`
}

// Error codes carried in error event metadata.
const (
	ErrorCodeInvalidMessage       = "invalid_message"
	ErrorCodeConversationRequired = "conversation_required"
	ErrorCodeGenerationInFlight   = "generation_in_flight"
	ErrorCodeInternalError        = "internal_error"
)
