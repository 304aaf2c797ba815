// Package domain defines the core domain models for the chat stream service.
package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MetadataKind discriminates the metadata payload attached to a message.
type MetadataKind string

const (
	MetadataKindJob                MetadataKind = "job"
	MetadataKindSuggestions        MetadataKind = "suggestions"
	MetadataKindPDF                MetadataKind = "pdf"
	MetadataKindInterview          MetadataKind = "interview"
	MetadataKindAttachment         MetadataKind = "attachment"
	MetadataKindOptimizationResult MetadataKind = "optimization_result"
	MetadataKindText               MetadataKind = "text"
)

// Metadata is the tagged metadata bag carried by a message. Kind selects
// which of the optional fields is meaningful.
type Metadata struct {
	Kind               MetadataKind      `json:"kind"`
	JobID              string            `json:"jobId,omitempty"`
	Suggestions        []string          `json:"suggestions,omitempty"`
	PDFURL             string            `json:"pdfUrl,omitempty"`
	InterviewQuestions []string          `json:"interviewQuestions,omitempty"`
	Attachment         *AttachmentStatus `json:"attachment,omitempty"`
	OptimizationResult string            `json:"optimizationResult,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// Message is a persisted chat message. Messages are immutable once stored;
// the store only ever appends.
type Message struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

// AttachmentStatusValue is the lifecycle state of a background attachment job.
type AttachmentStatusValue string

const (
	AttachmentUploading AttachmentStatusValue = "uploading"
	AttachmentParsing   AttachmentStatusValue = "parsing"
	AttachmentCompleted AttachmentStatusValue = "completed"
	AttachmentError     AttachmentStatusValue = "error"
)

// AttachmentMode distinguishes upload jobs from parse jobs.
type AttachmentMode string

const (
	AttachmentModeUpload AttachmentMode = "upload"
	AttachmentModeParse  AttachmentMode = "parse"
)

// AttachmentStatus tracks the visible progress of a background upload/parse
// job. It is updated in place by repeated progress events until the status
// reaches completed or error.
type AttachmentStatus struct {
	FileName       string                `json:"fileName"`
	FileSize       int64                 `json:"fileSize,omitempty"`
	UploadProgress int                   `json:"uploadProgress"`
	ParseProgress  int                   `json:"parseProgress"`
	Status         AttachmentStatusValue `json:"status"`
	Mode           AttachmentMode        `json:"mode"`
	Error          string                `json:"error,omitempty"`
}

// Terminal reports whether the attachment job reached a final state.
func (a *AttachmentStatus) Terminal() bool {
	return a.Status == AttachmentCompleted || a.Status == AttachmentError
}

// LocalItem is a client-only optimistic placeholder created before the
// server confirms persistence. It is superseded once a persisted message
// with the same key exists and its own progress is terminal.
type LocalItem struct {
	Key              string            `json:"key"`
	Role             Role              `json:"role"`
	Content          string            `json:"content"`
	Type             string            `json:"type,omitempty"`
	AttachmentStatus *AttachmentStatus `json:"attachmentStatus,omitempty"`
}

// Terminal reports whether the local item's own progress is terminal.
// Items without attachment progress have nothing pending.
func (l *LocalItem) Terminal() bool {
	return l.AttachmentStatus == nil || l.AttachmentStatus.Terminal()
}
