package session

import (
	"context"
	"log"
	"time"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
)

// ResumeProcessor is the collaborator doing the actual background work for
// uploaded and parsed resumes. Implementations live outside this core.
type ResumeProcessor interface {
	ProcessUpload(ctx context.Context, conversationID, resumeID, filename string) error
	ProcessParsed(ctx context.Context, conversationID, resumeID, parsedContent string) error
}

// NopProcessor is a ResumeProcessor that does nothing. Used when no
// processor is wired in.
type NopProcessor struct{}

func (NopProcessor) ProcessUpload(ctx context.Context, conversationID, resumeID, filename string) error {
	return nil
}

func (NopProcessor) ProcessParsed(ctx context.Context, conversationID, resumeID, parsedContent string) error {
	return nil
}

// NotifyFileUploaded runs the upload job in the background, publishing
// system progress events keyed by the resume id. Jobs are independent of
// the generation state machine; their events may interleave freely with
// chunk events of an unrelated generation.
func (m *Manager) NotifyFileUploaded(conversationID, resumeID, filename string) {
	go func() {
		ctx := context.Background()

		m.publishProgress(conversationID, resumeID, &domain.AttachmentStatus{
			FileName:       filename,
			UploadProgress: 0,
			Status:         domain.AttachmentUploading,
			Mode:           domain.AttachmentModeUpload,
		})

		if err := m.processor.ProcessUpload(ctx, conversationID, resumeID, filename); err != nil {
			log.Printf("Upload job %s failed: %v", resumeID, err)
			m.publishProgress(conversationID, resumeID, &domain.AttachmentStatus{
				FileName: filename,
				Status:   domain.AttachmentError,
				Mode:     domain.AttachmentModeUpload,
				Error:    err.Error(),
			})
			return
		}

		m.publishProgress(conversationID, resumeID, &domain.AttachmentStatus{
			FileName:       filename,
			UploadProgress: 100,
			Status:         domain.AttachmentCompleted,
			Mode:           domain.AttachmentModeUpload,
		})
	}()
}

// NotifyResumeParsed runs the parse-result job in the background,
// publishing system progress events keyed by the resume id.
func (m *Manager) NotifyResumeParsed(conversationID, resumeID, parsedContent string) {
	go func() {
		ctx := context.Background()

		m.publishProgress(conversationID, resumeID, &domain.AttachmentStatus{
			ParseProgress: 0,
			Status:        domain.AttachmentParsing,
			Mode:          domain.AttachmentModeParse,
		})

		if err := m.processor.ProcessParsed(ctx, conversationID, resumeID, parsedContent); err != nil {
			log.Printf("Parse job %s failed: %v", resumeID, err)
			m.publishProgress(conversationID, resumeID, &domain.AttachmentStatus{
				Status: domain.AttachmentError,
				Mode:   domain.AttachmentModeParse,
				Error:  err.Error(),
			})
			return
		}

		m.publishProgress(conversationID, resumeID, &domain.AttachmentStatus{
			ParseProgress: 100,
			Status:        domain.AttachmentCompleted,
			Mode:          domain.AttachmentModeParse,
		})
	}()
}

// publishProgress emits a system event carrying a job's attachment status.
func (m *Manager) publishProgress(conversationID, jobID string, status *domain.AttachmentStatus) {
	m.publish(conversationID, domain.StreamEvent{
		Type:      domain.EventTypeSystem,
		Timestamp: time.Now().UnixMilli(),
		Metadata: map[string]any{
			"kind":       string(domain.MetadataKindAttachment),
			"jobId":      jobID,
			"attachment": status,
		},
	})
}
