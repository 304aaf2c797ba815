package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
	"github.com/xuanyiying/ai-ace-job-sub001/provider"
	"github.com/xuanyiying/ai-ace-job-sub001/session"
	"github.com/xuanyiying/ai-ace-job-sub001/store"
)

// capturePublisher records every broadcast event.
type capturePublisher struct {
	mu     sync.Mutex
	events []domain.StreamEvent
}

func (p *capturePublisher) BroadcastJSON(conversationID string, v any) error {
	ev, ok := v.(domain.StreamEvent)
	if !ok {
		return errors.New("unexpected payload type")
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) snapshot() []domain.StreamEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.StreamEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) countByType(et domain.EventType) int {
	n := 0
	for _, ev := range p.snapshot() {
		if ev.Type == et {
			n++
		}
	}
	return n
}

func (p *capturePublisher) hasType(et domain.EventType) bool {
	return p.countByType(et) > 0
}

// scriptedGenerator streams fixed chunks; it can fail mid-stream or block
// until released.
type scriptedGenerator struct {
	chunks    []string
	failAfter int // -1 disables failure
	failErr   error
	release   chan struct{} // when non-nil, blocks before streaming
}

func (g *scriptedGenerator) Stream(ctx context.Context, req *provider.Request, callback provider.ChunkCallback) error {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i, content := range g.chunks {
		if g.failAfter >= 0 && i == g.failAfter {
			return g.failErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := callback(provider.Chunk{Content: content}); err != nil {
			return err
		}
	}
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestGenerationStreamsAndPersists(t *testing.T) {
	st := newTestStore(t)
	pub := &capturePublisher{}
	gen := &scriptedGenerator{chunks: []string{"基本信息", "...", "工作经历", "..."}, failAfter: -1}
	mgr := session.NewManager(gen, st, pub, nil, session.Config{Model: "m1"})

	messageID, err := mgr.StartGeneration(context.Background(), "c1", "优化简历", nil)
	require.NoError(t, err)
	require.NotEmpty(t, messageID)

	waitFor(t, func() bool { return pub.hasType(domain.EventTypeDone) })

	events := pub.snapshot()
	var chunks []string
	for _, ev := range events {
		if ev.Type == domain.EventTypeChunk {
			assert.Equal(t, messageID, ev.MessageID, "message id must never change mid-generation")
			chunks = append(chunks, ev.Content)
		}
	}
	assert.Equal(t, []string{"基本信息", "...", "工作经历", "..."}, chunks)

	// typing precedes the first chunk
	typingIdx, chunkIdx := -1, -1
	for i, ev := range events {
		if ev.Type == domain.EventTypeTyping && typingIdx == -1 {
			typingIdx = i
		}
		if ev.Type == domain.EventTypeChunk && chunkIdx == -1 {
			chunkIdx = i
		}
	}
	require.GreaterOrEqual(t, typingIdx, 0)
	require.GreaterOrEqual(t, chunkIdx, 0)
	assert.Less(t, typingIdx, chunkIdx)

	messages, err := st.LoadMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)
	assert.Equal(t, "优化简历", messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.Equal(t, "基本信息...工作经历...", messages[1].Content)
	assert.Equal(t, messageID, messages[1].MessageID)
}

func TestSecondGenerationRejected(t *testing.T) {
	st := newTestStore(t)
	pub := &capturePublisher{}
	gen := &scriptedGenerator{chunks: []string{"x"}, failAfter: -1, release: make(chan struct{})}
	mgr := session.NewManager(gen, st, pub, nil, session.Config{Model: "m1"})

	_, err := mgr.StartGeneration(context.Background(), "c1", "first", nil)
	require.NoError(t, err)
	waitFor(t, func() bool { return mgr.Generating("c1") })

	_, err = mgr.StartGeneration(context.Background(), "c1", "second", nil)
	assert.ErrorIs(t, err, session.ErrGenerationInFlight)

	// A different conversation is unaffected.
	gen2 := &scriptedGenerator{chunks: []string{"y"}, failAfter: -1}
	mgr2 := session.NewManager(gen2, st, pub, nil, session.Config{Model: "m1"})
	_, err = mgr2.StartGeneration(context.Background(), "c2", "other", nil)
	assert.NoError(t, err)

	close(gen.release)
	waitFor(t, func() bool { return !mgr.Generating("c1") })
}

func TestCancelStopsGeneration(t *testing.T) {
	st := newTestStore(t)
	pub := &capturePublisher{}
	gen := &scriptedGenerator{chunks: []string{"x"}, failAfter: -1, release: make(chan struct{})}
	mgr := session.NewManager(gen, st, pub, nil, session.Config{Model: "m1"})

	_, err := mgr.StartGeneration(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)
	waitFor(t, func() bool { return mgr.Generating("c1") })

	mgr.Cancel("c1")
	waitFor(t, func() bool { return pub.hasType(domain.EventTypeCancelled) })

	assert.False(t, pub.hasType(domain.EventTypeError), "cancel must not surface as an error")
	assert.False(t, pub.hasType(domain.EventTypeDone))

	// Partial output is discarded: only the user message is persisted.
	messages, err := st.LoadMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, domain.RoleUser, messages[0].Role)

	// Cancelling an idle conversation is a no-op.
	mgr.Cancel("c1")
	mgr.Cancel("unknown")
	assert.Equal(t, 1, pub.countByType(domain.EventTypeCancelled))
}

func TestMidStreamFailureEmitsSingleError(t *testing.T) {
	st := newTestStore(t)
	pub := &capturePublisher{}
	gen := &scriptedGenerator{
		chunks:    []string{"a", "b", "c", "d", "e"},
		failAfter: 2,
		failErr:   errors.New("upstream reset"),
	}
	mgr := session.NewManager(gen, st, pub, nil, session.Config{Model: "m1"})

	_, err := mgr.StartGeneration(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return pub.hasType(domain.EventTypeError) })
	waitFor(t, func() bool { return !mgr.Generating("c1") })

	assert.Equal(t, 1, pub.countByType(domain.EventTypeError))
	assert.Equal(t, 2, pub.countByType(domain.EventTypeChunk))
	assert.False(t, pub.hasType(domain.EventTypeDone))

	// Session returned to idle: a new generation is accepted.
	gen.failAfter = -1
	_, err = mgr.StartGeneration(context.Background(), "c1", "again", nil)
	assert.NoError(t, err)
	waitFor(t, func() bool { return pub.hasType(domain.EventTypeDone) })
}

type scriptedProcessor struct {
	uploadErr error
	parsedErr error
}

func (p *scriptedProcessor) ProcessUpload(ctx context.Context, conversationID, resumeID, filename string) error {
	return p.uploadErr
}

func (p *scriptedProcessor) ProcessParsed(ctx context.Context, conversationID, resumeID, parsedContent string) error {
	return p.parsedErr
}

func TestUploadJobPublishesProgress(t *testing.T) {
	st := newTestStore(t)
	pub := &capturePublisher{}
	mgr := session.NewManager(&scriptedGenerator{failAfter: -1}, st, pub, &scriptedProcessor{}, session.Config{Model: "m1"})

	mgr.NotifyFileUploaded("c1", "r1", "resume.pdf")
	waitFor(t, func() bool { return pub.countByType(domain.EventTypeSystem) >= 2 })

	var statuses []string
	for _, ev := range pub.snapshot() {
		if ev.Type != domain.EventTypeSystem {
			continue
		}
		assert.Equal(t, "r1", ev.Metadata["jobId"])
		status := ev.Metadata["attachment"].(*domain.AttachmentStatus)
		statuses = append(statuses, string(status.Status))
	}
	assert.Equal(t, []string{"uploading", "completed"}, statuses)
}

func TestParseJobFailurePublishesError(t *testing.T) {
	st := newTestStore(t)
	pub := &capturePublisher{}
	proc := &scriptedProcessor{parsedErr: errors.New("unreadable")}
	mgr := session.NewManager(&scriptedGenerator{failAfter: -1}, st, pub, proc, session.Config{Model: "m1"})

	mgr.NotifyResumeParsed("c1", "r2", "{}")
	waitFor(t, func() bool { return pub.countByType(domain.EventTypeSystem) >= 2 })

	events := pub.snapshot()
	last := events[len(events)-1]
	status := last.Metadata["attachment"].(*domain.AttachmentStatus)
	assert.Equal(t, domain.AttachmentError, status.Status)
	assert.Equal(t, "unreadable", status.Error)
}
