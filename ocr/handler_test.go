package ocr

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/inboxpilot/inboxpilot/adapters"
	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
)

type fakeExtractor struct {
	submitErr    error
	pollsToDone  int
	polls        int
	text         string
	checkErr     error
	cleanupCalls int
}

func (e *fakeExtractor) ExtractImageText(ctx context.Context, data []byte) (string, error) {
	return "", nil
}

func (e *fakeExtractor) SubmitDocument(ctx context.Context, sourceURL string) (string, error) {
	if e.submitErr != nil {
		return "", e.submitErr
	}
	return "op-1", nil
}

func (e *fakeExtractor) CheckDocument(ctx context.Context, operationID string, sourceURL string) (bool, string, error) {
	e.polls++
	if e.checkErr != nil {
		return false, "", e.checkErr
	}
	if e.polls >= e.pollsToDone {
		return true, e.text, nil
	}
	return false, "", nil
}

func (e *fakeExtractor) Cleanup(ctx context.Context, sourceURL string) error {
	e.cleanupCalls++
	return nil
}

func newTestHandler(extractor *fakeExtractor) (*Handler, f.Stores, *adapters.MemoryQueue) {
	_, stores := adapters.NewMemoryStores()
	queue := adapters.NewMemoryQueue()
	h := NewHandler(stores, extractor, jobs.NewProducer(queue))
	h.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return h, stores, queue
}

func seedDocument(t *testing.T, stores f.Stores) string {
	t.Helper()
	id, err := stores.Documents.Insert(context.Background(), &f.Document{
		UserID:    "u-1",
		EmailID:   "em-1",
		Filename:  "contract.pdf",
		MimeType:  "application/pdf",
		SourceURL: "gs://bucket/contract.pdf",
	})
	assert.Equal(t, err, nil)
	return id
}

func ocrPayload(documentID string) []byte {
	return []byte(`{"document_id":"` + documentID + `","user_id":"u-1","source_url":"gs://bucket/contract.pdf","mime_type":"application/pdf"}`)
}

func TestHandle_SkipsUnsupportedType(t *testing.T) {
	extractor := &fakeExtractor{}
	h, _, _ := newTestHandler(extractor)

	payload := []byte(`{"document_id":"d-1","user_id":"u-1","source_url":"gs://b/x.docx","mime_type":"application/msword"}`)
	assert.Equal(t, h.Handle(context.Background(), payload), nil)
	assert.Equal(t, extractor.polls, 0)
}

func TestHandle_PersistsTextAndRetriggersSummary(t *testing.T) {
	extractor := &fakeExtractor{pollsToDone: 3, text: "page one text"}
	h, stores, queue := newTestHandler(extractor)
	docID := seedDocument(t, stores)

	assert.Equal(t, h.Handle(context.Background(), ocrPayload(docID)), nil)
	assert.Equal(t, extractor.polls, 3)
	assert.Equal(t, extractor.cleanupCalls, 1)

	doc, _ := stores.Documents.Get(context.Background(), docID)
	assert.Equal(t, doc.OCRText, "page one text")
	assert.NotEqual(t, doc.OCRCompletedAt, nil)

	agentJobs := queue.Jobs(f.QueueAgents)
	assert.Equal(t, len(agentJobs), 1)
	assert.Equal(t, agentJobs[0].Name, f.AgentDocumentSummarizer)
}

func TestHandle_ProviderErrorLeavesDocumentUntouched(t *testing.T) {
	extractor := &fakeExtractor{checkErr: errors.Technical("vision unavailable")}
	h, stores, queue := newTestHandler(extractor)
	docID := seedDocument(t, stores)

	err := h.Handle(context.Background(), ocrPayload(docID))
	assert.NotEqual(t, err, nil)

	doc, _ := stores.Documents.Get(context.Background(), docID)
	assert.Equal(t, doc.OCRText, "")
	assert.Equal(t, len(queue.Jobs(f.QueueAgents)), 0)
}

func TestHandle_PollCeiling(t *testing.T) {
	extractor := &fakeExtractor{pollsToDone: maxPolls + 10}
	h, stores, _ := newTestHandler(extractor)
	docID := seedDocument(t, stores)

	err := h.Handle(context.Background(), ocrPayload(docID))
	assert.NotEqual(t, err, nil)
	assert.Equal(t, extractor.polls, maxPolls)
}

func TestHandle_SubmitFailurePropagates(t *testing.T) {
	extractor := &fakeExtractor{submitErr: errors.Technical("bad gcs uri")}
	h, stores, _ := newTestHandler(extractor)
	docID := seedDocument(t, stores)

	err := h.Handle(context.Background(), ocrPayload(docID))
	assert.NotEqual(t, err, nil)
	assert.Equal(t, extractor.cleanupCalls, 0)
}
