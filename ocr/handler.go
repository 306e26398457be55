// Package ocr extracts text from documents too large to process inline,
// through the provider's submit/poll flow.
package ocr

import (
	"context"
	"encoding/json"
	"time"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
)

const (
	maxPolls     = 40
	pollInterval = 3 * time.Second
)

type Handler struct {
	stores    f.Stores
	extractor f.TextExtractor
	producer  jobs.Producer
	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewHandler(stores f.Stores, extractor f.TextExtractor, producer jobs.Producer) *Handler {
	return &Handler{
		stores:    stores,
		extractor: extractor,
		producer:  producer,
		sleep:     sleepCtx,
	}
}

// Handle runs one OCR attempt. The document row is written only when the full
// text is available; a failed attempt leaves it untouched for the retry.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var job jobs.DocumentOCRJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.BadRequest("invalid ocr payload: %v", err)
	}
	if job.MimeType != "application/pdf" {
		log.Info("ocr skipping document %s (%s)", job.DocumentID, job.MimeType)
		return nil
	}

	operationID, err := h.extractor.SubmitDocument(ctx, job.SourceURL)
	if err != nil {
		return err
	}
	text, err := h.poll(ctx, operationID, job.SourceURL)
	if err != nil {
		return err
	}

	if err := h.stores.Documents.SetOCRText(ctx, job.DocumentID, text); err != nil {
		return err
	}
	if err := h.extractor.Cleanup(ctx, job.SourceURL); err != nil {
		log.Warn("ocr cleanup failed for %s: %v", job.SourceURL, err)
	}

	// Refresh the owning email's summary now that the text exists.
	doc, err := h.stores.Documents.Get(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	if doc.EmailID != "" {
		jobs.BestEffort("summarizer",
			h.producer.EnqueueAgent(ctx, f.AgentDocumentSummarizer, doc.EmailID, job.UserID, nil))
	}
	return nil
}

func (h *Handler) poll(ctx context.Context, operationID string, sourceURL string) (string, error) {
	for i := 0; i < maxPolls; i++ {
		done, text, err := h.extractor.CheckDocument(ctx, operationID, sourceURL)
		if err != nil {
			return "", err
		}
		if done {
			return text, nil
		}
		if err := h.sleep(ctx, pollInterval); err != nil {
			return "", err
		}
	}
	return "", errors.Technical("ocr operation %s did not finish within %d polls", operationID, maxPolls)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
