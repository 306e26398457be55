// Package deadletter persists permanently failed jobs for operator
// inspection. Records are written once and never retried.
package deadletter

import (
	"context"
	"encoding/json"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
)

type Handler struct {
	stores f.Stores
}

func NewHandler(stores f.Stores) *Handler {
	return &Handler{stores: stores}
}

func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var job jobs.DeadLetterJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.BadRequest("invalid dead letter payload: %v", err)
	}
	log.Error("dead letter: %s/%s failed after %d attempts: %s",
		job.OriginalQueue, job.JobName, job.AttemptsMade, job.FailedReason)
	return h.stores.DeadLetters.Insert(ctx, &f.DeadLetterRecord{
		OriginalQueue: job.OriginalQueue,
		JobName:       job.JobName,
		Payload:       string(job.Payload),
		AttemptsMade:  job.AttemptsMade,
		FailedReason:  job.FailedReason,
		Stacktrace:    job.Stacktrace,
	})
}
