package deadletter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/inboxpilot/inboxpilot/adapters"
	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/jobs"
)

func TestHandle_PersistsRecord(t *testing.T) {
	_, stores := adapters.NewMemoryStores()
	h := NewHandler(stores)

	payload, _ := json.Marshal(jobs.DeadLetterJob{
		OriginalQueue: f.QueueClassification,
		JobName:       jobs.NameClassifyEmail,
		Payload:       []byte(`{"email_id":"em-1","user_id":"u-1"}`),
		AttemptsMade:  3,
		FailedReason:  "llm unavailable",
	})
	assert.Equal(t, h.Handle(context.Background(), payload), nil)

	records, err := stores.DeadLetters.List(context.Background(), 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(records), 1)
	assert.Equal(t, records[0].OriginalQueue, f.QueueClassification)
	assert.Equal(t, records[0].JobName, jobs.NameClassifyEmail)
	assert.Equal(t, records[0].Payload, `{"email_id":"em-1","user_id":"u-1"}`)
	assert.Equal(t, records[0].AttemptsMade, 3)
}

func TestHandle_RejectsGarbage(t *testing.T) {
	_, stores := adapters.NewMemoryStores()
	h := NewHandler(stores)

	assert.NotEqual(t, h.Handle(context.Background(), []byte("not json")), nil)

	records, _ := stores.DeadLetters.List(context.Background(), 10)
	assert.Equal(t, len(records), 0)
}
