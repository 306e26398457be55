package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/inboxpilot/inboxpilot/adapters"
	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
)

type fakeAssistant struct {
	summary   string
	summaryIn string
	tasks     []f.ExtractedTask
	tasksErr  error
	sow       *f.SOWContent
	sowErr    error
}

func (a *fakeAssistant) Summarize(ctx context.Context, content string) (string, error) {
	a.summaryIn = content
	return a.summary, nil
}

func (a *fakeAssistant) ExtractTasks(ctx context.Context, content string) ([]f.ExtractedTask, error) {
	return a.tasks, a.tasksErr
}

func (a *fakeAssistant) GenerateSOW(ctx context.Context, subject string, body string) (*f.SOWContent, error) {
	return a.sow, a.sowErr
}

type fakeArtifacts struct {
	err   error
	calls []string
}

func (a *fakeArtifacts) CreateArtifact(ctx context.Context, kind string, data map[string]any) (*f.Artifact, error) {
	a.calls = append(a.calls, kind)
	if a.err != nil {
		return nil, a.err
	}
	return &f.Artifact{ID: kind + "-1", URL: "https://example.com/" + kind}, nil
}

type fakeLinks struct{ text string }

func (l fakeLinks) FetchText(ctx context.Context, url string) (string, error) {
	if l.text == "" {
		return "", errors.Technical("fetch failed")
	}
	return l.text, nil
}

func seedEmail(t *testing.T, stores f.Stores, body string) string {
	t.Helper()
	id, err := stores.Emails.Upsert(context.Background(), &f.EmailMessage{
		UserID:     "u-1",
		ProviderID: "g-1",
		Subject:    "Project request",
		FromEmail:  "client@example.com",
		BodyPlain:  body,
	})
	assert.Equal(t, err, nil)
	return id
}

func agentPayload(agentType string, emailID string) []byte {
	return []byte(`{"type":"` + agentType + `","email_id":"` + emailID + `","user_id":"u-1"}`)
}

func TestTaskExtractor_SupersedesPriorRun(t *testing.T) {
	mem, stores := adapters.NewMemoryStores()
	assistant := &fakeAssistant{tasks: []f.ExtractedTask{
		{Title: "Review contract", Priority: "high"},
		{Title: "Schedule call", Priority: "normal"},
	}}
	h := NewHandler(stores, assistant, &fakeArtifacts{}, fakeLinks{})
	ctx := context.Background()
	emailID := seedEmail(t, stores, "please review and call me")

	assert.Equal(t, h.Handle(ctx, agentPayload(f.AgentTaskExtractor, emailID)), nil)
	assert.Equal(t, h.Handle(ctx, agentPayload(f.AgentTaskExtractor, emailID)), nil)

	tasks, _ := stores.Tasks.ListByEmail(ctx, emailID)
	assert.Equal(t, len(tasks), 2)
	assert.Equal(t, tasks[0].SourceAgent, f.AgentTaskExtractor)

	logs := mem.AgentLogEntries()
	assert.Equal(t, len(logs), 2)
	assert.Equal(t, logs[0].Success, true)
}

func TestTaskExtractor_FailurePropagates(t *testing.T) {
	mem, stores := adapters.NewMemoryStores()
	assistant := &fakeAssistant{tasksErr: errors.Technical("llm unavailable")}
	h := NewHandler(stores, assistant, &fakeArtifacts{}, fakeLinks{})
	emailID := seedEmail(t, stores, "anything")

	err := h.Handle(context.Background(), agentPayload(f.AgentTaskExtractor, emailID))
	assert.NotEqual(t, err, nil)

	logs := mem.AgentLogEntries()
	assert.Equal(t, len(logs), 1)
	assert.Equal(t, logs[0].Success, false)
}

func TestSummarizer_GathersAttachmentsAndLinks(t *testing.T) {
	_, stores := adapters.NewMemoryStores()
	assistant := &fakeAssistant{summary: "short version"}
	h := NewHandler(stores, assistant, &fakeArtifacts{}, fakeLinks{text: "linked page body"})
	ctx := context.Background()
	emailID := seedEmail(t, stores, "details at https://example.com/spec")

	_, err := stores.Documents.Insert(ctx, &f.Document{
		UserID:   "u-1",
		EmailID:  emailID,
		Filename: "contract.pdf",
		OCRText:  "ocr extracted clauses",
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, h.Handle(ctx, agentPayload(f.AgentDocumentSummarizer, emailID)), nil)

	assert.Equal(t, strings.Contains(assistant.summaryIn, "ocr extracted clauses"), true)
	assert.Equal(t, strings.Contains(assistant.summaryIn, "linked page body"), true)

	email, _ := stores.Emails.Get(ctx, emailID)
	assert.Equal(t, email.Summary, "short version")
}

func TestSOWGenerator_PersistsRecordWithArtifact(t *testing.T) {
	mem, stores := adapters.NewMemoryStores()
	assistant := &fakeAssistant{
		sow:   &f.SOWContent{Title: "SOW: Website", Body: "## Scope", ProjectName: "Website"},
		tasks: []f.ExtractedTask{{Title: "Design mockups", Priority: "high"}},
	}
	artifacts := &fakeArtifacts{}
	h := NewHandler(stores, assistant, artifacts, fakeLinks{})
	ctx := context.Background()
	emailID := seedEmail(t, stores, "we need a new website")

	assert.Equal(t, h.Handle(ctx, agentPayload(f.AgentSOWGenerator, emailID)), nil)

	record, err := stores.SOWs.GetByEmail(ctx, emailID)
	assert.Equal(t, err, nil)
	assert.Equal(t, record.Title, "SOW: Website")
	assert.Equal(t, record.ArtifactID, "document-1")

	projects := mem.ProjectRows()
	assert.Equal(t, len(projects), 1)
	assert.Equal(t, projects[0].Name, "Website")
	assert.Equal(t, projects[0].FolderID, "folder-1")

	tasks, _ := stores.Tasks.ListByEmail(ctx, emailID)
	assert.Equal(t, len(tasks), 1)
	assert.Equal(t, tasks[0].SourceAgent, f.AgentSOWGenerator)
	assert.Equal(t, tasks[0].ProjectID, projects[0].ID)
}

func TestSOWGenerator_ScaffoldingFailureIsolated(t *testing.T) {
	_, stores := adapters.NewMemoryStores()
	assistant := &fakeAssistant{
		sow: &f.SOWContent{Title: "SOW: Audit", Body: "## Scope", ProjectName: "Audit"},
	}
	artifacts := &fakeArtifacts{err: errors.Technical("drive unavailable")}
	h := NewHandler(stores, assistant, artifacts, fakeLinks{})
	ctx := context.Background()
	emailID := seedEmail(t, stores, "audit request")

	// Artifact and folder creation both fail; the job still succeeds.
	assert.Equal(t, h.Handle(ctx, agentPayload(f.AgentSOWGenerator, emailID)), nil)

	record, err := stores.SOWs.GetByEmail(ctx, emailID)
	assert.Equal(t, err, nil)
	assert.Equal(t, record.ArtifactID, "")
}

func TestHandle_UnknownAgentRejected(t *testing.T) {
	_, stores := adapters.NewMemoryStores()
	h := NewHandler(stores, &fakeAssistant{}, &fakeArtifacts{}, fakeLinks{})
	emailID := seedEmail(t, stores, "body")

	err := h.Handle(context.Background(), agentPayload("mystery-agent", emailID))
	assert.NotEqual(t, err, nil)
}
