// Package agents runs the per-email automation agents. Each agent produces
// durable artifacts; best-effort downstream steps never fail the agent that
// already succeeded.
package agents

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/thoas/go-funk"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
)

type Handler struct {
	stores    f.Stores
	assistant f.Assistant
	artifacts f.ArtifactCreator
	links     f.LinkFetcher
	now       func() time.Time
}

func NewHandler(stores f.Stores, assistant f.Assistant, artifacts f.ArtifactCreator, links f.LinkFetcher) *Handler {
	return &Handler{stores: stores, assistant: assistant, artifacts: artifacts, links: links, now: time.Now}
}

// Handle dispatches one agent job by its payload type.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var job jobs.AIAgentJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.BadRequest("invalid agent payload: %v", err)
	}
	email, err := h.stores.Emails.Get(ctx, job.EmailID)
	if err != nil {
		return err
	}

	switch job.Type {
	case f.AgentTaskExtractor:
		err = h.extractTasks(ctx, job, email)
	case f.AgentDocumentSummarizer:
		err = h.summarize(ctx, job, email)
	case f.AgentSOWGenerator:
		err = h.generateSOW(ctx, job, email)
	default:
		return errors.BadRequest("unknown agent type: %s", job.Type)
	}

	h.audit(ctx, job, err)
	return err
}

func (h *Handler) audit(ctx context.Context, job jobs.AIAgentJob, runErr error) {
	entry := &f.AgentLog{
		UserID:    job.UserID,
		EmailID:   job.EmailID,
		AgentType: job.Type,
		Action:    "run",
		Success:   runErr == nil,
	}
	if runErr != nil {
		entry.Detail = runErr.Error()
	}
	if err := h.stores.AgentLogs.Insert(ctx, entry); err != nil {
		log.Warn("failed to log %s run for email %s: %v", job.Type, job.EmailID, err)
	}
}

// extractTasks replaces any tasks a previous extraction produced for this
// email, so reruns converge instead of appending duplicates.
func (h *Handler) extractTasks(ctx context.Context, job jobs.AIAgentJob, email *f.EmailMessage) error {
	content := email.Subject + "\n\n" + email.BodyPlain
	extracted, err := h.assistant.ExtractTasks(ctx, content)
	if err != nil {
		return err
	}
	if err := h.stores.Tasks.DeleteBySource(ctx, job.EmailID, f.AgentTaskExtractor); err != nil {
		return err
	}
	if len(extracted) == 0 {
		return nil
	}
	rows := make([]*f.TaskRecord, 0, len(extracted))
	for _, t := range extracted {
		rows = append(rows, &f.TaskRecord{
			UserID:      job.UserID,
			EmailID:     job.EmailID,
			SourceAgent: f.AgentTaskExtractor,
			Title:       t.Title,
			Notes:       t.Notes,
			Priority:    t.Priority,
			DueDate:     t.DueDate,
		})
	}
	return h.stores.Tasks.Insert(ctx, rows...)
}

// summarize gathers the message body, any OCR'd attachment text and the text
// behind linked pages, then writes the summary onto the message row.
func (h *Handler) summarize(ctx context.Context, job jobs.AIAgentJob, email *f.EmailMessage) error {
	var sb strings.Builder
	sb.WriteString("Subject: " + email.Subject + "\n\n")
	sb.WriteString(email.BodyPlain)

	docs, err := h.stores.Documents.ListByEmail(ctx, job.EmailID)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.OCRText != "" {
			sb.WriteString("\n\n--- Attachment: " + d.Filename + " ---\n")
			sb.WriteString(d.OCRText)
		}
	}

	for _, url := range extractLinks(email.BodyPlain, 3) {
		text, err := h.links.FetchText(ctx, url)
		if err != nil {
			log.Warn("link %s skipped while summarizing email %s: %v", url, job.EmailID, err)
			continue
		}
		sb.WriteString("\n\n--- Linked page: " + url + " ---\n")
		sb.WriteString(text)
	}

	summary, err := h.assistant.Summarize(ctx, sb.String())
	if err != nil {
		return err
	}
	return h.stores.Emails.SetSummary(ctx, job.EmailID, summary)
}

// generateSOW produces the scope-of-work document. Project scaffolding after
// it is best effort; its failure never undoes the generated document.
func (h *Handler) generateSOW(ctx context.Context, job jobs.AIAgentJob, email *f.EmailMessage) error {
	content, err := h.assistant.GenerateSOW(ctx, email.Subject, email.BodyPlain)
	if err != nil {
		return err
	}

	record := &f.SOWRecord{
		UserID:  job.UserID,
		EmailID: job.EmailID,
		Title:   content.Title,
		Body:    content.Body,
	}
	artifact, err := h.artifacts.CreateArtifact(ctx, "document", map[string]any{
		"title": content.Title,
		"body":  content.Body,
	})
	if err != nil {
		log.Warn("sow artifact creation failed for email %s: %v", job.EmailID, err)
	} else {
		record.ArtifactID = artifact.ID
		record.ArtifactURL = artifact.URL
	}
	if _, err := h.stores.SOWs.Insert(ctx, record); err != nil {
		return err
	}

	if err := h.scaffoldProject(ctx, job, content); err != nil {
		log.Warn("project scaffolding failed for email %s: %v", job.EmailID, err)
	}
	return nil
}

func (h *Handler) scaffoldProject(ctx context.Context, job jobs.AIAgentJob, content *f.SOWContent) error {
	name := content.ProjectName
	if name == "" {
		name = content.Title
	}
	project := &f.Project{
		UserID:        job.UserID,
		Name:          name,
		SourceEmailID: job.EmailID,
	}
	folder, err := h.artifacts.CreateArtifact(ctx, "folder", map[string]any{"name": name})
	if err != nil {
		log.Warn("project folder creation failed for %s: %v", name, err)
	} else {
		project.FolderID = folder.ID
	}
	projectID, err := h.stores.Projects.Insert(ctx, project)
	if err != nil {
		return err
	}

	extracted, err := h.assistant.ExtractTasks(ctx, content.Body)
	if err != nil {
		return err
	}
	if len(extracted) == 0 {
		return nil
	}
	rows := make([]*f.TaskRecord, 0, len(extracted))
	for _, t := range extracted {
		rows = append(rows, &f.TaskRecord{
			UserID:      job.UserID,
			EmailID:     job.EmailID,
			SourceAgent: f.AgentSOWGenerator,
			ProjectID:   projectID,
			Title:       t.Title,
			Notes:       t.Notes,
			Priority:    t.Priority,
			DueDate:     t.DueDate,
		})
	}
	return h.stores.Tasks.Insert(ctx, rows...)
}

var linkPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

func extractLinks(body string, max int) []string {
	links := funk.UniqString(linkPattern.FindAllString(body, -1))
	if len(links) > max {
		links = links[:max]
	}
	return links
}
