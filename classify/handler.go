// Package classify produces exactly one current classification per message,
// trying cheap pattern rules before the LLM, and fans out agent work the
// classification suggests.
package classify

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/thoas/go-funk"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/jobs"
	"github.com/inboxpilot/inboxpilot/log"
)

// patternRule short-circuits the LLM for obvious categories.
type patternRule struct {
	pattern  *regexp.Regexp
	category string
	tag      string
}

var patternRules = []patternRule{
	{regexp.MustCompile(`(?i)\b(invoice|bill|payment\s+due|amount\s+(owed|due)|please\s+pay|receipt|charge|statement|remittance)\b`), "invoice", "invoice"},
	{regexp.MustCompile(`(?i)\b(sow|statement\s+of\s+work|nda|non-disclosure|agreement|contract|terms\s+and\s+conditions|sign\s+here|e-sign|docusign)\b`), "contract", "contract"},
	{regexp.MustCompile(`(?i)\b(status\s+update|progress\s+report|milestone|sprint|standup|weekly\s+update|project\s+status|retrospective|scrum|daily\s+update)\b`), "project_update", "project-update"},
	{regexp.MustCompile(`(?i)\b(quote|proposal|can\s+you|would\s+you|project\s+inquiry|new\s+project|rfp|request\s+for\s+proposal|estimate|consultation|interested\s+in\s+working)\b`), "client_request", "client-request"},
}

type Handler struct {
	stores     f.Stores
	classifier f.Classifier
	producer   jobs.Producer
	now        func() time.Time
}

func NewHandler(stores f.Stores, classifier f.Classifier, producer jobs.Producer) *Handler {
	return &Handler{stores: stores, classifier: classifier, producer: producer, now: time.Now}
}

func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var job jobs.EmailClassificationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.BadRequest("invalid classification payload: %v", err)
	}

	email, err := h.stores.Emails.Get(ctx, job.EmailID)
	if err != nil {
		return err
	}

	result := matchPatterns(email.Subject, email.BodyPlain)
	degraded := false
	if result == nil {
		result, err = h.classifier.Classify(ctx, f.ClassifyInput{
			Subject: email.Subject,
			Body:    email.BodyPlain,
			From:    email.FromEmail,
		})
		if err != nil {
			// The message must not stay invisible behind a flaky LLM. Fall
			// back to a neutral classification and let task extraction pick
			// up anything actionable.
			log.Warn("classification fell back for email %s: %v", job.EmailID, err)
			result = degradedClassification()
			degraded = true
		}
	}

	now := h.now()
	record := &f.EmailClassification{
		EmailID:         job.EmailID,
		Category:        result.Category,
		Priority:        result.Priority,
		Sentiment:       result.Sentiment,
		Tags:            result.Tags,
		AssignedAgents:  result.AssignedAgents,
		ConfidenceScore: result.ConfidenceScore,
		ClassifiedAt:    &now,
	}
	if err := h.stores.Classifications.Upsert(ctx, record); err != nil {
		return err
	}

	h.audit(ctx, job, result, degraded)

	// The LLM occasionally assigns duplicates or names no agent implements.
	for _, agent := range funk.UniqString(result.AssignedAgents) {
		if !funk.ContainsString(knownAgents, agent) {
			log.Warn("skipping unknown agent %q for email %s", agent, job.EmailID)
			continue
		}
		jobs.BestEffort("agent "+agent,
			h.producer.EnqueueAgent(ctx, agent, job.EmailID, job.UserID, nil))
	}
	return nil
}

var knownAgents = []string{f.AgentTaskExtractor, f.AgentDocumentSummarizer, f.AgentSOWGenerator}

func (h *Handler) audit(ctx context.Context, job jobs.EmailClassificationJob, result *f.Classification, degraded bool) {
	detail := "classified as " + result.Category
	if degraded {
		detail = "degraded classification"
	}
	err := h.stores.AgentLogs.Insert(ctx, &f.AgentLog{
		UserID:    job.UserID,
		EmailID:   job.EmailID,
		AgentType: "classifier",
		Action:    "classify",
		Success:   !degraded,
		Detail:    detail,
	})
	if err != nil {
		log.Warn("failed to log classification of email %s: %v", job.EmailID, err)
	}
}

// Reclassify stores user feedback on a classification. Called from the API
// surface, synchronously.
func (h *Handler) Reclassify(ctx context.Context, emailID string, category string, feedback string) error {
	if category == "" {
		return errors.BadRequest("category is required")
	}
	if _, err := h.stores.Classifications.Get(ctx, emailID); err != nil {
		return err
	}
	return h.stores.Classifications.SetFeedback(ctx, emailID, category, feedback)
}

func matchPatterns(subject string, body string) *f.Classification {
	text := subject + "\n" + body
	for _, rule := range patternRules {
		if rule.pattern.MatchString(text) {
			return &f.Classification{
				Category:        rule.category,
				Priority:        "medium",
				Sentiment:       "neutral",
				Tags:            []string{rule.tag},
				ConfidenceScore: 0.85,
			}
		}
	}
	return nil
}

func degradedClassification() *f.Classification {
	return &f.Classification{
		Category:        "general",
		Priority:        "medium",
		Sentiment:       "neutral",
		AssignedAgents:  []string{f.AgentTaskExtractor},
		ConfidenceScore: 0.5,
	}
}
