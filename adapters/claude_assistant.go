package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
)

// AnthropicConfig carries the endpoint and model of the LLM adapter.
type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// ClassifyTimeout bounds one classification call. Callers fall back to a
	// degraded classification when it elapses.
	ClassifyTimeout time.Duration
}

// AnthropicAssistant implements both classification and the agent operations
// over the Anthropic messages API.
type AnthropicAssistant struct {
	cfg  AnthropicConfig
	http *resty.Client
}

var (
	_ f.Classifier = (*AnthropicAssistant)(nil)
	_ f.Assistant  = (*AnthropicAssistant)(nil)
)

func NewAnthropicAssistant(cfg AnthropicConfig) *AnthropicAssistant {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(60 * time.Second).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", "2023-06-01")
	return &AnthropicAssistant{cfg: cfg, http: client}
}

// complete sends one prompt and returns the first text block of the reply.
func (a *AnthropicAssistant) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	res, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model":      a.cfg.Model,
			"max_tokens": maxTokens,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}).
		Post("/v1/messages")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", errors.Technical("anthropic api error %d: %s", res.StatusCode(), res.String())
	}
	text := gjson.GetBytes(res.Body(), "content.0.text").String()
	if text == "" {
		return "", errors.Technical("anthropic reply contained no text")
	}
	return text, nil
}

// completeJSON sends a prompt that must yield a JSON document and strips any
// markdown fencing around the model's answer.
func (a *AnthropicAssistant) completeJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	text, err := a.complete(ctx, prompt, maxTokens)
	if err != nil {
		return "", err
	}
	return stripJSONFence(text), nil
}

func (a *AnthropicAssistant) Classify(ctx context.Context, in f.ClassifyInput) (*f.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ClassifyTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Classify the following email. Reply with a single JSON object with the fields:
category (one of: client_request for inquiries/RFPs/quote requests, invoice for bills/receipts/payment requests, contract for SOWs/NDAs/agreements, project_update for status reports/standups, general for ordinary business correspondence, other),
priority (one of: urgent, high, medium, low),
sentiment (one of: positive, neutral, negative, action_required),
tags (array of short strings),
assigned_agents (array drawn from: %s, %s, %s; empty when none applies),
confidence_score (0.0 to 1.0).

From: %s
Subject: %s

%s`,
		f.AgentTaskExtractor, f.AgentDocumentSummarizer, f.AgentSOWGenerator,
		in.From, in.Subject, truncate(in.Body, 4000))

	raw, err := a.completeJSON(ctx, prompt, 512)
	if err != nil {
		return nil, err
	}
	var out f.Classification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.Technical("unparseable classification reply: %v", err)
	}
	if out.Category == "" {
		return nil, errors.Technical("classification reply missing category")
	}
	return &out, nil
}

func (a *AnthropicAssistant) Summarize(ctx context.Context, content string) (string, error) {
	prompt := fmt.Sprintf(`Summarize the following email and its attached documents in at most five sentences. Reply with the summary only.

%s`, truncate(content, 12000))
	return a.complete(ctx, prompt, 1024)
}

func (a *AnthropicAssistant) ExtractTasks(ctx context.Context, content string) ([]f.ExtractedTask, error) {
	prompt := fmt.Sprintf(`Extract action items from the following email. Reply with a JSON array of objects with fields title, notes, priority (urgent, high, medium or low) and due_date (YYYY-MM-DD or empty). Reply with an empty array when there are none.

%s`, truncate(content, 8000))
	raw, err := a.completeJSON(ctx, prompt, 1024)
	if err != nil {
		return nil, err
	}
	var tasks []f.ExtractedTask
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, errors.Technical("unparseable task extraction reply: %v", err)
	}
	return tasks, nil
}

func (a *AnthropicAssistant) GenerateSOW(ctx context.Context, subject string, body string) (*f.SOWContent, error) {
	prompt := fmt.Sprintf(`Draft a statement of work from the following request. Reply with a single JSON object with fields title, body (the full markdown document) and project_name.

Subject: %s

%s`, subject, truncate(body, 8000))
	raw, err := a.completeJSON(ctx, prompt, 4096)
	if err != nil {
		return nil, err
	}
	var out f.SOWContent
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.Technical("unparseable sow reply: %v", err)
	}
	if out.Title == "" {
		out.Title = subject
	}
	return &out, nil
}

// stripJSONFence trims a markdown code fence the model may wrap JSON answers in.
func stripJSONFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
