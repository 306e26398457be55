package f

import "context"

const (
	AgentTaskExtractor      = "task-extractor"
	AgentDocumentSummarizer = "document-summarizer"
	AgentSOWGenerator       = "sow-generator"
)

// Classification is the outcome of classifying one message.
type Classification struct {
	Category        string   `json:"category"`
	Priority        string   `json:"priority"`
	Sentiment       string   `json:"sentiment"`
	Tags            []string `json:"tags"`
	AssignedAgents  []string `json:"assigned_agents"`
	ConfidenceScore float64  `json:"confidence_score"`
}

type ClassifyInput struct {
	Subject string
	Body    string
	From    string
}

// Classifier is the remote classification function. Pattern-based
// pre-classification happens before this is consulted.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (*Classification, error)
}

type ExtractedTask struct {
	Title    string `json:"title"`
	Notes    string `json:"notes"`
	Priority string `json:"priority"`
	DueDate  string `json:"due_date"`
}

type SOWContent struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ProjectName string `json:"project_name"`
}

// Assistant groups the agent-facing LLM operations consumed as black boxes.
type Assistant interface {
	Summarize(ctx context.Context, content string) (string, error)
	ExtractTasks(ctx context.Context, content string) ([]ExtractedTask, error)
	GenerateSOW(ctx context.Context, subject string, body string) (*SOWContent, error)
}
