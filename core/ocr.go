package f

import "context"

// TextExtractor is the OCR provider. Images resolve synchronously; documents
// (multi-page PDFs) go through submit/check polling driven by the caller.
type TextExtractor interface {
	ExtractImageText(ctx context.Context, data []byte) (string, error)
	SubmitDocument(ctx context.Context, sourceURL string) (operationID string, err error)
	// CheckDocument reports whether the operation finished and, if so, the
	// concatenated text.
	CheckDocument(ctx context.Context, operationID string, sourceURL string) (done bool, text string, err error)
	// Cleanup removes provider-side temporary artifacts. Best effort.
	Cleanup(ctx context.Context, sourceURL string) error
}

// BlobStore holds attachment bytes referenced by OCR and document rows.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, mimeType string) (url string, err error)
}

// Artifact is a generated external document (doc, sheet, folder...).
type Artifact struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ArtifactCreator generates Workspace artifacts from a template and data.
type ArtifactCreator interface {
	CreateArtifact(ctx context.Context, kind string, data map[string]any) (*Artifact, error)
}

// LinkFetcher retrieves the readable text behind an external link.
type LinkFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}
