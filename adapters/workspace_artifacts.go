package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
)

// WorkspaceConfig carries the endpoints of the Drive and Docs adapters.
type WorkspaceConfig struct {
	DriveBaseURL string
	DocsBaseURL  string
	ServiceToken string
}

// WorkspaceCreator generates Drive and Docs artifacts (generated SOW
// documents, project folders).
type WorkspaceCreator struct {
	drive *resty.Client
	docs  *resty.Client
}

var _ f.ArtifactCreator = (*WorkspaceCreator)(nil)

func NewWorkspaceCreator(cfg WorkspaceConfig) *WorkspaceCreator {
	return &WorkspaceCreator{
		drive: resty.New().
			SetBaseURL(cfg.DriveBaseURL).
			SetTimeout(30 * time.Second).
			SetAuthToken(cfg.ServiceToken),
		docs: resty.New().
			SetBaseURL(cfg.DocsBaseURL).
			SetTimeout(30 * time.Second).
			SetAuthToken(cfg.ServiceToken),
	}
}

func (w *WorkspaceCreator) CreateArtifact(ctx context.Context, kind string, data map[string]any) (*f.Artifact, error) {
	switch kind {
	case "document":
		return w.createDocument(ctx, data)
	case "folder":
		return w.createFolder(ctx, data)
	default:
		return nil, errors.BadRequest("unknown artifact kind: %s", kind)
	}
}

func (w *WorkspaceCreator) createDocument(ctx context.Context, data map[string]any) (*f.Artifact, error) {
	title, _ := data["title"].(string)
	body, _ := data["body"].(string)
	res, err := w.docs.R().
		SetContext(ctx).
		SetBody(map[string]any{"title": title}).
		Post("/v1/documents")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, errors.Technical("docs create error %d: %s", res.StatusCode(), res.String())
	}
	id := gjson.GetBytes(res.Body(), "documentId").String()
	if id == "" {
		return nil, errors.Technical("docs create returned no document id")
	}

	if body != "" {
		res, err = w.docs.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"requests": []map[string]any{{
					"insertText": map[string]any{
						"location": map[string]any{"index": 1},
						"text":     body,
					},
				}},
			}).
			Post(fmt.Sprintf("/v1/documents/%s:batchUpdate", id))
		if err != nil {
			return nil, err
		}
		if res.IsError() {
			return nil, errors.Technical("docs update error %d: %s", res.StatusCode(), res.String())
		}
	}
	return &f.Artifact{
		ID:  id,
		URL: fmt.Sprintf("https://docs.google.com/document/d/%s/edit", id),
	}, nil
}

func (w *WorkspaceCreator) createFolder(ctx context.Context, data map[string]any) (*f.Artifact, error) {
	name, _ := data["name"].(string)
	res, err := w.drive.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"name":     name,
			"mimeType": "application/vnd.google-apps.folder",
		}).
		Post("/files")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, errors.Technical("drive create error %d: %s", res.StatusCode(), res.String())
	}
	id := gjson.GetBytes(res.Body(), "id").String()
	if id == "" {
		return nil, errors.Technical("drive create returned no file id")
	}
	return &f.Artifact{
		ID:  id,
		URL: fmt.Sprintf("https://drive.google.com/drive/folders/%s", id),
	}, nil
}
