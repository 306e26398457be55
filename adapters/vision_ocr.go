package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/log"
)

// VisionConfig carries the endpoints and credentials of the OCR adapter.
type VisionConfig struct {
	VisionBaseURL  string
	StorageBaseURL string
	Bucket         string
	// ServiceToken authenticates Vision and Storage calls.
	ServiceToken string
}

// VisionExtractor runs OCR through the Vision API. Images are annotated
// inline; PDFs go through async batch annotation with results staged in the
// storage bucket.
type VisionExtractor struct {
	cfg     VisionConfig
	vision  *resty.Client
	storage *resty.Client
}

var _ f.TextExtractor = (*VisionExtractor)(nil)

func NewVisionExtractor(cfg VisionConfig) *VisionExtractor {
	return &VisionExtractor{
		cfg: cfg,
		vision: resty.New().
			SetBaseURL(cfg.VisionBaseURL).
			SetTimeout(60 * time.Second).
			SetAuthToken(cfg.ServiceToken),
		storage: resty.New().
			SetBaseURL(cfg.StorageBaseURL).
			SetTimeout(60 * time.Second).
			SetAuthToken(cfg.ServiceToken),
	}
}

func (v *VisionExtractor) ExtractImageText(ctx context.Context, data []byte) (string, error) {
	res, err := v.vision.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"requests": []map[string]any{{
				"image":    map[string]any{"content": base64.StdEncoding.EncodeToString(data)},
				"features": []map[string]any{{"type": "DOCUMENT_TEXT_DETECTION"}},
			}},
		}).
		Post("/v1/images:annotate")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", errors.Technical("vision annotate error %d: %s", res.StatusCode(), res.String())
	}
	body := gjson.ParseBytes(res.Body())
	if msg := body.Get("responses.0.error.message").String(); msg != "" {
		return "", errors.Technical("vision annotate rejected: %s", msg)
	}
	return body.Get("responses.0.fullTextAnnotation.text").String(), nil
}

func (v *VisionExtractor) SubmitDocument(ctx context.Context, sourceURL string) (string, error) {
	res, err := v.vision.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"requests": []map[string]any{{
				"inputConfig": map[string]any{
					"gcsSource": map[string]any{"uri": sourceURL},
					"mimeType":  "application/pdf",
				},
				"features": []map[string]any{{"type": "DOCUMENT_TEXT_DETECTION"}},
				"outputConfig": map[string]any{
					"gcsDestination": map[string]any{
						"uri": fmt.Sprintf("gs://%s/%s/", v.cfg.Bucket, outputPrefix(sourceURL)),
					},
					"batchSize": 20,
				},
			}},
		}).
		Post("/v1/files:asyncBatchAnnotate")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", errors.Technical("vision batch submit error %d: %s", res.StatusCode(), res.String())
	}
	name := gjson.GetBytes(res.Body(), "name").String()
	if name == "" {
		return "", errors.Technical("vision batch submit returned no operation name")
	}
	return name, nil
}

func (v *VisionExtractor) CheckDocument(ctx context.Context, operationID string, sourceURL string) (bool, string, error) {
	res, err := v.vision.R().
		SetContext(ctx).
		Get("/v1/" + operationID)
	if err != nil {
		return false, "", err
	}
	if res.IsError() {
		return false, "", errors.Technical("vision operation poll error %d: %s", res.StatusCode(), res.String())
	}
	body := gjson.ParseBytes(res.Body())
	if !body.Get("done").Bool() {
		return false, "", nil
	}
	if msg := body.Get("error.message").String(); msg != "" {
		return true, "", errors.Technical("vision operation failed: %s", msg)
	}
	text, err := v.collectOutput(ctx, outputPrefix(sourceURL))
	if err != nil {
		return true, "", err
	}
	return true, text, nil
}

// collectOutput concatenates the text of every staged result object.
func (v *VisionExtractor) collectOutput(ctx context.Context, prefix string) (string, error) {
	names, err := v.listOutput(ctx, prefix)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", errors.Technical("no ocr output found under %s", prefix)
	}
	var sb strings.Builder
	for _, name := range names {
		res, err := v.storage.R().
			SetContext(ctx).
			SetQueryParam("alt", "media").
			Get(fmt.Sprintf("/storage/v1/b/%s/o/%s", v.cfg.Bucket, url.PathEscape(name)))
		if err != nil {
			return "", err
		}
		if res.IsError() {
			return "", errors.Technical("ocr output fetch error %d: %s", res.StatusCode(), res.String())
		}
		for _, page := range gjson.GetBytes(res.Body(), "responses").Array() {
			sb.WriteString(page.Get("fullTextAnnotation.text").String())
		}
	}
	return sb.String(), nil
}

func (v *VisionExtractor) listOutput(ctx context.Context, prefix string) ([]string, error) {
	res, err := v.storage.R().
		SetContext(ctx).
		SetQueryParam("prefix", prefix+"/").
		Get(fmt.Sprintf("/storage/v1/b/%s/o", v.cfg.Bucket))
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, errors.Technical("ocr output list error %d: %s", res.StatusCode(), res.String())
	}
	var names []string
	for _, item := range gjson.GetBytes(res.Body(), "items").Array() {
		names = append(names, item.Get("name").String())
	}
	return names, nil
}

// Cleanup deletes the staged result objects. Failures are logged, not returned.
func (v *VisionExtractor) Cleanup(ctx context.Context, sourceURL string) error {
	prefix := outputPrefix(sourceURL)
	names, err := v.listOutput(ctx, prefix)
	if err != nil {
		log.Warn("ocr cleanup listing failed for %s: %v", prefix, err)
		return nil
	}
	for _, name := range names {
		res, err := v.storage.R().
			SetContext(ctx).
			Delete(fmt.Sprintf("/storage/v1/b/%s/o/%s", v.cfg.Bucket, url.PathEscape(name)))
		if err != nil || res.IsError() {
			log.Warn("ocr cleanup failed to delete %s", name)
		}
	}
	return nil
}

// outputPrefix derives a stable staging prefix from the source document URI.
func outputPrefix(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return fmt.Sprintf("ocr-output/%x", sum[:8])
}

// ------------------------------------------------------------------------------------------------------------------
// BLOB STORE
// ------------------------------------------------------------------------------------------------------------------

// GCSBlobStore uploads attachment bytes to the storage bucket and returns
// gs:// URIs usable as OCR sources.
type GCSBlobStore struct {
	cfg  VisionConfig
	http *resty.Client
}

var _ f.BlobStore = (*GCSBlobStore)(nil)

func NewGCSBlobStore(cfg VisionConfig) *GCSBlobStore {
	return &GCSBlobStore{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.StorageBaseURL).
			SetTimeout(60 * time.Second).
			SetAuthToken(cfg.ServiceToken),
	}
}

func (s *GCSBlobStore) Upload(ctx context.Context, path string, data []byte, mimeType string) (string, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("uploadType", "media").
		SetQueryParam("name", path).
		SetHeader("Content-Type", mimeType).
		SetBody(data).
		Post(fmt.Sprintf("/upload/storage/v1/b/%s/o", s.cfg.Bucket))
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", errors.Technical("blob upload error %d: %s", res.StatusCode(), res.String())
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, path), nil
}
