package adapters

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
)

// HTTPLinkFetcher retrieves the readable text behind links referenced by
// emails, for summarization.
type HTTPLinkFetcher struct {
	http *resty.Client
	// maxBytes caps how much of a page is kept.
	maxBytes int
}

var _ f.LinkFetcher = (*HTTPLinkFetcher)(nil)

func NewHTTPLinkFetcher() *HTTPLinkFetcher {
	return &HTTPLinkFetcher{
		http: resty.New().
			SetTimeout(15 * time.Second).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)),
		maxBytes: 64 * 1024,
	}
}

func (l *HTTPLinkFetcher) FetchText(ctx context.Context, url string) (string, error) {
	res, err := l.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", errors.Technical("link fetch error %d for %s", res.StatusCode(), url)
	}
	body := res.String()
	if strings.Contains(res.Header().Get("Content-Type"), "text/html") {
		body = stripHTML(body)
	}
	if len(body) > l.maxBytes {
		body = body[:l.maxBytes]
	}
	return strings.TrimSpace(body), nil
}

// stripHTML drops tags, scripts and styles, keeping the visible text.
func stripHTML(html string) string {
	var sb strings.Builder
	inTag := false
	skipUntil := ""
	lower := strings.ToLower(html)
	for i := 0; i < len(html); i++ {
		if skipUntil != "" {
			if strings.HasPrefix(lower[i:], skipUntil) {
				i += len(skipUntil) - 1
				skipUntil = ""
				inTag = false
			}
			continue
		}
		switch {
		case html[i] == '<':
			inTag = true
			if strings.HasPrefix(lower[i:], "<script") {
				skipUntil = "</script>"
			} else if strings.HasPrefix(lower[i:], "<style") {
				skipUntil = "</style>"
			}
		case html[i] == '>':
			inTag = false
			sb.WriteByte(' ')
		case !inTag:
			sb.WriteByte(html[i])
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
