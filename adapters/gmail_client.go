package adapters

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	f "github.com/inboxpilot/inboxpilot/core"
	"github.com/inboxpilot/inboxpilot/errors"
	"github.com/inboxpilot/inboxpilot/log"
)

// GmailConfig carries the endpoints and OAuth client of the Gmail adapter.
type GmailConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// RateLimit is the per-user request cap per second.
	RateLimit int
}

// GmailFactory builds per-user Gmail providers. Credentials are read from the
// user store and decrypted on demand; refreshed credentials are written back
// encrypted.
type GmailFactory struct {
	cfg    GmailConfig
	http   *resty.Client
	users  f.UserStore
	cipher f.TokenCipher

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewGmailFactory(cfg GmailConfig, users f.UserStore, cipher f.TokenCipher) *GmailFactory {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second)
	return &GmailFactory{
		cfg:      cfg,
		http:     client,
		users:    users,
		cipher:   cipher,
		limiters: make(map[string]*rate.Limiter),
	}
}

var _ f.MailProviderFactory = (*GmailFactory)(nil)

func (g *GmailFactory) ForUser(ctx context.Context, userID string) (f.MailProvider, error) {
	user, err := g.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.AccessToken == "" {
		return nil, errors.Unauthorized("user %s has no provider credentials", userID)
	}
	accessToken, err := g.cipher.Decrypt(user.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refreshToken := ""
	if user.RefreshToken != "" {
		refreshToken, err = g.cipher.Decrypt(user.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}
	return &gmailProvider{
		factory:      g,
		userID:       userID,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		limiter:      g.limiterFor(userID),
	}, nil
}

func (g *GmailFactory) limiterFor(userID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	limiter, ok := g.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateLimit)
		g.limiters[userID] = limiter
	}
	return limiter
}

type gmailProvider struct {
	factory      *GmailFactory
	userID       string
	accessToken  string
	refreshToken string
	limiter      *rate.Limiter
}

var _ f.MailProvider = (*gmailProvider)(nil)

// call runs one API request under the user's rate limiter, refreshing the
// access token once on 401.
func (p *gmailProvider) call(ctx context.Context, fn func(r *resty.Request) (*resty.Response, error)) (gjson.Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	res, err := fn(p.request(ctx))
	if err != nil {
		return gjson.Result{}, err
	}
	if res.StatusCode() == http.StatusUnauthorized && p.refreshToken != "" {
		if err := p.refresh(ctx); err != nil {
			return gjson.Result{}, err
		}
		res, err = fn(p.request(ctx))
		if err != nil {
			return gjson.Result{}, err
		}
	}
	if res.IsError() {
		return gjson.Result{}, errors.Technical("gmail api error %d: %s", res.StatusCode(), res.String())
	}
	return gjson.ParseBytes(res.Body()), nil
}

func (p *gmailProvider) request(ctx context.Context) *resty.Request {
	return p.factory.http.R().
		SetContext(ctx).
		SetAuthToken(p.accessToken)
}

// refresh exchanges the refresh token for a new access token and writes the
// encrypted credential back to the user store.
func (p *gmailProvider) refresh(ctx context.Context) error {
	cfg := p.factory.cfg
	res, err := resty.New().R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
			"refresh_token": p.refreshToken,
			"grant_type":    "refresh_token",
		}).
		Post(cfg.TokenURL)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if res.IsError() {
		return errors.Unauthorized("token refresh rejected: %s", res.String())
	}
	body := gjson.ParseBytes(res.Body())
	accessToken := body.Get("access_token").String()
	if accessToken == "" {
		return errors.Technical("token refresh returned no access token")
	}
	p.accessToken = accessToken

	encrypted, err := p.factory.cipher.Encrypt(accessToken)
	if err != nil {
		return err
	}
	if err := p.factory.users.SaveTokens(ctx, p.userID, encrypted, ""); err != nil {
		log.Error("failed to persist refreshed token for user %s: %v", p.userID, err)
	}
	return nil
}

func (p *gmailProvider) ListMessageIDs(ctx context.Context, pageToken string, query string, max int) (*f.MessagePage, error) {
	body, err := p.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		r.SetQueryParam("maxResults", strconv.Itoa(max))
		if pageToken != "" {
			r.SetQueryParam("pageToken", pageToken)
		}
		if query != "" {
			r.SetQueryParam("q", query)
		}
		return r.Get("/gmail/v1/users/me/messages")
	})
	if err != nil {
		return nil, err
	}
	page := &f.MessagePage{NextPageToken: body.Get("nextPageToken").String()}
	for _, m := range body.Get("messages").Array() {
		page.IDs = append(page.IDs, m.Get("id").String())
	}
	return page, nil
}

func (p *gmailProvider) GetMessage(ctx context.Context, id string) (*f.MailMessage, error) {
	body, err := p.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("format", "full").
			Get("/gmail/v1/users/me/messages/" + id)
	})
	if err != nil {
		return nil, err
	}
	return parseGmailMessage(body), nil
}

// GetMessages fetches message details in bounded batches.
func (p *gmailProvider) GetMessages(ctx context.Context, ids []string) ([]*f.MailMessage, error) {
	const batchSize = 10
	messages := make([]*f.MailMessage, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		for _, id := range ids[start:end] {
			m, err := p.GetMessage(ctx, id)
			if err != nil {
				return nil, err
			}
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func (p *gmailProvider) GetAttachment(ctx context.Context, messageID string, attachmentID string) ([]byte, error) {
	body, err := p.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(fmt.Sprintf("/gmail/v1/users/me/messages/%s/attachments/%s", messageID, attachmentID))
	})
	if err != nil {
		return nil, err
	}
	return decodeBase64URL(body.Get("data").String())
}

func (p *gmailProvider) History(ctx context.Context, cursor string) (*f.HistoryDelta, error) {
	body, err := p.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetQueryParam("startHistoryId", cursor).
			SetQueryParamsFromValues(map[string][]string{
				"historyTypes": {"messageAdded", "messageDeleted"},
			}).
			Get("/gmail/v1/users/me/history")
	})
	if err != nil {
		return nil, err
	}
	delta := &f.HistoryDelta{NewCursor: body.Get("historyId").String()}
	for _, item := range body.Get("history").Array() {
		for _, added := range item.Get("messagesAdded").Array() {
			if id := added.Get("message.id").String(); id != "" {
				delta.AddedIDs = append(delta.AddedIDs, id)
			}
		}
		for _, deleted := range item.Get("messagesDeleted").Array() {
			if id := deleted.Get("message.id").String(); id != "" {
				delta.DeletedIDs = append(delta.DeletedIDs, id)
			}
		}
	}
	return delta, nil
}

func (p *gmailProvider) Cursor(ctx context.Context) (string, error) {
	body, err := p.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/gmail/v1/users/me/profile")
	})
	if err != nil {
		return "", err
	}
	return body.Get("historyId").String(), nil
}

func (p *gmailProvider) Watch(ctx context.Context, topic string) (*f.WatchResult, error) {
	body, err := p.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"topicName": topic,
			"labelIds":  []string{"INBOX"},
		}).Post("/gmail/v1/users/me/watch")
	})
	if err != nil {
		return nil, err
	}
	// Gmail reports expiration as epoch milliseconds.
	expiresAt := time.UnixMilli(body.Get("expiration").Int())
	return &f.WatchResult{ExpiresAt: expiresAt}, nil
}

func (p *gmailProvider) StopWatch(ctx context.Context) error {
	_, err := p.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Post("/gmail/v1/users/me/stop")
	})
	return err
}

// ------------------------------------------------------------------------------------------------------------------
// MESSAGE PARSING
// ------------------------------------------------------------------------------------------------------------------

func parseGmailMessage(body gjson.Result) *f.MailMessage {
	m := &f.MailMessage{
		ID:       body.Get("id").String(),
		ThreadID: body.Get("threadId").String(),
		Snippet:  body.Get("snippet").String(),
	}
	for _, label := range body.Get("labelIds").Array() {
		m.Labels = append(m.Labels, label.String())
		switch label.String() {
		case "UNREAD":
			m.Unread = true
		case "STARRED":
			m.Starred = true
		}
	}

	headers := body.Get("payload.headers").Array()
	get := func(name string) string {
		for _, h := range headers {
			if strings.EqualFold(h.Get("name").String(), name) {
				return h.Get("value").String()
			}
		}
		return ""
	}
	m.Subject = get("Subject")
	m.To = get("To")
	m.From, m.FromName = parseFromHeader(get("From"))
	if date := get("Date"); date != "" {
		if t, err := parseMailDate(date); err == nil {
			m.ReceivedAt = t
		}
	}

	walkGmailParts(body.Get("payload"), m)
	return m
}

// parseFromHeader splits `Name <addr>` into address and display name.
func parseFromHeader(from string) (string, string) {
	open := strings.LastIndex(from, "<")
	close := strings.LastIndex(from, ">")
	if open >= 0 && close > open {
		return strings.TrimSpace(from[open+1 : close]), strings.Trim(strings.TrimSpace(from[:open]), `"`)
	}
	return strings.TrimSpace(from), ""
}

func parseMailDate(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", "2 Jan 2006 15:04:05 -0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %s", value)
}

func walkGmailParts(part gjson.Result, m *f.MailMessage) {
	mimeType := part.Get("mimeType").String()
	filename := part.Get("filename").String()
	if filename != "" && part.Get("body.attachmentId").Exists() {
		m.Attachments = append(m.Attachments, f.MailAttachment{
			AttachmentID: part.Get("body.attachmentId").String(),
			Filename:     filename,
			MimeType:     mimeType,
		})
	} else if data := part.Get("body.data").String(); data != "" {
		if decoded, err := decodeBase64URL(data); err == nil {
			switch mimeType {
			case "text/plain":
				m.BodyPlain = string(decoded)
			case "text/html":
				m.BodyHTML = string(decoded)
			}
		}
	}
	for _, child := range part.Get("parts").Array() {
		walkGmailParts(child, m)
	}
}

func decodeBase64URL(data string) ([]byte, error) {
	data = strings.ReplaceAll(strings.ReplaceAll(data, "-", "+"), "_", "/")
	if pad := len(data) % 4; pad != 0 {
		data += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(data)
}
