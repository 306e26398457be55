package adapters

import (
	"encoding/base64"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/tidwall/gjson"
)

func b64url(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestParseGmailMessage_FullPayload(t *testing.T) {
	raw := `{
		"id": "g-1",
		"threadId": "t-1",
		"snippet": "Hi there",
		"labelIds": ["INBOX", "UNREAD", "STARRED"],
		"payload": {
			"mimeType": "multipart/mixed",
			"headers": [
				{"name": "Subject", "value": "Quarterly report"},
				{"name": "From", "value": "\"Ada Lovelace\" <ada@example.com>"},
				{"name": "To", "value": "me@example.com"},
				{"name": "Date", "value": "Mon, 02 Jan 2006 15:04:05 -0700"}
			],
			"parts": [
				{"mimeType": "text/plain", "body": {"data": "` + b64url("plain body") + `"}},
				{"mimeType": "text/html", "body": {"data": "` + b64url("<p>html body</p>") + `"}},
				{"mimeType": "application/pdf", "filename": "report.pdf", "body": {"attachmentId": "att-1"}}
			]
		}
	}`

	m := parseGmailMessage(gjson.Parse(raw))

	assert.Equal(t, m.ID, "g-1")
	assert.Equal(t, m.Subject, "Quarterly report")
	assert.Equal(t, m.From, "ada@example.com")
	assert.Equal(t, m.FromName, "Ada Lovelace")
	assert.Equal(t, m.To, "me@example.com")
	assert.Equal(t, m.BodyPlain, "plain body")
	assert.Equal(t, m.BodyHTML, "<p>html body</p>")
	assert.Equal(t, m.Unread, true)
	assert.Equal(t, m.Starred, true)
	assert.Equal(t, m.ReceivedAt.IsZero(), false)
	assert.Equal(t, len(m.Attachments), 1)
	assert.Equal(t, m.Attachments[0].AttachmentID, "att-1")
	assert.Equal(t, m.Attachments[0].Filename, "report.pdf")
}

func TestParseGmailMessage_NestedParts(t *testing.T) {
	raw := `{
		"id": "g-2",
		"payload": {
			"mimeType": "multipart/mixed",
			"parts": [
				{"mimeType": "multipart/alternative", "parts": [
					{"mimeType": "text/plain", "body": {"data": "` + b64url("nested text") + `"}}
				]}
			]
		}
	}`

	m := parseGmailMessage(gjson.Parse(raw))
	assert.Equal(t, m.BodyPlain, "nested text")
}

func TestParseFromHeader(t *testing.T) {
	addr, name := parseFromHeader(`"Ada Lovelace" <ada@example.com>`)
	assert.Equal(t, addr, "ada@example.com")
	assert.Equal(t, name, "Ada Lovelace")

	addr, name = parseFromHeader("bare@example.com")
	assert.Equal(t, addr, "bare@example.com")
	assert.Equal(t, name, "")
}

func TestDecodeBase64URL_HandlesPaddingVariants(t *testing.T) {
	for _, input := range []string{"hi", "hello", "hello there"} {
		decoded, err := decodeBase64URL(base64.RawURLEncoding.EncodeToString([]byte(input)))
		assert.Equal(t, err, nil)
		assert.Equal(t, string(decoded), input)
	}
}
