// Package resend provides a mailer transport for the Resend API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v3"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

var (
	ErrInvalidConfig = errors.New("resend: invalid configuration")
	ErrSend          = errors.New("resend: failed to send email")
)

// Transport implements mailer.Transport using the Resend API.
type Transport struct {
	client *resend.Client
}

// New creates a Resend transport. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Transport, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidConfig)
	}

	client := resend.NewClient(cfg.APIKey)
	if httpClient != nil {
		client = resend.NewCustomClient(httpClient, cfg.APIKey)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("%w: base_url: %v", ErrInvalidConfig, err)
		}
		client.BaseURL = u
	}
	return &Transport{client: client}, nil
}

// Name implements mailer.Transport.
func (t *Transport) Name() string { return "resend" }

// Send implements mailer.Transport.
func (t *Transport) Send(ctx context.Context, email *mailer.Email) (*mailer.SentMessage, error) {
	req := &resend.SendEmailRequest{
		From:    first(email.From),
		To:      strs(email.To),
		Cc:      strs(email.Cc),
		Bcc:     strs(email.Bcc),
		ReplyTo: first(email.ReplyTo),
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		Headers: headers(email),
	}

	if len(email.Attachments) > 0 {
		req.Attachments = convertAttachments(email.Attachments)
	}
	if len(email.Tags) > 0 || len(email.Metadata) > 0 {
		req.Tags = convertTags(email)
	}

	resp, err := t.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSend, err)
	}

	sent := mailer.NewSentMessage(t.Name(), email)
	if resp != nil {
		sent.ProviderID = resp.Id
	}
	return sent, nil
}

func headers(email *mailer.Email) map[string]string {
	out := make(map[string]string, len(email.Headers)+1)
	for _, h := range email.Headers {
		if prev, ok := out[h.Name]; ok {
			out[h.Name] = prev + ", " + h.Value
			continue
		}
		out[h.Name] = h.Value
	}
	if email.MessageID != "" {
		out["Message-ID"] = "<" + email.MessageID + ">"
	}
	return out
}

func convertAttachments(attachments []mailer.Attachment) []*resend.Attachment {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}
		if a.Inline {
			result[i].ContentId = a.ContentID
		}
	}
	return result
}

// convertTags maps tags to presence-only Resend tags valued "true" and metadata to key/value tags.
func convertTags(email *mailer.Email) []resend.Tag {
	result := make([]resend.Tag, 0, len(email.Tags)+len(email.Metadata))
	for _, tag := range email.Tags {
		result = append(result, resend.Tag{Name: tagName(tag), Value: "true"})
	}
	for _, md := range email.Metadata {
		result = append(result, resend.Tag{Name: tagName(md.Key), Value: md.Value})
	}
	return result
}

// tagName replaces characters Resend does not accept in tag names.
func tagName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

func first(list []mailer.Address) string {
	if len(list) == 0 {
		return ""
	}
	return list[0].String()
}

func strs(list []mailer.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.String()
	}
	return out
}
