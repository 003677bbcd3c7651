package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/workshop-mailer/internal/config"
	"github.com/ignite/workshop-mailer/internal/pkg/httpretry"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
)

// MailgunGateway sends email via the Mailgun Messages API.
type MailgunGateway struct {
	apiKey  string
	domain  string
	baseURL string
	from    Sender
	client  httpretry.HTTPDoer
}

// NewMailgunGateway creates a Mailgun gateway targeting cfg.Domain.
func NewMailgunGateway(cfg config.MailgunConfig, from Sender) *MailgunGateway {
	return &MailgunGateway{
		apiKey:  cfg.APIKey,
		domain:  cfg.Domain,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		from:    from,
		client: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
	}
}

// WithHTTPClient replaces the transport, mostly for tests.
func (g *MailgunGateway) WithHTTPClient(c httpretry.HTTPDoer) *MailgunGateway {
	g.client = c
	return g
}

func (g *MailgunGateway) fields(msg Message) url.Values {
	form := url.Values{}
	form.Set("from", g.from.String())
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}
	if msg.ReplyTo != "" {
		form.Set("h:Reply-To", msg.ReplyTo)
	}
	for k, v := range msg.Tags {
		form.Set("v:"+k, v)
	}
	return form
}

// Send delivers a single email through Mailgun. Messages with attachments
// are sent as multipart/form-data, everything else as a urlencoded form.
func (g *MailgunGateway) Send(ctx context.Context, msg Message) error {
	if g.apiKey == "" {
		return fmt.Errorf("Mailgun API key not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	form := g.fields(msg)
	var (
		body        []byte
		contentType string
	)
	if len(msg.Attachments) == 0 {
		body = []byte(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, vs := range form {
			for _, v := range vs {
				if err := mw.WriteField(k, v); err != nil {
					return fmt.Errorf("write field %s: %w", k, err)
				}
			}
		}
		for _, a := range msg.Attachments {
			fw, err := mw.CreateFormFile("attachment", a.Filename)
			if err != nil {
				return fmt.Errorf("attach %s: %w", a.Filename, err)
			}
			if _, err := fw.Write(a.Content); err != nil {
				return fmt.Errorf("attach %s: %w", a.Filename, err)
			}
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("close multipart: %w", err)
		}
		body = buf.Bytes()
		contentType = mw.FormDataContentType()
	}

	endpoint := fmt.Sprintf("%s/%s/messages", g.baseURL, g.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth("api", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Mailgun error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(respBody, &result)
	logger.Debug("[Mailgun] sent", "recipient", msg.To, "id", strings.Trim(result.ID, "<>"))
	return nil
}
