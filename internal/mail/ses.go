package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/workshop-mailer/internal/config"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client used by SESGateway.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESGateway sends email via AWS SES using the SDK v2.
type SESGateway struct {
	client  SESAPI
	from    Sender
	timeout time.Duration
}

// NewSESGateway creates an SES gateway. Static credentials are used when
// configured, otherwise the default AWS credential chain.
func NewSESGateway(ctx context.Context, cfg config.SESConfig, from Sender) (*SESGateway, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewSESGatewayWithClient(client, from, cfg.Timeout()), nil
}

// NewSESGatewayWithClient wraps an existing SES client.
func NewSESGatewayWithClient(client SESAPI, from Sender, timeout time.Duration) *SESGateway {
	return &SESGateway{client: client, from: from, timeout: timeout}
}

// Send delivers a single email through AWS SES. SES's simple content has no
// attachment support in this API version, so messages with attachments are
// sent as raw MIME.
func (g *SESGateway) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(g.from.String()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for k, v := range msg.Tags {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(k), Value: aws.String(v)})
	}

	if len(msg.Attachments) == 0 {
		content := &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    &types.Body{},
		}
		if msg.Text != "" {
			content.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
		}
		if msg.HTML != "" {
			content.Body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{Simple: content}
	} else {
		raw, err := buildRawMIME(g.from.String(), msg)
		if err != nil {
			return fmt.Errorf("build raw message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES send: %w", err)
	}

	logger.Debug("[SES] sent", "recipient", msg.To, "id", aws.ToString(result.MessageId))
	return nil
}

// buildRawMIME renders a multipart/mixed message with a text part followed by
// base64 attachments.
func buildRawMIME(from string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	text := msg.Text
	ctype := "text/plain; charset=UTF-8"
	if text == "" {
		text = msg.HTML
		ctype = "text/html; charset=UTF-8"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {ctype},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(text)); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		name := strings.ReplaceAll(a.Filename, `"`, "")
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", ct, name)},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(a.Content)
		for len(enc) > 76 {
			if _, err := part.Write([]byte(enc[:76] + "\r\n")); err != nil {
				return nil, err
			}
			enc = enc[76:]
		}
		if _, err := part.Write([]byte(enc + "\r\n")); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
