package mailing

import (
	"context"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/mail"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
)

// Notifier mails signup and confirmation outcomes. Send failures are logged
// and never reach the caller.
type Notifier struct {
	templates *TemplateService
	gateway   mail.Gateway
}

// NewNotifier creates a notifier rendering templates through ts.
func NewNotifier(ts *TemplateService, gateway mail.Gateway) *Notifier {
	return &Notifier{templates: ts, gateway: gateway}
}

func (n *Notifier) SignupAccepted(ctx context.Context, address string, attrs domain.UserAttributes, key string) {
	vars := map[string]interface{}{
		"address": address,
		"name":    attrs.Name,
		"key":     key,
		"profile": attrs.Profile,
	}
	n.send(ctx, TemplateSignupAccepted, address, vars)
}

func (n *Notifier) SignupDenied(ctx context.Context, address string) {
	n.send(ctx, TemplateSignupDenied, address, map[string]interface{}{"address": address})
}

func (n *Notifier) Confirmed(ctx context.Context, address string) {
	n.send(ctx, TemplateConfirmed, address, map[string]interface{}{"address": address})
}

func (n *Notifier) ConfirmDenied(ctx context.Context, address string) {
	n.send(ctx, TemplateConfirmDenied, address, map[string]interface{}{"address": address})
}

func (n *Notifier) send(ctx context.Context, name, address string, vars map[string]interface{}) {
	out, err := n.templates.Render(name, vars)
	if err != nil {
		logger.Error("[mailing] render failed", "template", name, "error", err)
		return
	}
	err = n.gateway.Send(ctx, mail.Message{
		To:      address,
		Subject: out.Subject,
		Text:    out.Text,
		Tags:    map[string]string{"notification": name},
	})
	if err != nil {
		logger.Warn("[mailing] notification not sent", "template", name, "recipient", address, "error", err)
	}
}
