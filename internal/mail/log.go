package mail

import (
	"context"

	"github.com/ignite/workshop-mailer/internal/pkg/logger"
)

// LogGateway writes messages to the log instead of sending them. It is the
// default provider for local development.
type LogGateway struct{}

// NewLogGateway creates a gateway that only logs.
func NewLogGateway() *LogGateway { return &LogGateway{} }

func (LogGateway) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	logger.Info("[mail] would send",
		"recipient", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}
