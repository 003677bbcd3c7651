// Package mail delivers single-recipient messages through an email service
// provider. Every Gateway call addresses exactly one recipient so no other
// attendee address is ever revealed.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Attachment is a file forwarded with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a single outbound email.
type Message struct {
	To          string
	Subject     string
	Text        string
	HTML        string
	ReplyTo     string
	Tags        map[string]string
	Attachments []Attachment
}

// Gateway sends one message. A returned error concerns only this message.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// ErrInvalidMessage is returned before any network call for unusable messages.
var ErrInvalidMessage = errors.New("invalid message")

// Sender identifies the From header of outbound mail.
type Sender struct {
	Name    string
	Address string
}

// String renders "Name <address>" or the bare address.
func (s Sender) String() string {
	if s.Name == "" {
		return s.Address
	}
	return fmt.Sprintf("%s <%s>", s.Name, s.Address)
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if strings.ContainsAny(m.To, ",;") {
		return fmt.Errorf("%w: exactly one recipient allowed", ErrInvalidMessage)
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}
