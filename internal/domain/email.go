package domain

import "time"

// Attachment describes a file that arrived with an inbound email. The bytes
// live in the archive under ArchiveKey; only metadata is kept on the email.
type Attachment struct {
	Filename    string `json:"filename" bson:"filename" dynamodbav:"filename"`
	ContentType string `json:"contentType" bson:"contentType" dynamodbav:"contentType"`
	Size        int64  `json:"size" bson:"size" dynamodbav:"size"`
	ArchiveKey  string `json:"archiveKey,omitempty" bson:"archiveKey,omitempty" dynamodbav:"archiveKey,omitempty"`
}

// Email is a message attached to a workshop. It is immutable once appended.
type Email struct {
	EmailID     string       `json:"emailId" bson:"emailId" dynamodbav:"emailId"`
	Subject     string       `json:"subject" bson:"subject" dynamodbav:"subject"`
	Body        string       `json:"text" bson:"text" dynamodbav:"text"`
	ReceivedAt  time.Time    `json:"date" bson:"date" dynamodbav:"date"`
	Attachments []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty" dynamodbav:"attachments,omitempty"`
}

// EmailView is the public projection of an Email. The id is internal
// bookkeeping and never leaves the service.
type EmailView struct {
	Subject     string       `json:"subject"`
	Body        string       `json:"text"`
	ReceivedAt  time.Time    `json:"date"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// View strips the internal id.
func (e Email) View() EmailView {
	return EmailView{
		Subject:     e.Subject,
		Body:        e.Body,
		ReceivedAt:  e.ReceivedAt,
		Attachments: e.Attachments,
	}
}
