package domain

import (
	"strings"
	"time"
)

// UserAttributes carries the signup payload beyond the address itself.
type UserAttributes struct {
	Name    string            `json:"name,omitempty" bson:"name,omitempty" dynamodbav:"name,omitempty"`
	Profile map[string]string `json:"profile,omitempty" bson:"profile,omitempty" dynamodbav:"profile,omitempty"`
}

// User is an attendee. DeliveredEmailIDs is the durable record of every
// workshop email already sent to the address; it only ever grows.
type User struct {
	Address           string         `json:"email" db:"address"`
	IsConfirmed       bool           `json:"isConfirmed" db:"is_confirmed"`
	ConfirmationKey   string         `json:"-" db:"confirmation_key"`
	Attributes        UserAttributes `json:"attributes" db:"attributes"`
	DeliveredEmailIDs []string       `json:"-" db:"-"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
}

// HasReceived reports whether the email id is already in the delivered set.
func (u *User) HasReceived(emailID string) bool {
	for _, id := range u.DeliveredEmailIDs {
		if id == emailID {
			return true
		}
	}
	return false
}

// NormalizeAddress lower-cases and trims an email address so it can be used
// as a unique key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
