package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ignite/workshop-mailer/internal/domain"
)

const (
	maxNameLen      = 200
	maxProfileKeys  = 50
	maxSubjectLen   = 998
	maxTitleLen     = 200
	maxEmailBodyLen = 1 << 20
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, domain.ErrMalformedInput)...)
}

// SignupRequest is the body of POST /users. The signup form posts whatever
// profile fields the site collects next to email and name; string fields
// other than those two are kept as profile entries.
type SignupRequest struct {
	Email   string
	Name    string
	Profile map[string]string
}

func (r *SignupRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		switch key {
		case "email":
			if err := json.Unmarshal(value, &r.Email); err != nil {
				return fmt.Errorf("email: %w", err)
			}
		case "name":
			if err := json.Unmarshal(value, &r.Name); err != nil {
				return fmt.Errorf("name: %w", err)
			}
		case "profile":
			var p map[string]string
			if err := json.Unmarshal(value, &p); err != nil {
				return fmt.Errorf("profile: %w", err)
			}
			for k, v := range p {
				r.setProfile(k, v)
			}
		default:
			var s string
			if json.Unmarshal(value, &s) == nil {
				r.setProfile(key, s)
			}
		}
	}
	return nil
}

func (r *SignupRequest) setProfile(k, v string) {
	if r.Profile == nil {
		r.Profile = make(map[string]string)
	}
	r.Profile[k] = v
}

// Validate checks field sizes. Address syntax is checked by the user service.
func (r *SignupRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return malformed("email is required")
	}
	if utf8.RuneCountInString(r.Name) > maxNameLen {
		return malformed("name exceeds %d characters", maxNameLen)
	}
	if len(r.Profile) > maxProfileKeys {
		return malformed("profile has more than %d fields", maxProfileKeys)
	}
	return nil
}

// Attributes converts the request to the stored signup payload.
func (r *SignupRequest) Attributes() domain.UserAttributes {
	return domain.UserAttributes{Name: strings.TrimSpace(r.Name), Profile: r.Profile}
}

// ConfirmRequest is the body of PUT /users.
type ConfirmRequest struct {
	Email string `json:"email"`
	Key   string `json:"key"`
}

func (r *ConfirmRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return malformed("email is required")
	}
	if strings.TrimSpace(r.Key) == "" {
		return malformed("key is required")
	}
	return nil
}

// EmailRequest is the body of POST /emails/{workshopID}.
type EmailRequest struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (r *EmailRequest) Validate() error {
	if strings.TrimSpace(r.Subject) == "" && strings.TrimSpace(r.Text) == "" {
		return malformed("subject or text is required")
	}
	if len(r.Subject) > maxSubjectLen || strings.ContainsAny(r.Subject, "\r\n") {
		return malformed("subject must be a single line of at most %d bytes", maxSubjectLen)
	}
	if len(r.Text) > maxEmailBodyLen {
		return malformed("text exceeds %d bytes", maxEmailBodyLen)
	}
	return nil
}

// WorkshopRequest is the body of POST /workshops.
type WorkshopRequest struct {
	WorkshopID string `json:"workshopId"`
	Title      string `json:"title"`
}

func (r *WorkshopRequest) Validate() error {
	if strings.TrimSpace(r.WorkshopID) == "" {
		return malformed("workshopId is required")
	}
	if utf8.RuneCountInString(r.Title) > maxTitleLen {
		return malformed("title exceeds %d characters", maxTitleLen)
	}
	return nil
}
