package domain

import "time"

// Workshop is an event with a roster of registered addresses and an
// append-only list of emails distributed to that roster.
type Workshop struct {
	WorkshopID      string    `json:"workshopId" db:"workshop_id"`
	Title           string    `json:"title,omitempty" db:"title"`
	EmailSecret     string    `json:"-" db:"email_secret"`
	RegisteredUsers []string  `json:"users" db:"-"`
	Emails          []Email   `json:"emails" db:"-"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// HasMember reports whether address is on the roster.
func (w *Workshop) HasMember(address string) bool {
	for _, u := range w.RegisteredUsers {
		if u == address {
			return true
		}
	}
	return false
}

// Undelivered returns the workshop's emails whose ids are not in delivered,
// preserving the workshop's arrival order.
func (w *Workshop) Undelivered(delivered []string) []Email {
	seen := make(map[string]struct{}, len(delivered))
	for _, id := range delivered {
		seen[id] = struct{}{}
	}
	var out []Email
	for _, e := range w.Emails {
		if _, ok := seen[e.EmailID]; ok {
			continue
		}
		out = append(out, e)
	}
	return out
}
