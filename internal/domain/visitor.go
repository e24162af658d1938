package domain

import (
	"time"
)

// Visitor is an anonymous website visitor identified by a cookie.
// No contact data is ever stored on it.
type Visitor struct {
	ID         string    `json:"visitor_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdleFor returns how long the visitor has been inactive as of now.
func (v *Visitor) IdleFor(now time.Time) time.Duration {
	if v.LastSeenAt.IsZero() || now.Before(v.LastSeenAt) {
		return 0
	}
	return now.Sub(v.LastSeenAt)
}
