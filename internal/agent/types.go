// Package agent implements the advisor chat: model replies plus the
// consent-gated lead hand-off that follows each reply.
package agent

import (
	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

// ChatRequest is the full conversation so far, newest turn last.
type ChatRequest struct {
	Messages  []domain.Turn `json:"messages" validate:"required,min=1,max=200,dive"`
	LeadOptIn bool          `json:"lead_opt_in"`
	Email     string        `json:"email,omitempty" validate:"omitempty,email"`
	VisitorID string        `json:"-"`
	SessionID string        `json:"-"`
}

// ChatResponse carries the assistant reply.
type ChatResponse struct {
	Message domain.Turn `json:"message"`
}

// LeadRequest is a contact submitted directly by the page form.
type LeadRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstname,omitempty" validate:"max=200"`
	LastName  string `json:"lastname,omitempty" validate:"max=200"`
	Phone     string `json:"phone,omitempty" validate:"max=50"`
	Context   string `json:"context,omitempty" validate:"max=20000"`
	VisitorID string `json:"-"`
	SessionID string `json:"-"`
}

// Lead response statuses.
const (
	LeadStatusOK      = "ok"
	LeadStatusSkipped = "skipped"
)

// LeadResponse reports the outcome of a form submission.
type LeadResponse struct {
	Status           string `json:"status"`
	HubSpotContactID string `json:"hubspot_contact_id,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

// wsMessage is the websocket envelope in both directions.
//
// Client → server: {"type":"chat","messages":[...],"lead_opt_in":true} or
// {"type":"ping"}. Server → client: "delta", "done", "error", "pong".
type wsMessage struct {
	Type      string        `json:"type"`
	Messages  []domain.Turn `json:"messages,omitempty"`
	LeadOptIn bool          `json:"lead_opt_in,omitempty"`
	Email     string        `json:"email,omitempty"`
	Content   string        `json:"content,omitempty"`
	Error     string        `json:"error,omitempty"`
}
