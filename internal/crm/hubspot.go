// Package crm hands leads to HubSpot: contact upsert keyed by email and a
// note attached to the contact.
package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	contactsPath = "/crm/v3/objects/contacts"
	notesPath    = "/crm/v3/objects/notes"

	// noteToContactAssociation is HubSpot's defined association type id for
	// note → contact.
	noteToContactAssociation = 202
)

// ErrNotConfigured is returned when no private app token is set.
var ErrNotConfigured = errors.New("crm: HUBSPOT_PRIVATE_APP_TOKEN not set")

// Client is the CRM collaborator of the lead pipeline.
type Client interface {
	// UpsertContact creates or updates a contact and returns its ID.
	UpsertContact(ctx context.Context, c Contact) (string, error)

	// AddNoteToContact attaches a plain-text note to a contact.
	AddNoteToContact(ctx context.Context, contactID, body string) error

	// Enabled reports whether calls can succeed at all.
	Enabled() bool
}

// Contact is the upsert payload. Email is the identity key; all other
// fields are optional and omitted when empty.
type Contact struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Extra     map[string]string
}

func (c Contact) properties() map[string]string {
	props := map[string]string{"email": c.Email}
	if c.FirstName != "" {
		props["firstname"] = c.FirstName
	}
	if c.LastName != "" {
		props["lastname"] = c.LastName
	}
	if c.Phone != "" {
		props["phone"] = c.Phone
	}
	for k, v := range c.Extra {
		if _, reserved := props[k]; !reserved {
			props[k] = v
		}
	}
	return props
}

// PlaceholderEmail synthesizes a stable, undeliverable address for a contact
// known only by phone.
func PlaceholderEmail(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return "no-email+" + digits.String() + "@example.invalid"
}

// StatusError is an unexpected HubSpot response. The body is kept for
// debugging but left out of Error() because HubSpot echoes contact data.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm: %s: unexpected status %d", e.Op, e.StatusCode)
}

// transportError drops the request URL, which carries the contact email.
func transportError(op string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("crm: %s: %s: %w", op, urlErr.Op, urlErr.Err)
	}
	return fmt.Errorf("crm: %s: %w", op, err)
}

// Options configures the HubSpot client.
type Options struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// HubSpot implements Client against the HubSpot CRM v3 API.
type HubSpot struct {
	http    *resty.Client
	enabled bool
}

// NewHubSpot creates a client. Without a token it is created disabled and
// every call returns ErrNotConfigured.
func NewHubSpot(opts Options) *HubSpot {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.hubapi.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	token := strings.TrimSpace(opts.Token)

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "cashback-advisor-chat/1.0").
		SetTimeout(opts.Timeout)
	if token != "" {
		httpClient.SetAuthToken(token)
	}

	return &HubSpot{http: httpClient, enabled: token != ""}
}

// Enabled reports whether a token is configured.
func (h *HubSpot) Enabled() bool {
	return h != nil && h.enabled
}

type objectPayload struct {
	Properties   map[string]string `json:"properties"`
	Associations []association     `json:"associations,omitempty"`
}

type association struct {
	To    associationTarget `json:"to"`
	Types []associationType `json:"types"`
}

type associationTarget struct {
	ID string `json:"id"`
}

type associationType struct {
	Category string `json:"associationCategory"`
	TypeID   int    `json:"associationTypeId"`
}

type objectResponse struct {
	ID string `json:"id"`
}

// UpsertContact patches the contact addressed by email. HubSpot answers 404
// for unknown contacts and 400/409/422 for some id-property conflicts; in
// all of those cases the contact is created instead.
func (h *HubSpot) UpsertContact(ctx context.Context, c Contact) (string, error) {
	if !h.Enabled() {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(c.Email) == "" {
		return "", errors.New("crm: contact email is required")
	}

	payload := objectPayload{Properties: c.properties()}

	var out objectResponse
	resp, err := h.http.R().
		SetContext(ctx).
		SetPathParam("email", c.Email).
		SetQueryParam("idProperty", "email").
		SetBody(payload).
		SetResult(&out).
		Patch(contactsPath + "/{email}")
	if err != nil {
		return "", transportError("update contact", err)
	}

	switch resp.StatusCode() {
	case http.StatusNotFound, http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return h.createContact(ctx, payload)
	}
	if resp.IsError() {
		return "", &StatusError{Op: "update contact", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out.ID, nil
}

func (h *HubSpot) createContact(ctx context.Context, payload objectPayload) (string, error) {
	var out objectResponse
	resp, err := h.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		Post(contactsPath)
	if err != nil {
		return "", transportError("create contact", err)
	}
	if resp.IsError() {
		return "", &StatusError{Op: "create contact", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out.ID, nil
}

// AddNoteToContact creates a note associated with the contact.
func (h *HubSpot) AddNoteToContact(ctx context.Context, contactID, body string) error {
	if !h.Enabled() {
		return ErrNotConfigured
	}
	if contactID == "" {
		return errors.New("crm: contact id is required")
	}

	payload := objectPayload{
		Properties: map[string]string{
			"hs_note_body": body,
			"hs_timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		Associations: []association{{
			To: associationTarget{ID: contactID},
			Types: []associationType{{
				Category: "HUBSPOT_DEFINED",
				TypeID:   noteToContactAssociation,
			}},
		}},
	}

	resp, err := h.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(notesPath)
	if err != nil {
		return transportError("create note", err)
	}
	if resp.IsError() {
		return &StatusError{Op: "create note", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
