package domain

import (
	"time"
)

// SyncStatus is the outcome of one lead-sync attempt.
type SyncStatus string

const (
	SyncStatusSynced             SyncStatus = "synced"
	SyncStatusSkippedNoConsent   SyncStatus = "skipped_no_consent"
	SyncStatusSkippedNoContact   SyncStatus = "skipped_no_contact"
	SyncStatusSkippedCRMDisabled SyncStatus = "skipped_crm_disabled"
	SyncStatusFailed             SyncStatus = "failed"
)

// LeadSync is the audit record of a lead-sync attempt.
// It never carries contact data or dossier text.
type LeadSync struct {
	ID          string     `json:"id"`
	VisitorID   string     `json:"visitor_id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	Status      SyncStatus `json:"status"`
	ConsentUI   bool       `json:"consent_ui"`
	ConsentChat bool       `json:"consent_chat"`
	HasEmail    bool       `json:"has_email"`
	HasPhone    bool       `json:"has_phone"`
	ContactID   string     `json:"contact_id,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Consent returns the combined consent decision.
func (s *LeadSync) Consent() bool {
	return s.ConsentUI || s.ConsentChat
}
