package leadsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cashbackfinance/advisor-chat/internal/crm"
	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

// Form is a lead submitted directly through the page form. Submitting the
// form is the consent.
type Form struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Context   string
	VisitorID string
	SessionID string
}

// SubmitForm upserts the contact and attaches Context as a note when given.
func (s *Syncer) SubmitForm(ctx context.Context, f Form) (res Result) {
	start := time.Now()
	req := Request{ConsentUI: true, VisitorID: f.VisitorID, SessionID: f.SessionID}
	res = Result{
		ConsentUI: true,
		HasEmail:  strings.TrimSpace(f.Email) != "",
		HasPhone:  strings.TrimSpace(f.Phone) != "",
	}

	defer func() {
		if r := recover(); r != nil {
			res.Status = domain.SyncStatusFailed
			res.Err = fmt.Errorf("leadsync: panic: %v", r)
		}
		s.finish(ctx, req, res, time.Since(start))
	}()

	if s.crm == nil || !s.crm.Enabled() {
		res.Status = domain.SyncStatusSkippedCRMDisabled
		return res
	}
	if !res.HasEmail {
		res.Status = domain.SyncStatusSkippedNoContact
		return res
	}

	contactID, err := s.crm.UpsertContact(ctx, crm.Contact{
		Email:     strings.TrimSpace(f.Email),
		FirstName: strings.TrimSpace(f.FirstName),
		LastName:  strings.TrimSpace(f.LastName),
		Phone:     strings.TrimSpace(f.Phone),
	})
	if err != nil {
		res.Status = domain.SyncStatusFailed
		res.Err = err
		return res
	}
	res.ContactID = contactID

	if note := strings.TrimSpace(f.Context); note != "" && contactID != "" {
		if err := s.crm.AddNoteToContact(ctx, contactID, note); err != nil {
			res.Status = domain.SyncStatusFailed
			res.Err = err
			return res
		}
	}

	res.Status = domain.SyncStatusSynced
	return res
}
