// Package leadsync hands a consenting visitor's dossier to the CRM after a
// chat reply and keeps an audit trail of every attempt.
package leadsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cashbackfinance/advisor-chat/internal/crm"
	"github.com/cashbackfinance/advisor-chat/internal/domain"
	"github.com/cashbackfinance/advisor-chat/internal/intake"
	"github.com/cashbackfinance/advisor-chat/internal/metrics"
	"github.com/cashbackfinance/advisor-chat/internal/store"
)

// DefaultTimeout bounds one background sync.
const DefaultTimeout = 30 * time.Second

// Request is one conversation snapshot to evaluate.
type Request struct {
	Turns []domain.Turn
	// Email is the address supplied out of band by the page form. It wins
	// over any address found in the conversation.
	Email     string
	ConsentUI bool
	VisitorID string
	SessionID string
}

// Result is the outcome of a sync. It carries no contact data.
type Result struct {
	Status      domain.SyncStatus
	ContactID   string
	ConsentUI   bool
	ConsentChat bool
	HasEmail    bool
	HasPhone    bool
	Topics      []string
	Err         error
}

// Consent returns the combined consent decision.
func (r Result) Consent() bool {
	return r.ConsentUI || r.ConsentChat
}

// Syncer evaluates consent, builds the dossier and pushes it to the CRM.
type Syncer struct {
	analyzer *intake.Analyzer
	crm      crm.Client
	repo     store.Repository
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewSyncer creates a syncer. repo may be nil to skip the audit trail.
func NewSyncer(analyzer *intake.Analyzer, client crm.Client, repo store.Repository, timeout time.Duration) *Syncer {
	if analyzer == nil {
		analyzer = intake.DefaultAnalyzer()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Syncer{
		analyzer: analyzer,
		crm:      client,
		repo:     repo,
		timeout:  timeout,
	}
}

// Dispatch runs the sync in the background, detached from the caller's
// cancellation but bounded by the sync timeout.
func (s *Syncer) Dispatch(ctx context.Context, req Request) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		s.Run(runCtx, req)
	}()
}

// Wait blocks until all dispatched syncs finished or ctx is done.
func (s *Syncer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for lead syncs: %w", ctx.Err())
	}
}

// Run performs one sync synchronously. It never panics; failures are
// reported in Result.Err and the audit trail.
func (s *Syncer) Run(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	res.ConsentUI = req.ConsentUI

	defer func() {
		if r := recover(); r != nil {
			res.Status = domain.SyncStatusFailed
			res.Err = fmt.Errorf("leadsync: panic: %v", r)
		}
		s.finish(ctx, req, res, time.Since(start))
	}()

	analysis, err := s.analyzer.Analyze(req.Turns)
	if err != nil {
		res.Status = domain.SyncStatusFailed
		res.Err = err
		return res
	}
	dossier := analysis.Dossier

	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = dossier.Intake.Email
	} else {
		dossier.Intake.Email = email
	}
	phone := dossier.Intake.Phone

	res.ConsentChat = analysis.ConsentChat
	res.HasEmail = email != ""
	res.HasPhone = phone != ""
	res.Topics = dossier.DetectedTopics

	slog.Info("Lead consent evaluated",
		"visitor_id", req.VisitorID,
		"consent_ui", res.ConsentUI,
		"consent_chat", res.ConsentChat,
		"has_email", res.HasEmail,
		"has_phone", res.HasPhone,
	)

	switch {
	case !res.Consent():
		res.Status = domain.SyncStatusSkippedNoConsent
		return res
	case !res.HasEmail && !res.HasPhone:
		res.Status = domain.SyncStatusSkippedNoContact
		return res
	case s.crm == nil || !s.crm.Enabled():
		res.Status = domain.SyncStatusSkippedCRMDisabled
		return res
	}

	contactID, err := s.crm.UpsertContact(ctx, contactFromDossier(dossier, email, phone))
	if err != nil {
		res.Status = domain.SyncStatusFailed
		res.Err = err
		return res
	}
	res.ContactID = contactID
	if contactID == "" {
		res.Status = domain.SyncStatusFailed
		res.Err = errors.New("leadsync: crm returned no contact id")
		return res
	}

	note := intake.RenderNote(dossier, req.Turns)
	if err := s.crm.AddNoteToContact(ctx, contactID, note); err != nil {
		res.Status = domain.SyncStatusFailed
		res.Err = err
		return res
	}

	res.Status = domain.SyncStatusSynced
	return res
}

// contactFromDossier maps the intake form onto CRM properties. A contact
// known only by phone gets a placeholder address as its identity key.
func contactFromDossier(d *intake.Dossier, email, phone string) crm.Contact {
	if email == "" {
		email = crm.PlaceholderEmail(phone)
	}
	extra := map[string]string{}
	for k, v := range map[string]string{
		"city":     d.Intake.City,
		"zip":      d.Intake.PostalCode,
		"jobtitle": d.Intake.Occupation,
	} {
		if v != "" {
			extra[k] = v
		}
	}
	return crm.Contact{
		Email:     email,
		FirstName: d.Intake.FirstName,
		LastName:  d.Intake.LastName,
		Phone:     phone,
		Extra:     extra,
	}
}

func (s *Syncer) finish(ctx context.Context, req Request, res Result, elapsed time.Duration) {
	metrics.RecordLeadSync(string(res.Status), elapsed)
	if res.Status == domain.SyncStatusSynced {
		metrics.RecordTopics(res.Topics)
	}

	attrs := []any{
		"visitor_id", req.VisitorID,
		"session_id", req.SessionID,
		"status", res.Status,
		"duration_ms", elapsed.Milliseconds(),
	}
	switch res.Status {
	case domain.SyncStatusFailed:
		slog.Error("Lead sync failed", append(attrs, "error", res.Err)...)
	case domain.SyncStatusSynced:
		slog.Info("Lead synced to CRM", append(attrs, "contact_id", res.ContactID, "topics", res.Topics)...)
	default:
		slog.Debug("Lead sync skipped", attrs...)
	}

	if s.repo == nil {
		return
	}
	record := &domain.LeadSync{
		VisitorID:   req.VisitorID,
		SessionID:   req.SessionID,
		Status:      res.Status,
		ConsentUI:   res.ConsentUI,
		ConsentChat: res.ConsentChat,
		HasEmail:    res.HasEmail,
		HasPhone:    res.HasPhone,
		ContactID:   res.ContactID,
		Topics:      res.Topics,
		CreatedAt:   time.Now(),
	}
	if res.Err != nil {
		record.Error = res.Err.Error()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.RecordSync(auditCtx, record); err != nil {
		slog.Warn("Failed to record lead sync", "status", res.Status, "error", err)
	}
}
