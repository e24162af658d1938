package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cashbackfinance/advisor-chat/internal/config"
	"github.com/cashbackfinance/advisor-chat/internal/domain"
	"github.com/cashbackfinance/advisor-chat/internal/leadsync"
	"github.com/cashbackfinance/advisor-chat/internal/llm"
	"github.com/cashbackfinance/advisor-chat/internal/metrics"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrModel wraps failures of the language model.
	ErrModel = errors.New("model error")
	// ErrCRM wraps failures of a direct lead submission.
	ErrCRM = errors.New("HubSpot error")
)

// Options configures the chat service.
type Options struct {
	SystemPrompt string
	// SyncAsync runs the lead sync in the background after the reply.
	// When false the reply waits for the sync to finish.
	SyncAsync bool
}

// Service answers visitors and hands consenting leads to the CRM.
type Service struct {
	model    llm.Completer
	syncer   *leadsync.Syncer
	prompt   string
	async    bool
	validate *validator.Validate
}

// NewService creates a chat service. syncer may be nil to disable lead
// hand-off entirely.
func NewService(model llm.Completer, syncer *leadsync.Syncer, opts Options) *Service {
	return &Service{
		model:    model,
		syncer:   syncer,
		prompt:   opts.SystemPrompt + config.ReplyInstruction,
		async:    opts.SyncAsync,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Chat returns the assistant reply for the conversation and then runs the
// lead sync on the same snapshot. Sync failures never fail the chat.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	start := time.Now()
	reply, err := s.model.Complete(ctx, s.prompt, req.Messages)
	metrics.RecordModelCall("complete", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}

	s.syncLead(ctx, req)
	return &ChatResponse{Message: domain.Turn{Role: domain.RoleAssistant, Content: reply}}, nil
}

// ChatStream is Chat with the reply delivered fragment by fragment. The
// lead sync only runs when the reply completed.
func (s *Service) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string) error) (*ChatResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	start := time.Now()
	reply, err := s.model.Stream(ctx, s.prompt, req.Messages, onDelta)
	metrics.RecordModelCall("stream", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}

	s.syncLead(ctx, req)
	return &ChatResponse{Message: domain.Turn{Role: domain.RoleAssistant, Content: reply}}, nil
}

func (s *Service) syncLead(ctx context.Context, req ChatRequest) {
	if s.syncer == nil {
		return
	}
	syncReq := leadsync.Request{
		Turns:     req.Messages,
		Email:     req.Email,
		ConsentUI: req.LeadOptIn,
		VisitorID: req.VisitorID,
		SessionID: req.SessionID,
	}
	if s.async {
		s.syncer.Dispatch(ctx, syncReq)
		return
	}
	s.syncer.Run(ctx, syncReq)
}

// SubmitLead hands a form submission to the CRM. Without a configured CRM
// the lead is reported as skipped.
func (s *Service) SubmitLead(ctx context.Context, req LeadRequest) (*LeadResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if s.syncer == nil {
		return &LeadResponse{Status: LeadStatusSkipped, Detail: "No HUBSPOT_PRIVATE_APP_TOKEN set"}, nil
	}

	res := s.syncer.SubmitForm(ctx, leadsync.Form{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Context:   req.Context,
		VisitorID: req.VisitorID,
		SessionID: req.SessionID,
	})
	switch res.Status {
	case domain.SyncStatusSynced:
		return &LeadResponse{Status: LeadStatusOK, HubSpotContactID: res.ContactID}, nil
	case domain.SyncStatusSkippedCRMDisabled:
		return &LeadResponse{Status: LeadStatusSkipped, Detail: "No HUBSPOT_PRIVATE_APP_TOKEN set"}, nil
	case domain.SyncStatusFailed:
		return nil, fmt.Errorf("%w: %w", ErrCRM, res.Err)
	default:
		return &LeadResponse{Status: LeadStatusSkipped, Detail: string(res.Status)}, nil
	}
}

// Wait blocks until background lead syncs have finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	if s.syncer == nil {
		return nil
	}
	return s.syncer.Wait(ctx)
}
