package leadsync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbackfinance/advisor-chat/internal/crm"
	"github.com/cashbackfinance/advisor-chat/internal/domain"
	"github.com/cashbackfinance/advisor-chat/internal/intake"
	"github.com/cashbackfinance/advisor-chat/internal/store"
)

type fakeCRM struct {
	mu        sync.Mutex
	disabled  bool
	upsertID  string
	upsertErr error
	noteErr   error
	block     chan struct{}

	contacts []crm.Contact
	notes    map[string]string
}

func (f *fakeCRM) Enabled() bool { return !f.disabled }

func (f *fakeCRM) UpsertContact(ctx context.Context, c crm.Contact) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	if f.upsertID == "" {
		return "42", nil
	}
	return f.upsertID, nil
}

func (f *fakeCRM) AddNoteToContact(_ context.Context, contactID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notes == nil {
		f.notes = map[string]string{}
	}
	f.notes[contactID] = body
	return f.noteErr
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func user(content string) domain.Turn {
	return domain.Turn{Role: domain.RoleUser, Content: content}
}

func assistant(content string) domain.Turn {
	return domain.Turn{Role: domain.RoleAssistant, Content: content}
}

var annaTurns = []domain.Turn{
	user("Ich heiße Anna Schmidt, Email anna@example.com, PLZ 10115 Berlin"),
	assistant("Danke Anna! Darf ich deine Angaben an Cashback Finance übermitteln?"),
	user("Ja, bitte übermitteln"),
}

func TestRun_SyncsConsentingLead(t *testing.T) {
	fake := &fakeCRM{upsertID: "901"}
	repo := newTestRepo(t)
	s := NewSyncer(intake.DefaultAnalyzer(), fake, repo, time.Second)

	res := s.Run(context.Background(), Request{Turns: annaTurns, VisitorID: "anon_1", SessionID: "tab-1"})
	require.NoError(t, res.Err)
	assert.Equal(t, domain.SyncStatusSynced, res.Status)
	assert.Equal(t, "901", res.ContactID)
	assert.True(t, res.ConsentChat)
	assert.False(t, res.ConsentUI)
	assert.True(t, res.HasEmail)

	require.Len(t, fake.contacts, 1)
	c := fake.contacts[0]
	assert.Equal(t, "anna@example.com", c.Email)
	assert.Equal(t, "Anna", c.FirstName)
	assert.Equal(t, "Schmidt", c.LastName)
	assert.Equal(t, map[string]string{"city": "Berlin", "zip": "10115"}, c.Extra)

	note := fake.notes["901"]
	assert.True(t, strings.HasPrefix(note, "Kundenakte"))
	assert.Contains(t, note, "anna@example.com")

	records, err := repo.RecentSyncs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.SyncStatusSynced, records[0].Status)
	assert.Equal(t, "anon_1", records[0].VisitorID)
	assert.Equal(t, "901", records[0].ContactID)
}

func TestRun_NoConsent(t *testing.T) {
	fake := &fakeCRM{}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.Run(context.Background(), Request{Turns: []domain.Turn{
		user("Ich heiße Anna Schmidt, Email anna@example.com, PLZ 10115 Berlin"),
		user("Nein, nicht übermitteln"),
	}})
	assert.Equal(t, domain.SyncStatusSkippedNoConsent, res.Status)
	assert.NoError(t, res.Err)
	assert.Empty(t, fake.contacts)
}

func TestRun_UIConsentAndExplicitEmailWins(t *testing.T) {
	fake := &fakeCRM{}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.Run(context.Background(), Request{
		Turns:     []domain.Turn{user("Meine alte Adresse war alt@example.com")},
		Email:     " neu@example.com ",
		ConsentUI: true,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, domain.SyncStatusSynced, res.Status)
	assert.False(t, res.ConsentChat)
	require.Len(t, fake.contacts, 1)
	assert.Equal(t, "neu@example.com", fake.contacts[0].Email)
}

func TestRun_PhoneOnlyUsesPlaceholderEmail(t *testing.T) {
	fake := &fakeCRM{}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.Run(context.Background(), Request{
		Turns:     []domain.Turn{user("Ruf mich an unter 0170 1234567")},
		ConsentUI: true,
	})
	require.NoError(t, res.Err)
	assert.True(t, res.HasPhone)
	assert.False(t, res.HasEmail)
	require.Len(t, fake.contacts, 1)
	assert.Equal(t, "no-email+01701234567@example.invalid", fake.contacts[0].Email)
	assert.Equal(t, "01701234567", fake.contacts[0].Phone)
}

func TestRun_NoContact(t *testing.T) {
	fake := &fakeCRM{}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.Run(context.Background(), Request{Turns: []domain.Turn{user("Ich brauche einen Kredit")}, ConsentUI: true})
	assert.Equal(t, domain.SyncStatusSkippedNoContact, res.Status)
	assert.Empty(t, fake.contacts)
}

func TestRun_CRMDisabled(t *testing.T) {
	fake := &fakeCRM{disabled: true}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.Run(context.Background(), Request{Turns: annaTurns})
	assert.Equal(t, domain.SyncStatusSkippedCRMDisabled, res.Status)
	assert.Empty(t, fake.contacts)

	res = NewSyncer(nil, nil, nil, time.Second).Run(context.Background(), Request{Turns: annaTurns})
	assert.Equal(t, domain.SyncStatusSkippedCRMDisabled, res.Status)
}

func TestRun_CRMFailureIsAudited(t *testing.T) {
	fake := &fakeCRM{upsertErr: &crm.StatusError{Op: "update contact", StatusCode: 500}}
	repo := newTestRepo(t)
	s := NewSyncer(nil, fake, repo, time.Second)

	res := s.Run(context.Background(), Request{Turns: annaTurns})
	assert.Equal(t, domain.SyncStatusFailed, res.Status)
	require.Error(t, res.Err)

	records, err := repo.RecentSyncs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.SyncStatusFailed, records[0].Status)
	assert.Equal(t, "crm: update contact: unexpected status 500", records[0].Error)
	assert.NotContains(t, records[0].Error, "anna@example.com")
}

func TestRun_NoteFailureKeepsContactID(t *testing.T) {
	fake := &fakeCRM{upsertID: "7", noteErr: errors.New("note rejected")}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.Run(context.Background(), Request{Turns: annaTurns})
	assert.Equal(t, domain.SyncStatusFailed, res.Status)
	assert.Equal(t, "7", res.ContactID)
}

func TestDispatchAndWait(t *testing.T) {
	fake := &fakeCRM{block: make(chan struct{})}
	s := NewSyncer(nil, fake, nil, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	s.Dispatch(ctx, Request{Turns: annaTurns})
	cancel()

	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.Error(t, s.Wait(short), "sync should still be blocked")

	close(fake.block)
	require.NoError(t, s.Wait(context.Background()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.contacts, 1, "caller cancellation must not abort the sync")
}

func TestSubmitForm(t *testing.T) {
	fake := &fakeCRM{upsertID: "55"}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.SubmitForm(context.Background(), Form{
		Email:     "anna@example.com",
		FirstName: "Anna",
		Phone:     "0301234567",
		Context:   "Rückruf gewünscht",
	})
	require.NoError(t, res.Err)
	assert.Equal(t, domain.SyncStatusSynced, res.Status)
	assert.Equal(t, "55", res.ContactID)
	assert.Equal(t, "Rückruf gewünscht", fake.notes["55"])
	assert.Equal(t, "Anna", fake.contacts[0].FirstName)
}

func TestSubmitForm_WithoutContext(t *testing.T) {
	fake := &fakeCRM{}
	s := NewSyncer(nil, fake, nil, time.Second)

	res := s.SubmitForm(context.Background(), Form{Email: "anna@example.com"})
	assert.Equal(t, domain.SyncStatusSynced, res.Status)
	assert.Empty(t, fake.notes)
}

func TestSubmitForm_Disabled(t *testing.T) {
	s := NewSyncer(nil, &fakeCRM{disabled: true}, nil, time.Second)
	res := s.SubmitForm(context.Background(), Form{Email: "anna@example.com"})
	assert.Equal(t, domain.SyncStatusSkippedCRMDisabled, res.Status)
}
