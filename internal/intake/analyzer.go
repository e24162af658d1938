package intake

import (
	"fmt"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

// Analyzer runs the extraction pipeline with a fixed topic table and
// consent windows. It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	topics  *TopicTable
	consent ConsentOptions
}

// NewAnalyzer creates an analyzer. A nil table selects the embedded default.
func NewAnalyzer(topics *TopicTable, consent ConsentOptions) *Analyzer {
	if topics == nil {
		topics = DefaultTopics()
	}
	return &Analyzer{topics: topics, consent: consent.normalized()}
}

// DefaultAnalyzer uses the embedded topic table and default windows.
func DefaultAnalyzer() *Analyzer {
	return NewAnalyzer(nil, DefaultConsentOptions())
}

// Topics returns the active topic table.
func (a *Analyzer) Topics() *TopicTable {
	return a.topics
}

// IsConsentGiven reports whether the visitor agreed to data transfer in chat.
func (a *Analyzer) IsConsentGiven(turns []domain.Turn) bool {
	return isConsentGiven(turns, a.consent)
}

// ExtractEntities scans the whole conversation for lead fields.
func (a *Analyzer) ExtractEntities(turns []domain.Turn) Entities {
	return extractEntities(turns, a.topics)
}

// BuildDossier assembles the customer file for the conversation.
func (a *Analyzer) BuildDossier(turns []domain.Turn) *Dossier {
	return buildDossier(turns, a.topics)
}

// Analysis is the outcome of one pipeline run.
type Analysis struct {
	ConsentChat bool     `json:"consent_chat"`
	Dossier     *Dossier `json:"dossier"`
}

// Analyze runs consent classification and dossier assembly together.
// Internal faults are returned as an error and never escape as a panic.
func (a *Analyzer) Analyze(turns []domain.Turn) (res Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Analysis{}
			err = fmt.Errorf("intake: analysis panicked: %v", r)
		}
	}()
	return Analysis{
		ConsentChat: a.IsConsentGiven(turns),
		Dossier:     a.BuildDossier(turns),
	}, nil
}

// IsConsentGiven classifies consent with the default windows.
func IsConsentGiven(turns []domain.Turn) bool {
	return isConsentGiven(turns, DefaultConsentOptions())
}

// ExtractEntities extracts lead fields using the embedded topic table.
func ExtractEntities(turns []domain.Turn) Entities {
	return extractEntities(turns, DefaultTopics())
}

// BuildDossier assembles a dossier using the embedded topic table.
func BuildDossier(turns []domain.Turn) *Dossier {
	return buildDossier(turns, DefaultTopics())
}
