package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

func TestBuildDossier_IntakeForm(t *testing.T) {
	turns := []domain.Turn{
		user("Ich heiße Anna Schmidt, Email anna@example.com, PLZ 10115 Berlin"),
		user("Ja, bitte übermitteln"),
	}

	d := BuildDossier(turns)

	assert.Equal(t, IntakeForm{
		Name:       "Anna Schmidt",
		FirstName:  "Anna",
		LastName:   "Schmidt",
		Email:      "anna@example.com",
		PostalCode: "10115",
		City:       "Berlin",
	}, d.Intake)
	assert.True(t, d.HasContact())
	assert.Empty(t, d.Topics)
	assert.Empty(t, d.DetectedTopics)
}

func TestBuildDossier_OmitsTopicWithoutKeyword(t *testing.T) {
	turns := []domain.Turn{
		user("Kaufpreis: 450.000 €"),
	}

	d := BuildDossier(turns)

	// A field label alone does not trigger its topic.
	_, ok := d.Topic("baufinanzierung")
	assert.False(t, ok)
	assert.Empty(t, d.DetectedTopics)
}

func TestBuildDossier_OmitsTopicWithoutFields(t *testing.T) {
	turns := []domain.Turn{
		user("Ich interessiere mich für einen Kredit."),
	}

	d := BuildDossier(turns)

	assert.Empty(t, d.Topics)
	assert.Equal(t, []string{"kredit"}, d.DetectedTopics)
}

func TestBuildDossier_TopicRecord(t *testing.T) {
	turns := []domain.Turn{
		user("Wir planen eine Baufinanzierung.\nKaufpreis: 450.000 €\nEigenkapital: 90.000 €\nZinsbindung: 15 Jahre"),
	}

	d := BuildDossier(turns)

	rec, ok := d.Topic("baufinanzierung")
	require.True(t, ok)
	assert.Equal(t, "Baufinanzierung", rec.Title)

	v, ok := rec.Value("kaufpreis")
	assert.True(t, ok)
	assert.Equal(t, "450.000 €", v)

	v, _ = rec.Value("eigenkapital")
	assert.Equal(t, "90.000 €", v)

	v, _ = rec.Value("sollzinsbindung")
	assert.Equal(t, "15 Jahre", v)

	_, ok = rec.Value("restschuld")
	assert.False(t, ok)

	assert.Equal(t, []string{"450.000 €", "90.000 €"}, d.Mentions.Amounts)
}

func TestBuildDossier_NoContact(t *testing.T) {
	d := BuildDossier([]domain.Turn{user("Hallo")})
	assert.False(t, d.HasContact())
}
