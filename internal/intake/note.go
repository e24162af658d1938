package intake

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

const (
	noteHeader      = "Kundenakte – Kurzprotokoll (Cashback Finance KI)"
	noteFooter      = "Hinweis: Datenerfassung via Website-Chat, Übermittlung nach Zustimmung im Chat."
	notePlaceholder = "-"

	excerptTurns     = 10
	excerptRuneLimit = 500
	ellipsis         = "..."
)

// RenderNote serializes a dossier and the tail of the conversation into the
// fixed-layout plain text stored as a CRM note body.
func RenderNote(d *Dossier, turns []domain.Turn) string {
	if d == nil {
		d = &Dossier{}
	}
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	field := func(label, value string) {
		line(label + ": " + orPlaceholder(value))
	}

	line(noteHeader)
	line("")

	in := d.Intake
	line("Startformular")
	field("Name", in.Name)
	field("Vorname", in.FirstName)
	field("Nachname", in.LastName)
	field("E-Mail", in.Email)
	field("Telefon", in.Phone)
	line("PLZ/Ort: " + orPlaceholder(in.PostalCode) + "/" + orPlaceholder(in.City))
	field("Beruf/Status", in.Occupation)
	field("Einkommen (ca.)", in.Income)

	for _, topic := range d.Topics {
		line("")
		line("Thema: " + topic.Title)
		for _, f := range topic.Fields {
			field(humanizeKey(f.Key), f.Value)
		}
	}

	line("")
	line("Weitere Angaben")
	field("Erkannte Themen", strings.Join(d.DetectedTopics, ", "))
	field("Beträge", strings.Join(d.Mentions.Amounts, ", "))
	field("Prozentwerte", strings.Join(d.Mentions.Percentages, ", "))
	field("Datumsangaben", strings.Join(d.Mentions.Dates, ", "))

	line("")
	last, _ := domain.LastUserTurn(turns)
	field("Letzte Nutzerfrage/Intent", truncateRunes(flatten(last.Content), excerptRuneLimit))

	line("")
	line("Gesprächsauszug")
	excerpt := conversationalTail(turns, excerptTurns)
	if len(excerpt) == 0 {
		line(notePlaceholder)
	}
	for _, t := range excerpt {
		line(speakerLabel(t.Role) + ": " + orPlaceholder(truncateRunes(flatten(t.Content), excerptRuneLimit)))
	}

	line("")
	b.WriteString(noteFooter)
	return b.String()
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return notePlaceholder
	}
	return s
}

// humanizeKey turns "monatliche_sparrate" into "Monatliche Sparrate".
// A Caser is not safe for concurrent use, so one is made per call.
func humanizeKey(key string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(key))
	return cases.Title(language.German).String(strings.Join(words, " "))
}

// truncateRunes cuts s to limit runes, ending in an ellipsis when shortened.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - utf8.RuneCountInString(ellipsis)
	runes := []rune(s)
	return string(runes[:keep]) + ellipsis
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func conversationalTail(turns []domain.Turn, n int) []domain.Turn {
	var out []domain.Turn
	for i := len(turns) - 1; i >= 0 && len(out) < n; i-- {
		if turns[i].IsUser() || turns[i].IsAssistant() {
			out = append(out, turns[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func speakerLabel(role domain.Role) string {
	if role == domain.RoleUser {
		return "Nutzer"
	}
	return "KI"
}
