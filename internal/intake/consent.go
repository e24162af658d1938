package intake

import (
	"strings"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

const (
	// DefaultConsentUserWindow is how many recent user turns are scanned for
	// direct consent statements.
	DefaultConsentUserWindow = 20
	// DefaultConsentAdjacencyWindow is how many trailing turns are scanned
	// for an assistant question answered by the user.
	DefaultConsentAdjacencyWindow = 6
)

// Vocabularies are German first; the English entries cover visitors who
// switch language mid-chat.
var (
	explicitConsentTerms = termSet{
		"ich stimme zu", "stimme zu", "stimme ich zu", "ich willige ein", "willige ein",
		"einverstanden", "meine zustimmung", "zustimmung erteilt", "ich erteile die zustimmung",
		"du darfst übermitteln", "du darfst meine daten", "ihr dürft mich kontaktieren",
		"ihr dürft mich anrufen", "sie dürfen mich kontaktieren", "kontaktiert mich",
		"kontaktieren sie mich", "meldet euch bei mir", "ruft mich an",
		"i consent", "i agree", "you may contact me", "you can contact me", "feel free to contact me",
	}

	denialTerms = termSet{
		"nein", "nö", "nee", "no", "nope", "none", "kein*",
		"nicht übermitteln", "nicht weiterleiten", "nicht weitergeben", "nicht senden",
		"nicht schicken", "keine übermittlung", "keine weitergabe", "nicht einverstanden",
		"stopp", "stop", "abbrechen", "cancel", "widerruf*",
		"do not transmit", "don't transmit", "do not send", "don't send", "do not share", "don't share",
	}

	// negationTerms turn an action verb in the same turn into a refusal
	// ("bitte nichts speichern", "please don't forward").
	negationTerms = termSet{
		"nicht", "nichts", "niemals", "not", "don't", "dont", "do not", "never",
	}

	actionTerms = termSet{
		"übermitt*", "weiterleit*", "leite das", "leite es", "leite sie", "weitergeb*",
		"send*", "absend*", "schick*", "erfass*", "aufnehm*", "nimm das auf", "speicher*",
		"eintragen", "transmit*", "forward*", "share", "sharing", "record*", "captur*", "submit*",
	}

	affirmationTerms = termSet{
		"ja", "jo", "jep", "jawohl", "ok", "okay", "oki", "gern", "gerne", "klar", "passt",
		"bitte", "los", "go", "genau", "mach das", "mach es", "mach ruhig", "in ordnung",
		"alles klar", "einverstanden", "yes", "yep", "yeah", "sure", "fine", "agreed", "please",
	}

	intentTerms = termSet{
		"an die firma senden", "an cashback finance senden", "an cashback finance übermitteln",
		"an euch senden", "an euch übermitteln", "bitte weiterleiten", "bitte übermitteln",
		"bitte weitergeben", "leite das weiter", "leite es weiter", "leite meine daten weiter",
		"schick das an", "offenlegungspaket starten", "starte das offenlegungspaket",
		"send it to the company", "please forward", "please send it", "start the disclosure bundle",
		"go ahead and send",
	}

	transmissionCueTerms = termSet{
		"übermitt*", "weiterleit*", "weitergeb*", "*datenübermittlung*", "zustimmung",
		"einverständnis", "einverstanden", "an cashback finance", "offenlegungspaket",
		"transmit*", "forward*", "share your", "pass on", "send your",
	}
)

// ConsentOptions sizes the scanning windows of the classifier.
type ConsentOptions struct {
	UserWindow      int
	AdjacencyWindow int
}

// DefaultConsentOptions returns the standard windows.
func DefaultConsentOptions() ConsentOptions {
	return ConsentOptions{
		UserWindow:      DefaultConsentUserWindow,
		AdjacencyWindow: DefaultConsentAdjacencyWindow,
	}
}

func (o ConsentOptions) normalized() ConsentOptions {
	if o.UserWindow <= 0 {
		o.UserWindow = DefaultConsentUserWindow
	}
	if o.AdjacencyWindow < 2 {
		o.AdjacencyWindow = DefaultConsentAdjacencyWindow
	}
	return o
}

// isConsentGiven decides whether the visitor agreed to have their data
// forwarded. Rules are evaluated in order:
//
//  1. explicit consent phrase in the recent user turns
//  2. one user turn with both an action verb and an affirmation
//  3. one user turn with an intent phrase
//  4. an assistant turn asking about transmission, answered with an
//     affirmation by the very next user turn
//
// A refusal anywhere in the recent user turns disables rules 1-3. A refusal
// is a denial term, or a negator in the same turn as an action verb or
// intent phrase. Rules 2 and 3 also ignore any turn containing a negator.
// Rule 4 only
// looks for a denial in the answering turn itself, so an old "nein" does not
// block a later confirmed question.
func isConsentGiven(turns []domain.Turn, opts ConsentOptions) bool {
	opts = opts.normalized()
	userTexts := recentUserTexts(turns, opts.UserWindow)

	denied := false
	for _, t := range userTexts {
		if refuses(t) {
			denied = true
			break
		}
	}

	if !denied {
		for _, t := range userTexts {
			if explicitConsentTerms.matchIn(t) {
				return true
			}
		}
		for _, t := range userTexts {
			if actionTerms.matchIn(t) && affirmationTerms.matchIn(t) && !negationTerms.matchIn(t) {
				return true
			}
		}
		for _, t := range userTexts {
			if intentTerms.matchIn(t) && !negationTerms.matchIn(t) {
				return true
			}
		}
	}

	return answeredTransmissionQuestion(turns, opts.AdjacencyWindow)
}

// refuses reports whether a lowercased user turn withholds consent.
func refuses(text string) bool {
	if denialTerms.matchIn(text) {
		return true
	}
	return negationTerms.matchIn(text) && (actionTerms.matchIn(text) || intentTerms.matchIn(text))
}

func answeredTransmissionQuestion(turns []domain.Turn, window int) bool {
	start := len(turns) - window
	if start < 0 {
		start = 0
	}
	tail := turns[start:]
	for i := 0; i+1 < len(tail); i++ {
		if !tail[i].IsAssistant() || !tail[i+1].IsUser() {
			continue
		}
		question := strings.ToLower(tail[i].Content)
		if !transmissionCueTerms.matchIn(question) {
			continue
		}
		answer := strings.ToLower(tail[i+1].Content)
		if affirmationTerms.matchIn(answer) && !denialTerms.matchIn(answer) {
			return true
		}
	}
	return false
}

// recentUserTexts returns the lowercased content of the last n user turns,
// oldest first.
func recentUserTexts(turns []domain.Turn, n int) []string {
	var out []string
	for i := len(turns) - 1; i >= 0 && len(out) < n; i-- {
		if turns[i].IsUser() {
			out = append(out, strings.ToLower(turns[i].Content))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
