// Package intake turns a raw advisory chat into lead data: which contact
// details are present, whether the visitor agreed to have them forwarded,
// and a customer file plus note text for the CRM.
//
// Everything here is deterministic and pattern driven. Recall is favored over
// precision because every note is reviewed by an advisor before use. Nothing
// in this package performs I/O or keeps state between calls.
package intake

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPhoneDigits = 7
	maxMentions    = 10
	minNameLength  = 2
	maxNameLength  = 80
)

// pattern is a named recognizer in the pattern library.
type pattern struct {
	name  string
	regex *regexp.Regexp
}

var (
	emailPattern = pattern{
		name:  "email",
		regex: regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`),
	}

	// Deliberately loose: five or more digit groups, optional country code.
	// Candidates are filtered by digit count afterwards.
	phonePattern = pattern{
		name:  "phone",
		regex: regexp.MustCompile(`(?:\+?\d{1,3}[\s\-/]?)?(?:\(?\d+\)?[\s\-/]?){5,}`),
	}

	postalCodePattern = pattern{
		name:  "postal_code",
		regex: regexp.MustCompile(`\b(\d{5})\b`),
	}

	// Only works when the city directly follows the postal code on one line.
	cityPattern = pattern{
		name:  "city",
		regex: regexp.MustCompile(`\b\d{5}[ \t]+([\p{L}.\-]{2,})`),
	}

	nameIntroPattern = pattern{
		name: "name_intro",
		regex: regexp.MustCompile(`(?i)(?:^|[^\p{L}])` +
			`(?:mein name ist|my name is|name is|ich hei(?:ß|ss|s)e|man nennt mich|nenn mich|i'?m called|i am called|call me|name[ \t]*[:\-])` +
			`[ \t]*[:\-]?[ \t]*([\p{L}][\p{L}.'\- \t]*)`),
	}

	nameLinePattern = pattern{
		name:  "name_line",
		regex: regexp.MustCompile(`^[ \t]*([\p{L}][\p{L}'\-]*)[ \t]+([\p{L}][\p{L}'\-]*)[ \t]*$`),
	}
)

const amountNumber = `(?:\d{1,3}(?:[. ]\d{3})+|\d+)(?:,\d{1,2})?`

// mentionPatterns collect supporting figures that are not structured fields.
var mentionPatterns = struct {
	amounts     pattern
	percentages pattern
	dates       pattern
}{
	amounts: pattern{
		name: "amount",
		regex: regexp.MustCompile(`(?i)(?:€[ ]?` + amountNumber +
			`|\b` + amountNumber + `[ ]?(?:tsd\.?[ ]?|k[ ]?|mio\.?[ ]?)?(?:€|(?:eur|euro)\b))`),
	},
	percentages: pattern{
		name:  "percentage",
		regex: regexp.MustCompile(`(?i)\b\d{1,3}(?:[.,]\d{1,3})?[ ]?(?:%|prozent\b)`),
	},
	dates: pattern{
		name: "date",
		regex: regexp.MustCompile(`(?i)\b(?:\d{1,2}\.\d{1,2}\.(?:\d{4}|\d{2})\b` +
			`|\d{4}-\d{2}-\d{2}\b` +
			`|(?:\d{1,2}\.[ ]?)?(?:januar|februar|märz|april|mai|juni|juli|august|september|oktober|november|dezember)[ ]\d{4})`),
	},
}

// firstMatch returns the first match of p in text.
func (p pattern) firstMatch(text string) (string, bool) {
	m := p.regex.FindString(text)
	return m, m != ""
}

// lastMatch returns the last match of p in text.
func (p pattern) lastMatch(text string) (string, bool) {
	all := p.regex.FindAllString(text, -1)
	if len(all) == 0 {
		return "", false
	}
	return all[len(all)-1], true
}

// firstGroup returns capture group 1 of the first match.
func (p pattern) firstGroup(text string) (string, bool) {
	m := p.regex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// collect returns up to limit distinct matches in order of appearance.
func (p pattern) collect(text string, limit int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range p.regex.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

// NormalizePhone keeps digits and '+' only.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneDigits keeps digits only.
func PhoneDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FindEmail returns the last email address in text.
func FindEmail(text string) string {
	m, _ := emailPattern.lastMatch(text)
	return strings.TrimSpace(m)
}

// FindPhone returns the first phone-like candidate with enough digits,
// normalized to digits and '+'.
func FindPhone(text string) string {
	for _, candidate := range phonePattern.regex.FindAllString(text, -1) {
		normalized := NormalizePhone(candidate)
		if len(PhoneDigits(normalized)) >= minPhoneDigits {
			return normalized
		}
	}
	return ""
}

// labeledValuePattern builds the generic "label[:|-] value until end of line"
// recognizer for a set of label synonyms.
func labeledValuePattern(name string, labels []string) pattern {
	sorted := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			sorted = append(sorted, l)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) > utf8.RuneCountInString(sorted[j])
	})

	alts := make([]string, len(sorted))
	for i, l := range sorted {
		words := strings.Fields(l)
		for k, w := range words {
			words[k] = regexp.QuoteMeta(w)
		}
		alts[i] = strings.Join(words, `[ \t]+`)
	}

	expr := `(?im)(?:^|[^\p{L}\p{N}])(?:` + strings.Join(alts, "|") + `)` +
		`(?:[ \t]*[:=\-–][ \t]*|[ \t]+)([\p{L}\p{N}€$~].*)$`
	return pattern{name: name, regex: regexp.MustCompile(expr)}
}

// labeledValue returns the trimmed value of the first labeled match.
func (p pattern) labeledValue(text string) string {
	v, ok := p.firstGroup(text)
	if !ok {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(v), " \t.,;")
}

// termSet is a vocabulary of lowercase words and phrases matched on unicode
// word boundaries. A leading or trailing '*' drops the boundary on that side,
// so "übermitt*" matches "übermitteln" and "*kredit*" matches "Ratenkredite".
type termSet []string

// matchIn reports whether any term occurs in text. text must be lowercase.
func (ts termSet) matchIn(text string) bool {
	for _, term := range ts {
		if containsTerm(text, term) {
			return true
		}
	}
	return false
}

func containsTerm(text, term string) bool {
	openLeft := strings.HasPrefix(term, "*")
	openRight := strings.HasSuffix(term, "*")
	term = strings.Trim(term, "*")
	if term == "" {
		return false
	}

	for start := 0; start <= len(text)-len(term); {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(term)
		if (openLeft || boundaryBefore(text, i)) && (openRight || boundaryAfter(text, end)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
