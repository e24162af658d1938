package intake

import (
	"strings"
	"unicode/utf8"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

var (
	occupationPattern = labeledValuePattern("occupation", []string{
		"beruf", "berufliche situation", "berufsstatus", "status", "job", "tätigkeit",
		"beschäftigung", "erwerbsstatus", "occupation",
	})
	incomePattern = labeledValuePattern("income", []string{
		"nettoeinkommen", "einkommen", "netto", "nettogehalt", "gehalt", "income",
	})
)

// PersonName is a full name and its first/last split.
type PersonName struct {
	Full  string `json:"full,omitempty"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

// Empty reports whether no name was found.
func (n PersonName) Empty() bool {
	return n.Full == "" && n.First == "" && n.Last == ""
}

// SplitName splits on whitespace: the first token is the first name and the
// remainder, joined by single spaces, is the last name.
func SplitName(full string) PersonName {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return PersonName{}
	case 1:
		return PersonName{Full: parts[0], First: parts[0]}
	default:
		return PersonName{
			Full:  strings.Join(parts, " "),
			First: parts[0],
			Last:  strings.Join(parts[1:], " "),
		}
	}
}

// Contact holds the channels found in free text.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// FindContact applies the email and phone recognizers to text.
func FindContact(text string) Contact {
	return Contact{
		Email: FindEmail(text),
		Phone: FindPhone(text),
	}
}

// Mentions are supporting figures collected from the whole conversation.
type Mentions struct {
	Amounts     []string `json:"amounts,omitempty"`
	Percentages []string `json:"percentages,omitempty"`
	Dates       []string `json:"dates,omitempty"`
}

// TopicHit is a topic whose keywords occur in the conversation, with the
// fields that could be read. Fields may be empty.
type TopicHit struct {
	Key    string
	Title  string
	Fields []FieldValue
}

// FieldValue is one populated topic field.
type FieldValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entities is the flat bag of optional fields found in a conversation.
type Entities struct {
	Contact    Contact
	Name       PersonName
	PostalCode string
	City       string
	Occupation string
	Income     string
	Topics     []TopicHit
	Mentions   Mentions
}

// conversationBlob joins all turns as "role: content" lines.
func conversationBlob(turns []domain.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func extractEntities(turns []domain.Turn, topics *TopicTable) Entities {
	blob := conversationBlob(turns)
	lowered := strings.ToLower(blob)

	e := Entities{
		Contact:    FindContact(blob),
		Name:       SplitName(findName(blob, turns)),
		Occupation: occupationPattern.labeledValue(blob),
		Income:     incomePattern.labeledValue(blob),
		Mentions: Mentions{
			Amounts:     mentionPatterns.amounts.collect(blob, maxMentions),
			Percentages: mentionPatterns.percentages.collect(blob, maxMentions),
			Dates:       mentionPatterns.dates.collect(blob, maxMentions),
		},
	}

	if zip, ok := postalCodePattern.firstGroup(blob); ok {
		e.PostalCode = zip
		if city, ok := cityPattern.firstGroup(blob); ok {
			e.City = strings.TrimSpace(city)
		}
	}

	if topics != nil {
		for i := range topics.Topics {
			topic := &topics.Topics[i]
			if !topic.Matches(lowered) {
				continue
			}
			hit := TopicHit{Key: topic.Key, Title: topic.Title}
			for _, field := range topic.Fields {
				if v := field.value.labeledValue(blob); v != "" {
					hit.Fields = append(hit.Fields, FieldValue{Key: field.Key, Value: v})
				}
			}
			e.Topics = append(e.Topics, hit)
		}
	}
	return e
}

// findName prefers an explicit self-introduction anywhere in the blob and
// falls back to a bare two-word line written by the visitor, newest first.
func findName(blob string, turns []domain.Turn) string {
	for _, m := range nameIntroPattern.regex.FindAllStringSubmatch(blob, -1) {
		candidate := strings.Trim(strings.TrimSpace(m[1]), ".-' \t")
		if n := utf8.RuneCountInString(candidate); n >= minNameLength && n <= maxNameLength {
			return candidate
		}
	}

	for i := len(turns) - 1; i >= 0; i-- {
		if !turns[i].IsUser() {
			continue
		}
		for _, line := range strings.Split(turns[i].Content, "\n") {
			if !nameLinePattern.regex.MatchString(line) {
				continue
			}
			if emailPattern.regex.MatchString(line) || phonePattern.regex.MatchString(line) {
				continue
			}
			return strings.Join(strings.Fields(line), " ")
		}
	}
	return ""
}
