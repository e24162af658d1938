package intake

import "github.com/cashbackfinance/advisor-chat/internal/domain"

// IntakeForm holds the baseline fields sought in every conversation.
type IntakeForm struct {
	Name       string `json:"name,omitempty"`
	FirstName  string `json:"firstname,omitempty"`
	LastName   string `json:"lastname,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	PostalCode string `json:"plz,omitempty"`
	City       string `json:"ort,omitempty"`
	Occupation string `json:"beruf_status,omitempty"`
	Income     string `json:"einkommen,omitempty"`
}

// TopicRecord is a detected topic with at least one populated field.
type TopicRecord struct {
	Key    string       `json:"key"`
	Title  string       `json:"title"`
	Fields []FieldValue `json:"fields"`
}

// Value returns the value of the named field.
func (r TopicRecord) Value(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Dossier is the customer file assembled from one conversation snapshot.
type Dossier struct {
	Intake IntakeForm    `json:"startformular"`
	Topics []TopicRecord `json:"themen,omitempty"`
	// DetectedTopics lists every topic whose keywords occurred, including
	// topics without a record.
	DetectedTopics []string `json:"erkannte_themen,omitempty"`
	Mentions       Mentions `json:"weitere_angaben"`
}

// Topic returns the record for key, if present.
func (d *Dossier) Topic(key string) (TopicRecord, bool) {
	for _, r := range d.Topics {
		if r.Key == key {
			return r, true
		}
	}
	return TopicRecord{}, false
}

// HasContact reports whether an email or phone is known.
func (d *Dossier) HasContact() bool {
	return d.Intake.Email != "" || d.Intake.Phone != ""
}

func assembleDossier(e Entities) *Dossier {
	d := &Dossier{
		Intake: IntakeForm{
			Name:       e.Name.Full,
			FirstName:  e.Name.First,
			LastName:   e.Name.Last,
			Email:      e.Contact.Email,
			Phone:      e.Contact.Phone,
			PostalCode: e.PostalCode,
			City:       e.City,
			Occupation: e.Occupation,
			Income:     e.Income,
		},
		Mentions: e.Mentions,
	}
	for _, hit := range e.Topics {
		d.DetectedTopics = append(d.DetectedTopics, hit.Key)
		if len(hit.Fields) == 0 {
			continue
		}
		d.Topics = append(d.Topics, TopicRecord{
			Key:    hit.Key,
			Title:  hit.Title,
			Fields: append([]FieldValue(nil), hit.Fields...),
		})
	}
	return d
}

func buildDossier(turns []domain.Turn, topics *TopicTable) *Dossier {
	return assembleDossier(extractEntities(turns, topics))
}
