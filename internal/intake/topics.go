package intake

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var defaultTopicsYAML []byte

// TopicTable maps topic categories to trigger keywords and field labels.
// It is read-only once loaded and safe to share between goroutines.
type TopicTable struct {
	Version string  `yaml:"version" json:"version"`
	Topics  []Topic `yaml:"topics" json:"topics"`
}

// Topic is one financial-product category.
type Topic struct {
	Key      string       `yaml:"key" json:"key"`
	Title    string       `yaml:"title" json:"title"`
	Keywords []string     `yaml:"keywords" json:"keywords"`
	Fields   []TopicField `yaml:"fields" json:"fields"`

	keywords termSet
}

// TopicField is one optional value of a topic, found through its labels.
type TopicField struct {
	Key    string   `yaml:"key" json:"key"`
	Labels []string `yaml:"labels" json:"labels"`

	value pattern
}

var defaultTopics = sync.OnceValue(func() *TopicTable {
	table, err := ParseTopics(defaultTopicsYAML)
	if err != nil {
		panic("intake: embedded topic table is invalid: " + err.Error())
	}
	return table
})

// DefaultTopics returns the embedded topic table.
func DefaultTopics() *TopicTable {
	return defaultTopics()
}

// LoadTopics reads a topic table from a YAML file. An empty path yields the
// embedded default table.
func LoadTopics(path string) (*TopicTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTopics(), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read topic table: %w", err)
	}
	table, err := ParseTopics(data)
	if err != nil {
		return nil, fmt.Errorf("topic table %s: %w", path, err)
	}
	return table, nil
}

// ParseTopics decodes, validates and compiles a YAML topic table.
func ParseTopics(data []byte) (*TopicTable, error) {
	var table TopicTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := table.compile(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *TopicTable) compile() error {
	if len(t.Topics) == 0 {
		return fmt.Errorf("no topics defined")
	}
	seen := make(map[string]struct{}, len(t.Topics))
	for i := range t.Topics {
		topic := &t.Topics[i]
		topic.Key = strings.TrimSpace(topic.Key)
		if topic.Key == "" {
			return fmt.Errorf("topic %d: key is required", i)
		}
		if _, dup := seen[topic.Key]; dup {
			return fmt.Errorf("topic %q: duplicate key", topic.Key)
		}
		seen[topic.Key] = struct{}{}
		if topic.Title == "" {
			topic.Title = topic.Key
		}
		if len(topic.Keywords) == 0 {
			return fmt.Errorf("topic %q: at least one keyword is required", topic.Key)
		}
		topic.keywords = make(termSet, 0, len(topic.Keywords))
		for _, kw := range topic.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				topic.keywords = append(topic.keywords, kw)
			}
		}

		for j := range topic.Fields {
			field := &topic.Fields[j]
			if field.Key == "" {
				return fmt.Errorf("topic %q field %d: key is required", topic.Key, j)
			}
			if len(field.Labels) == 0 {
				return fmt.Errorf("topic %q field %q: at least one label is required", topic.Key, field.Key)
			}
			field.value = labeledValuePattern(topic.Key+"."+field.Key, field.Labels)
		}
	}
	return nil
}

// Lookup returns the topic with the given key.
func (t *TopicTable) Lookup(key string) (*Topic, bool) {
	for i := range t.Topics {
		if t.Topics[i].Key == key {
			return &t.Topics[i], true
		}
	}
	return nil, false
}

// Matches reports whether any keyword of the topic occurs in lowered text.
func (tp *Topic) Matches(lowered string) bool {
	return tp.keywords.matchIn(lowered)
}
