// Package flow implements the tournament setup wizard: the question registry, per-user
// sessions, option generators, conditional rules and the conductor that drives a
// session from the first question to the exported summary.
package flow

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultQuestions []byte

// Registry is the immutable, ordered list of questions.
type Registry struct {
	questions []models.QuestionSpec
	index     map[string]int
}

type registryFile struct {
	Questions []yamlQuestion `yaml:"questions"`
}

type yamlQuestion struct {
	Key         string       `yaml:"key"`
	Kind        string       `yaml:"kind"`
	Prompt      string       `yaml:"prompt"`
	Options     []yamlOption `yaml:"options"`
	Source      string       `yaml:"source"`
	MinDateFrom string       `yaml:"min_date_from"`
	Skip        bool         `yaml:"skip"`
	Group       string       `yaml:"group"`
}

// yamlOption accepts either a bare string (label and value) or a {label, value} mapping.
type yamlOption models.Option

func (o *yamlOption) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		o.Label = value.Value
		o.Value = value.Value
		return nil
	}
	var full models.Option
	if err := value.Decode(&full); err != nil {
		return err
	}
	if full.Value == "" {
		full.Value = full.Label
	}
	if full.Label == "" {
		full.Label = full.Value
	}
	*o = yamlOption(full)
	return nil
}

// DefaultRegistry returns the built-in tournament questionnaire.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultQuestions)
}

// LoadRegistry reads a questionnaire from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question file %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML questionnaire.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}

	specs := make([]models.QuestionSpec, 0, len(file.Questions))
	for _, q := range file.Questions {
		spec := models.QuestionSpec{
			Key:              q.Key,
			Kind:             models.QuestionKind(q.Kind),
			Prompt:           q.Prompt,
			Source:           q.Source,
			MinDateFrom:      q.MinDateFrom,
			InitiallySkipped: q.Skip,
			Group:            q.Group,
		}
		for _, o := range q.Options {
			spec.Options = append(spec.Options, models.Option(o))
		}
		specs = append(specs, spec)
	}
	return NewRegistry(specs)
}

// NewRegistry validates specs and builds a Registry.
func NewRegistry(specs []models.QuestionSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("question registry is empty")
	}
	r := &Registry{
		questions: make([]models.QuestionSpec, len(specs)),
		index:     make(map[string]int, len(specs)),
	}
	copy(r.questions, specs)

	for i, q := range r.questions {
		if q.Key == "" {
			return nil, fmt.Errorf("question %d has no key", i+1)
		}
		if _, dup := r.index[q.Key]; dup {
			return nil, fmt.Errorf("question %q: duplicate key", q.Key)
		}
		if err := validateQuestion(q); err != nil {
			return nil, fmt.Errorf("question %q: %w", q.Key, err)
		}
		if q.MinDateFrom != "" {
			bound, ok := r.index[q.MinDateFrom]
			if !ok {
				return nil, fmt.Errorf("question %q: min_date_from %q must name an earlier question", q.Key, q.MinDateFrom)
			}
			if r.questions[bound].Kind != models.KindDate {
				return nil, fmt.Errorf("question %q: min_date_from %q is not a date question", q.Key, q.MinDateFrom)
			}
		}
		r.index[q.Key] = i
	}
	return r, nil
}

func validateQuestion(q models.QuestionSpec) error {
	if !q.Kind.IsValid() {
		return fmt.Errorf("unknown kind %q", q.Kind)
	}
	if q.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if !q.Kind.IsChoice() {
		if len(q.Options) > 0 || q.Source != "" {
			return fmt.Errorf("%s questions take no options", q.Kind)
		}
		return nil
	}
	if q.Source != "" {
		if _, ok := generators[q.Source]; !ok {
			return fmt.Errorf("unknown option source %q", q.Source)
		}
		if len(q.Options) > 0 {
			return fmt.Errorf("options and source are mutually exclusive")
		}
	} else if len(q.Options) == 0 {
		return fmt.Errorf("%s questions need options or a source", q.Kind)
	}
	if q.Kind == models.KindDate && q.Source != "" && q.Source != SourceDates {
		return fmt.Errorf("date questions must use the %q source", SourceDates)
	}
	if q.Kind == models.KindButtons && len(q.Options) > models.MaxButtons {
		return fmt.Errorf("buttons questions allow at most %d options", models.MaxButtons)
	}
	if len(q.Options) > models.MaxSelectOptions {
		return fmt.Errorf("at most %d options allowed", models.MaxSelectOptions)
	}
	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if o.Value == "" || o.Label == "" {
			return fmt.Errorf("options need a label and a value")
		}
		if len(o.Label) > models.MaxOptionLabelLength {
			return fmt.Errorf("option label %q is too long", o.Label)
		}
		if seen[o.Value] {
			return fmt.Errorf("duplicate option value %q", o.Value)
		}
		seen[o.Value] = true
	}
	return nil
}

// Len returns the number of questions.
func (r *Registry) Len() int { return len(r.questions) }

// At returns the question at index i.
func (r *Registry) At(i int) models.QuestionSpec { return r.questions[i] }

// Index returns the position of key, or -1.
func (r *Registry) Index(key string) int {
	if i, ok := r.index[key]; ok {
		return i
	}
	return -1
}

// Lookup returns the question with the given key.
func (r *Registry) Lookup(key string) (models.QuestionSpec, bool) {
	i, ok := r.index[key]
	if !ok {
		return models.QuestionSpec{}, false
	}
	return r.questions[i], true
}

// Keys returns all keys in registry order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.questions))
	for i, q := range r.questions {
		keys[i] = q.Key
	}
	return keys
}

// Group returns the keys of all questions in a group, in registry order.
func (r *Registry) Group(name string) []string {
	var keys []string
	for _, q := range r.questions {
		if q.Group == name {
			keys = append(keys, q.Key)
		}
	}
	return keys
}

// Require checks that every key exists.
func (r *Registry) Require(keys ...string) error {
	for _, k := range keys {
		if _, ok := r.index[k]; !ok {
			return fmt.Errorf("%w: %s", models.ErrUnknownQuestion, k)
		}
	}
	return nil
}
