package flow

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/normalize"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed flows.yaml
var defaultFlows []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// document is the on-disk layout of a flows file.
type document struct {
	Flows []Definition `yaml:"flows"`
}

// Registry holds validated flow definitions.
type Registry struct {
	defs      map[string]Definition
	byCommand map[string]string
	cfg       Config
}

// Parse decodes a flows document.
func Parse(data []byte) ([]Definition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode flows: %w", err)
	}
	return doc.Flows, nil
}

// LoadFile builds a registry from a YAML file.
func LoadFile(path string, cfg Config) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows file %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs, cfg)
}

// Default builds a registry from the embedded flows.
func Default(cfg Config) (*Registry, error) {
	defs, err := Parse(defaultFlows)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs, cfg)
}

// NewRegistry validates defs and indexes them by key and command.
func NewRegistry(defs []Definition, cfg Config) (*Registry, error) {
	r := &Registry{
		defs:      make(map[string]Definition, len(defs)),
		byCommand: make(map[string]string, len(defs)),
		cfg:       cfg,
	}
	for _, d := range defs {
		if err := Validate(d); err != nil {
			return nil, err
		}
		if _, dup := r.defs[d.Key]; dup {
			return nil, fmt.Errorf("duplicate flow key %q", d.Key)
		}
		command := strings.ToLower(d.Command)
		if other, dup := r.byCommand[command]; dup {
			return nil, fmt.Errorf("command %s used by both %s and %s", d.Command, other, d.Key)
		}
		r.defs[d.Key] = d
		r.byCommand[command] = d.Key
	}
	slog.Debug("flow.NewRegistry: flows registered", "count", len(r.defs))
	return r, nil
}

// Validate checks a definition's tags and the structural rules tags cannot
// express.
func Validate(d Definition) error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("flow %q is invalid: %s", d.Key, strings.Join(fields, ", "))
		}
		return fmt.Errorf("flow %q is invalid: %w", d.Key, err)
	}
	if err := validateQuestions(d.Key, d.Questions); err != nil {
		return err
	}
	if d.HasVariants() {
		if len(d.Questions) == 0 || !d.Questions[len(d.Questions)-1].SelectsVariant {
			return fmt.Errorf("flow %q has variants but its last question does not select one", d.Key)
		}
	}
	if n := len(d.Questions); n > 0 {
		if last := d.Questions[n-1]; last.SelectsVariant && last.Skippable != nil && *last.Skippable {
			return fmt.Errorf("flow %q: variant selector %q cannot be skippable", d.Key, last.Key)
		}
	}
	for i, q := range d.Questions[:max(len(d.Questions)-1, 0)] {
		if q.SelectsVariant {
			return fmt.Errorf("flow %q: only the last question may select a variant (question %d)", d.Key, i)
		}
	}
	for name, v := range d.Variants {
		if err := validateQuestions(d.Key+"/"+name, v.Questions); err != nil {
			return err
		}
		for _, q := range v.Questions {
			if q.SelectsVariant {
				return fmt.Errorf("flow %q variant %q: variants cannot branch again", d.Key, name)
			}
		}
		title := firstNonEmpty(v.TitleFrom, d.TitleFrom)
		if !hasQuestion(v.Questions, title) && !hasQuestion(d.Questions, title) {
			return fmt.Errorf("flow %q variant %q: title_from %q is not a question", d.Key, name, title)
		}
	}
	if !d.HasVariants() && len(d.Questions) > 0 && !hasQuestion(d.Questions, d.TitleFrom) {
		return fmt.Errorf("flow %q: title_from %q is not a question", d.Key, d.TitleFrom)
	}
	return nil
}

func validateQuestions(scope string, qs []Question) error {
	seen := make(map[string]bool, len(qs))
	for _, q := range qs {
		if seen[q.Key] {
			return fmt.Errorf("flow %q: duplicate question key %q", scope, q.Key)
		}
		seen[q.Key] = true
		rule := q.NormalizeRule()
		if rule.Kind != "" && !normalize.IsKnown(rule.Kind) {
			return fmt.Errorf("flow %q question %q: unknown rule kind %q", scope, q.Key, rule.Kind)
		}
		if q.Input == InputChoice && len(q.Choices) == 0 {
			return fmt.Errorf("flow %q question %q: choice input without choices", scope, q.Key)
		}
		if q.Property != "" && !models.IsValidPropertyType(q.PropertyType) {
			return fmt.Errorf("flow %q question %q: invalid property type %q", scope, q.Key, q.PropertyType)
		}
	}
	return nil
}

func hasQuestion(qs []Question, key string) bool {
	for _, q := range qs {
		if q.Key == key {
			return true
		}
	}
	return false
}

// Resolve returns a fresh runtime for key.
func (r *Registry) Resolve(key string) (*Runtime, error) {
	d, ok := r.defs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, key)
	}
	if len(d.Questions) == 0 {
		return nil, fmt.Errorf("flow %s: %w", key, ErrFlowNotConfigured)
	}
	rt := newRuntime(d, r.cfg)
	slog.Debug("Registry.Resolve: flow resolved", "flow", key, "collection_set", rt.CollectionID != "", "folder_parent", rt.FolderParent)
	return rt, nil
}

// KeyForCommand maps a slash command to its flow key.
func (r *Registry) KeyForCommand(command string) (string, bool) {
	key, ok := r.byCommand[strings.ToLower(strings.TrimSpace(command))]
	return key, ok
}

// Commands lists registered commands in sorted order.
func (r *Registry) Commands() []string {
	out := make([]string, 0, len(r.byCommand))
	for c := range r.byCommand {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Get returns the definition for key.
func (r *Registry) Get(key string) (Definition, bool) {
	d, ok := r.defs[key]
	return d, ok
}
