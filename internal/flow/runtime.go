package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Resolution and activation errors.
var (
	ErrUnknownFlow             = errors.New("unknown flow")
	ErrFlowNotConfigured       = errors.New("flow has no questions")
	ErrCollectionNotConfigured = errors.New("no target collection configured")
	ErrUnknownVariant          = errors.New("no variant matches the selected value")
	ErrVariantNotConfigured    = errors.New("selected variant has no target collection configured")
	ErrVariantAlreadyActive    = errors.New("a variant is already active")
)

// State tells a base runtime apart from an activated variant.
type State int

const (
	// StateBase is a runtime resolved directly from a Definition.
	StateBase State = iota
	// StateVariant is a runtime produced by Activate.
	StateVariant
)

// Config carries the global defaults used when resolving definitions.
type Config struct {
	// Lookup reads environment overrides. Defaults to os.LookupEnv.
	Lookup                func(string) (string, bool)
	DefaultCollectionID   string
	DefaultFolderParent   string
	DefaultPlaceholderURL string
}

func (c Config) lookup(name string) string {
	if name == "" {
		return ""
	}
	fn := c.Lookup
	if fn == nil {
		fn = os.LookupEnv
	}
	v, _ := fn(name)
	return strings.TrimSpace(v)
}

// resolve applies the documented precedence: environment override, then the
// definition's default, then the global fallback.
func (c Config) resolve(src Source, global string) string {
	if v := c.lookup(src.Env); v != "" {
		return v
	}
	if v := strings.TrimSpace(src.Default); v != "" {
		return v
	}
	return strings.TrimSpace(global)
}

// Runtime is a resolved, session-private flow.
type Runtime struct {
	Key            string
	Command        string
	Labels         Labels
	ChannelPrefix  string
	TitlePrefix    string
	CollectionID   string
	FolderParent   string
	PlaceholderURL string
	TitleFrom      string
	TitleProperty  string
	FolderProperty string
	Questions      []Question
	Constraints    []Constraint
	// Inherited holds the base questions answered before a variant took over.
	Inherited      []Question

	State    State
	Parent   string // base flow key, set for variants
	Selector string // variant key, set for variants

	variants map[string]Variant
	cfg      Config
}

// Len is the number of questions.
func (r *Runtime) Len() int {
	return len(r.Questions)
}

// Question returns the i-th question.
func (r *Runtime) Question(i int) (Question, bool) {
	if i < 0 || i >= len(r.Questions) {
		return Question{}, false
	}
	return r.Questions[i], true
}

// AllQuestions returns inherited and active questions in the order asked.
func (r *Runtime) AllQuestions() []Question {
	out := make([]Question, 0, len(r.Inherited)+len(r.Questions))
	out = append(out, r.Inherited...)
	return append(out, r.Questions...)
}

// HasVariants reports whether a selector answer will replace this runtime.
func (r *Runtime) HasVariants() bool {
	return r.State == StateBase && len(r.variants) > 0
}

// RequireCollection reports a missing collection. Branching flows resolve
// their collection on activation, so the check is deferred for them.
func (r *Runtime) RequireCollection() error {
	if r.CollectionID != "" || r.HasVariants() {
		return nil
	}
	return fmt.Errorf("flow %s: %w", r.Key, ErrCollectionNotConfigured)
}

func newRuntime(d Definition, cfg Config) *Runtime {
	return &Runtime{
		Key:            d.Key,
		Command:        d.Command,
		Labels:         d.Labels,
		ChannelPrefix:  d.ChannelPrefix,
		TitlePrefix:    d.TitlePrefix,
		CollectionID:   cfg.resolve(d.Collection, cfg.DefaultCollectionID),
		FolderParent:   cfg.resolve(d.FolderParent, cfg.DefaultFolderParent),
		PlaceholderURL: firstNonEmpty(d.PlaceholderURL, cfg.DefaultPlaceholderURL),
		TitleFrom:      d.TitleFrom,
		TitleProperty:  d.TitleProperty,
		FolderProperty: d.FolderProperty,
		Questions:      copyQuestions(d.Questions),
		Constraints:    append([]Constraint(nil), d.Constraints...),
		State:          StateBase,
		variants:       d.Variants,
		cfg:            cfg,
	}
}

// Activate returns the runtime for the variant named by selector. base is
// left untouched. ErrUnknownVariant means the requester should be asked
// again; ErrVariantNotConfigured means the session cannot continue.
func Activate(base *Runtime, selector string) (*Runtime, error) {
	if base.State != StateBase {
		return nil, ErrVariantAlreadyActive
	}
	key, ok := variantKey(base.variants, selector)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, selector)
	}
	v := base.variants[key]

	next := &Runtime{
		Key:            base.Key,
		Command:        base.Command,
		Labels:         base.Labels.merge(v.Labels),
		ChannelPrefix:  firstNonEmpty(v.ChannelPrefix, base.ChannelPrefix),
		TitlePrefix:    firstNonEmpty(v.TitlePrefix, base.TitlePrefix),
		CollectionID:   base.cfg.resolve(v.Collection, base.CollectionID),
		FolderParent:   base.cfg.resolve(v.FolderParent, base.FolderParent),
		PlaceholderURL: base.PlaceholderURL,
		TitleFrom:      firstNonEmpty(v.TitleFrom, base.TitleFrom),
		TitleProperty:  base.TitleProperty,
		FolderProperty: base.FolderProperty,
		Questions:      copyQuestions(v.Questions),
		Constraints:    append(append([]Constraint(nil), base.Constraints...), v.Constraints...),
		Inherited:      copyQuestions(base.Questions),
		State:          StateVariant,
		Parent:         base.Key,
		Selector:       key,
		cfg:            base.cfg,
	}
	if next.CollectionID == "" {
		slog.Warn("flow.Activate: variant has no collection", "flow", base.Key, "variant", key)
		return nil, fmt.Errorf("flow %s variant %s: %w", base.Key, key, ErrVariantNotConfigured)
	}
	slog.Debug("flow.Activate: variant activated", "flow", base.Key, "variant", key, "questions", len(next.Questions))
	return next, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
