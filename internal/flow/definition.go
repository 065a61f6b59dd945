// Package flow describes intake questionnaires as data.
//
// A Definition is a static template loaded from YAML. Resolving it yields a
// Runtime: a private copy of the questions plus configuration resolved from
// the environment. Variants are alternate question sets selected by an early
// answer; activating one produces a new Runtime and never mutates the base.
package flow

import (
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/normalize"
)

// InputKind is how a question is answered.
type InputKind string

const (
	InputText   InputKind = "text"
	InputChoice InputKind = "choice"
)

// Labels are the human-readable headings of a flow.
type Labels struct {
	Intro   string `yaml:"intro" validate:"required"`
	Details string `yaml:"details"`
	Summary string `yaml:"summary" validate:"required"`
}

// merge returns l with every non-empty field of o applied over it.
func (l Labels) merge(o Labels) Labels {
	if o.Intro != "" {
		l.Intro = o.Intro
	}
	if o.Details != "" {
		l.Details = o.Details
	}
	if o.Summary != "" {
		l.Summary = o.Summary
	}
	return l
}

// Source is a configurable value: the environment variable named by Env
// wins over Default.
type Source struct {
	Env     string `yaml:"env,omitempty"`
	Default string `yaml:"default,omitempty"`
}

// Question is one step of a flow.
type Question struct {
	Key            string              `yaml:"key" validate:"required"`
	Label          string              `yaml:"label" validate:"required"`
	Prompt         string              `yaml:"prompt" validate:"required"`
	Input          InputKind           `yaml:"input,omitempty" validate:"omitempty,oneof=text choice"`
	Choices        []string            `yaml:"choices,omitempty"`
	Rule           normalize.Rule      `yaml:"rule,omitempty"`
	Skippable      *bool               `yaml:"skippable,omitempty"`
	SelectsVariant bool                `yaml:"selects_variant,omitempty"`
	Property       string              `yaml:"property,omitempty"`
	PropertyType   models.PropertyType `yaml:"property_type,omitempty"`
}

// IsSkippable reports whether the skip keyword is accepted. Questions are
// skippable unless explicitly disallowed; a variant selector never is.
func (q Question) IsSkippable() bool {
	if q.SelectsVariant {
		return false
	}
	return q.Skippable == nil || *q.Skippable
}

// NormalizeRule returns the rule answers are checked against. Choice
// questions validate against their own choices unless the rule lists others.
func (q Question) NormalizeRule() normalize.Rule {
	r := q.Rule
	if r.Kind == "" && q.Input == InputChoice {
		r.Kind = normalize.KindChoice
	}
	if r.Kind == normalize.KindChoice && len(r.Choices) == 0 {
		r.Choices = q.Choices
	}
	return r
}

// IsPerson reports whether the answer names people from the directory.
func (q Question) IsPerson() bool {
	k := q.NormalizeRule().Kind
	return k == normalize.KindPerson || k == normalize.KindPeople
}

// Buttons returns the interactive choices offered with the prompt.
func (q Question) Buttons() []models.Choice {
	if q.Input != InputChoice {
		return nil
	}
	out := make([]models.Choice, 0, len(q.Choices))
	for _, c := range q.Choices {
		out = append(out, models.Choice{Label: c, Value: c})
	}
	return out
}

// ConstraintKind names a cross-field check run before finalization.
type ConstraintKind string

// ConstraintDateOrder requires End to be on or after Start.
const ConstraintDateOrder ConstraintKind = "date_order"

// Constraint is a cross-field check.
type Constraint struct {
	Kind  ConstraintKind `yaml:"kind" validate:"required,oneof=date_order"`
	Start string         `yaml:"start" validate:"required"`
	End   string         `yaml:"end" validate:"required"`
}

// Check evaluates the constraint. Absent answers pass.
func (c Constraint) Check(answers map[string]normalize.Value) error {
	switch c.Kind {
	case ConstraintDateOrder:
		start, end := answers[c.Start], answers[c.End]
		if start.Empty() || end.Empty() {
			return nil
		}
		if end.Time.Before(start.Time) {
			return &models.ValidationError{
				Field:  c.End,
				Reason: "the end date (" + end.Display() + ") is before the start date (" + start.Display() + ")",
			}
		}
	}
	return nil
}

// Variant is an alternate question sequence selected by the answer to the
// base flow's selector question. Empty fields inherit from the base flow.
type Variant struct {
	Labels        Labels       `yaml:"labels" validate:"-"`
	ChannelPrefix string       `yaml:"channel_prefix,omitempty"`
	TitlePrefix   string       `yaml:"title_prefix,omitempty" validate:"omitempty,len=1,alpha"`
	Collection    Source       `yaml:"collection"`
	FolderParent  Source       `yaml:"folder_parent"`
	TitleFrom     string       `yaml:"title_from,omitempty"`
	Questions     []Question   `yaml:"questions" validate:"required,min=1,dive"`
	Constraints   []Constraint `yaml:"constraints,omitempty" validate:"dive"`
}

// Definition is a named questionnaire.
type Definition struct {
	Key            string             `yaml:"key" validate:"required,alphanum"`
	Command        string             `yaml:"command" validate:"required,startswith=/"`
	Labels         Labels             `yaml:"labels"`
	ChannelPrefix  string             `yaml:"channel_prefix" validate:"required"`
	TitlePrefix    string             `yaml:"title_prefix" validate:"required,len=1,alpha"`
	Collection     Source             `yaml:"collection"`
	FolderParent   Source             `yaml:"folder_parent"`
	PlaceholderURL string             `yaml:"placeholder_url,omitempty" validate:"omitempty,url"`
	TitleFrom      string             `yaml:"title_from" validate:"required"`
	TitleProperty  string             `yaml:"title_property" validate:"required"`
	FolderProperty string             `yaml:"folder_property,omitempty"`
	Constraints    []Constraint       `yaml:"constraints,omitempty" validate:"dive"`
	Questions      []Question         `yaml:"questions" validate:"dive"`
	Variants       map[string]Variant `yaml:"variants,omitempty" validate:"dive"`
}

// HasVariants reports whether the flow branches.
func (d Definition) HasVariants() bool {
	return len(d.Variants) > 0
}

// variantKey finds the variant matching selector, ignoring case and spacing.
func variantKey(variants map[string]Variant, selector string) (string, bool) {
	want := normalize.CanonicalName(selector)
	for k := range variants {
		if normalize.CanonicalName(k) == want {
			return k, true
		}
	}
	return "", false
}

func copyQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		q.Choices = append([]string(nil), q.Choices...)
		q.Rule.Choices = append([]string(nil), q.Rule.Choices...)
		out[i] = q
	}
	return out
}
