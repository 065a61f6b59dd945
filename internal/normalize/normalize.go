// Package normalize turns free-text answers into validated, typed values.
//
// Each question carries a Rule, a tagged description of how its answer is
// parsed. Rules hold no executable code so they can live in YAML flow
// definitions and still be dispatched deterministically.
package normalize

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind identifies the parser a Rule dispatches to.
type Kind string

const (
	KindText   Kind = "text"
	KindAmount Kind = "amount"
	KindNumber Kind = "integer"
	KindDate   Kind = "date"
	KindChoice Kind = "choice"
	KindPeople Kind = "people"
	KindPerson Kind = "person"
	KindEmail  Kind = "email"
	KindURL    Kind = "url"
	KindYesNo  Kind = "yesno"
)

// DateLayout is the canonical layout dates are rendered in.
const DateLayout = "2006-01-02"

// accepted date layouts, tried in order
var dateLayouts = []string{
	DateLayout,
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
	"2/1/2006",
	"2006/01/02",
}

var slackMention = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|([^>]+))?>`)

// Rule describes how the answer to a question is validated.
type Rule struct {
	Kind      Kind     `yaml:"kind" json:"kind"`
	MinLength int      `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength int      `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Choices   []string `yaml:"choices,omitempty" json:"choices,omitempty"`
}

// RejectError reports why a raw answer was not accepted. Reason is shown to
// the requester verbatim.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return "answer rejected: " + e.Reason
}

func reject(format string, args ...any) error {
	return &RejectError{Reason: fmt.Sprintf(format, args...)}
}

// IsKnown reports whether k names a parser.
func IsKnown(k Kind) bool {
	switch k {
	case KindText, KindAmount, KindNumber, KindDate, KindChoice, KindPeople, KindPerson, KindEmail, KindURL, KindYesNo:
		return true
	}
	return false
}

// Apply normalizes raw. It never mutates the rule and is deterministic for a
// given input.
func (r Rule) Apply(raw string) (Value, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Value{}, reject("Please enter an answer.")
	}
	switch r.Kind {
	case "", KindText:
		return r.text(text)
	case KindAmount:
		return r.amount(text)
	case KindNumber:
		return r.integer(text)
	case KindDate:
		return parseDate(text)
	case KindChoice:
		return r.choice(text)
	case KindPerson:
		return people(text, true)
	case KindPeople:
		return people(text, false)
	case KindEmail:
		return email(text)
	case KindURL:
		return link(text)
	case KindYesNo:
		return yesNo(text)
	default:
		return Value{}, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

func (r Rule) text(s string) (Value, error) {
	n := utf8.RuneCountInString(s)
	if r.MinLength > 0 && n < r.MinLength {
		return Value{}, reject("Please use at least %d characters.", r.MinLength)
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return Value{}, reject("Please keep it under %d characters (you used %d).", r.MaxLength, n)
	}
	return Value{Kind: KindText, Text: s}, nil
}

func (r Rule) amount(s string) (Value, error) {
	n, err := ParseAmount(s)
	if err != nil {
		return Value{}, reject("That doesn't look like an amount. Try something like 1.250,50 or 1250.50.")
	}
	if err := r.bounds(n); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindAmount, Number: n, Text: s}, nil
}

func (r Rule) integer(s string) (Value, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return Value{}, reject("Please enter a whole number.")
	}
	if err := r.bounds(float64(n)); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindNumber, Number: float64(n), Text: s}, nil
}

func (r Rule) bounds(n float64) error {
	if r.Min != nil && n < *r.Min {
		return reject("The value must be at least %s.", formatNumber(*r.Min))
	}
	if r.Max != nil && n > *r.Max {
		return reject("The value must be at most %s.", formatNumber(*r.Max))
	}
	return nil
}

func (r Rule) choice(s string) (Value, error) {
	if len(r.Choices) == 0 {
		return Value{Kind: KindChoice, Text: s}, nil
	}
	canon := canonical(s)
	for _, c := range r.Choices {
		if canonical(c) == canon {
			return Value{Kind: KindChoice, Text: c}, nil
		}
	}
	// "2" selects the second option
	if i, err := strconv.Atoi(s); err == nil && i >= 1 && i <= len(r.Choices) {
		return Value{Kind: KindChoice, Text: r.Choices[i-1]}, nil
	}
	return Value{}, reject("Please choose one of: %s.", strings.Join(r.Choices, ", "))
}

// ParseAmount parses a decimal amount written with either European
// ("1.250,50") or English ("1,250.50") separators. When both separators
// appear, the last one is the decimal mark. A lone separator followed by
// exactly three digits is a thousands separator.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("€", "", "$", "", "EUR", "", "CHF", "", "USD", "", "'", "", " ", "", " ", "").Replace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	var decimal byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimal = '.'
		} else {
			decimal = ','
		}
	case lastDot >= 0:
		decimal = decimalFor(s, '.')
	case lastComma >= 0:
		decimal = decimalFor(s, ',')
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimal && i == strings.LastIndexByte(s, decimal):
			b.WriteByte('.')
		case c == '.' || c == ',':
			// thousands separator
		default:
			return 0, fmt.Errorf("invalid character %q in amount", c)
		}
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, err
	}
	if neg {
		n = -n
	}
	return math.Round(n*100) / 100, nil
}

// decimalFor decides whether the only separator kind present in s marks
// decimals. Returns 0 when it is a thousands separator.
func decimalFor(s string, sep byte) byte {
	if strings.Count(s, string(sep)) > 1 {
		return 0
	}
	idx := strings.IndexByte(s, sep)
	if len(s)-idx-1 == 3 && idx > 0 {
		return 0
	}
	return sep
}

func parseDate(s string) (Value, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Value{Kind: KindDate, Time: t, Text: t.Format(DateLayout)}, nil
		}
	}
	return Value{}, reject("Please enter a date as YYYY-MM-DD (for example 2024-05-01).")
}

func people(s string, single bool) (Value, error) {
	// resolve Slack mentions to their display label when present
	s = slackMention.ReplaceAllStringFunc(s, func(m string) string {
		parts := slackMention.FindStringSubmatch(m)
		if parts[2] != "" {
			return parts[2]
		}
		return parts[1]
	})
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	var names []string
	seen := make(map[string]bool)
	for _, f := range fields {
		for _, part := range strings.Split(f, " and ") {
			name := strings.Join(strings.Fields(part), " ")
			if name == "" || seen[canonical(name)] {
				continue
			}
			seen[canonical(name)] = true
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return Value{}, reject("Please enter at least one name.")
	}
	if single && len(names) > 1 {
		return Value{}, reject("Please enter exactly one name.")
	}
	kind := KindPeople
	if single {
		kind = KindPerson
	}
	return Value{Kind: kind, List: names, Text: strings.Join(names, ", ")}, nil
}

func email(s string) (Value, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		// Slack renders typed addresses as <mailto:a@b|a@b>
		if strings.HasPrefix(s, "<mailto:") {
			inner := strings.TrimSuffix(strings.TrimPrefix(s, "<mailto:"), ">")
			if i := strings.Index(inner, "|"); i >= 0 {
				inner = inner[:i]
			}
			return email(inner)
		}
		return Value{}, reject("Please enter a valid e-mail address.")
	}
	return Value{Kind: KindEmail, Text: addr.Address}, nil
}

func link(s string) (Value, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	if i := strings.Index(s, "|"); i >= 0 {
		s = s[:i]
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Value{}, reject("Please enter a full link starting with https://.")
	}
	return Value{Kind: KindURL, Text: u.String()}, nil
}

func yesNo(s string) (Value, error) {
	switch canonical(s) {
	case "yes", "y", "ja", "j", "true", "1":
		return Value{Kind: KindYesNo, Bool: true, Text: "Yes"}, nil
	case "no", "n", "nein", "false", "0":
		return Value{Kind: KindYesNo, Bool: false, Text: "No"}, nil
	}
	return Value{}, reject("Please answer yes or no.")
}

// canonical lower-cases s and collapses runs of whitespace.
func canonical(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CanonicalName is the comparison form used when matching people names.
func CanonicalName(s string) string {
	return canonical(s)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
