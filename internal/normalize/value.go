package normalize

import (
	"strconv"
	"strings"
	"time"
)

// Value is a normalized answer. The zero Value is an absent answer, which is
// what a skipped question records.
type Value struct {
	Kind   Kind      `json:"kind,omitempty"`
	Text   string    `json:"text,omitempty"`
	Number float64   `json:"number,omitempty"`
	Time   time.Time `json:"time,omitempty"`
	List   []string  `json:"list,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
}

// Empty reports whether the value is absent.
func (v Value) Empty() bool {
	return v.Kind == ""
}

// Display renders the value for summaries.
func (v Value) Display() string {
	switch v.Kind {
	case "":
		return "–"
	case KindAmount:
		return FormatAmount(v.Number)
	case KindDate:
		return v.Time.Format(DateLayout)
	case KindPeople, KindPerson:
		return strings.Join(v.List, ", ")
	default:
		return v.Text
	}
}

// FormatAmount renders n with European separators, e.g. 1.250,50.
func FormatAmount(n float64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatFloat(n, 'f', 2, 64)
	whole, frac := s[:len(s)-3], s[len(s)-2:]

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	out := b.String() + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}
