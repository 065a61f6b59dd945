package finalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxChannelName is Slack's channel name limit.
const MaxChannelName = 80

var (
	folderUnsafe = strings.NewReplacer(
		`"`, "", "*", "", ":", "", "<", "", ">", "", "?", "", "/", "", `\`, "",
		"|", "", "#", "", "%", "", "{", "", "}", "", "~", "", "&", "",
	)
	germanFold = strings.NewReplacer(
		"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
		"Ä", "ae", "Ö", "oe", "Ü", "ue",
	)
	nonSlug   = regexp.MustCompile(`[^a-z0-9]+`)
	spaceRuns = regexp.MustCompile(`\s+`)
)

// SequencePattern matches titles numbered for prefix in the two-digit year yy.
func SequencePattern(prefix, yy string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix+yy) + `(\d{3})(?:\D|$)`)
}

// MaxSequence returns the highest sequence among titles, 0 when none match.
func MaxSequence(pattern *regexp.Regexp, titles []string) int {
	highest := 0
	for _, t := range titles {
		m := pattern.FindStringSubmatch(strings.TrimSpace(t))
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// FormatNumber renders <prefix><yy><seq>, e.g. P25008.
func FormatNumber(prefix, yy string, seq int) string {
	return fmt.Sprintf("%s%s%03d", prefix, yy, seq)
}

// FolderName makes title safe for a cloud storage path segment.
func FolderName(title string) string {
	s := folderUnsafe.Replace(title)
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.Trim(s, " .")
}

// Slug folds s to lower-case ASCII words joined by hyphens.
func Slug(s string) string {
	s = germanFold.Replace(strings.ToLower(s))
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err == nil {
		s = stripped
	}
	return strings.Trim(nonSlug.ReplaceAllString(s, "-"), "-")
}

// ChannelName is <prefix>_<slug> cut to MaxChannelName.
func ChannelName(prefix, title string) string {
	name := strings.ToLower(prefix) + "_" + Slug(title)
	if len(name) > MaxChannelName {
		name = name[:MaxChannelName]
	}
	return strings.TrimRight(name, "-_")
}
