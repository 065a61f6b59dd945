package finalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/session"
)

func validationMessage(err error) string {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf(":warning: I can't create this: %s. Nothing was created, please start again.", ve.Reason)
	}
	return ":warning: Your answers are inconsistent. Nothing was created, please start again."
}

func failureMessage(err error) string {
	switch models.IntegrationKindOf(err) {
	case models.KindNotFound:
		return ":x: The target database could not be found. Check that it exists and is shared with the intake integration."
	case models.KindAccessDenied:
		return ":x: The intake integration is not allowed to write to the target database. Ask an administrator to grant access."
	default:
		return ":x: Creating the record failed. Please try again later."
	}
}

// summaryMessage renders the result. The channel copy lists the answers; the
// thread copy adds unresolved people and warnings.
func summaryMessage(rt *flow.Runtime, s *session.Session, res *models.FinalizationResult, forChannel bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":white_check_mark: *%s*: %s\n", rt.Labels.Summary, res.Title)
	if res.RecordURL != "" {
		fmt.Fprintf(&b, "• Record: %s\n", res.RecordURL)
	}
	if res.FolderURL != "" {
		if res.FolderPlaceholder {
			fmt.Fprintf(&b, "• Folder: %s (placeholder)\n", res.FolderURL)
		} else {
			fmt.Fprintf(&b, "• Folder: %s\n", res.FolderURL)
		}
	}

	if forChannel {
		fmt.Fprintf(&b, "• Requested by <@%s>\n", s.RequesterID)
		for _, q := range rt.AllQuestions() {
			if v, ok := s.Answers[q.Key]; ok && !v.Empty() {
				fmt.Fprintf(&b, "*%s:* %s\n", q.Label, v.Display())
			}
		}
		return strings.TrimRight(b.String(), "\n")
	}

	if res.ChannelID != "" {
		fmt.Fprintf(&b, "• Channel: <#%s>\n", res.ChannelID)
	}
	if len(res.Unresolved) > 0 {
		fmt.Fprintf(&b, "• Unresolved people (not added to the record): %s\n", strings.Join(res.Unresolved, ", "))
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, ":warning: %s\n", w)
	}
	return strings.TrimRight(b.String(), "\n")
}
