package finalize

import (
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/normalize"
)

// buildProperties maps answers onto record properties. Skipped answers are
// left out; people properties carry only resolved ids.
func buildProperties(rt *flow.Runtime, answers map[string]normalize.Value, people map[string][]string, title string, res *models.FinalizationResult) models.Properties {
	props := models.Properties{
		rt.TitleProperty: {Type: models.PropertyTitle, Text: title},
	}
	if rt.FolderProperty != "" && res.FolderURL != "" && !res.FolderPlaceholder {
		props[rt.FolderProperty] = models.PropertyValue{Type: models.PropertyURL, Text: res.FolderURL}
	}

	for _, q := range rt.AllQuestions() {
		if q.Property == "" {
			continue
		}
		v, ok := answers[q.Key]
		if !ok || v.Empty() {
			continue
		}
		if pv, ok := propertyValue(q.PropertyType, v, people[q.Key]); ok {
			props[q.Property] = pv
		}
	}
	return props
}

func propertyValue(pt models.PropertyType, v normalize.Value, ids []string) (models.PropertyValue, bool) {
	pv := models.PropertyValue{Type: pt}
	switch pt {
	case models.PropertyTitle, models.PropertyRichText:
		pv.Text = v.Display()
	case models.PropertyNumber:
		if v.Kind != normalize.KindAmount && v.Kind != normalize.KindNumber {
			return pv, false
		}
		n := v.Number
		pv.Number = &n
	case models.PropertyDate:
		if v.Time.IsZero() {
			return pv, false
		}
		t := v.Time
		pv.Date = &t
	case models.PropertySelect, models.PropertyURL, models.PropertyEmail:
		pv.Text = v.Text
	case models.PropertyMultiSelect:
		if len(v.List) > 0 {
			pv.Names = append([]string(nil), v.List...)
		} else {
			pv.Names = []string{v.Text}
		}
	case models.PropertyPeople:
		pv.IDs = append([]string(nil), ids...)
	case models.PropertyCheckbox:
		pv.Bool = v.Bool
	default:
		return pv, false
	}
	return pv, true
}
