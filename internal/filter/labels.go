package filter

import (
	"regexp"
	"strings"

	"github.com/nhle/inboxdigest/internal/model"
)

// labelOrder is the canonical order labels are emitted in.
var labelOrder = []string{
	model.LabelPossibleDeadline,
	model.LabelActionable,
	model.LabelTransactional,
	model.LabelNewsletter,
}

// entityLabels maps span-pattern entity labels to message labels.
var entityLabels = map[string]string{
	"DEADLINE":    model.LabelPossibleDeadline,
	"DATE_DUE":    model.LabelPossibleDeadline,
	"REQUEST":     model.LabelActionable,
	"TRANSACTION": model.LabelTransactional,
	"UNSUBSCRIBE": model.LabelNewsletter,
}

const weekdayOrMonth = `(monday|tuesday|wednesday|thursday|friday|saturday|sunday|` +
	`jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|june?|july?|aug(ust)?|sep(t(ember)?)?|oct(ober)?|nov(ember)?|dec(ember)?)`

var heuristics = map[string]*regexp.Regexp{
	model.LabelPossibleDeadline: regexp.MustCompile(`(?i)\b(deadline|due\s+(date|on|by)|no\s+later\s+than|` +
		`(by|before|until)\s+(` + weekdayOrMonth + `|tomorrow|tonight|today|noon|eod|cob|end\s+of\s+(the\s+)?(day|week|month)|\d{1,2}[/.-]\d{1,2}))`),
	model.LabelNewsletter: regexp.MustCompile(`(?i)\b(unsubscribe|opt[\s-]?out|manage\s+(your\s+)?(email\s+)?(preferences|subscriptions?)|` +
		`update\s+your\s+preferences|view\s+(this\s+email\s+)?in\s+(your\s+)?browser|email\s+preferences)\b`),
	model.LabelTransactional: regexp.MustCompile(`(?i)\b(your\s+order|order\s+(#|number|confirmation|confirmed)|invoice|receipt|` +
		`subscription\s+(renewal|renewed|confirmed)|payment\s+(received|confirmation|due)|has\s+shipped|tracking\s+number|` +
		`security\s+alert|password\s+reset|verification\s+code|sign-?in\s+attempt)\b`),
	model.LabelActionable: regexp.MustCompile(`(?i)\b(please|could\s+you|can\s+you|would\s+you|will\s+you|kindly|` +
		`let\s+me\s+know|need\s+you\s+to|action\s+required|rsvp|respond\s+by|your\s+approval)\b`),
}

// inferLabels derives labels from span entities first and fills the gaps
// with regex heuristics over the original text and, for actionable
// questions, the tagger. Output is deduplicated and in labelOrder.
func inferLabels(original string, sentences []string, entities []model.Entity, tagger Tagger) []string {
	found := make(map[string]bool, len(labelOrder))

	for _, e := range entities {
		if l, ok := entityLabels[strings.ToUpper(e.Label)]; ok {
			found[l] = true
		}
	}

	for _, l := range labelOrder {
		if found[l] {
			continue
		}
		if heuristics[l].MatchString(original) {
			found[l] = true
		}
	}

	if !found[model.LabelActionable] && hasVerbQuestion(sentences, tagger) {
		found[model.LabelActionable] = true
	}

	labels := make([]string, 0, len(found))
	for _, l := range labelOrder {
		if found[l] {
			labels = append(labels, l)
		}
	}
	return labels
}

// hasVerbQuestion reports whether some sentence ends in '?' and starts
// with a verb or auxiliary ("Can you…", "Review the doc?").
func hasVerbQuestion(sentences []string, tagger Tagger) bool {
	for _, s := range sentences {
		if !strings.HasSuffix(strings.TrimRight(s, `"')]”’`), "?") {
			continue
		}
		tokens := tagger.Tag(s)
		if len(tokens) == 0 {
			continue
		}
		if IsVerbTag(tokens[0].Tag) {
			return true
		}
	}
	return false
}
