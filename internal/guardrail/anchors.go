package guardrail

import (
	"regexp"
	"strings"

	"github.com/heartwood-builders/attribution/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeForMatch lowercases and collapses whitespace so quote matching
// survives transcription spacing differences.
func normalizeForMatch(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(s), " "))
}

// projectContextRe marks surname mentions that refer to a project rather
// than a person ("the sittler residence").
var projectContextRe = regexp.MustCompile(`\b(?:residence|project|house|home|site)\b`)

// AnchorRule drops anchors whose quotes are not verbatim transcript
// substrings, whose text is not contained in the quote, or that anchor on a
// staff member's name. An assign with no surviving strong anchor is
// downgraded to review.
type AnchorRule struct {
	staffNames []string
	surnameRes []*regexp.Regexp
}

func NewAnchorRule(staffNames []string) *AnchorRule {
	r := &AnchorRule{}
	seen := map[string]bool{}
	for _, name := range staffNames {
		name = normalizeForMatch(name)
		if name == "" {
			continue
		}
		r.staffNames = append(r.staffNames, name)
		fields := strings.Fields(name)
		surname := fields[len(fields)-1]
		if len(surname) >= 4 && !seen[surname] {
			seen[surname] = true
			r.surnameRes = append(r.surnameRes, regexp.MustCompile(`\b`+regexp.QuoteMeta(surname)+`\b`))
		}
	}
	return r
}

func (r *AnchorRule) Name() string { return "anchor_validation" }

func (r *AnchorRule) containsStaffName(s string) bool {
	if s == "" {
		return false
	}
	for _, name := range r.staffNames {
		if strings.Contains(s, name) {
			return true
		}
	}
	// A bare surname is a staff reference unless the surrounding words mark
	// it as a project name ("sittler residence").
	if projectContextRe.MatchString(s) {
		return false
	}
	for _, re := range r.surnameRes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (r *AnchorRule) Evaluate(v *Verdict, in *Input) {
	transcript := normalizeForMatch(in.Transcript)

	var valid []model.Anchor
	for _, a := range v.Anchors {
		quote := normalizeForMatch(a.Quote)
		if len(quote) < 3 {
			continue
		}
		if r.containsStaffName(quote) || r.containsStaffName(normalizeForMatch(a.Text)) {
			v.RejectedStaffAnchors++
			continue
		}
		if !strings.Contains(transcript, quote) {
			continue
		}
		if text := normalizeForMatch(a.Text); len(text) >= 3 && !strings.Contains(quote, text) {
			continue
		}
		valid = append(valid, a)
	}
	v.Anchors = valid

	if v.Decision != model.DecisionAssign {
		return
	}
	if len(valid) == 0 {
		v.Decision = model.DecisionReview
		if v.RejectedStaffAnchors > 0 {
			v.AddReason("staff_name_anchor_rejected")
		}
		v.AddReason("no_valid_anchors")
		return
	}
	if !model.HasStrongAnchor(valid) {
		v.Decision = model.DecisionReview
		v.AddReason("no_strong_anchor")
	}
}
