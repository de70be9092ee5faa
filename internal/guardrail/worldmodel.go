package guardrail

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/heartwood-builders/attribution/internal/model"
)

// Fact kinds whose presence makes a validated citation strong enough to
// support an assign on its own.
var strongFactKindTokens = []string{
	"address", "alias", "client", "scope", "material", "finish",
	"feature", "model", "serial", "room", "lot", "unit",
}

var addressLikeRe = regexp.MustCompile(`(?i)\b\d+\s+\w+\s+(?:street|st|road|rd|avenue|ave|drive|dr|lane|ln|court|ct|way|place|pl)\b`)

// Long tokens that carry digits but identify nothing in particular.
var lowSignalTokens = map[string]bool{
	"covid-19":   true,
	"24-hour":    true,
	"first-come": true,
}

// FactText flattens a fact payload into searchable text. String values of a
// JSON object payload are joined; anything else is used raw.
func FactText(f model.Fact) string {
	var obj map[string]any
	if err := json.Unmarshal(f.Payload, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return string(f.Payload)
}

// overlapTokens extracts up to max lowercase tokens of minLen+ characters.
func overlapTokens(s string, minLen, max int) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, `.,;:!?"'()[]{}`)
		if len(tok) < minLen {
			continue
		}
		out = append(out, tok)
		if len(out) == max {
			break
		}
	}
	return out
}

// matchReference resolves a model citation to a stored fact: same kind, then
// exact as-of date, then excerpt token overlap against the fact payload.
func matchReference(ref model.WorldModelReference, facts []model.Fact) *model.Fact {
	var kindMatches []model.Fact
	for _, f := range facts {
		if strings.EqualFold(f.Kind, ref.FactKind) {
			kindMatches = append(kindMatches, f)
		}
	}
	if len(kindMatches) == 0 {
		return nil
	}
	if ref.FactAsOf != "" {
		for i := range kindMatches {
			f := kindMatches[i]
			if f.AsOf.Format("2006-01-02") == ref.FactAsOf ||
				f.AsOf.Format(time.RFC3339) == ref.FactAsOf {
				return &f
			}
		}
	}
	refTokens := overlapTokens(ref.FactExcerpt, 4, 6)
	for i := range kindMatches {
		f := kindMatches[i]
		text := strings.ToLower(FactText(f))
		for _, tok := range refTokens {
			if strings.Contains(text, tok) {
				return &f
			}
		}
	}
	if ref.FactAsOf == "" && ref.FactExcerpt == "" && len(kindMatches) == 1 {
		return &kindMatches[0]
	}
	return nil
}

// isStrongFact reports whether a validated fact identifies the project
// specifically rather than describing generic trade activity.
func isStrongFact(f model.Fact) bool {
	kind := strings.ToLower(f.Kind)
	for _, tok := range strongFactKindTokens {
		if strings.Contains(kind, tok) {
			return true
		}
	}
	text := FactText(f)
	if addressLikeRe.MatchString(text) {
		return true
	}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, `.,;:!?"'()`)
		if len(tok) < 8 || lowSignalTokens[tok] {
			continue
		}
		if strings.ContainsAny(tok, "0123456789-") {
			return true
		}
	}
	return false
}

// contradictsTranscript checks whether the transcript negates any signal
// token from the fact ("not calacatta", "never got the deposit").
func contradictsTranscript(f model.Fact, transcript string) bool {
	tokens := overlapTokens(FactText(f), 5, 5)
	for _, tok := range tokens {
		re, err := regexp.Compile(
			`\b(?:not|no|never|without|isn't|aren't|wasn't|weren't)\s+(?:\w+\s+){0,2}` +
				regexp.QuoteMeta(tok) + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(transcript) {
			return true
		}
	}
	return false
}

// CapFacts keeps the most recent max facts, newest as-of first. Max is
// clamped to [0, 50].
func CapFacts(facts []model.Fact, max int) []model.Fact {
	if max < 0 {
		max = 0
	}
	if max > 50 {
		max = 50
	}
	sorted := make([]model.Fact, len(facts))
	copy(sorted, facts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AsOf.After(sorted[j].AsOf)
	})
	if len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}

// WorldModelRule verifies the model's fact citations against the fact store.
// An assign whose validated citations are all weak, or whose cited fact the
// transcript contradicts, is downgraded to review. Unverifiable citations
// never downgrade on their own.
type WorldModelRule struct{}

func NewWorldModelRule() *WorldModelRule { return &WorldModelRule{} }

func (r *WorldModelRule) Name() string { return "world_model_facts" }

func (r *WorldModelRule) Evaluate(v *Verdict, in *Input) {
	if v.Decision != model.DecisionAssign || v.ProjectID == nil {
		return
	}

	facts := in.ProjectFacts[*v.ProjectID]
	var validated []model.Fact
	for _, ref := range in.WorldRefs {
		if ref.ProjectID != *v.ProjectID {
			continue
		}
		if f := matchReference(ref, facts); f != nil {
			validated = append(validated, *f)
		}
	}
	if len(validated) == 0 {
		return
	}

	transcript := normalizeForMatch(in.Transcript)
	strong := false
	for _, f := range validated {
		if contradictsTranscript(f, transcript) {
			v.Decision = model.DecisionReview
			v.AddReason("world_model_fact_contradiction")
			return
		}
		if isStrongFact(f) {
			strong = true
		}
	}
	if !strong {
		v.Decision = model.DecisionReview
		v.AddReason("world_model_fact_weak_only")
	}
}
