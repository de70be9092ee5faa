package guardrail

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/heartwood-builders/attribution/internal/model"
)

// Strong anchor types that corroborate an alias independently of the alias
// term itself.
var strongNonAliasTypes = map[string]bool{
	model.MatchExactProjectName: true,
	model.MatchAddressFragment:  true,
	model.MatchClientName:       true,
	model.MatchContinuity:       true,
}

// Disambiguator tokens make a color-and-material phrase project-specific
// ("mystery white residence" is a project, "mystery white" is a slab color).
var aliasDisambiguators = map[string]bool{
	"residence": true, "project": true, "house": true, "home": true,
	"site": true, "build": true, "job": true, "renovation": true,
	"remodel": true,
}

var colorTokens = map[string]bool{
	"white": true, "black": true, "gray": true, "grey": true, "blue": true,
	"green": true, "beige": true, "cream": true, "ivory": true, "gold": true,
	"silver": true, "brown": true, "taupe": true,
}

var materialTokens = map[string]bool{
	"quartz": true, "marble": true, "granite": true, "quartzite": true,
	"porcelain": true, "soapstone": true, "limestone": true,
	"travertine": true, "onyx": true, "slate": true,
}

var genericDescriptorTokens = map[string]bool{
	"mystery": true, "super": true, "pure": true, "classic": true,
	"arctic": true, "polar": true, "frost": true, "pearl": true,
	"bright": true, "premium": true,
}

// Product names routinely reused as project aliases.
var explicitCommonAliases = map[string]bool{
	"mystery white": true, "super white": true, "pure white": true,
	"classic white": true, "arctic white": true, "white quartz": true,
	"white marble": true, "calacatta": true, "carrara": true,
}

func normalizeAliasTerm(s string) string {
	return normalizeForMatch(norm.NFKC.String(s))
}

// isCommonAliasTerm reports whether the term is a stone color or product
// name that many projects could share.
func isCommonAliasTerm(term string) bool {
	term = normalizeAliasTerm(term)
	if term == "" {
		return false
	}
	if explicitCommonAliases[term] {
		return true
	}
	tokens := strings.Fields(term)
	for _, tok := range tokens {
		if aliasDisambiguators[tok] {
			return false
		}
		if !colorTokens[tok] && !materialTokens[tok] && !genericDescriptorTokens[tok] {
			return false
		}
	}
	return len(tokens) > 0
}

// CommonAliasRule downgrades an assign supported only by common-alias
// anchors. A stone color shared across projects cannot carry an auto-assign
// without independent corroboration.
type CommonAliasRule struct{}

func NewCommonAliasRule() *CommonAliasRule { return &CommonAliasRule{} }

func (r *CommonAliasRule) Name() string { return "common_alias" }

func (r *CommonAliasRule) Evaluate(v *Verdict, _ *Input) {
	if v.Decision != model.DecisionAssign {
		return
	}

	var aliasAnchors int
	for _, a := range v.Anchors {
		if strongNonAliasTypes[a.MatchType] {
			return
		}
		if a.MatchType != model.MatchAlias {
			continue
		}
		aliasAnchors++
		term := a.Text
		if term == "" {
			term = a.Quote
		}
		if !isCommonAliasTerm(term) {
			return
		}
	}
	if aliasAnchors == 0 {
		return
	}

	v.Decision = model.DecisionReview
	v.AddReason("common_alias_unconfirmed")
}
