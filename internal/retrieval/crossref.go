package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/heartwood-builders/attribution/internal/model"
)

// Claim cross-reference scoring: term overlap between the transcript and
// each candidate's journal claims, weighted by inverse document frequency
// across the candidate set. Rare terms score high; trade terms that appear
// in every project's claims score near zero. This is what keeps a generic
// "mystery white" marble mention from pulling in every project that ever
// ordered white marble.

var crossrefStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "you": true, "your": true, "they": true, "them": true,
	"have": true, "has": true, "had": true, "was": true, "were": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"just": true, "like": true, "know": true, "yeah": true, "okay": true,
	"right": true, "going": true, "gonna": true, "want": true, "need": true,
	"get": true, "got": true, "out": true, "about": true, "there": true,
	"here": true, "what": true, "when": true, "where": true, "how": true,
	"all": true, "but": true, "not": true, "are": true, "our": true,
	"his": true, "her": true, "she": true, "him": true, "then": true,
	"than": true, "been": true, "being": true, "into": true, "over": true,
	"from": true, "some": true, "any": true, "one": true, "two": true,
	"say": true, "said": true, "tell": true, "told": true, "think": true,
	"thing": true, "things": true, "really": true, "actually": true,
	"probably": true, "maybe": true, "little": true, "good": true,
	"well": true, "also": true, "because": true, "something": true,
	"anything": true, "everything": true, "guys": true, "guy": true,
	"today": true, "tomorrow": true, "yesterday": true, "week": true,
	"time": true, "call": true, "called": true, "calling": true,
	"phone": true, "talk": true, "talked": true, "talking": true,
	"hey": true, "hello": true, "thanks": true, "thank": true,
	"please": true, "sure": true, "yes": true, "nope": true,
}

var constructionTerms = map[string]bool{
	"granite": true, "marble": true, "quartz": true, "quartzite": true,
	"countertop": true, "countertops": true, "slab": true, "slabs": true,
	"tile": true, "tiles": true, "backsplash": true, "vanity": true,
	"cabinet": true, "cabinets": true, "drywall": true, "framing": true,
	"plumbing": true, "electrical": true, "hvac": true, "roofing": true,
	"siding": true, "flooring": true, "hardwood": true, "subfloor": true,
	"insulation": true, "foundation": true, "concrete": true, "rebar": true,
	"permit": true, "permits": true, "inspection": true, "inspector": true,
	"demo": true, "demolition": true, "excavation": true, "grading": true,
	"window": true, "windows": true, "door": true, "doors": true,
	"trim": true, "paint": true, "primer": true, "stain": true,
	"fixture": true, "fixtures": true, "faucet": true, "shower": true,
	"bathtub": true, "toilet": true, "sink": true, "appliance": true,
	"appliances": true, "delivery": true, "install": true, "installation": true,
	"template": true, "fabrication": true, "punch": true, "closeout": true,
	"schedule": true, "invoice": true, "deposit": true, "contract": true,
	"change": true, "order": true, "subcontractor": true, "crew": true,
}

// specificityMultiplier weights a term class, multiplied with its IDF.
var specificityMultiplier = map[string]float64{
	"dollar":       3.0,
	"compound":     2.5,
	"proper":       2.0,
	"construction": 1.5,
	"generic":      1.0,
}

type taggedTerm struct {
	term        string
	specificity string
}

// CrossrefScore is the claim overlap result for one candidate project.
type CrossrefScore struct {
	ProjectID string
	Score     float64
	Topics    []string
}

var (
	dollarRe   = regexp.MustCompile(`(?i)\$[\d,]+(?:\.\d+)?(?:\s*(?:k|m|million|thousand|hundred))?`)
	spokenRe   = regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:dollars?|bucks?|apiece|each|per)`)
	compoundRe = regexp.MustCompile(`\b([a-z]+)\s+(marble|granite|quartz|quartzite|tile|paint|stain|oak|maple|walnut|slab)\b`)
	problemRe  = regexp.MustCompile(`\b(wrong|broken|damaged|cracked|chipped|missing|defective|leaking|leaky)\s+(\w+)`)
	tokenRe    = regexp.MustCompile(`[a-z0-9']+`)
	nonAlphaRe = regexp.MustCompile(`[^a-zA-Z']`)
)

func extractDollarAmounts(text string) []string {
	var out []string
	for _, m := range dollarRe.FindAllString(text, -1) {
		out = append(out, strings.ToLower(strings.TrimSpace(strings.ReplaceAll(m, ",", ""))))
	}
	for _, m := range spokenRe.FindAllStringSubmatch(text, -1) {
		out = append(out, "$"+strings.ReplaceAll(m[1], ",", ""))
	}
	return out
}

func extractCompoundTerms(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, m := range compoundRe.FindAllStringSubmatch(lower, -1) {
		if !crossrefStopwords[m[1]] {
			out = append(out, m[1]+" "+m[2])
		}
	}
	for _, m := range problemRe.FindAllStringSubmatch(lower, -1) {
		out = append(out, m[1]+" "+m[2])
	}
	return out
}

func extractProperNouns(text string) []string {
	var out []string
	words := strings.Fields(text)
	for i, w := range words {
		word := nonAlphaRe.ReplaceAllString(w, "")
		if len(word) < 3 || word[0] < 'A' || word[0] > 'Z' {
			continue
		}
		if crossrefStopwords[strings.ToLower(word)] {
			continue
		}
		// Sentence-initial capitals are not evidence of a proper noun.
		if i > 0 {
			prev := words[i-1]
			if !strings.HasSuffix(prev, ".") && !strings.HasSuffix(prev, "?") && !strings.HasSuffix(prev, "!") {
				out = append(out, strings.ToLower(word))
			}
		}
	}
	return out
}

func tokenize(text string) []string {
	var out []string
	for _, t := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(t) < 4 || crossrefStopwords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func extractTranscriptTerms(text string) []taggedTerm {
	terms := make(map[string]taggedTerm)
	add := func(term, specificity string) {
		key := strings.ToLower(term)
		if _, ok := terms[key]; !ok {
			terms[key] = taggedTerm{term: key, specificity: specificity}
		}
	}
	for _, amt := range extractDollarAmounts(text) {
		add(amt, "dollar")
	}
	for _, comp := range extractCompoundTerms(text) {
		add(comp, "compound")
	}
	for _, pn := range extractProperNouns(text) {
		add(pn, "proper")
	}
	for _, tok := range tokenize(text) {
		if constructionTerms[tok] {
			add(tok, "construction")
		} else {
			add(tok, "generic")
		}
	}

	out := make([]taggedTerm, 0, len(terms))
	for _, t := range terms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].term < out[j].term })
	return out
}

// baseMatchWeight keeps matched terms contributing some score even when
// they have no discriminative power (df=N), which covers the
// single-candidate case gracefully.
const baseMatchWeight = 0.15

func termMatches(term string, claimLower string, claimTokens map[string]bool) bool {
	if strings.Contains(term, " ") {
		return strings.Contains(claimLower, term)
	}
	if claimTokens[term] {
		return true
	}
	if len(term) >= 5 {
		for t := range claimTokens {
			if len(t) >= 5 && (strings.HasPrefix(t, term) || strings.HasPrefix(term, t)) {
				return true
			}
		}
	}
	return false
}

// ComputeClaimCrossref scores each candidate project by IDF-weighted overlap
// between transcript terms and that project's journal claims, normalized to
// [0,1] against the theoretical maximum for this transcript.
func ComputeClaimCrossref(transcript string, candidateIDs []string, claims []model.JournalClaim) []CrossrefScore {
	out := make([]CrossrefScore, 0, len(candidateIDs))
	if strings.TrimSpace(transcript) == "" || len(candidateIDs) == 0 {
		for _, id := range candidateIDs {
			out = append(out, CrossrefScore{ProjectID: id})
		}
		return out
	}

	terms := extractTranscriptTerms(transcript)
	if len(terms) == 0 {
		for _, id := range candidateIDs {
			out = append(out, CrossrefScore{ProjectID: id})
		}
		return out
	}

	candidateSet := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		candidateSet[id] = true
	}

	claimTextByProject := make(map[string]string)
	for _, c := range claims {
		if !candidateSet[c.ProjectID] {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(c.Text))
		if text == "" {
			continue
		}
		claimTextByProject[c.ProjectID] += " " + text
	}

	claimTokensByProject := make(map[string]map[string]bool, len(claimTextByProject))
	for pid, text := range claimTextByProject {
		tokens := make(map[string]bool)
		for _, t := range tokenize(text) {
			tokens[t] = true
		}
		claimTokensByProject[pid] = tokens
	}

	// IDF with Laplace smoothing over the projects that have claims.
	n := len(claimTextByProject)
	idf := make(map[string]float64, len(terms))
	for _, tt := range terms {
		df := 0
		for pid, text := range claimTextByProject {
			if termMatches(tt.term, text, claimTokensByProject[pid]) {
				df++
			}
		}
		w := math.Log(float64(n+1) / float64(df+1))
		if df > 0 {
			w += baseMatchWeight
		}
		idf[tt.term] = w
	}

	maxPossible := 0.0
	for _, tt := range terms {
		maxPossible += idf[tt.term] * specificityMultiplier[tt.specificity]
	}
	if maxPossible == 0 {
		maxPossible = 1
	}

	for _, id := range candidateIDs {
		claimLower := claimTextByProject[id]
		if strings.TrimSpace(claimLower) == "" {
			out = append(out, CrossrefScore{ProjectID: id})
			continue
		}
		tokens := claimTokensByProject[id]

		score := 0.0
		var topics []string
		for _, tt := range terms {
			if termMatches(tt.term, claimLower, tokens) {
				score += idf[tt.term] * specificityMultiplier[tt.specificity]
				topics = append(topics, tt.term)
			}
		}
		out = append(out, CrossrefScore{
			ProjectID: id,
			Score:     math.Min(1.0, math.Round(score/maxPossible*1000)/1000),
			Topics:    topics,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
