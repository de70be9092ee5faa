package guardrail

import (
	"regexp"

	"github.com/heartwood-builders/attribution/internal/model"
)

// Prospect language signals a call about potential future work.
var prospectRes = []*regexp.Regexp{
	regexp.MustCompile(`\binitial stages?\b`),
	regexp.MustCompile(`\blooking to\b`),
	regexp.MustCompile(`\blooking at\b`),
	regexp.MustCompile(`\bexploring\b`),
	regexp.MustCompile(`\bthinking about\b`),
	regexp.MustCompile(`\bquote\b`),
	regexp.MustCompile(`\bestimate\b`),
	regexp.MustCompile(`\bbid\b`),
	regexp.MustCompile(`\bproposal\b`),
	regexp.MustCompile(`\bprospect\b`),
	regexp.MustCompile(`\bschedule (?:a )?(?:meeting|visit|walk-?through)\b`),
	regexp.MustCompile(`\btext me\b`),
	regexp.MustCompile(`\bshoot me a text\b`),
	regexp.MustCompile(`\bsend me (?:your |the )?(?:name|address|contact)\b`),
	regexp.MustCompile(`\bnew (?:lead|project)\b`),
}

// Commitment language signals the work is actually underway or contracted.
var commitmentRes = []*regexp.Regexp{
	regexp.MustCompile(`\bsigned (?:the )?contract\b`),
	regexp.MustCompile(`\bdeposit (?:paid|received|sent)\b`),
	regexp.MustCompile(`\bdown payment\b`),
	regexp.MustCompile(`\bpermits? (?:approved|pulled|issued|in hand)\b`),
	regexp.MustCompile(`\bpurchase order\b`),
	regexp.MustCompile(`\bpo number\b`),
	regexp.MustCompile(`\bstart date\b`),
	regexp.MustCompile(`\bwe (?:can|will) start\b`),
	regexp.MustCompile(`\bkick-?off\b`),
	regexp.MustCompile(`\bcrew starts?\b`),
	regexp.MustCompile(`\bmobiliz(?:e|ation)\b`),
}

// BizdevRule catches prospect calls that mention an existing project name
// without any commitment language. Such spans must never attach to a live
// project; they go to review with the project suggestion cleared.
type BizdevRule struct{}

func NewBizdevRule() *BizdevRule { return &BizdevRule{} }

func (r *BizdevRule) Name() string { return "bizdev_gate" }

func (r *BizdevRule) Evaluate(v *Verdict, in *Input) {
	if v.ProjectID == nil {
		return
	}
	transcript := normalizeForMatch(in.Transcript)

	prospect := false
	for _, re := range prospectRes {
		if re.MatchString(transcript) {
			prospect = true
			break
		}
	}
	if !prospect {
		return
	}
	for _, re := range commitmentRes {
		if re.MatchString(transcript) {
			return
		}
	}

	if v.Decision != model.DecisionNone {
		v.Decision = model.DecisionReview
	}
	v.ProjectID = nil
	v.AddReason("bizdev_without_commitment")
}
