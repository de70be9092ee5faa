package guardrail

import (
	"github.com/heartwood-builders/attribution/internal/model"
)

// ThresholdRule enforces the confidence ladder: an assign below the
// auto-assign floor becomes review, a review below the review floor becomes
// none.
type ThresholdRule struct {
	autoAssign float64
	review     float64
}

func NewThresholdRule(autoAssign, review float64) *ThresholdRule {
	return &ThresholdRule{autoAssign: autoAssign, review: review}
}

func (r *ThresholdRule) Name() string { return "confidence_threshold" }

func (r *ThresholdRule) Evaluate(v *Verdict, _ *Input) {
	if v.Decision == model.DecisionAssign && v.Confidence < r.autoAssign {
		v.Decision = model.DecisionReview
		v.AddReason("confidence_below_auto_assign")
	}
	if v.Decision == model.DecisionReview && v.Confidence < r.review {
		v.Decision = model.DecisionNone
		v.ProjectID = nil
		v.AddReason("confidence_below_review")
	}
}
