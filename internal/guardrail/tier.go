package guardrail

import (
	"fmt"

	"github.com/heartwood-builders/attribution/internal/model"
)

// Confidence floor applied when fused retrieval independently reached the
// same conclusion as the model.
const smokingGunConfidenceFloor = 0.85

// TierRule reconciles the model's decision with the fused evidence tier of
// the chosen candidate. An assign whose evidence tier is weak or anti goes
// to review; a smoking-gun candidate gets a confidence floor.
type TierRule struct{}

func NewTierRule() *TierRule { return &TierRule{} }

func (r *TierRule) Name() string { return "evidence_tier" }

func (r *TierRule) Evaluate(v *Verdict, in *Input) {
	if v.Decision != model.DecisionAssign || v.ProjectID == nil {
		return
	}

	var tier string
	for _, c := range in.Candidates {
		if c.ProjectID == *v.ProjectID {
			tier = c.Evidence.TierLabel
			break
		}
	}

	switch tier {
	case model.TierWeak, model.TierAnti:
		v.Decision = model.DecisionReview
		v.AddReason(fmt.Sprintf("rrf_tier_%s_downgrade", tier))
	case model.TierSmokingGun:
		if v.Confidence < smokingGunConfidenceFloor {
			v.Confidence = smokingGunConfidenceFloor
			v.AddReason("rrf_tier_smoking_gun_boost")
		}
	}
}
