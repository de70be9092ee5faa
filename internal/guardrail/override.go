package guardrail

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/heartwood-builders/attribution/internal/model"
)

const defaultGateConfidence = 0.8

// Gate is one data-driven override: when an address-fragment anchor matches
// the address pattern and exactly one candidate matches the project pattern,
// the span is force-assigned to that candidate. Gates exist for projects
// whose address is so distinctive that a matching fragment is decisive.
type Gate struct {
	Name           string  `yaml:"name"`
	AddressPattern string  `yaml:"address_pattern"`
	ProjectPattern string  `yaml:"project_pattern"`
	MinConfidence  float64 `yaml:"min_confidence"`

	addressRe *regexp.Regexp
	projectRe *regexp.Regexp
}

type gateFile struct {
	Gates []Gate `yaml:"gates"`
}

// LoadGates reads and compiles override gates from a yaml file. An empty
// path yields no gates.
func LoadGates(path string) ([]Gate, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "guardrail: read override gates")
	}
	var file gateFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrap(err, "guardrail: parse override gates")
	}
	for i := range file.Gates {
		g := &file.Gates[i]
		if g.Name == "" || g.AddressPattern == "" || g.ProjectPattern == "" {
			return nil, eris.Errorf("guardrail: gate %d missing name or patterns", i)
		}
		if g.addressRe, err = regexp.Compile(`(?i)` + g.AddressPattern); err != nil {
			return nil, eris.Wrapf(err, "guardrail: gate %q address pattern", g.Name)
		}
		if g.projectRe, err = regexp.Compile(`(?i)` + g.ProjectPattern); err != nil {
			return nil, eris.Wrapf(err, "guardrail: gate %q project pattern", g.Name)
		}
		if g.MinConfidence <= 0 {
			g.MinConfidence = defaultGateConfidence
		}
	}
	return file.Gates, nil
}

// OverrideRule applies configured gates. It is the only rule allowed to
// raise a decision, and only when upgrades are enabled.
type OverrideRule struct {
	gates   []Gate
	upgrade bool
}

func NewOverrideRule(gates []Gate, upgrade bool) *OverrideRule {
	return &OverrideRule{gates: gates, upgrade: upgrade}
}

func (r *OverrideRule) Name() string  { return "override_gates" }
func (r *OverrideRule) Forcing() bool { return true }

func (r *OverrideRule) Evaluate(v *Verdict, in *Input) {
	if !r.upgrade {
		return
	}
	for i := range r.gates {
		if r.applyGate(&r.gates[i], v, in) {
			return
		}
	}
}

func (r *OverrideRule) applyGate(g *Gate, v *Verdict, in *Input) bool {
	addressHit := false
	for _, a := range v.Anchors {
		if a.MatchType != model.MatchAddressFragment {
			continue
		}
		if g.addressRe.MatchString(a.Quote) || g.addressRe.MatchString(a.Text) {
			addressHit = true
			break
		}
	}
	if !addressHit {
		return false
	}

	matched := gateCandidates(g, in.Candidates)
	if len(matched) > 1 {
		// Tie-break on address evidence before giving up.
		var withAddress []model.Candidate
		for _, c := range matched {
			if g.addressRe.MatchString(c.Address) {
				withAddress = append(withAddress, c)
			}
		}
		if len(withAddress) == 1 {
			matched = withAddress
		}
	}
	if len(matched) != 1 {
		v.AddReason(g.Name + "_candidate_not_unique")
		return false
	}
	winner := matched[0]

	for _, a := range v.Anchors {
		if a.Strong() && a.CandidateProjectID != "" && a.CandidateProjectID != winner.ProjectID {
			v.AddReason(g.Name + "_conflicting_strong_anchor")
			return false
		}
	}

	if v.Decision == model.DecisionAssign && v.ProjectID != nil && *v.ProjectID == winner.ProjectID {
		v.AddReason(g.Name + "_already_assign")
	} else {
		zap.L().Info("override gate forced assign",
			zap.String("gate", g.Name),
			zap.String("project_id", winner.ProjectID),
			zap.String("prior_decision", string(v.Decision)),
		)
		v.Decision = model.DecisionAssign
		v.ProjectID = &winner.ProjectID
		v.AddReason(g.Name + "_forced")
	}
	if v.Confidence < g.MinConfidence {
		v.Confidence = g.MinConfidence
	}
	return true
}

func gateCandidates(g *Gate, candidates []model.Candidate) []model.Candidate {
	var out []model.Candidate
	for _, c := range candidates {
		if g.projectRe.MatchString(c.Name) {
			out = append(out, c)
			continue
		}
		for _, alias := range c.Aliases {
			if g.projectRe.MatchString(alias) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
