package cascade

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/heartwood-builders/attribution/internal/model"
)

// ParseMode records how far down the repair ladder a response had to go
// before it decoded. Logged so drifting models surface in metrics.
type ParseMode string

const (
	ParseStrict    ParseMode = "strict"
	ParseFenced    ParseMode = "fenced"
	ParseSanitized ParseMode = "sanitized"
	ParseExtracted ParseMode = "extracted"
)

// Output is the decoded attribution response from a single model call.
type Output struct {
	Decision         model.Decision              `json:"decision"`
	ProjectID        *string                     `json:"project_id"`
	Confidence       float64                     `json:"confidence"`
	Reasoning        string                      `json:"reasoning"`
	Anchors          []model.Anchor              `json:"anchors"`
	SuggestedAliases []model.SuggestedAlias      `json:"suggested_aliases,omitempty"`
	WorldRefs        []model.WorldModelReference `json:"world_model_references,omitempty"`
}

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	controlCharRe   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// Parse decodes a model response, walking a repair ladder: strict JSON,
// then fence stripping, then control-char and trailing-comma cleanup, then
// extraction of the first balanced object from surrounding prose.
func Parse(raw string) (*Output, ParseMode, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", eris.New("cascade: empty model response")
	}

	if out, err := decode(raw); err == nil {
		return out, ParseStrict, nil
	}

	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		if out, err := decode(m[1]); err == nil {
			return out, ParseFenced, nil
		}
	}

	cleaned := controlCharRe.ReplaceAllString(raw, "")
	cleaned = trailingCommaRe.ReplaceAllString(cleaned, "$1")
	if out, err := decode(cleaned); err == nil {
		return out, ParseSanitized, nil
	}

	if obj := firstObject(cleaned); obj != "" {
		if out, err := decode(trailingCommaRe.ReplaceAllString(obj, "$1")); err == nil {
			return out, ParseExtracted, nil
		}
	}

	return nil, "", eris.New("cascade: response is not decodable JSON")
}

func decode(s string) (*Output, error) {
	var out Output
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if err := validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func validate(out *Output) error {
	if !out.Decision.Valid() {
		return eris.Errorf("cascade: unknown decision %q", out.Decision)
	}
	if out.Decision == model.DecisionAssign {
		if out.ProjectID == nil || *out.ProjectID == "" {
			return eris.New("cascade: assign decision without project_id")
		}
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	if out.ProjectID != nil && *out.ProjectID == "" {
		out.ProjectID = nil
	}
	return nil
}

// firstObject returns the first balanced top-level JSON object in s,
// respecting string literals and escapes.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
