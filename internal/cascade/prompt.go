package cascade

import (
	"fmt"
	"strings"

	"github.com/heartwood-builders/attribution/internal/guardrail"
	"github.com/heartwood-builders/attribution/internal/model"
	"github.com/heartwood-builders/attribution/internal/retrieval"
)

const systemPrompt = `You attribute phone call transcript segments to construction projects for a custom home builder.

You receive one transcript segment and a list of candidate projects with retrieval evidence. Decide which project, if any, the segment is about.

Rules:
- decision "assign" only when the transcript itself contains evidence tying the segment to one project. Call-history frequency alone is never enough.
- decision "review" when a project is plausible but the evidence is ambiguous or weak.
- decision "none" when the segment is not about any candidate project.
- Every anchor quote must be copied verbatim from the transcript. Do not paraphrase, do not invent.
- Company staff names are never evidence. The names listed as staff are employees who appear on every call; anchoring on them is an error.
- A city or a caller's name shared by several projects supports "review" at most.
- world_model_references may only cite facts shown in the project fact sections, with the fact_kind and an excerpt of the fact as shown.

Respond with a single JSON object and nothing else:
{
  "decision": "assign" | "review" | "none",
  "project_id": "<candidate project id or null>",
  "confidence": <0.0-1.0>,
  "reasoning": "<one or two sentences>",
  "anchors": [{"text": "<evidence term>", "candidate_project_id": "<id>", "match_type": "<exact_project_name|alias|address_fragment|client_name|city_or_location|mentioned_contact|phonetic_or_pronunciation|continuity_callback|other>", "quote": "<verbatim transcript quote>"}],
  "suggested_aliases": [{"project_id": "<id>", "alias_term": "<term>", "rationale": "<why>"}],
  "world_model_references": [{"project_id": "<id>", "fact_kind": "<kind>", "fact_as_of_at": "<date>", "fact_excerpt": "<excerpt>", "relevance": "<why it matters>"}]
}`

// PromptBuilder renders the per-span user prompt from the assembled
// retrieval context.
type PromptBuilder struct {
	staffNames         []string
	maxFactsPerProject int
}

func NewPromptBuilder(staffNames []string, maxFactsPerProject int) *PromptBuilder {
	return &PromptBuilder{staffNames: staffNames, maxFactsPerProject: maxFactsPerProject}
}

// System returns the shared system prompt. Identical across stages so
// provider prompt caches stay warm.
func (b *PromptBuilder) System() string {
	return systemPrompt
}

// User renders the transcript, contact context, candidates, and per-project
// facts into the user message.
func (b *PromptBuilder) User(asm *retrieval.Assembly, interaction model.Interaction, contact model.Contact, facts map[string][]model.Fact) string {
	var sb strings.Builder

	if len(b.staffNames) > 0 {
		fmt.Fprintf(&sb, "Staff (never evidence): %s\n\n", strings.Join(b.staffNames, ", "))
	}

	fmt.Fprintf(&sb, "Caller: %s", orUnknown(interaction.ContactName))
	if contact.Floater {
		sb.WriteString(" [works across multiple projects]")
	}
	if contact.Internal {
		sb.WriteString(" [internal staff]")
	}
	sb.WriteString("\n")
	if interaction.ProjectID != "" {
		fmt.Fprintf(&sb, "Call already attached to project: %s\n", interaction.ProjectID)
	}
	sb.WriteString("\n")

	sb.WriteString("Candidate projects:\n")
	for i, c := range asm.Candidates {
		fmt.Fprintf(&sb, "%d. %s (id: %s)", i+1, c.Name, c.ProjectID)
		if c.Address != "" {
			fmt.Fprintf(&sb, " at %s", c.Address)
		}
		if c.ClientName != "" {
			fmt.Fprintf(&sb, ", client %s", c.ClientName)
		}
		sb.WriteString("\n")
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&sb, "   aliases: %s\n", strings.Join(c.Aliases, ", "))
		}
		writeEvidence(&sb, &c.Evidence)
		if projectFacts := facts[c.ProjectID]; len(projectFacts) > 0 {
			capped := guardrail.CapFacts(projectFacts, b.maxFactsPerProject)
			fmt.Fprintf(&sb, "   known facts (%d):\n", len(capped))
			for _, f := range capped {
				fmt.Fprintf(&sb, "   - [%s, as of %s] %s\n",
					f.Kind, f.AsOf.Format("2006-01-02"), factExcerpt(f))
			}
		}
	}

	sb.WriteString("\nTranscript segment:\n")
	sb.WriteString(asm.Transcript)
	sb.WriteString("\n")
	return sb.String()
}

func writeEvidence(sb *strings.Builder, e *model.Evidence) {
	var parts []string
	if e.Assigned {
		parts = append(parts, "already assigned to this call's interaction")
	}
	if e.AffinityWeight > 0 {
		parts = append(parts, fmt.Sprintf("call-history affinity %.2f", e.AffinityWeight))
	}
	for _, m := range e.AliasMatches {
		part := fmt.Sprintf("transcript mentions %q (%s)", m.Term, m.MatchType)
		if m.Snippet != "" {
			part += fmt.Sprintf(": %s", m.Snippet)
		}
		parts = append(parts, part)
	}
	if e.ClaimScore > 0 {
		parts = append(parts, fmt.Sprintf("topic overlap with prior calls %.3f (%s)",
			e.ClaimScore, strings.Join(e.ClaimTopics, ", ")))
	}
	if e.GeoDistanceKM != nil {
		parts = append(parts, fmt.Sprintf("mentioned place is %.1fkm from the site", *e.GeoDistanceKM))
	}
	if e.TierLabel != "" {
		parts = append(parts, "evidence tier: "+e.TierLabel)
	}
	for _, p := range parts {
		fmt.Fprintf(sb, "   evidence: %s\n", p)
	}
}

func factExcerpt(f model.Fact) string {
	const maxLen = 180
	text := strings.TrimSpace(guardrail.FactText(f))
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}
	return text
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
