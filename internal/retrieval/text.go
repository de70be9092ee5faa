package retrieval

import (
	"math"
	"regexp"
	"strings"

	"github.com/twpayne/go-geom"
)

var speakerLabelRe = regexp.MustCompile(`(^|\n)\s*[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\s*:`)

// StripSpeakerLabels removes "Name:" prefixes so speaker names never match
// as alias terms.
func StripSpeakerLabels(text string) string {
	return speakerLabelRe.ReplaceAllString(text, "$1")
}

// FindTerm returns the index of the first word-boundary occurrence of term
// in text, or -1. Occurrences embedded in longer words are skipped, not
// fatal. Both arguments must already be lowercased.
func FindTerm(textLower, termLower string) int {
	if termLower == "" {
		return -1
	}
	for from := 0; from+len(termLower) <= len(textLower); {
		idx := strings.Index(textLower[from:], termLower)
		if idx < 0 {
			return -1
		}
		idx += from

		before := byte(' ')
		if idx > 0 {
			before = textLower[idx-1]
		}
		after := byte(' ')
		if end := idx + len(termLower); end < len(textLower) {
			after = textLower[end]
		}
		if !isWordChar(before) && !isWordChar(after) {
			return idx
		}
		from = idx + 1
	}
	return -1
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// NormalizeTerms dedupes terms case-insensitively and drops terms shorter
// than four characters, which are too ambiguous to scan for.
func NormalizeTerms(terms []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		low := strings.ToLower(t)
		if seen[low] || len(low) < 4 {
			continue
		}
		seen[low] = true
		out = append(out, t)
	}
	return out
}

// SnippetAround extracts up to 100 characters of context around a match.
func SnippetAround(text string, idx, termLen int) string {
	const radius = 40
	if text == "" || idx < 0 {
		return ""
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + termLen + radius
	if end > len(text) {
		end = len(text)
	}
	snippet := strings.TrimSpace(collapseWhitespace(text[start:end]))
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet = snippet + "..."
	}
	if len(snippet) > 100 {
		snippet = snippet[:100]
	}
	return snippet
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespaceRe.ReplaceAllString(s, " ")
}

// SmartWindow truncates a transcript to maxChars, windowed around the match
// positions so anchor evidence survives truncation. Returns the windowed
// text and whether truncation happened.
func SmartWindow(transcript string, matchPositions []int, maxChars int) (string, bool) {
	if len(transcript) <= maxChars {
		return transcript, false
	}
	if len(matchPositions) == 0 {
		return transcript[:maxChars] + "...", true
	}

	first, last := matchPositions[0], matchPositions[0]
	for _, p := range matchPositions[1:] {
		if p < first {
			first = p
		}
		if p > last {
			last = p
		}
	}

	span := last - first
	start := first - (maxChars-span)/2
	if start < 0 {
		start = 0
	}
	end := start + maxChars
	if end > len(transcript) {
		end = len(transcript)
	}

	text := transcript[start:end]
	if start > 0 {
		text = "..." + text
	}
	if end < len(transcript) {
		text = text + "..."
	}
	return text, true
}

const earthRadiusKM = 6371

// HaversineKM returns the great-circle distance in kilometers between two
// lon/lat coordinates.
func HaversineKM(a, b geom.Coord) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	lat1, lon1 := toRad(a.Y()), toRad(a.X())
	lat2, lon2 := toRad(b.Y()), toRad(b.X())

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
