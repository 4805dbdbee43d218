// Package scoring implements the pronunciation similarity metric and the
// derived overall score used to grade a single attempt.
//
// The metric is positional, not edit-distance based: it compares the
// normalised transcript against the expected text character by character and
// grants a small leniency bonus to near-miss transcriptions whose length is
// off by at most one letter.
package scoring

import (
	"math"
	"strings"
)

const (
	// SuccessThreshold is the minimum overall score that counts as mastery.
	SuccessThreshold = 80

	// leniencyFloor is the raw score at which the length-tolerance bonus applies.
	leniencyFloor = 70

	// leniencyBonus is added to qualifying raw scores, capped at 100.
	leniencyBonus = 20
)

// Normalize upper-cases s and drops every rune that is not an ASCII letter
// or a space.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Score returns the 0–100 similarity between a spoken transcript and the
// expected text. It is pure and deterministic.
func Score(spoken, expected string) int {
	s := Normalize(spoken)
	e := Normalize(expected)

	if s == "" {
		return 0
	}
	if s == e {
		return 100
	}

	matches := 0
	for i := 0; i < len(e); i++ {
		if i < len(s) && s[i] == e[i] {
			matches++
		}
	}

	raw := int(math.Round(100 * float64(matches) / float64(max(len(s), len(e)))))

	diff := len(s) - len(e)
	if diff < 0 {
		diff = -diff
	}
	if raw >= leniencyFloor && diff <= 1 {
		return min(100, raw+leniencyBonus)
	}
	return raw
}

// Overall blends transcription confidence (0–1) with similarity accuracy
// (0–100) into the 0–100 score used for grading. Confidence is clamped to
// [0, 1] and accuracy to [0, 100].
func Overall(confidence float64, accuracy int) int {
	if math.IsNaN(confidence) || confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	accuracy = max(0, min(100, accuracy))
	return int(math.Round(confidence*50 + float64(accuracy)*0.5))
}

// IsSuccess reports whether an overall score counts as a successful attempt.
func IsSuccess(overall int) bool {
	return overall >= SuccessThreshold
}

// Stars maps an overall score to the 0–3 star rating shown to the player.
func Stars(overall int) int {
	switch {
	case IsSuccess(overall):
		return 3
	case overall > 50:
		return 2
	case overall > 0:
		return 1
	default:
		return 0
	}
}
