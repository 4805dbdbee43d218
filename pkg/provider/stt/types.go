package stt

import (
	"strings"
	"time"
)

// Transcript represents a speech-to-text result from an STT provider.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a keyword to boost in STT recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "BANANA").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Join merges the finals of one session into a single transcript. Text is
// joined with spaces and the confidence is the mean over non-empty finals.
func Join(finals []Transcript) Transcript {
	var (
		parts []string
		words []WordDetail
		sum   float64
		dur   time.Duration
	)
	for _, f := range finals {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		sum += f.Confidence
		words = append(words, f.Words...)
		dur += f.Duration
	}
	if len(parts) == 0 {
		return Transcript{}
	}
	return Transcript{
		Text:       strings.Join(parts, " "),
		Confidence: sum / float64(len(parts)),
		Words:      words,
		Duration:   dur,
	}
}
