// Package ledger persists per-word mastery outcomes.
//
// A ledger holds at most one [MasteryRecord] per word. Writing a record for a
// word that already has one replaces it (last write wins) but keeps the
// word's original position, so [Ledger.ReadAll] always returns records in the
// order each word was first written.
//
// Words are matched case-insensitively: "cat" and "CAT" share one record and
// the stored spelling is that of the newest write. Curriculum words are
// canonical upper case, so in practice the two spellings never differ.
package ledger

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// ErrWrite wraps every failure to persist a change. Callers treat it as
// non-fatal: gameplay continues without the record.
var ErrWrite = errors.New("ledger: write failed")

// MasteryRecord is the persisted outcome of the last evaluated attempt on a
// word.
type MasteryRecord struct {
	Word      string    `json:"word"`
	Accuracy  int       `json:"accuracy"`
	Mastered  bool      `json:"mastered"`
	Level     int       `json:"level"`
	Timestamp time.Time `json:"date"`
}

// Ledger is the read/write contract for mastery records. Implementations must
// be safe for concurrent use.
type Ledger interface {
	// Upsert inserts rec or replaces the record with the same word.
	Upsert(ctx context.Context, rec MasteryRecord) error

	// ReadAll returns every record in first-write order.
	ReadAll(ctx context.Context) ([]MasteryRecord, error)

	// Clear removes all records.
	Clear(ctx context.Context) error
}

// Key returns the normalised lookup key for a word.
func Key(word string) string {
	return strings.ToUpper(strings.TrimSpace(word))
}

// Report summarises a set of records the way the progress screen shows them.
type Report struct {
	Mastered        []MasteryRecord `json:"mastered"`
	PracticeLater   []MasteryRecord `json:"practice_later"`
	AverageAccuracy int             `json:"average_accuracy"`
	Total           int             `json:"total"`
}

// Summarize splits records into mastered and practice-later lists and
// computes the rounded mean accuracy. Order within each list follows recs.
func Summarize(recs []MasteryRecord) Report {
	r := Report{
		Mastered:      []MasteryRecord{},
		PracticeLater: []MasteryRecord{},
		Total:         len(recs),
	}
	if len(recs) == 0 {
		return r
	}
	sum := 0
	for _, rec := range recs {
		sum += rec.Accuracy
		if rec.Mastered {
			r.Mastered = append(r.Mastered, rec)
		} else {
			r.PracticeLater = append(r.PracticeLater, rec)
		}
	}
	r.AverageAccuracy = int(math.Round(float64(sum) / float64(len(recs))))
	return r
}
