package curriculum

import (
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"
)

// similarThreshold is the Jaro-Winkler score above which two distinct items
// are considered easy to confuse for a speech recogniser.
const similarThreshold = 0.90

// Collision names two curriculum items that sound alike.
type Collision struct {
	A, B WordItem

	// Phonetic is true when both items share a Double Metaphone code.
	Phonetic bool

	// Similarity is the Jaro-Winkler score of the two lower-cased texts.
	Similarity float64
}

// Lint reports pairs of items that a transcription service is likely to
// confuse. Collisions do not make a curriculum invalid: they are surfaced so
// that authors can reorder or replace words.
func (c *Curriculum) Lint() []Collision {
	var all []WordItem
	for _, items := range c.levels {
		all = append(all, items...)
	}

	var out []Collision
	for i := 0; i < len(all); i++ {
		ai := strings.ToLower(strings.ReplaceAll(all[i].Text, " ", ""))
		ap, as := matchr.DoubleMetaphone(ai)
		for j := i + 1; j < len(all); j++ {
			if all[i].Text == all[j].Text {
				continue
			}
			bj := strings.ToLower(strings.ReplaceAll(all[j].Text, " ", ""))
			bp, bs := matchr.DoubleMetaphone(bj)

			phonetic := ap != "" && (ap == bp || (as != "" && as == bs))
			sim := matchr.JaroWinkler(ai, bj, false)
			if phonetic || sim >= similarThreshold {
				out = append(out, Collision{A: all[i], B: all[j], Phonetic: phonetic, Similarity: sim})
			}
		}
	}
	return out
}

// LogCollisions runs [Curriculum.Lint] and writes one warning per collision.
func (c *Curriculum) LogCollisions(logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	cs := c.Lint()
	for _, col := range cs {
		logger.Warn("curriculum: items sound alike",
			"a", col.A.Text, "a_level", col.A.Level,
			"b", col.B.Text, "b_level", col.B.Level,
			"phonetic", col.Phonetic,
			"similarity", col.Similarity,
		)
	}
	return len(cs)
}
