// Package curriculum holds the ordered level → word tables that drive a
// practice session, and the pooled vocabulary used by time-attack rounds.
//
// A Curriculum is immutable once built. Words are stored in canonical upper
// case so that downstream consumers (scoring, the mastery ledger) can rely on
// a single spelling per word.
package curriculum

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/vocalis/internal/scoring"
)

// WordItem is a single practice target.
type WordItem struct {
	// Text is the word or sentence the player must say, in upper case.
	Text string `json:"text"`

	// Level is the 1-based level this item belongs to.
	Level int `json:"level"`
}

// Curriculum is a validated, read-only set of levels.
type Curriculum struct {
	levels     [][]WordItem
	poolLevels []int
	pool       []WordItem
}

// DefaultPoolLevels are the levels whose words make up the time-attack pool
// when a curriculum does not name them explicitly.
var DefaultPoolLevels = []int{1, 2}

// New builds a Curriculum from level tables. levels[0] is level 1.
// poolLevels selects the time-attack vocabulary; nil means [DefaultPoolLevels]
// restricted to the levels that exist.
func New(levels [][]string, poolLevels []int) (*Curriculum, error) {
	c := &Curriculum{levels: make([][]WordItem, len(levels))}
	for i, words := range levels {
		items := make([]WordItem, 0, len(words))
		for _, w := range words {
			items = append(items, WordItem{Text: canonical(w), Level: i + 1})
		}
		c.levels[i] = items
	}

	if poolLevels == nil {
		for _, l := range DefaultPoolLevels {
			if l <= len(levels) {
				poolLevels = append(poolLevels, l)
			}
		}
	}
	c.poolLevels = slices.Clone(poolLevels)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	for _, l := range c.poolLevels {
		c.pool = append(c.pool, c.levels[l-1]...)
	}
	return c, nil
}

// Default returns the built-in three-level curriculum.
func Default() *Curriculum {
	c, err := New([][]string{
		{"SUN", "CAT", "DOG", "BALL"},
		{"APPLE", "TIGER", "FLOWER", "BANANA"},
		{"THE CAT IS SLEEPING", "I LIKE ICE CREAM", "THE SUN IS BRIGHT", "DOGS LOVE BONES"},
	}, nil)
	if err != nil {
		panic(fmt.Sprintf("curriculum: built-in table is invalid: %v", err))
	}
	return c
}

// Validate checks that levels are non-empty, every word normalises to
// something scoreable, and the time-attack pool references existing levels.
// All problems are reported together.
func (c *Curriculum) Validate() error {
	var errs []error
	if len(c.levels) == 0 {
		errs = append(errs, errors.New("curriculum: at least one level is required"))
	}
	for i, items := range c.levels {
		if len(items) == 0 {
			errs = append(errs, fmt.Errorf("curriculum: level %d has no words", i+1))
		}
		for j, it := range items {
			if strings.TrimSpace(scoring.Normalize(it.Text)) == "" {
				errs = append(errs, fmt.Errorf("curriculum: level %d word %d (%q) has no letters", i+1, j, it.Text))
			}
		}
	}
	if len(c.poolLevels) == 0 && len(c.levels) > 0 {
		errs = append(errs, errors.New("curriculum: time-attack pool must name at least one level"))
	}
	for _, l := range c.poolLevels {
		if l < 1 || l > len(c.levels) {
			errs = append(errs, fmt.Errorf("curriculum: time-attack pool level %d does not exist", l))
		}
	}
	return errors.Join(errs...)
}

// Levels returns the number of levels.
func (c *Curriculum) Levels() int { return len(c.levels) }

// Words returns a copy of the ordered items for level (1-based). It returns
// nil for a level that does not exist.
func (c *Curriculum) Words(level int) []WordItem {
	if level < 1 || level > len(c.levels) {
		return nil
	}
	return slices.Clone(c.levels[level-1])
}

// Word returns the item at index within level.
func (c *Curriculum) Word(level, index int) (WordItem, bool) {
	if level < 1 || level > len(c.levels) {
		return WordItem{}, false
	}
	items := c.levels[level-1]
	if index < 0 || index >= len(items) {
		return WordItem{}, false
	}
	return items[index], true
}

// Pool returns a copy of the time-attack vocabulary.
func (c *Curriculum) Pool() []WordItem {
	return slices.Clone(c.pool)
}

// PoolSize returns the number of items in the time-attack pool.
func (c *Curriculum) PoolSize() int { return len(c.pool) }

// PoolItem returns the i-th time-attack item. i must be in [0, PoolSize()).
func (c *Curriculum) PoolItem(i int) WordItem { return c.pool[i] }

// Find returns the item whose text matches word case-insensitively.
func (c *Curriculum) Find(word string) (WordItem, bool) {
	w := canonical(word)
	for _, items := range c.levels {
		for _, it := range items {
			if it.Text == w {
				return it, true
			}
		}
	}
	return WordItem{}, false
}

func canonical(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
