package curriculum

import (
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape of a curriculum.
//
// Example:
//
//	levels:
//	  - level: 1
//	    words: [SUN, CAT, DOG, BALL]
//	  - level: 2
//	    words: [APPLE, TIGER]
//	time_attack:
//	  levels: [1, 2]
type File struct {
	Levels     []LevelEntry   `yaml:"levels"`
	TimeAttack TimeAttackPool `yaml:"time_attack"`
}

// LevelEntry is one level of a curriculum file.
type LevelEntry struct {
	Level int      `yaml:"level"`
	Words []string `yaml:"words"`
}

// TimeAttackPool selects the levels whose words are drawn in time-attack mode.
type TimeAttackPool struct {
	Levels []int `yaml:"levels"`
}

// Load reads and validates a curriculum file from disk.
func Load(path string) (*Curriculum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("curriculum: open %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("curriculum: load %q: %w", path, err)
	}
	return c, nil
}

// LoadFromReader parses curriculum YAML. Levels may appear in any order in
// the file but must be numbered contiguously from 1.
func LoadFromReader(r io.Reader) (*Curriculum, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("curriculum: decode yaml: %w", err)
	}
	return f.Build()
}

// Build converts the parsed file into a validated [Curriculum].
func (f *File) Build() (*Curriculum, error) {
	entries := slices.Clone(f.Levels)
	slices.SortFunc(entries, func(a, b LevelEntry) int { return a.Level - b.Level })

	levels := make([][]string, 0, len(entries))
	for i, e := range entries {
		if e.Level != i+1 {
			return nil, fmt.Errorf("curriculum: levels must be numbered contiguously from 1, found %d at position %d", e.Level, i+1)
		}
		levels = append(levels, e.Words)
	}

	var pool []int
	if len(f.TimeAttack.Levels) > 0 {
		pool = f.TimeAttack.Levels
	}
	return New(levels, pool)
}
