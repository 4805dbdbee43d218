package scoring

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"cat", "CAT"},
		{"Cat!", "CAT"},
		{"the cat, is sleeping.", "THE CAT IS SLEEPING"},
		{"I'm 5", "IM "},
		{"ÄPFEL", "PFEL"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		spoken   string
		expected string
		want     int
	}{
		{"identical", "CAT", "CAT", 100},
		{"identical after normalisation", "cat!", "CAT", 100},
		{"empty spoken", "", "CAT", 0},
		{"spoken only punctuation", "?!", "CAT", 0},
		{"one substitution no leniency", "KAT", "CAT", 67},
		{"one extra letter with leniency", "CATS", "CAT", 95},
		{"one missing letter with leniency", "BAL", "BALL", 95},
		{"two missing letters", "BA", "BALL", 50},
		{"nothing in common", "DOG", "CAT", 0},
		{"sentence near miss capped", "the cat is sleepin", "THE CAT IS SLEEPING", 100},
		{"shifted sentence", "A CAT IS SLEEPING", "THE CAT IS SLEEPING", 5},
		{"longer spoken text", "SUNNY DAY", "SUN", 33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tt.spoken, tt.expected); got != tt.want {
				t.Errorf("Score(%q, %q) = %d, want %d", tt.spoken, tt.expected, got, tt.want)
			}
		})
	}
}

func TestScore_SelfIsPerfect(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"SUN", "banana", "I LIKE ICE CREAM", "dogs love bones!"} {
		if got := Score(s, s); got != 100 {
			t.Errorf("Score(%q, %q) = %d, want 100", s, s, got)
		}
		if got := Score("", s); got != 0 {
			t.Errorf("Score(\"\", %q) = %d, want 0", s, got)
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	first := Score("TIGR", "TIGER")
	for i := 0; i < 100; i++ {
		if got := Score("TIGR", "TIGER"); got != first {
			t.Fatalf("call %d returned %d, first call returned %d", i, got, first)
		}
	}
}

func TestOverall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		confidence float64
		accuracy   int
		want       int
	}{
		{0.9, 100, 95},
		{1.0, 60, 80},
		{0.5, 67, 59},
		{0, 100, 50},
		{1.5, 100, 100},
		{-1, 0, 0},
		{0.8, 150, 90},
	}
	for _, tt := range tests {
		if got := Overall(tt.confidence, tt.accuracy); got != tt.want {
			t.Errorf("Overall(%v, %d) = %d, want %d", tt.confidence, tt.accuracy, got, tt.want)
		}
	}
}

func TestStars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		overall int
		want    int
	}{
		{100, 3},
		{80, 3},
		{79, 2},
		{51, 2},
		{50, 1},
		{1, 1},
		{0, 0},
	}
	for _, tt := range tests {
		if got := Stars(tt.overall); got != tt.want {
			t.Errorf("Stars(%d) = %d, want %d", tt.overall, got, tt.want)
		}
	}
}
