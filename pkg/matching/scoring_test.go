package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"martha", "martha", 1, 1},
		{"martha", "marhta", 0.96, 0.962},
		{"dwayne", "duane", 0.83, 0.85},
		{"abc", "", 0, 0},
		{"josé", "jose", 0.88, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			got := s.JaroWinkler(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestScorer_Levenshtein(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 3, s.LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 0, s.LevenshteinDistance("", ""))
	assert.Equal(t, 4, s.LevenshteinDistance("", "abcd"))
	assert.Equal(t, 1, s.LevenshteinDistance("café", "cafe"), "runes, not bytes")

	assert.InDelta(t, 1-3.0/7.0, s.Levenshtein("kitten", "sitting"), 1e-9)
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
}

func TestScorer_Soundex(t *testing.T) {
	s := NewScorer()

	tests := map[string]string{
		"Robert":  "R163",
		"Rupert":  "R163",
		"Tymczak": "T522",
		"Pfister": "P236",
		"Lee":     "L000",
		"O'Hara":  "O600",
		"123":     "",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, s.Soundex(in))
		})
	}

	assert.Equal(t, 1.0, s.SoundexMatch("Robert", "Rupert"))
	assert.Equal(t, 0.0, s.SoundexMatch("", ""))
}

func TestScorer_Metaphone(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, s.Metaphone("Phil"), s.Metaphone("Fil"))
	assert.Equal(t, 1.0, s.MetaphoneMatch("Kathy", "Cathy"))
	assert.Equal(t, 0.0, s.MetaphoneMatch("Tom", "Max"))
	assert.Empty(t, s.Metaphone("42"))
}

func TestScorer_TokenSetSimilarity(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.TokenSetSimilarity("black white", "white black"))
	assert.Equal(t, 1.0, s.TokenSetSimilarity("tabby", "brown tabby"))
	assert.Equal(t, 0.0, s.TokenSetSimilarity("", "tabby"))
	assert.Less(t, s.TokenSetSimilarity("siamese", "calico"), 0.85)
}

func TestScorer_NameSimilarity(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.NameSimilarity("ann lee", "ann lee"))
	assert.Equal(t, 0.0, s.NameSimilarity("", "ann lee"))
	assert.Greater(t, s.NameSimilarity("jon smith", "john smith"), 0.85)
	assert.Less(t, s.NameSimilarity("ann lee", "bob jones"), 0.5)
}
