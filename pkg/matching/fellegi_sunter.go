package matching

import (
	"math"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Compare scores one field. Absent values on either side contribute nothing.
func (s *Scorer) Compare(f FieldParam, a, b string) models.FieldScore {
	fs := models.FieldScore{Field: f.Name, Outcome: models.FieldAbsent}
	if a == "" || b == "" {
		return fs
	}

	var sim float64
	threshold := f.Threshold
	switch f.Comparison {
	case CompareJaroWinkler:
		sim = s.JaroWinkler(a, b)
	case CompareLevenshtein:
		sim = s.Levenshtein(a, b)
	case CompareTokenSet:
		sim = s.TokenSetSimilarity(a, b)
	case CompareSoundex:
		sim = s.SoundexMatch(a, b)
		threshold = 1
	case CompareMetaphone:
		sim = s.MetaphoneMatch(a, b)
		threshold = 1
	case ComparePrefix:
		sim = prefixMatch(a, b, f.Length)
		threshold = 1
	default:
		sim = s.ExactMatch(a, b)
		threshold = 1
	}
	if threshold == 0 {
		threshold = 1
	}

	agree, disagree := f.Weights()
	fs.Similarity = sim
	if sim >= threshold {
		fs.Outcome = models.FieldAgree
		fs.Weight = agree
	} else {
		fs.Outcome = models.FieldDisagree
		fs.Weight = disagree
	}
	return fs
}

func prefixMatch(a, b string, n int) float64 {
	if len(a) < n || len(b) < n {
		return 0
	}
	if strings.EqualFold(a[:n], b[:n]) {
		return 1
	}
	return 0
}

// ScoreRecord sums field weights between a candidate and an existing record
func (s *Scorer) ScoreRecord(kp KindParams, candidate, existing Record) (float64, []models.FieldScore) {
	scores := make([]models.FieldScore, 0, len(kp.Fields))
	var total float64
	for _, f := range kp.Fields {
		fs := s.Compare(f, candidate.Fields[f.SourceField()], existing.Fields[f.SourceField()])
		total += fs.Weight
		scores = append(scores, fs)
	}
	return total, scores
}

// Probability converts a log2 composite score to a match probability
func Probability(score float64) float64 {
	return 1 / (1 + math.Pow(2, -score))
}

// Classify places a composite score in exactly one decision band
func Classify(score float64, t Thresholds) models.DecisionKind {
	switch {
	case score >= t.Upper:
		return models.DecisionAutoMatch
	case score >= t.Lower:
		return models.DecisionReviewPending
	default:
		return models.DecisionNewEntity
	}
}
