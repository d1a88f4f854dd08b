package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Tiered candidate generation constants
const (
	TierPhoneConfidence       = 1.0
	TierEmailConfidence       = 0.98
	TierNameMinSimilarity     = 0.7
	TierAreaCodeBase          = 0.85
	TierAreaCodeNameWeight    = 0.1
	TierNameOnlyBase          = 0.50
	TierNameOnlyNameWeight    = 0.3
	MinCandidateConfidence    = 0.40
	MaxCandidatesPerSource    = 5
	MinCandidateDisplayLength = 2
)

// Evidence labels recorded in CandidateEvidence.MatchedOn
const (
	MatchedOnPhone    = "phone"
	MatchedOnEmail    = "email"
	MatchedOnName     = "name_fuzzy"
	MatchedOnAreaCode = "area_code"
)

// GenerateTieredCandidates suggests canonical persons for each unlinked source record.
// Each source keeps at most MaxCandidatesPerSource suggestions, highest confidence first.
// Nothing is linked; the output feeds human review.
func GenerateTieredCandidates(sources []models.SourceRecord, people []models.CanonicalPerson) []models.MatchCandidate {
	scorer := NewScorer()

	prepared := make([]preparedPerson, 0, len(people))
	for _, p := range people {
		if len([]rune(strings.TrimSpace(p.DisplayName))) < MinCandidateDisplayLength {
			continue
		}
		prepared = append(prepared, prepare(p))
	}

	var out []models.MatchCandidate
	for _, src := range sources {
		if len([]rune(strings.TrimSpace(src.DisplayName))) < MinCandidateDisplayLength {
			continue
		}
		s := prepareSource(src)

		var found []models.MatchCandidate
		for _, p := range prepared {
			if c, ok := scoreTiered(scorer, s, p); ok {
				found = append(found, c)
			}
		}
		sort.SliceStable(found, func(i, j int) bool {
			return found[i].Confidence > found[j].Confidence
		})
		if len(found) > MaxCandidatesPerSource {
			found = found[:MaxCandidatesPerSource]
		}
		out = append(out, found...)
	}
	return out
}

type preparedPerson struct {
	models.CanonicalPerson
	name, email, phone string
}

type preparedSource struct {
	models.SourceRecord
	name, email, phone string
}

func normalizedOrEmpty(fn normalizers.Normalizer, v string) string {
	out, err := fn(v)
	if err != nil {
		return ""
	}
	return out
}

func prepare(p models.CanonicalPerson) preparedPerson {
	return preparedPerson{
		CanonicalPerson: p,
		name:            normalizedOrEmpty(normalizers.NormalizeName, p.DisplayName),
		email:           normalizedOrEmpty(normalizers.NormalizeEmail, p.Email),
		phone:           normalizedOrEmpty(normalizers.NormalizePhone, p.Phone),
	}
}

func prepareSource(s models.SourceRecord) preparedSource {
	return preparedSource{
		SourceRecord: s,
		name:         normalizedOrEmpty(normalizers.NormalizeName, s.DisplayName),
		email:        normalizedOrEmpty(normalizers.NormalizeEmail, s.Email),
		phone:        normalizedOrEmpty(normalizers.NormalizePhone, s.Phone),
	}
}

func scoreTiered(scorer *Scorer, s preparedSource, p preparedPerson) (models.MatchCandidate, bool) {
	var (
		matchedOn  []string
		confidence float64
		ev         models.CandidateEvidence
	)

	if s.phone != "" && s.phone == p.phone && len(s.phone) >= MinPhoneDigits {
		matchedOn = append(matchedOn, MatchedOnPhone)
		confidence = math.Max(confidence, TierPhoneConfidence)
		ev.PhoneMatch = true
	}
	if s.email != "" && s.email == p.email {
		matchedOn = append(matchedOn, MatchedOnEmail)
		confidence = math.Max(confidence, TierEmailConfidence)
		ev.EmailMatch = true
	}

	sim := scorer.NameSimilarity(s.name, p.name)
	if sim >= TierNameMinSimilarity {
		matchedOn = append(matchedOn, MatchedOnName)
		if normalizers.AreaCode(s.phone) != "" && normalizers.AreaCode(s.phone) == normalizers.AreaCode(p.phone) {
			matchedOn = append(matchedOn, MatchedOnAreaCode)
			confidence = math.Max(confidence, TierAreaCodeBase+sim*TierAreaCodeNameWeight)
		} else {
			confidence = math.Max(confidence, TierNameOnlyBase+sim*TierNameOnlyNameWeight)
		}
	}

	if len(matchedOn) == 0 || confidence < MinCandidateConfidence {
		return models.MatchCandidate{}, false
	}

	ev.MatchedOn = matchedOn
	ev.NameSimilarity = round3(sim)
	ev.Tier = tierFor(confidence)
	ev.SourceName = s.DisplayName
	ev.SourceEmail = s.Email
	ev.SourcePhone = s.Phone

	return models.MatchCandidate{
		SourceSystem:      s.SourceSystem,
		SourceRecordID:    s.SourceRecordID,
		CandidateEntityID: p.EntityID,
		Confidence:        round3(confidence),
		Evidence:          ev,
		Status:            models.MatchCandidateStatusOpen,
	}, true
}

func tierFor(confidence float64) int {
	switch {
	case confidence >= 0.95:
		return 0
	case confidence >= 0.80:
		return 1
	case confidence >= 0.50:
		return 2
	default:
		return 3
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
