package matching

import (
	"strings"
	"unicode"
)

// Scorer provides the string comparison algorithms used by field comparisons.
// All methods operate on runes so accented input compares sensibly.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	// Winkler boost for a common prefix of up to 4 characters
	prefixLen := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}
	return jaro + float64(prefixLen)*0.1*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func (s *Scorer) Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return jaro([]rune(a), []rune(b))
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))
	matches := 0

	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein returns 1 - distance/maxLen, so 1.0 is identical
func (s *Scorer) Levenshtein(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(ra, rb))/float64(maxLen)
}

// LevenshteinDistance calculates the edit distance between two strings
func (s *Scorer) LevenshteinDistance(a, b string) int {
	return levenshteinDistance([]rune(a), []rune(b))
}

func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)
	for j := range prevRow {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}
	return prevRow[len(b)]
}

// Soundex calculates the American Soundex code of the first word-like run of letters.
// Returns "" when there are no letters.
func (s *Scorer) Soundex(str string) string {
	letters := make([]rune, 0, len(str))
	for _, r := range strings.ToUpper(str) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteRune(letters[0])
	prevCode := soundexCode(letters[0])

	for _, r := range letters[1:] {
		if b.Len() == 4 {
			break
		}
		code := soundexCode(r)
		// H and W do not separate letters with the same code
		if r == 'H' || r == 'W' {
			continue
		}
		if code != '0' && code != prevCode {
			b.WriteByte(code)
		}
		prevCode = code
	}

	for b.Len() < 4 {
		b.WriteByte('0')
	}
	return b.String()
}

// SoundexMatch returns 1.0 if Soundex codes match, 0.0 otherwise
func (s *Scorer) SoundexMatch(a, b string) float64 {
	ca, cb := s.Soundex(a), s.Soundex(b)
	if ca != "" && ca == cb {
		return 1.0
	}
	return 0.0
}

func soundexCode(r rune) byte {
	switch r {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	default:
		return '0'
	}
}

// Metaphone calculates a simplified Metaphone encoding (first six consonant sounds)
func (s *Scorer) Metaphone(str string) string {
	var letters []byte
	for _, r := range strings.ToUpper(str) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, byte(r))
		}
	}
	if len(letters) == 0 {
		return ""
	}
	word := string(letters)

	var out strings.Builder
	prevCode := byte(0)
	for i := 0; i < len(word) && out.Len() < 6; i++ {
		code := metaphoneCode(word[i], i, word)
		if code != 0 && code != prevCode {
			out.WriteByte(code)
		}
		prevCode = code
	}
	return out.String()
}

func metaphoneCode(char byte, pos int, word string) byte {
	next := byte(0)
	if pos+1 < len(word) {
		next = word[pos+1]
	}
	switch char {
	case 'A', 'E', 'I', 'O', 'U':
		if pos == 0 {
			return char
		}
		return 0
	case 'C':
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'S'
		}
		if next == 'H' {
			return 'X'
		}
		return 'K'
	case 'D':
		return 'T'
	case 'G':
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'J'
		}
		return 'K'
	case 'H', 'W', 'Y':
		return 0
	case 'P':
		if next == 'H' {
			return 'F'
		}
		return 'P'
	case 'Q':
		return 'K'
	case 'V':
		return 'F'
	case 'X', 'Z':
		return 'S'
	default:
		if unicode.IsLetter(rune(char)) {
			return char
		}
		return 0
	}
}

// MetaphoneMatch returns 1.0 if Metaphone codes match, 0.0 otherwise
func (s *Scorer) MetaphoneMatch(a, b string) float64 {
	ca, cb := s.Metaphone(a), s.Metaphone(b)
	if ca != "" && ca == cb {
		return 1.0
	}
	return 0.0
}

// TokenSetSimilarity compares two multi-word values independent of word order:
// each token of the shorter side is paired with its best Jaro-Winkler partner.
func (s *Scorer) TokenSetSimilarity(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}

	var total float64
	for _, x := range ta {
		best := 0.0
		for _, y := range tb {
			if sim := s.JaroWinkler(x, y); sim > best {
				best = sim
			}
		}
		total += best
	}
	return total / float64(len(ta))
}

// NameSimilarity is the edit-distance ratio between two already-normalized names
func (s *Scorer) NameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	return s.Levenshtein(a, b)
}
