// Package classifier labels raw names and validates domain identifiers.
package classifier

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// NameClass is the category a raw name falls into
type NameClass string

const (
	LikelyPerson NameClass = "likely_person"
	Organization NameClass = "organization"
	Address      NameClass = "address"
	Garbage      NameClass = "garbage"
	Unknown      NameClass = "unknown"
)

// organizationKeywords are whole-word markers of businesses, agencies and groups.
var organizationKeywords = map[string]bool{
	"inc": true, "llc": true, "ltd": true, "corp": true, "corporation": true, "co": true,
	"company": true, "foundation": true, "rescue": true, "humane": true, "society": true,
	"shelter": true, "spca": true, "clinic": true, "hospital": true, "veterinary": true,
	"vet": true, "center": true, "services": true, "group": true, "association": true,
	"church": true, "school": true, "university": true, "county": true, "department": true,
	"dept": true, "control": true, "farm": true, "ranch": true, "apartments": true,
	"hoa": true, "trust": true, "partners": true, "network": true, "alliance": true,
	"project": true, "sanctuary": true, "coalition": true, "club": true, "store": true,
	"market": true, "motel": true, "hotel": true, "winery": true, "vineyard": true,
	"vineyards": true, "felines": true, "animals": true, "pets": true, "agency": true,
}

var organizationPhrases = []string{"city of", "county of", "animal control", "mobile home park", "property management"}

// streetKeywords maps street-type words to true for abbreviations and false for long
// forms. Long forms double as surnames ("Jane Lane", "Mary Court").
var streetKeywords = func() map[string]bool {
	m := map[string]bool{}
	for long, short := range normalizers.StreetTypes() {
		m[long] = false
		m[short] = true
	}
	return m
}()

var placeholderNames = map[string]bool{
	"unknown": true, "n/a": true, "na": true, "none": true, "test": true, "tbd": true,
	"null": true, "nil": true, "xxx": true, "asdf": true, "no name": true, "noname": true,
	"owner": true, "unknown owner": true, "test test": true, "anonymous": true, "anon": true,
	"same": true, "see notes": true, "-": true, "?": true,
}

var wordRe = regexp.MustCompile(`[\p{L}][\p{L}'\-]*`)

// ClassifyName runs the ordered rule cascade. Organization and address checks run before
// garbage and person checks; the categories are exclusive because the first rule that
// fires wins.
func ClassifyName(name string) NameClass {
	trimmed := strings.Join(strings.Fields(name), " ")
	if trimmed == "" {
		return Garbage
	}
	lower := strings.ToLower(trimmed)
	tokens := tokenize(lower)

	if isOrganization(lower, tokens) {
		return Organization
	}
	if isAddress(trimmed, tokens) {
		return Address
	}
	if isGarbage(trimmed, lower) {
		return Garbage
	}
	if isLikelyPerson(trimmed) {
		return LikelyPerson
	}
	return Unknown
}

func tokenize(lower string) []string {
	fields := strings.Fields(lower)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()&\"'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isOrganization(lower string, tokens []string) bool {
	if len(tokens) >= 2 && tokens[0] == "the" {
		return true
	}
	for _, tok := range tokens {
		if organizationKeywords[tok] {
			return true
		}
	}
	for _, phrase := range organizationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// isAddress fires on a leading digit, or on a street-type word after the first token
// when it is abbreviated or the value carries a house number somewhere.
func isAddress(trimmed string, tokens []string) bool {
	if unicode.IsDigit([]rune(trimmed)[0]) {
		return true
	}
	hasDigit := strings.IndexFunc(trimmed, unicode.IsDigit) >= 0
	for i, tok := range tokens {
		abbreviated, ok := streetKeywords[tok]
		if i > 0 && ok && (abbreviated || hasDigit) {
			return true
		}
	}
	return false
}

func isGarbage(trimmed, lower string) bool {
	if placeholderNames[lower] {
		return true
	}

	hasAlnum := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
			break
		}
	}
	if !hasAlnum {
		return true
	}

	if !strings.Contains(trimmed, " ") && len([]rune(trimmed)) > 1 && trimmed == strings.ToUpper(trimmed) && trimmed != strings.ToLower(trimmed) {
		return true
	}
	return false
}

func isLikelyPerson(trimmed string) bool {
	words := wordRe.FindAllString(trimmed, -1)

	long := 0
	for _, w := range words {
		if len([]rune(w)) >= 2 {
			long++
		}
	}
	if long >= 2 {
		return true
	}

	if len(strings.Fields(trimmed)) == 1 && len(words) == 1 {
		runes := []rune(words[0])
		return len(runes) >= 2 && unicode.IsUpper(runes[0]) && strings.ToLower(string(runes[1:])) == string(runes[1:])
	}
	return false
}
