// Package normalizers canonicalizes raw field values before matching.
//
// Every normalizer is pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
// Empty input yields ErrEmptyValue and unusable input yields ErrInvalidValue; callers
// treat either as an absent field.
package normalizers

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrEmptyValue is returned for nil-equivalent input.
	ErrEmptyValue = errors.New("empty value")
	// ErrInvalidValue is returned when input cannot be normalized into a usable value.
	ErrInvalidValue = errors.New("invalid value")
)

// Normalizer normalizes a single raw value
type Normalizer func(string) (string, error)

var registry = map[string]Normalizer{
	"email":   NormalizeEmail,
	"phone":   NormalizePhone,
	"address": NormalizeAddress,
	"name":    NormalizeName,
	"digits":  digitsOnly,
	"zip":     NormalizeZipCode,
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrEmptyValue
	}
	s = strings.TrimPrefix(s, "mailto:")

	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 || strings.Count(s, "@") != 1 {
		return "", ErrInvalidValue
	}
	if strings.ContainsAny(s, " \t\n") {
		return "", ErrInvalidValue
	}
	if !strings.Contains(s[at+1:], ".") {
		return "", ErrInvalidValue
	}
	return s, nil
}

// EmailLocalPart returns the part of a normalized email before the @
func EmailLocalPart(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[:at]
}

// EmailDomain returns the part of a normalized email after the @
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[at+1:]
}

// NormalizePhone keeps only digits and strips a leading US country code
// from 11 digit numbers.
func NormalizePhone(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyValue
	}
	digits, _ := digitsOnly(s)
	if digits == "" {
		return "", ErrInvalidValue
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits, nil
}

// AreaCode returns the first three digits of a normalized phone number.
func AreaCode(phone string) string {
	if len(phone) < 10 {
		return ""
	}
	return phone[:3]
}

var (
	spaceRe       = regexp.MustCompile(`\s+`)
	repeatPunctRe = regexp.MustCompile(`([,#/\-])[,#/\-]+`)
)

// street types and unit/direction words, keyed by the long form
var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"terrace":   "ter",
	"trail":     "trl",
	"square":    "sq",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// StreetTypes maps each long street-type word to its abbreviation.
func StreetTypes() map[string]string {
	out := make(map[string]string, len(addressAbbreviations))
	for long, short := range addressAbbreviations {
		switch short {
		case "apt", "ste", "n", "s", "e", "w":
			continue
		}
		out[long] = short
	}
	return out
}

// NormalizeAddress lowercases an address, standardizes street-type abbreviations,
// drops periods and duplicate punctuation, and collapses whitespace.
func NormalizeAddress(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrEmptyValue
	}

	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ", ")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, " ,", ",")
	s = repeatPunctRe.ReplaceAllString(s, "$1")

	tokens := strings.Split(strings.TrimSpace(s), " ")
	for i, tok := range tokens {
		word := strings.TrimRight(tok, ",")
		trail := tok[len(word):]
		if abbr, ok := addressAbbreviations[word]; ok {
			tokens[i] = abbr + trail
		}
	}

	out := strings.Trim(strings.Join(tokens, " "), " ,")
	if out == "" {
		return "", ErrInvalidValue
	}
	return out, nil
}

var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"phd": true, "md": true, "dds": true, "dvm": true,
}

// NormalizeName folds accents, lowercases, removes punctuation and trailing
// generational/professional suffixes (Jr., III, DVM, ...).
func NormalizeName(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyValue
	}

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	prevSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-':
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	tokens := strings.Fields(b.String())
	for len(tokens) > 1 && nameSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return "", ErrInvalidValue
	}
	return strings.Join(tokens, " "), nil
}

// NormalizeZipCode keeps 5 or 9 digit US zip codes.
func NormalizeZipCode(s string) (string, error) {
	digits, err := digitsOnly(s)
	if err != nil {
		return "", err
	}
	if len(digits) == 5 || len(digits) == 9 {
		return digits, nil
	}
	return "", ErrInvalidValue
}

func digitsOnly(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyValue
	}
	var result strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			result.WriteRune(r)
		}
	}
	return result.String(), nil
}

// Digits returns only the ASCII digits in s.
func Digits(s string) string {
	d, _ := digitsOnly(s)
	return d
}
