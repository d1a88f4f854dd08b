package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected NameClass
	}{
		{"two word person", "John Smith", LikelyPerson},
		{"single capitalized word", "Maria", LikelyPerson},
		{"trailing space from empty last name", "John ", LikelyPerson},
		{"lowercase full name", "jane doe", LikelyPerson},
		{"business suffix", "Acme Feed LLC", Organization},
		{"humane society", "Sonoma Humane", Organization},
		{"the x pattern", "The Cat House", Organization},
		{"city of", "City Of Petaluma", Organization},
		{"leading digit", "123 Main", Address},
		{"street keyword", "Old Redwood Hwy", Address},
		{"long street type with number", "Old Redwood Highway 1200", Address},
		{"unit number before street", "Apt 4 Sunset Court", Address},
		{"surname lane", "Jane Lane", LikelyPerson},
		{"surname court", "Mary Court", LikelyPerson},
		{"surname street", "Tom Street", LikelyPerson},
		{"surname place", "Ann Place", LikelyPerson},
		{"surname drive", "Nick Drive", LikelyPerson},
		{"placeholder", "unknown", Garbage},
		{"placeholder upper", "TBD", Garbage},
		{"n/a", "N/A", Garbage},
		{"punctuation only", "?? --", Garbage},
		{"all caps single token", "SMITH", Garbage},
		{"empty", "   ", Garbage},
		{"single letter", "j", Unknown},
		{"single lowercase word", "smith", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyName(tt.input))
		})
	}
}

func TestClassifyName_OrderIsPreserved(t *testing.T) {
	// organization beats address, address beats garbage
	assert.Equal(t, Organization, ClassifyName("123 Rescue"))
	assert.Equal(t, Address, ClassifyName("1234"))
	assert.Equal(t, Organization, ClassifyName("THE SHELTER"))
}

func TestValidateMicrochip(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		valid   bool
		cleaned string
		reason  string
	}{
		{"iso chip", "985112345678901", true, "985112345678901", ""},
		{"formatted iso chip", "985-112-345-678-901", true, "985112345678901", ""},
		{"zeroed serial", "981020000000000", false, "", ReasonAllZero},
		{"all zeros", "000000000", false, "", ReasonAllZero},
		{"too short", "123", false, "", ReasonTooShort},
		{"too long", "1234567890123456", false, "", ReasonTooLong},
		{"empty", "", false, "", ReasonEmpty},
		{"letters only", "none", false, "", ReasonEmpty},
		{"repeated digit", "111111111", false, "", ReasonTestPattern},
		{"ascending run", "123456789012345", false, "", ReasonTestPattern},
		{"descending run", "987654321", false, "", ReasonTestPattern},
		{"known filler", "123123123", false, "", ReasonTestPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, cleaned, reason := ValidateMicrochip(tt.raw)
			assert.Equal(t, tt.valid, valid)
			assert.Equal(t, tt.cleaned, cleaned)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestValidateDomainIdentifier(t *testing.T) {
	valid, cleaned, reason := ValidateDomainIdentifier(IdentifierMicrochip, "985112345678901")
	assert.True(t, valid)
	assert.Equal(t, "985112345678901", cleaned)
	assert.Empty(t, reason)

	valid, _, reason = ValidateDomainIdentifier("tattoo", "A123")
	assert.False(t, valid)
	assert.Equal(t, ReasonUnsupported, reason)
}
