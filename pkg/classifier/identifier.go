package classifier

import (
	"errors"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// IdentifierKind names a domain identifier that has its own validation rules
type IdentifierKind string

const (
	IdentifierMicrochip IdentifierKind = "microchip"
)

// Microchip length bounds, covering 9 digit AVID/FECAVA, 10 digit and 15 digit ISO chips.
const (
	MinMicrochipDigits = 9
	MaxMicrochipDigits = 15
	// microchipSerialDigits is the tail of the chip that carries the serial number.
	microchipSerialDigits = 9
)

// Rejection reasons
const (
	ReasonEmpty       = "empty"
	ReasonTooShort    = "too short"
	ReasonTooLong     = "too long"
	ReasonAllZero     = "all-zero junk data"
	ReasonTestPattern = "known test pattern"
	ReasonUnsupported = "unsupported identifier kind"
)

// knownBadMicrochips are values seen repeatedly as filler in clinic exports.
var knownBadMicrochips = map[string]bool{
	"000000001":  true,
	"0000000001": true,
	"123123123":  true,
	"121212121":  true,
	"112233445":  true,
}

const ascendingDigits = "01234567890123456789"
const descendingDigits = "98765432109876543210"

// ValidateDomainIdentifier validates and cleans a domain-specific identifier.
func ValidateDomainIdentifier(kind IdentifierKind, raw string) (bool, string, string) {
	switch kind {
	case IdentifierMicrochip:
		return ValidateMicrochip(raw)
	default:
		return false, "", ReasonUnsupported
	}
}

// ValidateMicrochip strips non-digits and rejects lengths outside 9-15 digits, zero
// filled values and known test patterns.
func ValidateMicrochip(raw string) (bool, string, string) {
	digits := normalizers.Digits(raw)
	switch {
	case digits == "":
		return false, "", ReasonEmpty
	case len(digits) < MinMicrochipDigits:
		return false, "", ReasonTooShort
	case len(digits) > MaxMicrochipDigits:
		return false, "", ReasonTooLong
	}

	if isZeroFilled(digits) {
		return false, "", ReasonAllZero
	}
	if isTestPattern(digits) {
		return false, "", ReasonTestPattern
	}
	return true, digits, ""
}

// isZeroFilled reports whether the chip is all zeros or its serial tail is all zeros.
// A manufacturer prefix in front of a zeroed serial is still junk.
func isZeroFilled(digits string) bool {
	if strings.Trim(digits, "0") == "" {
		return true
	}
	serial := digits
	if len(serial) > microchipSerialDigits {
		serial = serial[len(serial)-microchipSerialDigits:]
	}
	return strings.Trim(serial, "0") == ""
}

func isTestPattern(digits string) bool {
	if knownBadMicrochips[digits] {
		return true
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return true
	}
	return strings.Contains(ascendingDigits, digits) || strings.Contains(descendingDigits, digits)
}

// NormalizeIdentifier normalizes a raw identifier value for its type. Failures are
// returned as *models.ValidationError.
func NormalizeIdentifier(t models.IdentifierType, raw string) (string, error) {
	var (
		value string
		err   error
	)
	switch t {
	case models.IdentifierEmail:
		value, err = normalizers.NormalizeEmail(raw)
	case models.IdentifierPhone:
		value, err = normalizers.NormalizePhone(raw)
	case models.IdentifierNormalizedAddress:
		value, err = normalizers.NormalizeAddress(raw)
	case models.IdentifierMicrochip:
		ok, cleaned, reason := ValidateMicrochip(raw)
		if !ok {
			return "", models.NewValidationError(string(t), raw, reason)
		}
		value = cleaned
	case models.IdentifierSourceRecord:
		value = strings.TrimSpace(raw)
		if value == "" {
			err = normalizers.ErrEmptyValue
		}
	default:
		return "", models.NewValidationError(string(t), raw, ReasonUnsupported)
	}
	if err != nil {
		reason := err.Error()
		if errors.Is(err, normalizers.ErrEmptyValue) {
			reason = ReasonEmpty
		}
		return "", models.NewValidationError(string(t), raw, reason)
	}
	return value, nil
}
