package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/fern/pkg/models"
)

// SourceStrategy maps one source system's payload onto the canonical field names in
// models.RawCandidate.RawFields
type SourceStrategy interface {
	// Fields returns the canonical fields for kind. A nil map means the source carries no
	// record of that kind.
	Fields(kind models.EntityKind, payload json.RawMessage) (map[string]string, error)
	// StableFields names the canonical fields hashed into a source key when the record
	// has no id of its own
	StableFields(kind models.EntityKind) []string
}

// AliasStrategy reads flat rows such as CSV or spreadsheet exports. Each canonical field
// lists header aliases and the first present, non-blank one wins. Headers are compared
// after trimming.
type AliasStrategy struct {
	Aliases map[models.EntityKind]map[string][]string
	Stable  map[models.EntityKind][]string
}

func (s *AliasStrategy) Fields(kind models.EntityKind, payload json.RawMessage) (map[string]string, error) {
	aliases, ok := s.Aliases[kind]
	if !ok {
		return nil, nil
	}

	var row map[string]any
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	trimmed := make(map[string]string, len(row))
	for k, v := range row {
		if str := stringify(v); str != "" {
			trimmed[strings.TrimSpace(k)] = str
		}
	}

	out := make(map[string]string, len(aliases))
	for field, names := range aliases {
		for _, name := range names {
			if v, ok := trimmed[name]; ok {
				out[field] = v
				break
			}
		}
	}
	return out, nil
}

func (s *AliasStrategy) StableFields(kind models.EntityKind) []string {
	return s.Stable[kind]
}

// JMESPathStrategy reads nested JSON payloads, one compiled expression per field
type JMESPathStrategy struct {
	paths  map[models.EntityKind]map[string]*jmespath.JMESPath
	stable map[models.EntityKind][]string
}

// NewJMESPathStrategy compiles every expression up front
func NewJMESPathStrategy(expressions map[models.EntityKind]map[string]string, stable map[models.EntityKind][]string) (*JMESPathStrategy, error) {
	s := &JMESPathStrategy{
		paths:  make(map[models.EntityKind]map[string]*jmespath.JMESPath, len(expressions)),
		stable: stable,
	}
	for kind, fields := range expressions {
		compiled := make(map[string]*jmespath.JMESPath, len(fields))
		for field, expr := range fields {
			c, err := jmespath.Compile(expr)
			if err != nil {
				return nil, models.NewConfigurationError(fmt.Sprintf("sources.%s.%s", kind, field), fmt.Sprintf("invalid expression %q: %v", expr, err))
			}
			compiled[field] = c
		}
		s.paths[kind] = compiled
	}
	return s, nil
}

func (s *JMESPathStrategy) Fields(kind models.EntityKind, payload json.RawMessage) (map[string]string, error) {
	paths, ok := s.paths[kind]
	if !ok {
		return nil, nil
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	out := make(map[string]string, len(paths))
	for field, path := range paths {
		v, err := path.Search(data)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", field, err)
		}
		if str := stringify(v); str != "" {
			out[field] = str
		}
	}
	return out, nil
}

func (s *JMESPathStrategy) StableFields(kind models.EntityKind) []string {
	return s.stable[kind]
}

// stringify renders scalar JSON values. Arrays take their first non-blank element.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		for _, item := range t {
			if s := stringify(item); s != "" {
				return s
			}
		}
		return ""
	default:
		return ""
	}
}

var personStable = []string{models.FieldFirstName, models.FieldLastName, models.FieldEmail, models.FieldPhone}
var animalStable = []string{models.FieldFullName, models.FieldMicrochip, models.FieldSex, models.FieldColor}
var placeStable = []string{models.FieldAddress}

// CanonicalStrategy accepts payloads already keyed by canonical field names
func CanonicalStrategy() *AliasStrategy {
	identity := func(fields ...string) map[string][]string {
		out := make(map[string][]string, len(fields))
		for _, f := range fields {
			out[f] = []string{f}
		}
		return out
	}
	return &AliasStrategy{
		Aliases: map[models.EntityKind]map[string][]string{
			models.EntityKindPerson: identity(models.FieldFirstName, models.FieldLastName, models.FieldFullName,
				models.FieldEmail, models.FieldPhone, models.FieldAddress, models.FieldDisplayName),
			models.EntityKindAnimal: identity(models.FieldFullName, models.FieldMicrochip, models.FieldSex,
				models.FieldColor, models.FieldBreed, models.FieldDisplayName),
			models.EntityKindPlace: identity(models.FieldFullName, models.FieldAddress),
		},
		Stable: map[models.EntityKind][]string{
			models.EntityKindPerson: personStable,
			models.EntityKindAnimal: animalStable,
			models.EntityKindPlace:  placeStable,
		},
	}
}

// ClinicHQStrategy maps appointment report rows. One row carries an owner, an animal and
// the owner's address.
func ClinicHQStrategy() *AliasStrategy {
	return &AliasStrategy{
		Aliases: map[models.EntityKind]map[string][]string{
			models.EntityKindPerson: {
				models.FieldFirstName: {"Owner First Name"},
				models.FieldLastName:  {"Owner Last Name"},
				models.FieldEmail:     {"Owner Email"},
				models.FieldPhone:     {"Owner Cell Phone", "Owner Phone"},
				models.FieldAddress:   {"Owner Address"},
			},
			models.EntityKindAnimal: {
				models.FieldFullName:  {"Animal Name"},
				models.FieldMicrochip: {"Microchip Number"},
				models.FieldSex:       {"Sex"},
				models.FieldColor:     {"Primary Color"},
				models.FieldBreed:     {"Breed"},
			},
			models.EntityKindPlace: {
				models.FieldAddress: {"Owner Address"},
			},
		},
		Stable: map[models.EntityKind][]string{
			models.EntityKindPerson: personStable,
			models.EntityKindAnimal: animalStable,
			models.EntityKindPlace:  placeStable,
		},
	}
}

// AirtableStrategy maps trapping request exports
func AirtableStrategy() *AliasStrategy {
	return &AliasStrategy{
		Aliases: map[models.EntityKind]map[string][]string{
			models.EntityKindPerson: {
				models.FieldFirstName: {"First Name", "first_name"},
				models.FieldLastName:  {"Last Name", "last_name"},
				models.FieldEmail:     {"Clean Email", "Email", "email", "Client Email (LK)"},
				models.FieldPhone:     {"Clean Phone", "Client Phone (LK)", "Business Phone", "Phone", "phone"},
				models.FieldAddress:   {"Address", "Primary Address", "address", "primary_address"},
			},
			models.EntityKindPlace: {
				models.FieldAddress:  {"Address", "Primary Address", "address", "primary_address"},
				models.FieldFullName: {"Request Place Name", "Place Name", "place_name", "Location Name", "Colony Name"},
			},
		},
		Stable: map[models.EntityKind][]string{
			models.EntityKindPerson: personStable,
			models.EntityKindPlace:  placeStable,
		},
	}
}

// JotFormStrategy maps web intake submissions, which nest answers by question
func JotFormStrategy() (*JMESPathStrategy, error) {
	return NewJMESPathStrategy(
		map[models.EntityKind]map[string]string{
			models.EntityKindPerson: {
				models.FieldFirstName: "answers.name.first || first_name",
				models.FieldLastName:  "answers.name.last || last_name",
				models.FieldEmail:     "answers.email || email",
				models.FieldPhone:     "answers.phone.full || answers.phone || phone",
				models.FieldAddress:   "answers.address.full || address",
			},
			models.EntityKindPlace: {
				models.FieldAddress: "answers.address.full || address",
			},
		},
		map[models.EntityKind][]string{
			models.EntityKindPerson: personStable,
			models.EntityKindPlace:  placeStable,
		},
	)
}

// DefaultStrategies returns the built-in strategies keyed by source system
func DefaultStrategies() (map[string]SourceStrategy, error) {
	jotform, err := JotFormStrategy()
	if err != nil {
		return nil, err
	}
	return map[string]SourceStrategy{
		"clinichq": ClinicHQStrategy(),
		"airtable": AirtableStrategy(),
		"jotform":  jotform,
	}, nil
}
