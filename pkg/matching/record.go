package matching

import (
	"errors"
	"strings"

	"github.com/Ramsey-B/fern/pkg/classifier"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// MinPhoneDigits is the shortest normalized phone number used as an identifier
const MinPhoneDigits = 10

// identifierPriority orders exact-search lookups; the first hit wins
var identifierPriority = []models.IdentifierType{
	models.IdentifierSourceRecord,
	models.IdentifierMicrochip,
	models.IdentifierEmail,
	models.IdentifierPhone,
	models.IdentifierNormalizedAddress,
}

// Record is a candidate or entity reduced to normalized comparison fields
type Record struct {
	Kind        models.EntityKind
	Fields      map[string]string
	Raw         map[string]string
	DisplayName string
	Identifiers []models.Identifier
	Warnings    []string
}

// Name returns the normalized full name used for similarity checks
func (r Record) Name() string {
	return r.Fields[models.FieldFullName]
}

// EntityRecord builds a comparison record from an entity's stored attributes
func EntityRecord(e *models.Entity) Record {
	fields := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		fields[k] = v
	}
	return Record{Kind: e.Kind, Fields: fields, DisplayName: e.DisplayName}
}

// BuildRecord normalizes a raw candidate. Values that fail validation are dropped
// and noted as warnings; they never fail the record.
func BuildRecord(c models.RawCandidate) Record {
	r := Record{
		Kind:   c.Kind,
		Fields: map[string]string{},
		Raw:    map[string]string{},
	}
	for k, v := range c.RawFields {
		if v = strings.TrimSpace(v); v != "" {
			r.Raw[k] = v
		}
	}

	switch c.Kind {
	case models.EntityKindPerson:
		r.buildPerson()
	case models.EntityKindAnimal:
		r.buildAnimal()
	case models.EntityKindPlace:
		r.buildPlace()
	}

	if c.SourceSystem != "" && c.SourceRecordID != "" {
		r.addIdentifier(models.IdentifierSourceRecord, c.Ref(), c.Ref())
		r.Identifiers[len(r.Identifiers)-1].RowHash = fingerprint.RowHash(c.RawFields)
	}
	return r
}

func (r *Record) buildPerson() {
	first, last := r.Raw[models.FieldFirstName], r.Raw[models.FieldLastName]
	if first == "" && last == "" {
		first, last = splitFullName(r.Raw[models.FieldFullName])
		if first != "" {
			r.Raw[models.FieldFirstName] = first
		}
		if last != "" {
			r.Raw[models.FieldLastName] = last
		}
	}

	r.normalize(models.FieldFirstName, first, normalizers.NormalizeName)
	r.normalize(models.FieldLastName, last, normalizers.NormalizeName)
	r.normalize(models.FieldAddress, r.Raw[models.FieldAddress], normalizers.NormalizeAddress)

	if email := r.normalize(models.FieldEmail, r.Raw[models.FieldEmail], normalizers.NormalizeEmail); email != "" {
		r.addIdentifier(models.IdentifierEmail, email, r.Raw[models.FieldEmail])
	}

	if phone := r.normalize(models.FieldPhone, r.Raw[models.FieldPhone], normalizers.NormalizePhone); phone != "" {
		if len(phone) < MinPhoneDigits {
			delete(r.Fields, models.FieldPhone)
			r.warn(models.NewValidationError(models.FieldPhone, r.Raw[models.FieldPhone], "fewer than 10 digits"))
		} else {
			r.addIdentifier(models.IdentifierPhone, phone, r.Raw[models.FieldPhone])
		}
	}

	full := strings.TrimSpace(r.Fields[models.FieldFirstName] + " " + r.Fields[models.FieldLastName])
	if full != "" {
		r.Fields[models.FieldFullName] = full
	}
	r.DisplayName = strings.Join(strings.Fields(first+" "+last), " ")
	if r.DisplayName == "" {
		r.DisplayName = r.Raw[models.FieldDisplayName]
	}
}

func (r *Record) buildAnimal() {
	name := r.Raw[models.FieldFullName]
	r.normalize(models.FieldFullName, name, normalizers.NormalizeName)
	r.normalize(models.FieldColor, r.Raw[models.FieldColor], normalizers.NormalizeName)
	r.normalize(models.FieldBreed, r.Raw[models.FieldBreed], normalizers.NormalizeName)
	r.normalize(models.FieldAddress, r.Raw[models.FieldAddress], normalizers.NormalizeAddress)
	if sex := strings.ToLower(r.Raw[models.FieldSex]); sex != "" {
		r.Fields[models.FieldSex] = string([]rune(sex)[:1])
	}

	if raw := r.Raw[models.FieldMicrochip]; raw != "" {
		ok, chip, reason := classifier.ValidateDomainIdentifier(classifier.IdentifierMicrochip, raw)
		if ok {
			r.Fields[models.FieldMicrochip] = chip
			r.addIdentifier(models.IdentifierMicrochip, chip, raw)
		} else {
			r.warn(models.NewValidationError(models.FieldMicrochip, raw, reason))
		}
	}
	r.DisplayName = name
}

func (r *Record) buildPlace() {
	raw := r.Raw[models.FieldAddress]
	if addr := r.normalize(models.FieldAddress, raw, normalizers.NormalizeAddress); addr != "" {
		r.addIdentifier(models.IdentifierNormalizedAddress, addr, raw)
	}
	r.normalize(models.FieldFullName, r.Raw[models.FieldFullName], normalizers.NormalizeName)

	r.DisplayName = r.Raw[models.FieldFullName]
	if r.DisplayName == "" {
		r.DisplayName = raw
	}
}

// normalize stores the normalized value under field and returns it. Invalid values
// become warnings; empty values are silently absent.
func (r *Record) normalize(field, raw string, fn normalizers.Normalizer) string {
	if raw == "" {
		return ""
	}
	v, err := fn(raw)
	if err != nil {
		if !errors.Is(err, normalizers.ErrEmptyValue) {
			r.warn(models.NewValidationError(field, raw, err.Error()))
		}
		return ""
	}
	r.Fields[field] = v
	return v
}

func (r *Record) warn(err error) {
	r.Warnings = append(r.Warnings, err.Error())
}

func (r *Record) addIdentifier(t models.IdentifierType, normalized, raw string) {
	r.Identifiers = append(r.Identifiers, models.Identifier{
		Kind:            r.Kind,
		Type:            t,
		NormalizedValue: normalized,
		RawValue:        raw,
		Confidence:      1.0,
	})
}

// orderedIdentifiers returns the record's identifiers in exact-search priority order
func (r Record) orderedIdentifiers() []models.Identifier {
	out := make([]models.Identifier, 0, len(r.Identifiers))
	for _, t := range identifierPriority {
		for _, id := range r.Identifiers {
			if id.Type == t {
				out = append(out, id)
			}
		}
	}
	return out
}

func splitFullName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	// "Last, First" exports
	if strings.HasSuffix(parts[0], ",") {
		return strings.Join(parts[1:], " "), strings.TrimSuffix(parts[0], ",")
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// BlockingKeys returns the keys used to find scoring candidates for a record
func BlockingKeys(r Record, scorer *Scorer) []string {
	var keys []string
	add := func(prefix, v string) {
		if v != "" {
			keys = append(keys, prefix+v)
		}
	}

	switch r.Kind {
	case models.EntityKindPerson:
		first, last := r.Fields[models.FieldFirstName], r.Fields[models.FieldLastName]
		if first != "" && last != "" {
			if code := scorer.Soundex(last); code != "" {
				add("sx:", code+":"+string([]rune(first)[:1]))
			}
		}
		add("em:", r.Fields[models.FieldEmail])
		add("ph:", r.Fields[models.FieldPhone])
		add("ad:", r.Fields[models.FieldAddress])
	case models.EntityKindAnimal:
		add("mc:", r.Fields[models.FieldMicrochip])
		if name := r.Fields[models.FieldFullName]; name != "" {
			add("mp:", scorer.Metaphone(name))
		}
		add("ad:", r.Fields[models.FieldAddress])
	case models.EntityKindPlace:
		addr := r.Fields[models.FieldAddress]
		add("ad:", addr)
		// house number plus street name survives unit and suffix differences
		if tokens := strings.Fields(addr); len(tokens) >= 2 {
			add("hs:", tokens[0]+" "+strings.TrimRight(tokens[1], ","))
		}
	}
	return keys
}
