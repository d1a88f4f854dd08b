package matching

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Comparison names how two normalized field values are compared
type Comparison string

const (
	CompareExact       Comparison = "exact"
	CompareJaroWinkler Comparison = "jaro_winkler"
	CompareLevenshtein Comparison = "levenshtein"
	CompareTokenSet    Comparison = "token_set"
	CompareSoundex     Comparison = "soundex"
	CompareMetaphone   Comparison = "metaphone"
	ComparePrefix      Comparison = "prefix"
)

func (c Comparison) valid() bool {
	switch c {
	case CompareExact, CompareJaroWinkler, CompareLevenshtein, CompareTokenSet,
		CompareSoundex, CompareMetaphone, ComparePrefix:
		return true
	}
	return false
}

// FieldParam is the Fellegi-Sunter parameterization of one comparison field.
// M is P(agree | same entity), U is P(agree | different entities).
type FieldParam struct {
	Name       string     `yaml:"name"`
	Source     string     `yaml:"source,omitempty"` // record field compared; defaults to Name
	M          float64    `yaml:"m"`
	U          float64    `yaml:"u"`
	Comparison Comparison `yaml:"comparison"`
	// Threshold is the similarity at or above which a fuzzy comparison counts as agreement
	Threshold float64 `yaml:"threshold,omitempty"`
	// Length is the prefix length for prefix comparisons
	Length int `yaml:"length,omitempty"`
}

// SourceField returns the record field this parameter reads
func (f FieldParam) SourceField() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// Weights returns the agreement weight log2(M/U) and disagreement weight
// log2((1-M)/(1-U)).
func (f FieldParam) Weights() (agree, disagree float64) {
	return math.Log2(f.M / f.U), math.Log2((1 - f.M) / (1 - f.U))
}

// Thresholds partitions composite scores: score >= Upper is a match, score >= Lower
// needs review, anything below is a new entity.
type Thresholds struct {
	Upper float64 `yaml:"upper"`
	Lower float64 `yaml:"lower"`
}

// KindParams is the full parameter set for one entity kind
type KindParams struct {
	Fields     []FieldParam `yaml:"fields"`
	Thresholds Thresholds   `yaml:"thresholds"`
}

// Override adjusts a kind's parameters for a single source system. Fields replace
// base fields with the same name or are appended.
type Override struct {
	Fields     []FieldParam `yaml:"fields,omitempty"`
	Thresholds *Thresholds  `yaml:"thresholds,omitempty"`
}

// Params is the complete matching configuration
type Params struct {
	Kinds   map[models.EntityKind]KindParams          `yaml:"kinds"`
	Sources map[string]map[models.EntityKind]Override `yaml:"sources,omitempty"`
}

// ParamsSource provides the parameters currently in force
type ParamsSource interface {
	Current() *Params
}

// Current lets a fixed *Params serve as a ParamsSource
func (p *Params) Current() *Params {
	return p
}

// For returns the parameters for a kind with any source override applied
func (p *Params) For(kind models.EntityKind, source string) (KindParams, bool) {
	base, ok := p.Kinds[kind]
	if !ok {
		return KindParams{}, false
	}
	ov, ok := p.Sources[source][kind]
	if !ok {
		return base, true
	}
	return applyOverride(base, ov), true
}

func applyOverride(base KindParams, ov Override) KindParams {
	out := KindParams{
		Fields:     make([]FieldParam, len(base.Fields)),
		Thresholds: base.Thresholds,
	}
	copy(out.Fields, base.Fields)
	if ov.Thresholds != nil {
		out.Thresholds = *ov.Thresholds
	}

	for _, f := range ov.Fields {
		replaced := false
		for i := range out.Fields {
			if out.Fields[i].Name == f.Name {
				out.Fields[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// Validate checks every kind and every source override. A field needs 0 < U < M < 1,
// which keeps agreement weights positive and disagreement weights negative.
func (p *Params) Validate() error {
	if len(p.Kinds) == 0 {
		return models.NewConfigurationError("kinds", "no entity kinds configured")
	}
	for kind, kp := range p.Kinds {
		if !kind.Valid() {
			return models.NewConfigurationError(fmt.Sprintf("kinds.%s", kind), "unknown entity kind")
		}
		if err := kp.validate(fmt.Sprintf("kinds.%s", kind)); err != nil {
			return err
		}
	}
	for source, overrides := range p.Sources {
		for kind, ov := range overrides {
			base, ok := p.Kinds[kind]
			path := fmt.Sprintf("sources.%s.%s", source, kind)
			if !ok {
				return models.NewConfigurationError(path, "override for unconfigured kind")
			}
			if err := applyOverride(base, ov).validate(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (kp KindParams) validate(path string) error {
	if len(kp.Fields) == 0 {
		return models.NewConfigurationError(path+".fields", "at least one field is required")
	}
	seen := map[string]bool{}
	for i, f := range kp.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", path, i)
		switch {
		case f.Name == "":
			return models.NewConfigurationError(fp, "name is required")
		case seen[f.Name]:
			return models.NewConfigurationError(fp, fmt.Sprintf("duplicate field %q", f.Name))
		case !f.Comparison.valid():
			return models.NewConfigurationError(fp, fmt.Sprintf("unknown comparison %q", f.Comparison))
		case !(f.U > 0 && f.U < f.M && f.M < 1):
			return models.NewConfigurationError(fp, fmt.Sprintf("requires 0 < u < m < 1, got m=%v u=%v", f.M, f.U))
		case f.Threshold < 0 || f.Threshold > 1:
			return models.NewConfigurationError(fp, "threshold must be within [0, 1]")
		case f.Comparison == ComparePrefix && f.Length <= 0:
			return models.NewConfigurationError(fp, "prefix comparison requires a positive length")
		}
		seen[f.Name] = true
	}
	if kp.Thresholds.Upper < kp.Thresholds.Lower {
		return models.NewConfigurationError(path+".thresholds", "upper must be >= lower")
	}
	return nil
}

// ParseParams decodes and validates YAML parameters
func ParseParams(data []byte) (*Params, error) {
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, models.NewConfigurationError("", fmt.Sprintf("invalid yaml: %v", err))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadParams reads parameters from a YAML file. An empty path yields the defaults.
func LoadParams(path string) (*Params, error) {
	if path == "" {
		return DefaultParams(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewConfigurationError(path, err.Error())
	}
	return ParseParams(data)
}

// DefaultParams returns the shipped parameterization
func DefaultParams() *Params {
	return &Params{
		Kinds: map[models.EntityKind]KindParams{
			models.EntityKindPerson: {
				Fields: []FieldParam{
					{Name: models.FieldEmail, M: 0.95, U: 0.0001, Comparison: CompareExact},
					{Name: models.FieldPhone, M: 0.9, U: 0.001, Comparison: CompareExact},
					{Name: models.FieldFirstName, M: 0.9, U: 0.05, Comparison: CompareJaroWinkler, Threshold: 0.9},
					{Name: models.FieldLastName, M: 0.92, U: 0.02, Comparison: CompareJaroWinkler, Threshold: 0.9},
					{Name: "last_name_soundex", Source: models.FieldLastName, M: 0.95, U: 0.1, Comparison: CompareSoundex},
					{Name: models.FieldAddress, M: 0.8, U: 0.01, Comparison: CompareExact},
					{Name: "area_code", Source: models.FieldPhone, M: 0.95, U: 0.2, Comparison: ComparePrefix, Length: 3},
				},
				Thresholds: Thresholds{Upper: 14, Lower: 6},
			},
			models.EntityKindAnimal: {
				Fields: []FieldParam{
					{Name: models.FieldMicrochip, M: 0.98, U: 0.0001, Comparison: CompareExact},
					{Name: models.FieldFullName, M: 0.85, U: 0.02, Comparison: CompareJaroWinkler, Threshold: 0.92},
					{Name: models.FieldSex, M: 0.95, U: 0.5, Comparison: CompareExact},
					{Name: models.FieldColor, M: 0.8, U: 0.1, Comparison: CompareTokenSet, Threshold: 0.85},
					{Name: models.FieldBreed, M: 0.8, U: 0.15, Comparison: CompareTokenSet, Threshold: 0.85},
					{Name: models.FieldAddress, M: 0.7, U: 0.01, Comparison: CompareExact},
				},
				Thresholds: Thresholds{Upper: 12, Lower: 5},
			},
			models.EntityKindPlace: {
				Fields: []FieldParam{
					{Name: models.FieldAddress, M: 0.95, U: 0.001, Comparison: CompareExact},
					{Name: "address_fuzzy", Source: models.FieldAddress, M: 0.9, U: 0.01, Comparison: CompareLevenshtein, Threshold: 0.9},
					{Name: models.FieldFullName, M: 0.7, U: 0.05, Comparison: CompareTokenSet, Threshold: 0.85},
				},
				Thresholds: Thresholds{Upper: 10, Lower: 4},
			},
		},
	}
}
