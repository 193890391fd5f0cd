// Package tables holds the static clinical configuration of the risk pipeline:
// reference ranges, evidence rules, deviation weights, context multipliers and
// comorbidity rules. Tables are loaded once at startup, validated, and treated as
// read-only for the lifetime of the process.
package tables

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/lab-risk-aggregator/internal/domain"
)

//go:embed defaults.yaml
var defaultTables []byte

// RuleKind selects how an evidence rule tests a raw value.
type RuleKind string

const (
	BELOW_LOW_SCALED  RuleKind = "below_low_scaled"
	ABOVE_HIGH_SCALED RuleKind = "above_high_scaled"
	BORDERLINE_LOW    RuleKind = "borderline_low"
	BORDERLINE_HIGH   RuleKind = "borderline_high"
	BELOW             RuleKind = "below"
	ABOVE             RuleKind = "above"
	AGE_ABOVE         RuleKind = "age_above"
)

// IsScaled reports whether the rule's contribution scales with deviation severity.
func (k RuleKind) IsScaled() bool {
	return k == BELOW_LOW_SCALED || k == ABOVE_HIGH_SCALED
}

// Tables is the complete clinical configuration.
type Tables struct {
	Version              string                               `yaml:"version"`
	Conditions           []string                             `yaml:"conditions"`
	ModelWeights         ModelWeights                         `yaml:"model_weights"`
	Labels               domain.LabelCutPoints                `yaml:"labels"`
	Parameters           map[string]ParameterSpec             `yaml:"parameters"`
	Aliases              map[string]string                    `yaml:"aliases"`
	Rules                map[string]ConditionRules            `yaml:"rules"`
	DeviationWeights     map[string][]WeightEntry             `yaml:"deviation_weights"`
	AgeBrackets          map[string][]AgeBracket              `yaml:"age_brackets"`
	GenderMultipliers    map[string]map[domain.Gender]float64 `yaml:"gender_multipliers"`
	PregnancyMultipliers map[string]float64                   `yaml:"pregnancy_multipliers"`
	Comorbidity          []domain.ComorbidityRule             `yaml:"comorbidity"`
}

// ModelWeights are the fixed combination weights of the two scorers. They sum to 1.
type ModelWeights struct {
	RuleEvidence float64 `yaml:"rule_evidence"`
	Deviation    float64 `yaml:"deviation"`
}

// ParameterSpec describes one lab parameter. Default is the gender-neutral range used
// when no gender-specific entry exists. Plausible bounds are checked at ingestion only.
type ParameterSpec struct {
	Unit      string                 `yaml:"unit"`
	Default   *domain.ReferenceRange `yaml:"default"`
	Male      *domain.ReferenceRange `yaml:"male"`
	Female    *domain.ReferenceRange `yaml:"female"`
	Plausible *domain.ReferenceRange `yaml:"plausible"`
}

// HasRange reports whether any reference range is defined for the parameter.
func (p ParameterSpec) HasRange() bool {
	return p.Default != nil || p.Male != nil || p.Female != nil
}

// ConditionRules is the rule-evidence definition for one condition.
type ConditionRules struct {
	Requires        []string       `yaml:"requires"`
	RequiresAny     []string       `yaml:"requires_any"`
	MissingEvidence string         `yaml:"missing_evidence"`
	NormalEvidence  string         `yaml:"normal_evidence"`
	Rules           []EvidenceRule `yaml:"rules"`
}

// EvidenceRule contributes a bounded amount of evidence (0-100 scale) when it fires.
// Threshold overrides the reference bound; rules sharing a Group are exclusive and
// the first firing one in list order wins. MinPoints floors a scaled rule's
// contribution once it fires.
type EvidenceRule struct {
	Parameter        string   `yaml:"parameter"`
	Kind             RuleKind `yaml:"kind"`
	Threshold        *float64 `yaml:"threshold"`
	Margin           float64  `yaml:"margin"`
	Scale            float64  `yaml:"scale"`
	Cap              float64  `yaml:"cap"`
	Points           float64  `yaml:"points"`
	MinPoints        float64  `yaml:"min_points"`
	Group            string   `yaml:"group"`
	RequiresEvidence bool     `yaml:"requires_evidence"`
	Evidence         string   `yaml:"evidence"`
}

// WeightEntry is one component of a condition's deviation weight vector.
type WeightEntry struct {
	Parameter string  `yaml:"parameter"`
	Weight    float64 `yaml:"weight"`
}

// AgeBracket applies Multiplier when Min <= age < Max.
type AgeBracket struct {
	Min        int     `yaml:"min"`
	Max        int     `yaml:"max"`
	Multiplier float64 `yaml:"multiplier"`
}

// Contains reports whether age falls inside the bracket.
func (b AgeBracket) Contains(age int) bool {
	return b.Min <= age && age < b.Max
}

// Default returns the tables embedded in the binary.
func Default() (*Tables, error) {
	t, err := Parse(defaultTables)
	if err != nil {
		return nil, fmt.Errorf("embedded tables: %w", err)
	}
	return t, nil
}

// DefaultYAML returns a copy of the embedded tables document.
func DefaultYAML() []byte {
	return bytes.Clone(defaultTables)
}

// Load reads and validates a tables file. An empty path selects the embedded defaults.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tables file %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a tables document strictly and validates it.
func Parse(data []byte) (*Tables, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	t := &Tables{}
	if err := dec.Decode(t); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrInvalidTables, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// IsCondition reports whether name is in the condition registry.
func (t *Tables) IsCondition(name string) bool {
	for _, c := range t.Conditions {
		if c == name {
			return true
		}
	}
	return false
}

// NormalizeName canonicalizes a raw parameter name: lowercase, separators collapsed
// to underscores, then resolved through the alias table.
func (t *Tables) NormalizeName(raw string) string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	name := strings.Join(fields, "_")
	if canonical, ok := t.Aliases[name]; ok {
		return canonical
	}
	return name
}
