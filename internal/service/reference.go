package service

import (
	"sort"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/tables"
)

// ReferenceRangeTable resolves the normal interval of a lab parameter for a gender
type ReferenceRangeTable struct {
	parameters map[string]tables.ParameterSpec
	names      []string
}

// NewReferenceRangeTable creates a lookup over the parameters of the loaded tables
func NewReferenceRangeTable(t *tables.Tables) *ReferenceRangeTable {
	names := make([]string, 0, len(t.Parameters))
	for name := range t.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	return &ReferenceRangeTable{
		parameters: t.Parameters,
		names:      names,
	}
}

// Lookup returns the gender-specific range if one exists, otherwise the default range.
// Unknown parameters report false and are not scorable.
func (r *ReferenceRangeTable) Lookup(parameter string, gender domain.Gender) (domain.ReferenceRange, bool) {
	spec, ok := r.parameters[parameter]
	if !ok {
		return domain.ReferenceRange{}, false
	}

	var rng *domain.ReferenceRange
	switch gender {
	case domain.MALE:
		rng = spec.Male
	case domain.FEMALE:
		rng = spec.Female
	}
	if rng == nil {
		rng = spec.Default
	}
	if rng == nil {
		return domain.ReferenceRange{}, false
	}
	return *rng, true
}

// Plausible returns the ingestion bounds of a parameter, if any
func (r *ReferenceRangeTable) Plausible(parameter string) (domain.ReferenceRange, bool) {
	spec, ok := r.parameters[parameter]
	if !ok || spec.Plausible == nil {
		return domain.ReferenceRange{}, false
	}
	return *spec.Plausible, true
}

// Unit returns the display unit of a parameter
func (r *ReferenceRangeTable) Unit(parameter string) string {
	return r.parameters[parameter].Unit
}

// Parameters lists the known parameter names in sorted order
func (r *ReferenceRangeTable) Parameters() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
