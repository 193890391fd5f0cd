package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/tables"
)

const (
	MinAge = 0
	MaxAge = 130
)

// RecordValidator sanitizes records at the ingestion boundary before they reach the engine
type RecordValidator struct {
	tables *tables.Tables
	ranges *ReferenceRangeTable
}

// NewRecordValidator creates a validator over the loaded tables
func NewRecordValidator(t *tables.Tables) *RecordValidator {
	return &RecordValidator{
		tables: t,
		ranges: NewReferenceRangeTable(t),
	}
}

// ValidateRecord is a convenience wrapper around RecordValidator.Validate
func ValidateRecord(record domain.PatientRecord, t *tables.Tables) (domain.PatientRecord, error) {
	return NewRecordValidator(t).Validate(record)
}

// ParseGender accepts the common spellings of the two supported genders
func ParseGender(raw string) (domain.Gender, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male":
		return domain.MALE, nil
	case "f", "female":
		return domain.FEMALE, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidGender, raw)
	}
}

// Validate returns a normalized copy of the record: gender canonicalized, reading names
// resolved through the alias table. Implausible values are rejected with a
// *domain.ValidationError.
func (v *RecordValidator) Validate(record domain.PatientRecord) (domain.PatientRecord, error) {
	if record.Age < MinAge || record.Age > MaxAge {
		return domain.PatientRecord{}, domain.NewValidationError("age",
			fmt.Sprintf("must be between %d and %d", MinAge, MaxAge), record.Age)
	}

	gender, err := ParseGender(string(record.Gender))
	if err != nil {
		return domain.PatientRecord{}, domain.NewValidationError("gender", err.Error(), record.Gender)
	}

	// Sorted so duplicate detection reports the same name on every run.
	raw := make([]string, 0, len(record.Readings))
	for name := range record.Readings {
		raw = append(raw, name)
	}
	sort.Strings(raw)

	readings := make(map[string]float64, len(record.Readings))
	origin := make(map[string]string, len(record.Readings))
	for _, name := range raw {
		value := record.Readings[name]
		canonical := v.tables.NormalizeName(name)
		field := "readings." + name

		if canonical == "" {
			return domain.PatientRecord{}, domain.NewValidationError(field, "parameter name is empty", name)
		}
		if prev, dup := origin[canonical]; dup {
			return domain.PatientRecord{}, domain.NewValidationError(field,
				fmt.Sprintf("duplicates %q after normalization to %q", prev, canonical), value)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return domain.PatientRecord{}, domain.NewValidationError(field, "must be a finite number", value)
		}
		if value < 0 {
			return domain.PatientRecord{}, domain.NewValidationError(field, "must not be negative", value)
		}
		if bounds, ok := v.ranges.Plausible(canonical); ok && (value < bounds.Low || value > bounds.High) {
			return domain.PatientRecord{}, domain.NewValidationError(field,
				fmt.Sprintf("outside plausible range %s-%s", formatValue(bounds.Low), formatValue(bounds.High)), value)
		}

		readings[canonical] = value
		origin[canonical] = name
	}

	return domain.PatientRecord{
		ID:       record.ID,
		Age:      record.Age,
		Gender:   gender,
		Pregnant: record.Pregnant,
		Readings: readings,
	}, nil
}
