// Package domain contains the core entities of the lab risk aggregation pipeline:
// patient context, parameter classification, per-condition scores and the aggregate
// result handed to the reporting layer.
package domain

import (
	"errors"
)

// Gender represents the patient's biological sex as used for reference ranges and
// context multipliers.
type Gender string

const (
	MALE   Gender = "male"
	FEMALE Gender = "female"
)

// ParameterStatus is the classification of a raw lab value against its reference range.
// It is derived from the value and never stored on its own.
type ParameterStatus string

const (
	STATUS_LOW    ParameterStatus = "Low"
	STATUS_NORMAL ParameterStatus = "Normal"
	STATUS_HIGH   ParameterStatus = "High"
)

// RiskLabel is the categorical risk assigned from a probability by the shared cut points.
type RiskLabel string

const (
	RISK_LOW      RiskLabel = "low"
	RISK_MODERATE RiskLabel = "moderate"
	RISK_HIGH     RiskLabel = "high"
)

// Probability bounds shared by every stage of the pipeline. A condition is never
// reported as impossible or certain.
const (
	BaselineProbability = 0.05
	MinProbability      = 0.05
	MaxProbability      = 0.95

	// MaxEvidenceScore caps the rule-evidence accumulator (0-100 scale).
	MaxEvidenceScore = 95.0
)

var (
	ErrInvalidGender    = errors.New("invalid gender")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrUnknownCondition = errors.New("unknown condition")
	ErrInvalidTables    = errors.New("invalid clinical tables")
)

// IsValid reports whether g is one of the supported genders.
func (g Gender) IsValid() bool {
	switch g {
	case MALE, FEMALE:
		return true
	default:
		return false
	}
}

func (g Gender) String() string {
	return string(g)
}

func (s ParameterStatus) String() string {
	return string(s)
}

// IsValid reports whether l is one of the three risk labels.
func (l RiskLabel) IsValid() bool {
	switch l {
	case RISK_LOW, RISK_MODERATE, RISK_HIGH:
		return true
	default:
		return false
	}
}

func (l RiskLabel) String() string {
	return string(l)
}

// ParameterReading is a single named lab value. Immutable per request.
type ParameterReading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// PatientContext carries the demographics that adjust combined risk.
type PatientContext struct {
	Age      int    `json:"age"`
	Gender   Gender `json:"gender"`
	Pregnant bool   `json:"pregnant"`
}

// PregnancyApplies is true only for pregnant female patients.
func (c PatientContext) PregnancyApplies() bool {
	return c.Gender == FEMALE && c.Pregnant
}

// PatientRecord is the input consumed from the ingestion collaborator.
type PatientRecord struct {
	ID       string             `json:"id,omitempty"`
	Age      int                `json:"age"`
	Gender   Gender             `json:"gender"`
	Pregnant bool               `json:"pregnant"`
	Readings map[string]float64 `json:"readings"`
}

// Context extracts the patient context from the record.
func (r PatientRecord) Context() PatientContext {
	return PatientContext{Age: r.Age, Gender: r.Gender, Pregnant: r.Pregnant}
}

// ReferenceRange is the normal interval [Low, High] of a lab parameter.
type ReferenceRange struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// Width returns High-Low. Tables guarantee it is positive.
func (r ReferenceRange) Width() float64 {
	return r.High - r.Low
}

// ComorbidityRule boosts Target when Primary's adjusted score exceeds TriggerThreshold.
type ComorbidityRule struct {
	Primary          string  `json:"primary" yaml:"primary"`
	Target           string  `json:"target" yaml:"target"`
	Boost            float64 `json:"boost" yaml:"boost"`
	TriggerThreshold float64 `json:"trigger_threshold" yaml:"trigger_threshold"`
}

// ContributingScores records the two scorers' raw probabilities for a condition.
type ContributingScores struct {
	Model1 float64 `json:"model1"`
	Model2 float64 `json:"model2"`
}

// StageValue is the probability of a condition after a named aggregation stage.
type StageValue struct {
	Stage       string  `json:"stage"`
	Probability float64 `json:"probability"`
}

// ConditionScore is the final assessment of one condition.
type ConditionScore struct {
	Condition    string             `json:"condition"`
	Probability  float64            `json:"probability"`
	Label        RiskLabel          `json:"label"`
	Evidence     []string           `json:"evidence"`
	Contributing ContributingScores `json:"contributing"`
	Confidence   float64            `json:"confidence"`
	Stages       []StageValue       `json:"stages,omitempty"`
}

// AggregationResult is the structured output consumed by the report layer.
type AggregationResult struct {
	RecordID           string                     `json:"record_id,omitempty"`
	PerCondition       map[string]ConditionScore  `json:"per_condition"`
	Conditions         []string                   `json:"conditions"`
	Statuses           map[string]ParameterStatus `json:"statuses"`
	OverallProbability float64                    `json:"overall_probability"`
	OverallLabel       RiskLabel                  `json:"overall_label"`
}

// LabelCutPoints are the two probability thresholds that map a probability to a label.
// The same cut points apply to every condition and to the overall verdict.
type LabelCutPoints struct {
	High     float64 `json:"high" yaml:"high"`
	Moderate float64 `json:"moderate" yaml:"moderate"`
}

// DefaultCutPoints are 0.50 for high and 0.20 for moderate.
var DefaultCutPoints = LabelCutPoints{High: 0.50, Moderate: 0.20}

// Label maps a probability to its risk label.
func (c LabelCutPoints) Label(probability float64) RiskLabel {
	switch {
	case probability >= c.High:
		return RISK_HIGH
	case probability >= c.Moderate:
		return RISK_MODERATE
	default:
		return RISK_LOW
	}
}
