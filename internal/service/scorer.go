package service

import (
	"math"

	"github.com/lab-risk-aggregator/internal/domain"
)

// ScorerInput is the shared, read-only input handed to every scorer for one record
type ScorerInput struct {
	Readings map[string]float64
	Context  domain.PatientContext
	Statuses map[string]domain.ParameterStatus
}

// Has reports whether a reading is present
func (in ScorerInput) Has(parameter string) bool {
	_, ok := in.Readings[parameter]
	return ok
}

// ScorerOutput is one scorer's verdict for one condition
type ScorerOutput struct {
	Probability float64  `json:"probability"`
	Evidence    []string `json:"evidence,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// Scorer estimates the probability of a single condition independently of all others
type Scorer interface {
	Name() string
	Score(condition string, input ScorerInput) ScorerOutput
}

// BaselineOutput is what a scorer reports when it has no signal for a condition
func BaselineOutput(evidence ...string) ScorerOutput {
	return ScorerOutput{Probability: domain.BaselineProbability, Evidence: evidence}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
