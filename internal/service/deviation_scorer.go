package service

import (
	"math"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/tables"
)

const (
	deviationGain   = 0.8
	deviationOffset = 0.05
)

// DeviationScorer projects range-normalized deviations onto per-condition weight vectors
type DeviationScorer struct {
	weights map[string][]tables.WeightEntry
	ranges  *ReferenceRangeTable
}

// NewDeviationScorer creates a deviation scorer over the loaded tables
func NewDeviationScorer(t *tables.Tables, ranges *ReferenceRangeTable) *DeviationScorer {
	return &DeviationScorer{
		weights: t.DeviationWeights,
		ranges:  ranges,
	}
}

// Name returns the scorer identifier
func (s *DeviationScorer) Name() string {
	return "deviation"
}

// Deviation is 0 inside the range, negative below it and positive above it, in units of
// range width.
func Deviation(value float64, rng domain.ReferenceRange) float64 {
	width := rng.Width()
	if width <= 0 || math.IsNaN(value) {
		return 0
	}
	switch {
	case value < rng.Low:
		return -(rng.Low - value) / width
	case value > rng.High:
		return (value - rng.High) / width
	default:
		return 0
	}
}

// Score accumulates |w|·|d| over the weight vector wherever the deviation has the polarity
// the weight expects. Weights are visited in table order so repeated runs are bit-identical.
func (s *DeviationScorer) Score(condition string, input ScorerInput) ScorerOutput {
	entries := s.weights[condition]
	if len(entries) == 0 {
		return BaselineOutput()
	}

	var (
		acc     float64
		present int
	)
	for _, e := range entries {
		value, ok := input.Readings[e.Parameter]
		if !ok {
			continue
		}
		present++

		rng, ok := s.ranges.Lookup(e.Parameter, input.Context.Gender)
		if !ok {
			continue
		}
		d := Deviation(value, rng)
		if d*e.Weight > 0 {
			acc += math.Abs(e.Weight) * math.Abs(d)
		}
	}

	confidence := float64(present) / float64(len(entries)) * 100
	if acc == 0 {
		return ScorerOutput{Probability: domain.BaselineProbability, Confidence: confidence}
	}

	return ScorerOutput{
		Probability: clamp(acc*deviationGain+deviationOffset, domain.MinProbability, domain.MaxProbability),
		Confidence:  confidence,
	}
}
