package service

import (
	"github.com/lab-risk-aggregator/internal/domain"
)

// ParameterClassifier maps raw lab values onto Low / Normal / High
type ParameterClassifier struct {
	ranges *ReferenceRangeTable
}

// NewParameterClassifier creates a classifier backed by the given reference ranges
func NewParameterClassifier(ranges *ReferenceRangeTable) *ParameterClassifier {
	return &ParameterClassifier{ranges: ranges}
}

// Classify reports the status of one value. Unknown parameters report false.
func (c *ParameterClassifier) Classify(parameter string, value float64, gender domain.Gender) (domain.ParameterStatus, bool) {
	rng, ok := c.ranges.Lookup(parameter, gender)
	if !ok {
		return "", false
	}

	switch {
	case value < rng.Low:
		return domain.STATUS_LOW, true
	case value > rng.High:
		return domain.STATUS_HIGH, true
	default:
		return domain.STATUS_NORMAL, true
	}
}

// ClassifyAll classifies every known parameter present in readings. Parameters that are
// absent or unknown do not appear in the result.
func (c *ParameterClassifier) ClassifyAll(readings map[string]float64, gender domain.Gender) map[string]domain.ParameterStatus {
	statuses := make(map[string]domain.ParameterStatus, len(readings))
	for name, value := range readings {
		if status, ok := c.Classify(name, value, gender); ok {
			statuses[name] = status
		}
	}
	return statuses
}
