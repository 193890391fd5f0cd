package service

import (
	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/tables"
)

// ScorePair holds both scorers' outputs for one condition. A nil output means the scorer
// produced nothing for the condition and its baseline is used.
type ScorePair struct {
	Rule      *ScorerOutput
	Deviation *ScorerOutput
}

// RuleProbability returns the rule scorer's probability or the baseline
func (p ScorePair) RuleProbability() float64 {
	if p.Rule == nil {
		return domain.BaselineProbability
	}
	return p.Rule.Probability
}

// DeviationProbability returns the deviation scorer's probability or the baseline
func (p ScorePair) DeviationProbability() float64 {
	if p.Deviation == nil {
		return domain.BaselineProbability
	}
	return p.Deviation.Probability
}

// AggregationState is the working set threaded through the stage pipeline
type AggregationState struct {
	Context    domain.PatientContext
	Conditions []string
	Inputs     map[string]ScorePair
	Scores     map[string]float64
	Notes      map[string][]string
	Trace      map[string][]domain.StageValue
}

// NewAggregationState prepares a state for the given registry. Every condition starts at
// the baseline.
func NewAggregationState(conditions []string, inputs map[string]ScorePair, ctx domain.PatientContext) *AggregationState {
	state := &AggregationState{
		Context:    ctx,
		Conditions: conditions,
		Inputs:     inputs,
		Scores:     make(map[string]float64, len(conditions)),
		Notes:      make(map[string][]string),
		Trace:      make(map[string][]domain.StageValue, len(conditions)),
	}
	if state.Inputs == nil {
		state.Inputs = map[string]ScorePair{}
	}
	for _, c := range conditions {
		state.Scores[c] = domain.BaselineProbability
	}
	return state
}

func (s *AggregationState) record(stage string) {
	for _, c := range s.Conditions {
		s.Trace[c] = append(s.Trace[c], domain.StageValue{Stage: stage, Probability: round3(s.Scores[c])})
	}
}

// ContextAggregator combines scorer outputs and adjusts them for patient context
type ContextAggregator struct {
	conditions   []string
	labels       domain.LabelCutPoints
	stages       []Stage
	includeTrace bool
}

// AggregatorOption customizes a ContextAggregator
type AggregatorOption func(*ContextAggregator)

// WithStages replaces the default pipeline
func WithStages(stages ...Stage) AggregatorOption {
	return func(a *ContextAggregator) {
		a.stages = stages
	}
}

// WithTrace records per-stage probabilities on every condition score
func WithTrace(enabled bool) AggregatorOption {
	return func(a *ContextAggregator) {
		a.includeTrace = enabled
	}
}

// NewContextAggregator creates an aggregator over the condition registry of the tables
func NewContextAggregator(t *tables.Tables, opts ...AggregatorOption) *ContextAggregator {
	a := &ContextAggregator{
		conditions: t.Conditions,
		labels:     t.Labels,
		stages:     DefaultStages(t),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stages returns the names of the configured stages in order
func (a *ContextAggregator) Stages() []string {
	names := make([]string, len(a.stages))
	for i, s := range a.stages {
		names[i] = s.Name()
	}
	return names
}

// Aggregate runs the stage pipeline and builds the result. Conditions missing from inputs
// are reported at the baseline.
func (a *ContextAggregator) Aggregate(inputs map[string]ScorePair, ctx domain.PatientContext) *domain.AggregationResult {
	state := NewAggregationState(a.conditions, inputs, ctx)
	for _, stage := range a.stages {
		stage.Apply(state)
		if a.includeTrace {
			state.record(stage.Name())
		}
	}
	return a.result(state)
}

func (a *ContextAggregator) result(state *AggregationState) *domain.AggregationResult {
	res := &domain.AggregationResult{
		PerCondition:       make(map[string]domain.ConditionScore, len(state.Conditions)),
		Conditions:         append([]string(nil), state.Conditions...),
		OverallProbability: domain.BaselineProbability,
	}

	for i, c := range state.Conditions {
		pair := state.Inputs[c]
		p := round3(clamp(state.Scores[c], domain.MinProbability, domain.MaxProbability))

		evidence := []string{}
		if pair.Rule != nil {
			evidence = append(evidence, pair.Rule.Evidence...)
		}
		evidence = append(evidence, state.Notes[c]...)

		score := domain.ConditionScore{
			Condition:   c,
			Probability: p,
			Label:       a.labels.Label(p),
			Evidence:    evidence,
			Contributing: domain.ContributingScores{
				Model1: round3(pair.RuleProbability()),
				Model2: round3(pair.DeviationProbability()),
			},
		}
		if pair.Deviation != nil {
			score.Confidence = round3(pair.Deviation.Confidence)
		}
		if a.includeTrace {
			score.Stages = state.Trace[c]
		}
		res.PerCondition[c] = score

		if i == 0 || p > res.OverallProbability {
			res.OverallProbability = p
		}
	}

	res.OverallLabel = a.labels.Label(res.OverallProbability)
	return res
}
