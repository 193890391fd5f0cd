package service

import (
	"fmt"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/tables"
)

// Stage names, in pipeline order
const (
	StageCombine     = "combine"
	StageAge         = "age"
	StageGender      = "gender"
	StagePregnancy   = "pregnancy"
	StageComorbidity = "comorbidity"
	StageFinalize    = "finalize"
)

// probabilityEpsilon absorbs float noise when comparing against the baseline
const probabilityEpsilon = 1e-9

// Stage is one step of the context aggregation pipeline. Stages mutate the working
// scores in place and run in a fixed order.
type Stage interface {
	Name() string
	Apply(state *AggregationState)
}

// CombineStage blends the two scorer outputs with the model weights
type CombineStage struct {
	Weights tables.ModelWeights
}

func (CombineStage) Name() string { return StageCombine }

func (s CombineStage) Apply(state *AggregationState) {
	for _, c := range state.Conditions {
		pair := state.Inputs[c]
		state.Scores[c] = s.Weights.RuleEvidence*pair.RuleProbability() + s.Weights.Deviation*pair.DeviationProbability()
	}
}

// AgeStage multiplies by the first bracket containing the patient's age
type AgeStage struct {
	Brackets map[string][]tables.AgeBracket
}

func (AgeStage) Name() string { return StageAge }

func (s AgeStage) Apply(state *AggregationState) {
	for _, c := range state.Conditions {
		state.Scores[c] = scale(state.Scores[c], s.Multiplier(c, state.Context.Age))
	}
}

// Multiplier returns the bracket multiplier for a condition, 1.0 when no bracket matches
func (s AgeStage) Multiplier(condition string, age int) float64 {
	for _, b := range s.Brackets[condition] {
		if b.Contains(age) {
			return b.Multiplier
		}
	}
	return 1.0
}

// GenderStage multiplies by the condition's gender multiplier
type GenderStage struct {
	Multipliers map[string]map[domain.Gender]float64
}

func (GenderStage) Name() string { return StageGender }

func (s GenderStage) Apply(state *AggregationState) {
	for _, c := range state.Conditions {
		m, ok := s.Multipliers[c][state.Context.Gender]
		if !ok {
			continue
		}
		state.Scores[c] = scale(state.Scores[c], m)
	}
}

// PregnancyStage multiplies by the condition's pregnancy multiplier for pregnant female
// patients only
type PregnancyStage struct {
	Multipliers map[string]float64
}

func (PregnancyStage) Name() string { return StagePregnancy }

func (s PregnancyStage) Apply(state *AggregationState) {
	if !state.Context.PregnancyApplies() {
		return
	}
	for _, c := range state.Conditions {
		m, ok := s.Multipliers[c]
		if !ok {
			continue
		}
		state.Scores[c] = scale(state.Scores[c], m)
	}
}

// ComorbidityStage adds cross-condition boosts. Triggers are read from a snapshot of the
// post-multiplier scores, so boosts never cascade within one run.
type ComorbidityStage struct {
	Rules []domain.ComorbidityRule
}

func (ComorbidityStage) Name() string { return StageComorbidity }

func (s ComorbidityStage) Apply(state *AggregationState) {
	snapshot := make(map[string]float64, len(state.Scores))
	for c, p := range state.Scores {
		snapshot[c] = p
	}

	for _, rule := range s.Rules {
		primary, ok := snapshot[rule.Primary]
		if !ok || primary <= rule.TriggerThreshold {
			continue
		}
		if _, ok := state.Scores[rule.Target]; !ok {
			continue
		}
		state.Scores[rule.Target] += rule.Boost
		state.Notes[rule.Target] = append(state.Notes[rule.Target],
			fmt.Sprintf("Elevated %s risk raises %s risk (+%.2f)", rule.Primary, rule.Target, rule.Boost))
	}
}

// FinalizeStage clamps every score into the reportable range
type FinalizeStage struct{}

func (FinalizeStage) Name() string { return StageFinalize }

func (FinalizeStage) Apply(state *AggregationState) {
	for _, c := range state.Conditions {
		state.Scores[c] = clamp(state.Scores[c], domain.MinProbability, domain.MaxProbability)
	}
}

// DefaultStages builds the standard pipeline from the tables
func DefaultStages(t *tables.Tables) []Stage {
	return []Stage{
		CombineStage{Weights: t.ModelWeights},
		AgeStage{Brackets: t.AgeBrackets},
		GenderStage{Multipliers: t.GenderMultipliers},
		PregnancyStage{Multipliers: t.PregnancyMultipliers},
		ComorbidityStage{Rules: t.Comorbidity},
		FinalizeStage{},
	}
}

// scale applies a context multiplier. Scores at baseline carry no signal and are left
// alone; anything else is clamped to [MinProbability, MaxProbability], so a reducing
// multiplier never takes a score below baseline ahead of the comorbidity stage.
func scale(p, multiplier float64) float64 {
	if p <= domain.BaselineProbability+probabilityEpsilon {
		return p
	}
	return clamp(p*multiplier, domain.MinProbability, domain.MaxProbability)
}
