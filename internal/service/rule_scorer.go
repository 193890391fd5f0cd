package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/tables"
)

// RuleEvidenceScorer accumulates clinical rule evidence per condition on a 0-100 scale.
// Each firing rule contributes a bounded amount and an evidence line.
type RuleEvidenceScorer struct {
	rules  map[string]tables.ConditionRules
	ranges *ReferenceRangeTable
}

// NewRuleEvidenceScorer creates a rule scorer over the loaded tables
func NewRuleEvidenceScorer(t *tables.Tables, ranges *ReferenceRangeTable) *RuleEvidenceScorer {
	return &RuleEvidenceScorer{
		rules:  t.Rules,
		ranges: ranges,
	}
}

// Name returns the scorer identifier
func (s *RuleEvidenceScorer) Name() string {
	return "rule_evidence"
}

// Score evaluates the condition's rule list against the input
func (s *RuleEvidenceScorer) Score(condition string, input ScorerInput) ScorerOutput {
	cr, ok := s.rules[condition]
	if !ok {
		return BaselineOutput()
	}

	if missing := missingPrerequisites(cr, input); len(missing) > 0 {
		evidence := make([]string, 0, 2)
		if cr.MissingEvidence != "" {
			evidence = append(evidence, cr.MissingEvidence)
		}
		evidence = append(evidence, "Missing parameter(s): "+strings.Join(missing, ", "))
		return BaselineOutput(evidence...)
	}

	var (
		acc      float64
		evidence []string
		fired    = make(map[string]bool)
	)
	for _, rule := range cr.Rules {
		if rule.Group != "" && fired[rule.Group] {
			continue
		}
		if rule.RequiresEvidence && acc <= 0 {
			continue
		}

		points, vars, ok := s.evaluate(rule, input)
		if !ok {
			continue
		}

		acc += points
		if rule.Group != "" {
			fired[rule.Group] = true
		}
		if rule.Evidence != "" {
			evidence = append(evidence, vars.Replace(rule.Evidence))
		}
	}

	if acc <= 0 {
		if cr.NormalEvidence != "" {
			return BaselineOutput(cr.NormalEvidence)
		}
		return BaselineOutput()
	}

	return ScorerOutput{
		Probability: math.Min(acc, domain.MaxEvidenceScore) / 100,
		Evidence:    evidence,
	}
}

// missingPrerequisites returns the parameters that keep the condition from being scored
func missingPrerequisites(cr tables.ConditionRules, input ScorerInput) []string {
	var missing []string
	for _, p := range cr.Requires {
		if !input.Has(p) {
			missing = append(missing, p)
		}
	}
	if len(cr.RequiresAny) > 0 {
		found := false
		for _, p := range cr.RequiresAny {
			if input.Has(p) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, "one of "+strings.Join(cr.RequiresAny, "/"))
		}
	}
	return missing
}

// evaluate tests a single rule. It returns the contribution, the template variables for
// its evidence line, and whether it fired.
func (s *RuleEvidenceScorer) evaluate(rule tables.EvidenceRule, input ScorerInput) (float64, *strings.Replacer, bool) {
	if rule.Kind == tables.AGE_ABOVE {
		if rule.Threshold == nil || float64(input.Context.Age) <= *rule.Threshold {
			return 0, nil, false
		}
		vars := strings.NewReplacer(
			"{age}", strconv.Itoa(input.Context.Age),
			"{threshold}", formatValue(*rule.Threshold),
		)
		return rule.Points, vars, true
	}

	value, present := input.Readings[rule.Parameter]
	if !present {
		return 0, nil, false
	}
	rng, hasRange := s.ranges.Lookup(rule.Parameter, input.Context.Gender)

	var (
		bound   float64
		points  float64
		fired   bool
		boundOK = true
	)
	switch rule.Kind {
	case tables.BELOW_LOW_SCALED, tables.BELOW:
		bound, boundOK = lowerBound(rule, rng, hasRange)
	case tables.ABOVE_HIGH_SCALED, tables.ABOVE:
		bound, boundOK = upperBound(rule, rng, hasRange)
	}
	if !boundOK {
		return 0, nil, false
	}

	switch rule.Kind {
	case tables.BELOW_LOW_SCALED:
		if value < bound {
			points, fired = scaledContribution(bound-value, bound, rng.Width(), rule.Scale, rule.Cap), true
		}
	case tables.ABOVE_HIGH_SCALED:
		if value > bound {
			points, fired = scaledContribution(value-bound, bound, rng.Width(), rule.Scale, rule.Cap), true
		}
	case tables.BORDERLINE_LOW:
		if hasRange && value >= rng.Low && value < rng.Low+rule.Margin {
			points, fired = rule.Points, true
		}
	case tables.BORDERLINE_HIGH:
		if hasRange && value > rng.High-rule.Margin && value <= rng.High {
			points, fired = rule.Points, true
		}
	case tables.BELOW:
		if value < bound {
			points, fired = rule.Points, true
		}
	case tables.ABOVE:
		if value > bound {
			points, fired = rule.Points, true
		}
	}
	if !fired {
		return 0, nil, false
	}
	if rule.Kind.IsScaled() {
		points = math.Min(math.Max(points, rule.MinPoints), rule.Cap)
	}
	if points <= 0 {
		return 0, nil, false
	}

	vars := strings.NewReplacer(
		"{value}", formatValue(value),
		"{low}", formatValue(rng.Low),
		"{high}", formatValue(rng.High),
		"{threshold}", formatValue(bound),
		"{age}", strconv.Itoa(input.Context.Age),
	)
	return points, vars, true
}

func lowerBound(rule tables.EvidenceRule, rng domain.ReferenceRange, hasRange bool) (float64, bool) {
	if rule.Threshold != nil {
		return *rule.Threshold, true
	}
	return rng.Low, hasRange
}

func upperBound(rule tables.EvidenceRule, rng domain.ReferenceRange, hasRange bool) (float64, bool) {
	if rule.Threshold != nil {
		return *rule.Threshold, true
	}
	return rng.High, hasRange
}

// scaledContribution converts a relative excursion past bound into evidence points,
// capped at limit. A non-positive bound falls back to the range width as denominator.
func scaledContribution(delta, bound, width, scale, limit float64) float64 {
	denom := bound
	if denom <= 0 {
		denom = width
	}
	if denom <= 0 {
		return 0
	}
	return math.Min(delta/denom*100*scale, limit)
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
