package tables

import (
	"errors"
	"fmt"
	"math"

	"github.com/lab-risk-aggregator/internal/domain"
)

const weightSumTolerance = 1e-9

// Validate checks the tables for internal consistency. All problems are reported
// together, wrapped in domain.ErrInvalidTables.
func (t *Tables) Validate() error {
	var problems []error
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if len(t.Conditions) == 0 {
		add("no conditions registered")
	}
	seen := make(map[string]bool, len(t.Conditions))
	for _, c := range t.Conditions {
		if c == "" {
			add("empty condition name")
		}
		if seen[c] {
			add("duplicate condition %q", c)
		}
		seen[c] = true
	}

	w := t.ModelWeights
	if w.RuleEvidence < 0 || w.Deviation < 0 {
		add("model weights must be non-negative")
	}
	if math.Abs(w.RuleEvidence+w.Deviation-1) > weightSumTolerance {
		add("model weights must sum to 1, got %.4f", w.RuleEvidence+w.Deviation)
	}

	if !(t.Labels.Moderate > 0 && t.Labels.Moderate < t.Labels.High && t.Labels.High <= 1) {
		add("label cut points must satisfy 0 < moderate < high <= 1")
	}

	for name, spec := range t.Parameters {
		if !spec.HasRange() {
			add("parameter %q has no reference range", name)
		}
		for label, r := range map[string]*domain.ReferenceRange{
			"default": spec.Default, "male": spec.Male, "female": spec.Female, "plausible": spec.Plausible,
		} {
			if r != nil && !(r.High > r.Low) {
				add("parameter %q %s range must have high > low", name, label)
			}
		}
	}

	for alias, target := range t.Aliases {
		if target == "" {
			add("alias %q has no target", alias)
		}
	}

	for cond, cr := range t.Rules {
		if !seen[cond] {
			add("rules reference %w %q", domain.ErrUnknownCondition, cond)
		}
		for i, r := range cr.Rules {
			if err := t.validateRule(r); err != nil {
				add("rules[%s][%d]: %v", cond, i, err)
			}
		}
	}

	for cond, entries := range t.DeviationWeights {
		if !seen[cond] {
			add("deviation weights reference %w %q", domain.ErrUnknownCondition, cond)
		}
		for _, e := range entries {
			if spec, ok := t.Parameters[e.Parameter]; !ok || !spec.HasRange() {
				add("deviation weight for %q references parameter %q without a reference range", cond, e.Parameter)
			}
			if e.Weight == 0 {
				add("deviation weight for %q/%q is zero", cond, e.Parameter)
			}
		}
	}

	for cond, brackets := range t.AgeBrackets {
		if !seen[cond] {
			add("age brackets reference %w %q", domain.ErrUnknownCondition, cond)
		}
		for _, b := range brackets {
			if b.Min < 0 || b.Max <= b.Min {
				add("age bracket [%d,%d) for %q is empty", b.Min, b.Max, cond)
			}
			if b.Multiplier <= 0 {
				add("age bracket multiplier for %q must be positive", cond)
			}
		}
	}

	for cond, byGender := range t.GenderMultipliers {
		if !seen[cond] {
			add("gender multipliers reference %w %q", domain.ErrUnknownCondition, cond)
		}
		for g, m := range byGender {
			if !g.IsValid() {
				add("gender multiplier for %q uses %w %q", cond, domain.ErrInvalidGender, g)
			}
			if m <= 0 {
				add("gender multiplier for %q/%s must be positive", cond, g)
			}
		}
	}

	for cond, m := range t.PregnancyMultipliers {
		if !seen[cond] {
			add("pregnancy multipliers reference %w %q", domain.ErrUnknownCondition, cond)
		}
		if m <= 0 {
			add("pregnancy multiplier for %q must be positive", cond)
		}
	}

	for i, rule := range t.Comorbidity {
		if !seen[rule.Primary] || !seen[rule.Target] {
			add("comorbidity[%d] %s->%s references an %w", i, rule.Primary, rule.Target, domain.ErrUnknownCondition)
		}
		if rule.Primary == rule.Target {
			add("comorbidity[%d] boosts its own primary %q", i, rule.Primary)
		}
		if rule.Boost < 0 {
			add("comorbidity[%d] boost must be non-negative", i)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidTables, errors.Join(problems...))
	}
	return nil
}

func (t *Tables) validateRule(r EvidenceRule) error {
	if r.Kind == AGE_ABOVE {
		if r.Threshold == nil {
			return errors.New("age_above requires a threshold")
		}
		if r.Points <= 0 {
			return errors.New("age_above requires positive points")
		}
		return nil
	}

	if r.Parameter == "" {
		return fmt.Errorf("%s rule has no parameter", r.Kind)
	}
	hasRange := t.Parameters[r.Parameter].HasRange()

	if r.MinPoints != 0 && !r.Kind.IsScaled() {
		return fmt.Errorf("min_points only applies to scaled rules, not %s", r.Kind)
	}

	switch r.Kind {
	case BELOW_LOW_SCALED, ABOVE_HIGH_SCALED:
		if r.Threshold == nil && !hasRange {
			return fmt.Errorf("%w %q: scaled rule needs a threshold or a reference range", domain.ErrUnknownParameter, r.Parameter)
		}
		if r.Scale <= 0 || r.Cap <= 0 {
			return errors.New("scaled rule requires positive scale and cap")
		}
		if r.MinPoints < 0 || r.MinPoints > r.Cap {
			return errors.New("scaled rule min_points must lie between 0 and cap")
		}
	case BORDERLINE_LOW, BORDERLINE_HIGH:
		if !hasRange {
			return fmt.Errorf("%w %q: borderline rule needs a reference range", domain.ErrUnknownParameter, r.Parameter)
		}
		if r.Margin <= 0 || r.Points <= 0 {
			return errors.New("borderline rule requires positive margin and points")
		}
	case BELOW, ABOVE:
		if r.Threshold == nil && !hasRange {
			return fmt.Errorf("%w %q: threshold rule needs a threshold or a reference range", domain.ErrUnknownParameter, r.Parameter)
		}
		if r.Points <= 0 {
			return errors.New("threshold rule requires positive points")
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}
