package tables

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lab-risk-aggregator/internal/domain"
)

func TestDefault_LoadsAndValidates(t *testing.T) {
	tb, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"anemia", "infection", "cardiovascular", "diabetes",
		"kidney_dysfunction", "liver_dysfunction", "thyroid_dysfunction", "hypertension",
	}, tb.Conditions)
	assert.InDelta(t, 1.0, tb.ModelWeights.RuleEvidence+tb.ModelWeights.Deviation, 1e-12)
	assert.Equal(t, domain.DefaultCutPoints, tb.Labels)

	hb := tb.Parameters["hemoglobin"]
	require.NotNil(t, hb.Male)
	require.NotNil(t, hb.Female)
	assert.Equal(t, domain.ReferenceRange{Low: 13, High: 17}, *hb.Male)
	assert.Equal(t, domain.ReferenceRange{Low: 12, High: 16}, *hb.Female)

	for _, cond := range tb.Conditions {
		cr, ok := tb.Rules[cond]
		require.True(t, ok, "rules for %s", cond)
		assert.True(t, len(cr.Requires) > 0 || len(cr.RequiresAny) > 0, "%s must declare prerequisites", cond)
		assert.NotEmpty(t, tb.DeviationWeights[cond], "deviation weights for %s", cond)
	}
}

func TestDefaultYAML_ReturnsCopy(t *testing.T) {
	a := DefaultYAML()
	require.NotEmpty(t, a)
	a[0] = '!'
	assert.NotEqual(t, a[0], DefaultYAML()[0])
}

func TestLoad(t *testing.T) {
	t.Run("empty path selects embedded defaults", func(t *testing.T) {
		tb, err := Load("")
		require.NoError(t, err)
		assert.Len(t, tb.Conditions, 8)
	})

	t.Run("file on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tables.yaml")
		require.NoError(t, os.WriteFile(path, DefaultYAML(), 0o600))

		tb, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "2025.1", tb.Version)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read tables file")
	})
}

func TestParse_Invalid(t *testing.T) {
	base := string(DefaultYAML())

	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "unknown field",
			doc:     base + "\nsurprise: true\n",
			wantMsg: "decode",
		},
		{
			name:    "weights do not sum to one",
			doc:     strings.Replace(base, "deviation: 0.55", "deviation: 0.60", 1),
			wantMsg: "model weights must sum to 1",
		},
		{
			name:    "inverted cut points",
			doc:     strings.Replace(base, "moderate: 0.20", "moderate: 0.70", 1),
			wantMsg: "label cut points",
		},
		{
			name:    "collapsed range",
			doc:     strings.Replace(base, "default: {low: 70, high: 100}", "default: {low: 100, high: 100}", 1),
			wantMsg: `parameter "glucose" default range must have high > low`,
		},
		{
			name:    "unregistered comorbidity target",
			doc:     base + "  - {primary: anemia, target: gout, boost: 0.05, trigger_threshold: 0.20}\n",
			wantMsg: "references an unknown condition",
		},
		{
			name:    "rules for unregistered condition",
			doc:     strings.Replace(base, "  infection:\n    requires: [wbc]", "  sepsis:\n    requires: [wbc]", 1),
			wantMsg: `rules reference unknown condition "sepsis"`,
		},
		{
			name:    "bad gender key",
			doc:     strings.Replace(base, "anemia: {female: 1.2, male: 1.0}", "anemia: {other: 1.2, male: 1.0}", 1),
			wantMsg: "invalid gender",
		},
		{
			name:    "deviation weight on unranged parameter",
			doc:     strings.Replace(base, "- {parameter: mch, weight: 0.2}", "- {parameter: ferritin, weight: 0.2}", 1),
			wantMsg: `references parameter "ferritin"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidTables))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_UnknownConditionIsWrapped(t *testing.T) {
	doc := string(DefaultYAML()) + "  - {primary: anemia, target: gout, boost: 0.05, trigger_threshold: 0.20}\n"

	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTables)
	assert.ErrorIs(t, err, domain.ErrUnknownCondition)
}

func TestValidateRule(t *testing.T) {
	tb, err := Default()
	require.NoError(t, err)

	threshold := 5.0
	tests := []struct {
		name    string
		rule    EvidenceRule
		wantErr bool
	}{
		{"age rule", EvidenceRule{Kind: AGE_ABOVE, Threshold: &threshold, Points: 10}, false},
		{"age rule without threshold", EvidenceRule{Kind: AGE_ABOVE, Points: 10}, true},
		{"scaled on ranged parameter", EvidenceRule{Parameter: "wbc", Kind: ABOVE_HIGH_SCALED, Scale: 1, Cap: 10}, false},
		{"scaled on unknown parameter", EvidenceRule{Parameter: "ferritin", Kind: ABOVE_HIGH_SCALED, Scale: 1, Cap: 10}, true},
		{"scaled without cap", EvidenceRule{Parameter: "wbc", Kind: ABOVE_HIGH_SCALED, Scale: 1}, true},
		{"scaled with floor", EvidenceRule{Parameter: "wbc", Kind: ABOVE_HIGH_SCALED, Scale: 1, Cap: 10, MinPoints: 5}, false},
		{"scaled floor above cap", EvidenceRule{Parameter: "wbc", Kind: ABOVE_HIGH_SCALED, Scale: 1, Cap: 10, MinPoints: 20}, true},
		{"floor on fixed rule", EvidenceRule{Parameter: "wbc", Kind: ABOVE, Points: 5, MinPoints: 5}, true},
		{"threshold rule on unknown parameter", EvidenceRule{Parameter: "ferritin", Kind: BELOW, Threshold: &threshold, Points: 5}, false},
		{"borderline without margin", EvidenceRule{Parameter: "hemoglobin", Kind: BORDERLINE_LOW, Points: 5}, true},
		{"unknown kind", EvidenceRule{Parameter: "wbc", Kind: "sideways", Points: 5}, true},
		{"no parameter", EvidenceRule{Kind: ABOVE, Threshold: &threshold, Points: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tb.validateRule(tt.rule)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tb, err := Default()
	require.NoError(t, err)

	tests := []struct {
		raw  string
		want string
	}{
		{"Hemoglobin", "hemoglobin"},
		{"  HB ", "hemoglobin"},
		{"Haemoglobin", "hemoglobin"},
		{"Total WBC", "wbc"},
		{"total-wbc", "wbc"},
		{"PLT", "platelets"},
		{"SGPT", "alt"},
		{"S. Creatinine", "creatinine"},
		{"HbA1c", "hba1c"},
		{"Ferritin", "ferritin"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, tb.NormalizeName(tt.raw))
		})
	}
}

func TestAgeBracket_Contains(t *testing.T) {
	b := AgeBracket{Min: 50, Max: 70, Multiplier: 1.3}
	assert.False(t, b.Contains(49))
	assert.True(t, b.Contains(50))
	assert.True(t, b.Contains(69))
	assert.False(t, b.Contains(70))
}
