package interpret

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chaviprom/procore/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestClassifyCurrent_TierTable(t *testing.T) {
	tests := []struct {
		name       string
		cal        Calibration
		score      float64
		wantSig    bool
		wantReason Reason
	}{
		{
			name:       "higher_better_threshold_mid_significant",
			cal:        Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3.0), MID: f(0.5)},
			score:      2.5,
			wantSig:    true,
			wantReason: ReasonThresholdMID,
		},
		{
			name:       "higher_better_threshold_mid_above_margin",
			cal:        Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3.0), MID: f(0.5)},
			score:      2.6,
			wantSig:    false,
			wantReason: ReasonThresholdMID,
		},
		{
			name:       "higher_better_normative_half_sd",
			cal:        Calibration{Direction: domain.DirectionHigherBetter, NormativeMean: f(50), NormativeSD: f(10)},
			score:      45,
			wantSig:    true,
			wantReason: ReasonNormativeHalfSD,
		},
		{
			name:       "threshold_without_mid_prefers_normative_when_sd_known",
			cal:        Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(40), NormativeMean: f(50), NormativeSD: f(10)},
			score:      44,
			wantSig:    true,
			wantReason: ReasonNormativeHalfSD,
		},
		{
			name:       "higher_better_bare_threshold",
			cal:        Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3.0)},
			score:      2.9,
			wantSig:    true,
			wantReason: ReasonThresholdOnly,
		},
		{
			name:       "higher_better_bare_threshold_at_boundary",
			cal:        Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3.0)},
			score:      3.0,
			wantSig:    false,
			wantReason: ReasonThresholdOnly,
		},
		{
			name:       "higher_better_bare_mean",
			cal:        Calibration{Direction: domain.DirectionHigherBetter, NormativeMean: f(50)},
			score:      49,
			wantSig:    true,
			wantReason: ReasonNormativeMean,
		},
		{
			name:       "lower_better_threshold_mid_mirrored",
			cal:        Calibration{Direction: domain.DirectionLowerBetter, Threshold: f(3.0), MID: f(0.5)},
			score:      3.5,
			wantSig:    true,
			wantReason: ReasonThresholdMID,
		},
		{
			name:       "lower_better_normative_half_sd",
			cal:        Calibration{Direction: domain.DirectionLowerBetter, NormativeMean: f(50), NormativeSD: f(10)},
			score:      55,
			wantSig:    true,
			wantReason: ReasonNormativeHalfSD,
		},
		{
			name:       "middle_better_low_tail",
			cal:        Calibration{Direction: domain.DirectionMiddleBetter, Threshold: f(50), MID: f(5)},
			score:      44,
			wantSig:    true,
			wantReason: ReasonThresholdMID,
		},
		{
			name:       "middle_better_high_tail",
			cal:        Calibration{Direction: domain.DirectionMiddleBetter, Threshold: f(50), MID: f(5)},
			score:      56,
			wantSig:    true,
			wantReason: ReasonThresholdMID,
		},
		{
			name:       "middle_better_inside_band",
			cal:        Calibration{Direction: domain.DirectionMiddleBetter, Threshold: f(50), MID: f(5)},
			score:      50,
			wantSig:    false,
			wantReason: ReasonThresholdMID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.cal, &tt.score, nil, Options{})
			assert.True(t, got.Classified)
			assert.Equal(t, tt.wantSig, got.CurrentSignificant)
			assert.Equal(t, tt.wantReason, got.CurrentReason)
		})
	}
}

func TestClassify_NotClassified(t *testing.T) {
	t.Run("direction_none", func(t *testing.T) {
		got := Classify(Calibration{Direction: domain.DirectionNone, Threshold: f(3)}, f(2), nil, Options{})
		assert.False(t, got.Classified)
	})
	t.Run("no_calibration", func(t *testing.T) {
		got := Classify(Calibration{Direction: domain.DirectionHigherBetter}, f(2), nil, Options{})
		assert.False(t, got.Classified)
		assert.Equal(t, ReasonNone, got.CurrentReason)
	})
	t.Run("null_score", func(t *testing.T) {
		got := Classify(Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3)}, nil, f(4), Options{})
		assert.False(t, got.Classified)
		assert.Equal(t, DirectionUnknown, got.ChangeDirection)
	})
}

// Prior 4.0, current 3.4, MID 0.5, higher-is-better: a worsening change
// past the minimum important difference.
func TestClassifyChange_MID(t *testing.T) {
	cal := Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3.0), MID: f(0.5)}

	got := Classify(cal, f(3.4), f(4.0), Options{})
	assert.True(t, got.ChangeSignificant)
	assert.Equal(t, DirectionWorsening, got.ChangeDirection)
	assert.Equal(t, ReasonMID, got.ChangeReason)
}

func TestClassifyChange_Tiers(t *testing.T) {
	tests := []struct {
		name          string
		cal           Calibration
		current, prev float64
		wantSig       bool
		wantReason    Reason
		wantDir       ChangeDirection
	}{
		{
			name:    "mid_improving_not_significant",
			cal:     Calibration{Direction: domain.DirectionHigherBetter, MID: f(0.5), Threshold: f(3)},
			current: 4.0, prev: 3.4,
			wantSig: false, wantReason: ReasonMID, wantDir: DirectionImproving,
		},
		{
			name:    "mid_below_magnitude",
			cal:     Calibration{Direction: domain.DirectionHigherBetter, MID: f(0.5), Threshold: f(3)},
			current: 3.7, prev: 4.0,
			wantSig: false, wantReason: ReasonMID, wantDir: DirectionWorsening,
		},
		{
			name:    "sd_fallback",
			cal:     Calibration{Direction: domain.DirectionHigherBetter, NormativeMean: f(50), NormativeSD: f(5)},
			current: 44, prev: 50,
			wantSig: true, wantReason: ReasonSD, wantDir: DirectionWorsening,
		},
		{
			name:    "ratio_fallback",
			cal:     Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3)},
			current: 2.6, prev: 3.0,
			wantSig: true, wantReason: ReasonRatio, wantDir: DirectionWorsening,
		},
		{
			name:    "ratio_below_cutoff",
			cal:     Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3)},
			current: 2.9, prev: 3.0,
			wantSig: false, wantReason: ReasonRatio, wantDir: DirectionWorsening,
		},
		{
			name:    "lower_better_worsening_is_up",
			cal:     Calibration{Direction: domain.DirectionLowerBetter, MID: f(1)},
			current: 6, prev: 4,
			wantSig: true, wantReason: ReasonMID, wantDir: DirectionWorsening,
		},
		{
			name:    "middle_better_threshold_crossing",
			cal:     Calibration{Direction: domain.DirectionMiddleBetter, Threshold: f(50)},
			current: 52, prev: 48,
			wantSig: true, wantReason: ReasonThresholdOnly, wantDir: DirectionWorsening,
		},
		{
			name:    "unchanged",
			cal:     Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(3)},
			current: 3.4, prev: 3.4,
			wantSig: false, wantDir: DirectionUnchanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.cal, &tt.current, &tt.prev, Options{})
			assert.Equal(t, tt.wantSig, got.ChangeSignificant)
			assert.Equal(t, tt.wantDir, got.ChangeDirection)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, got.ChangeReason)
			}
		})
	}
}

func TestClassify_MirrorProperty(t *testing.T) {
	// Flipping direction and mirroring the score around the threshold
	// inverts nothing: the classification is the same on mirrored input.
	threshold, mid := 3.0, 0.5
	for _, score := range []float64{2.0, 2.5, 2.6, 3.0, 4.0} {
		higher := Classify(Calibration{Direction: domain.DirectionHigherBetter, Threshold: f(threshold), MID: f(mid)}, f(score), nil, Options{})
		mirrored := 2*threshold - score
		lower := Classify(Calibration{Direction: domain.DirectionLowerBetter, Threshold: f(threshold), MID: f(mid)}, f(mirrored), nil, Options{})
		assert.Equal(t, higher.CurrentSignificant, lower.CurrentSignificant, "score=%v", score)
	}
}

func TestSortTopline(t *testing.T) {
	both := Classification{CurrentSignificant: true, ChangeSignificant: true}
	onlyCurrent := Classification{CurrentSignificant: true}

	items := []Ranked{
		{ConstructName: "fatigue", Classification: onlyCurrent},
		{ConstructName: "pain", Classification: both},
		{ConstructName: "anxiety", Classification: onlyCurrent},
		{ConstructName: "depression", Classification: both},
	}
	SortTopline(items)

	assert.Equal(t, "depression", items[0].ConstructName)
	assert.Equal(t, "pain", items[1].ConstructName)
	assert.Equal(t, "anxiety", items[2].ConstructName)
	assert.Equal(t, "fatigue", items[3].ConstructName)
}
