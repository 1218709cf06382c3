// Package interpret classifies scores and score changes as clinically
// significant under tiered rules: clinician-set thresholds first, then
// normative statistics, then proportional fallbacks.
package interpret

import (
	"sort"

	"github.com/chaviprom/procore/internal/domain"
)

// Reason names the rule a classification came from.
type Reason string

const (
	ReasonThresholdMID    Reason = "threshold_mid"
	ReasonNormativeHalfSD Reason = "normative_half_sd"
	ReasonThresholdOnly   Reason = "threshold_only"
	ReasonNormativeMean   Reason = "normative_mean"
	ReasonMID             Reason = "mid"
	ReasonSD              Reason = "sd"
	ReasonRatio           Reason = "ratio"
	ReasonNone            Reason = "none"
)

// ChangeDirection is the clinical sense of a score change.
type ChangeDirection string

const (
	DirectionImproving ChangeDirection = "improving"
	DirectionWorsening ChangeDirection = "worsening"
	DirectionUnchanged ChangeDirection = "unchanged"
	DirectionUnknown   ChangeDirection = "unknown"
)

// Calibration is the clinical metadata a construct or item carries.
type Calibration struct {
	Direction     domain.Direction
	Threshold     *float64
	MID           *float64
	NormativeMean *float64
	NormativeSD   *float64
}

// CalibrationFromConstruct lifts a construct scale's clinical fields.
func CalibrationFromConstruct(cs domain.ConstructScale) Calibration {
	return Calibration{
		Direction:     cs.Direction,
		Threshold:     cs.Threshold,
		MID:           cs.MID,
		NormativeMean: cs.NormativeMean,
		NormativeSD:   cs.NormativeSD,
	}
}

// CalibrationFromItem lifts an item's own clinical fields.
func CalibrationFromItem(it domain.Item) Calibration {
	return Calibration{
		Direction:     it.Direction,
		Threshold:     it.Threshold,
		MID:           it.MID,
		NormativeMean: it.NormativeMean,
		NormativeSD:   it.NormativeSD,
	}
}

// Classification is the per-construct interpretation output.
type Classification struct {
	Classified         bool            `json:"classified"`
	CurrentSignificant bool            `json:"current_significant"`
	ChangeSignificant  bool            `json:"change_significant"`
	ChangeDirection    ChangeDirection `json:"change_direction"`
	CurrentReason      Reason          `json:"current_reason"`
	ChangeReason       Reason          `json:"change_reason"`
}

// Options carries the configurable fallback; zero value uses the default.
type Options struct {
	// ChangeFallbackRatio triggers change significance on |Δ|/|previous|
	// when neither MID nor normative SD is known. Default 0.10.
	ChangeFallbackRatio float64
}

func (o Options) ratio() float64 {
	if o.ChangeFallbackRatio <= 0 {
		return 0.10
	}
	return o.ChangeFallbackRatio
}

// Classify combines current-score and change classification for one
// score pair. Null scores are never classified.
func Classify(cal Calibration, current, previous *float64, opts Options) Classification {
	out := Classification{
		ChangeDirection: DirectionUnknown,
		CurrentReason:   ReasonNone,
		ChangeReason:    ReasonNone,
	}
	if current == nil || cal.Direction == domain.DirectionNone {
		return out
	}

	sig, reason, classified := classifyCurrent(cal, *current)
	out.Classified = classified
	out.CurrentSignificant = sig
	out.CurrentReason = reason

	if previous != nil {
		chSig, chReason := classifyChange(cal, *current, *previous, opts)
		out.ChangeSignificant = chSig
		out.ChangeReason = chReason
		out.ChangeDirection = changeDirection(cal, *current, *previous)
	}
	return out
}

// classifyCurrent applies the tier table. Threshold−MID first, then
// normative μ±0.5σ, then bare threshold, then bare mean. Middle-better
// is the union of both tails.
func classifyCurrent(cal Calibration, score float64) (bool, Reason, bool) {
	switch cal.Direction {
	case domain.DirectionHigherBetter:
		return lowTail(cal, score)
	case domain.DirectionLowerBetter:
		return highTail(cal, score)
	case domain.DirectionMiddleBetter:
		lowSig, lowReason, lowOK := lowTail(cal, score)
		highSig, _, highOK := highTail(cal, score)
		if !lowOK && !highOK {
			return false, ReasonNone, false
		}
		return lowSig || highSig, lowReason, true
	default:
		return false, ReasonNone, false
	}
}

// lowTail flags scores that are too low: the worsening tail for
// higher-is-better scales.
func lowTail(cal Calibration, score float64) (bool, Reason, bool) {
	switch {
	case cal.Threshold != nil && cal.MID != nil:
		return score <= *cal.Threshold-*cal.MID, ReasonThresholdMID, true
	case cal.NormativeMean != nil && cal.NormativeSD != nil:
		return score <= *cal.NormativeMean-0.5**cal.NormativeSD, ReasonNormativeHalfSD, true
	case cal.Threshold != nil:
		return score < *cal.Threshold, ReasonThresholdOnly, true
	case cal.NormativeMean != nil:
		return score < *cal.NormativeMean, ReasonNormativeMean, true
	default:
		return false, ReasonNone, false
	}
}

// highTail is the mirrored rule set for lower-is-better scales.
func highTail(cal Calibration, score float64) (bool, Reason, bool) {
	switch {
	case cal.Threshold != nil && cal.MID != nil:
		return score >= *cal.Threshold+*cal.MID, ReasonThresholdMID, true
	case cal.NormativeMean != nil && cal.NormativeSD != nil:
		return score >= *cal.NormativeMean+0.5**cal.NormativeSD, ReasonNormativeHalfSD, true
	case cal.Threshold != nil:
		return score > *cal.Threshold, ReasonThresholdOnly, true
	case cal.NormativeMean != nil:
		return score > *cal.NormativeMean, ReasonNormativeMean, true
	default:
		return false, ReasonNone, false
	}
}

// classifyChange compares against the immediately prior score. With a
// known MID the change must point in the worsening direction; SD and
// ratio fallbacks trigger on magnitude alone. Middle-better scales
// trigger on threshold crossing in either direction.
func classifyChange(cal Calibration, current, previous float64, opts Options) (bool, Reason) {
	delta := current - previous

	if cal.Direction == domain.DirectionMiddleBetter {
		if cal.Threshold != nil {
			crossed := (previous < *cal.Threshold) != (current < *cal.Threshold)
			return crossed, ReasonThresholdOnly
		}
		// Fall through to the magnitude tiers without a direction check.
		return magnitudeChange(cal, delta, previous, opts, false)
	}

	return magnitudeChange(cal, delta, previous, opts, true)
}

func magnitudeChange(cal Calibration, delta, previous float64, opts Options, directional bool) (bool, Reason) {
	abs := delta
	if abs < 0 {
		abs = -abs
	}

	if cal.MID != nil {
		if abs < *cal.MID {
			return false, ReasonMID
		}
		if directional && !isWorsening(cal.Direction, delta) {
			return false, ReasonMID
		}
		return true, ReasonMID
	}
	if cal.NormativeSD != nil {
		return abs >= *cal.NormativeSD, ReasonSD
	}
	if previous != 0 {
		prevAbs := previous
		if prevAbs < 0 {
			prevAbs = -prevAbs
		}
		return abs/prevAbs >= opts.ratio(), ReasonRatio
	}
	return false, ReasonNone
}

func isWorsening(dir domain.Direction, delta float64) bool {
	switch dir {
	case domain.DirectionHigherBetter:
		return delta < 0
	case domain.DirectionLowerBetter:
		return delta > 0
	default:
		return delta != 0
	}
}

// changeDirection reports the clinical sense of the change. Middle-better
// scales improve when the score moves toward the target (threshold or
// normative mean); without a target the direction is unknown.
func changeDirection(cal Calibration, current, previous float64) ChangeDirection {
	if current == previous {
		return DirectionUnchanged
	}
	switch cal.Direction {
	case domain.DirectionHigherBetter:
		if current > previous {
			return DirectionImproving
		}
		return DirectionWorsening
	case domain.DirectionLowerBetter:
		if current < previous {
			return DirectionImproving
		}
		return DirectionWorsening
	case domain.DirectionMiddleBetter:
		var target float64
		switch {
		case cal.Threshold != nil:
			target = *cal.Threshold
		case cal.NormativeMean != nil:
			target = *cal.NormativeMean
		default:
			return DirectionUnknown
		}
		distNow := current - target
		if distNow < 0 {
			distNow = -distNow
		}
		distPrev := previous - target
		if distPrev < 0 {
			distPrev = -distPrev
		}
		if distNow < distPrev {
			return DirectionImproving
		}
		return DirectionWorsening
	default:
		return DirectionUnknown
	}
}

// Ranked pairs a construct name with its classification for topline lists.
type Ranked struct {
	ConstructName  string
	Classification Classification
}

// SortTopline orders significant constructs for presentation: those
// significant on both axes first, then alphabetically by name.
func SortTopline(items []Ranked) {
	sort.SliceStable(items, func(i, j int) bool {
		bi := items[i].Classification.CurrentSignificant && items[i].Classification.ChangeSignificant
		bj := items[j].Classification.CurrentSignificant && items[j].Classification.ChangeSignificant
		if bi != bj {
			return bi
		}
		return items[i].ConstructName < items[j].ConstructName
	})
}
