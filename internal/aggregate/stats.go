package aggregate

import (
	"math"
	"sort"
)

// Type selects the summary statistic for cohort reference bands.
type Type string

const (
	TypeMedianIQR  Type = "median_iqr"
	TypeMeanCI95   Type = "mean_ci95"
	TypeMeanHalfSD Type = "mean_half_sd"
	TypeMeanSD     Type = "mean_sd"
	TypeMean15SD   Type = "mean_1_5_sd"
	TypeMean2SD    Type = "mean_2_sd"
	TypeMean25SD   Type = "mean_2_5_sd"
)

// z for a 95% confidence interval under the normal approximation.
const z95 = 1.96

// ValidType reports whether t names a supported aggregation.
func ValidType(t Type) bool {
	switch t {
	case TypeMedianIQR, TypeMeanCI95, TypeMeanHalfSD, TypeMeanSD, TypeMean15SD, TypeMean2SD, TypeMean25SD:
		return true
	}
	return false
}

// BucketStat is one bucket's summary over cohort values. N==0 marks a
// null statistic (no cohort values landed in the bucket). The output
// carries no patient-identifying information.
type BucketStat struct {
	Bucket              int     `json:"bucket"`
	Center              float64 `json:"center"`
	Low                 float64 `json:"low"`
	High                float64 `json:"high"`
	N                   int     `json:"n"`
	InsufficientSamples bool    `json:"insufficient_samples,omitempty"`
}

// summarize computes the requested statistic over one bucket's values.
// Nulls are dropped by the caller; values may be empty.
func summarize(bucket int, values []float64, typ Type, minSamples int) BucketStat {
	stat := BucketStat{Bucket: bucket, N: len(values)}
	if len(values) == 0 {
		return stat
	}

	switch typ {
	case TypeMedianIQR:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		stat.Center = quantile(sorted, 0.5)
		stat.Low = quantile(sorted, 0.25)
		stat.High = quantile(sorted, 0.75)

	case TypeMeanCI95:
		m := mean(values)
		stat.Center = m
		if len(values) < minSamples {
			stat.Low, stat.High = m, m
			stat.InsufficientSamples = true
			break
		}
		half := z95 * sd(values, m) / math.Sqrt(float64(len(values)))
		stat.Low, stat.High = m-half, m+half

	default:
		m := mean(values)
		k := sdMultiplier(typ)
		half := k * sd(values, m)
		stat.Center = m
		stat.Low, stat.High = m-half, m+half
	}
	return stat
}

func sdMultiplier(typ Type) float64 {
	switch typ {
	case TypeMeanHalfSD:
		return 0.5
	case TypeMeanSD:
		return 1.0
	case TypeMean15SD:
		return 1.5
	case TypeMean2SD:
		return 2.0
	case TypeMean25SD:
		return 2.5
	default:
		return 1.0
	}
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// sd is the sample standard deviation; a single value has spread zero.
func sd(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// quantile interpolates linearly between order statistics of a sorted
// slice. A single value yields that value for every quantile.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
