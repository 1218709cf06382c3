package domain

import (
	"strconv"
	"strings"
)

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// NumericValue classifies an item's raw response string into its numeric
// form. Text items never contribute a number. An empty response takes
// the item's missing-value substitution when one is declared, otherwise
// null. Unparseable responses are null.
func NumericValue(item Item, raw string) *float64 {
	return NumericValueWithOptions(item, raw, nil)
}

// NumericValueWithOptions additionally maps Likert responses through the
// item's scale: a stored option value outside the option set is null.
// With no options supplied the stored value is trusted.
func NumericValueWithOptions(item Item, raw string, options []LikertOption) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if item.MissingValue != nil {
			return Float64(*item.MissingValue)
		}
		return nil
	}
	switch item.ResponseType {
	case ResponseTypeLikert:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil
		}
		if options != nil && !likertHasValue(options, n) {
			return nil
		}
		return Float64(float64(n))
	case ResponseTypeNumber, ResponseTypeRange:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		return Float64(f)
	default:
		// Text and unknown types carry no numeric value.
		return nil
	}
}

func likertHasValue(options []LikertOption, value int) bool {
	for _, opt := range options {
		if opt.Value == value {
			return true
		}
	}
	return false
}
