package application

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chaviprom/procore/internal/aggregate"
	"github.com/chaviprom/procore/internal/cache"
	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/interval"
)

// FilterContext is the caller's view configuration: which anchor and
// granularity to bucket by, how much history to show, and how cohorts
// are narrowed. Zero values take configured defaults.
type FilterContext struct {
	Anchor       interval.Anchor    `json:"anchor"`
	Granularity  domain.Granularity `json:"granularity"`
	MaxIntervals int                `json:"max_intervals"`
	Submissions  int                `json:"submissions"`
	// UpperBound caps every series and window at an absolute date, so a
	// review can be rendered as of a historical moment.
	UpperBound      *time.Time              `json:"upper_bound,omitempty"`
	QuestionnaireID *uuid.UUID              `json:"questionnaire_id,omitempty"`
	Aggregation     aggregate.Type          `json:"aggregation"`
	Predicates      domain.CohortPredicates `json:"predicates"`
}

const defaultMaxIntervals = 12

// normalize fills defaults and clamps the submission count.
func (f FilterContext) normalize(cfg Config) FilterContext {
	if f.Anchor.Kind == "" {
		f.Anchor.Kind = interval.AnchorRegistration
	}
	if f.Granularity == "" {
		f.Granularity = domain.GranularityMonth
	}
	if f.MaxIntervals <= 0 {
		f.MaxIntervals = defaultMaxIntervals
	}
	if f.Submissions <= 0 {
		f.Submissions = cfg.DefaultSubmissions
	}
	if f.Submissions > cfg.MaxSubmissions {
		f.Submissions = cfg.MaxSubmissions
	}
	if f.Aggregation == "" {
		f.Aggregation = cfg.DefaultAggregation
	}
	return f
}

// Digest canonicalizes the filter for cache keys. Two requests with the
// same effective filter always share a digest.
func (f FilterContext) Digest() string {
	params := map[string]string{
		"anchor_kind":   string(f.Anchor.Kind),
		"anchor_ref":    f.Anchor.RefID.String(),
		"granularity":   string(f.Granularity),
		"max_intervals": strconv.Itoa(f.MaxIntervals),
		"submissions":   strconv.Itoa(f.Submissions),
		"aggregation":   string(f.Aggregation),
	}
	if f.UpperBound != nil {
		params["upper_bound"] = f.UpperBound.UTC().Format(time.RFC3339)
	}
	if f.QuestionnaireID != nil {
		params["questionnaire"] = f.QuestionnaireID.String()
	}
	if f.Predicates.Gender != nil {
		params["gender"] = *f.Predicates.Gender
	}
	if f.Predicates.DiagnosisCategory != nil {
		params["diagnosis_category"] = *f.Predicates.DiagnosisCategory
	}
	if f.Predicates.TreatmentType != nil {
		params["treatment_type"] = *f.Predicates.TreatmentType
	}
	if f.Predicates.MinAge != nil {
		params["min_age"] = strconv.Itoa(*f.Predicates.MinAge)
	}
	if f.Predicates.MaxAge != nil {
		params["max_age"] = strconv.Itoa(*f.Predicates.MaxAge)
	}
	return cache.Digest(params)
}
