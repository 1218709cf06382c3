// Package domain defines the entity snapshots and enumerations the PRO
// analytics core computes over. Entities are plain values resolved through
// the store; relations are carried as id handles, never back-pointers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResponseType classifies how an item's raw response string is interpreted.
type ResponseType string

const (
	ResponseTypeText   ResponseType = "text"
	ResponseTypeNumber ResponseType = "number"
	ResponseTypeLikert ResponseType = "likert"
	ResponseTypeRange  ResponseType = "range"
)

// Direction states the clinical sense of a higher numeric score.
type Direction string

const (
	DirectionHigherBetter Direction = "higher_better"
	DirectionLowerBetter  Direction = "lower_better"
	DirectionMiddleBetter Direction = "middle_better"
	DirectionNone         Direction = "none"
)

// Combiner selects how a composite scale folds its construct scores.
type Combiner string

const (
	CombinerSum     Combiner = "sum"
	CombinerProduct Combiner = "product"
	CombinerMean    Combiner = "mean"
	CombinerMedian  Combiner = "median"
	CombinerMode    Combiner = "mode"
	CombinerMin     Combiner = "min"
	CombinerMax     Combiner = "max"
)

// Granularity is the unit of a time bucket.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Patient is a read-only snapshot of a patient row. PII beyond what the
// core needs for cohort predicates stays encrypted in the store.
type Patient struct {
	ID               uuid.UUID `json:"id" db:"id"`
	InstitutionID    uuid.UUID `json:"institution_id" db:"institution_id"`
	Gender           string    `json:"gender" db:"gender"`
	BirthDate        time.Time `json:"birth_date" db:"birth_date"`
	RegistrationDate time.Time `json:"registration_date" db:"registration_date"`
}

// Age returns the patient's age in whole years at the reference time.
func (p Patient) Age(at time.Time) int {
	years := at.Year() - p.BirthDate.Year()
	anniversary := p.BirthDate.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}

// Institution is the tenant boundary. Every patient belongs to exactly one.
type Institution struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
}

// Diagnosis belongs to a patient and can anchor time bucketing.
type Diagnosis struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PatientID uuid.UUID `json:"patient_id" db:"patient_id"`
	Category  string    `json:"category" db:"category"`
	Date      time.Time `json:"date" db:"date"`
}

// Treatment belongs to a diagnosis and can anchor time bucketing by its
// start date. Types carries zero or more treatment-type tags.
type Treatment struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DiagnosisID uuid.UUID `json:"diagnosis_id" db:"diagnosis_id"`
	Types       []string  `json:"types" db:"-"`
	StartDate   time.Time `json:"start_date" db:"start_date"`
}

// Questionnaire is an ordered collection of items. Display names are
// translated outside the core; only the stable id and a default name travel.
type Questionnaire struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
}

// Item is a single question. Calibration fields are nullable; an item
// belongs to at most one construct scale (Nil UUID when unassigned).
type Item struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	QuestionnaireID  uuid.UUID    `json:"questionnaire_id" db:"questionnaire_id"`
	ConstructScaleID uuid.UUID    `json:"construct_scale_id" db:"construct_scale_id"`
	ItemNumber       int          `json:"item_number" db:"item_number"`
	Name             string       `json:"name" db:"name"`
	ResponseType     ResponseType `json:"response_type" db:"response_type"`
	LikertScaleID    *uuid.UUID   `json:"likert_scale_id,omitempty" db:"likert_scale_id"`
	RangeScaleID     *uuid.UUID   `json:"range_scale_id,omitempty" db:"range_scale_id"`
	Direction        Direction    `json:"direction" db:"direction"`
	NormativeMean    *float64     `json:"normative_mean,omitempty" db:"normative_mean"`
	NormativeSD      *float64     `json:"normative_sd,omitempty" db:"normative_sd"`
	Threshold        *float64     `json:"threshold,omitempty" db:"threshold"`
	MID              *float64     `json:"mid,omitempty" db:"mid"`
	MissingValue     *float64     `json:"missing_value,omitempty" db:"missing_value"`
}

// LikertOption is one choice on a Likert scale.
type LikertOption struct {
	LikertScaleID uuid.UUID `json:"likert_scale_id" db:"likert_scale_id"`
	Value         int       `json:"option_value" db:"option_value"`
	Text          string    `json:"option_text" db:"option_text"`
	Order         int       `json:"option_order" db:"option_order"`
}

// RangeScale bounds a numeric slider response.
type RangeScale struct {
	ID  uuid.UUID `json:"id" db:"id"`
	Min float64   `json:"min_value" db:"min_value"`
	Max float64   `json:"max_value" db:"max_value"`
}

// ConstructScale is a latent-trait scale scored by an equation over its
// items. The equation is validated when the scale is registered.
type ConstructScale struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Direction     Direction `json:"direction" db:"direction"`
	NormativeMean *float64  `json:"normative_mean,omitempty" db:"normative_mean"`
	NormativeSD   *float64  `json:"normative_sd,omitempty" db:"normative_sd"`
	Threshold     *float64  `json:"threshold,omitempty" db:"threshold"`
	MID           *float64  `json:"mid,omitempty" db:"mid"`
	MinimumItems  int       `json:"minimum_items" db:"minimum_items"`
	Equation      string    `json:"equation" db:"equation"`
}

// CompositeScale combines one or more construct scales with a combiner.
type CompositeScale struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	ConstructIDs []uuid.UUID `json:"construct_ids" db:"-"`
	Combiner     Combiner    `json:"combiner" db:"combiner"`
}

// PatientQuestionnaire assigns a questionnaire to a patient.
type PatientQuestionnaire struct {
	ID              uuid.UUID `json:"id" db:"id"`
	PatientID       uuid.UUID `json:"patient_id" db:"patient_id"`
	QuestionnaireID uuid.UUID `json:"questionnaire_id" db:"questionnaire_id"`
	Display         bool      `json:"display" db:"display"`
}

// Submission is a single completion event of a questionnaire.
type Submission struct {
	ID                     uuid.UUID `json:"id" db:"id"`
	PatientID              uuid.UUID `json:"patient_id" db:"patient_id"`
	PatientQuestionnaireID uuid.UUID `json:"patient_questionnaire_id" db:"patient_questionnaire_id"`
	QuestionnaireID        uuid.UUID `json:"questionnaire_id" db:"questionnaire_id"`
	SubmittedAt            time.Time `json:"submitted_at" db:"submitted_at"`
}

// ItemResponse pairs an item snapshot with its raw response string for one
// submission. The raw value is always a string; typed interpretation is
// the item's concern.
type ItemResponse struct {
	SubmissionID uuid.UUID `json:"submission_id" db:"submission_id"`
	Item         Item      `json:"item"`
	Value        string    `json:"response_value" db:"response_value"`
}

// ConstructScore is a derived row owned by the score computer. Score is nil
// when fewer than the scale's minimum items were answered.
type ConstructScore struct {
	SubmissionID uuid.UUID `json:"submission_id" db:"submission_id"`
	ConstructID  uuid.UUID `json:"construct_id" db:"construct_id"`
	Score        *float64  `json:"score" db:"score"`
	ComputedAt   time.Time `json:"computed_at" db:"computed_at"`
}

// CompositeScore is a derived row combining construct scores of one submission.
type CompositeScore struct {
	SubmissionID uuid.UUID `json:"submission_id" db:"submission_id"`
	CompositeID  uuid.UUID `json:"composite_id" db:"composite_id"`
	Score        *float64  `json:"score" db:"score"`
	ComputedAt   time.Time `json:"computed_at" db:"computed_at"`
}

// ScorePoint is one point in a patient's time series for a construct,
// composite, or item.
type ScorePoint struct {
	SubmissionID uuid.UUID `json:"submission_id" db:"submission_id"`
	At           time.Time `json:"t" db:"submitted_at"`
	Value        *float64  `json:"v" db:"score"`
}

// TimeWindow clips a submission universe. Zero bounds are open.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// CohortPredicates narrows a cohort within one institution. Nil fields
// match everything.
type CohortPredicates struct {
	Gender            *string `json:"gender,omitempty"`
	DiagnosisCategory *string `json:"diagnosis_category,omitempty"`
	TreatmentType     *string `json:"treatment_type,omitempty"`
	MinAge            *int    `json:"min_age,omitempty"`
	MaxAge            *int    `json:"max_age,omitempty"`
}

// Actor scopes a request to the caller's institution for tenant checks.
type Actor struct {
	InstitutionID uuid.UUID `json:"institution_id"`
}
