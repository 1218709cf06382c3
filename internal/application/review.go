package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/interpret"
	"github.com/chaviprom/procore/internal/interval"
)

// PatientSummary is the demographic header of a review. Age is derived;
// the birth date itself never leaves the store layer.
type PatientSummary struct {
	ID               uuid.UUID `json:"id"`
	Gender           string    `json:"gender"`
	Age              int       `json:"age"`
	RegistrationDate time.Time `json:"registration_date"`
}

// QuestionnaireOverview counts a patient's submissions per assigned
// questionnaire.
type QuestionnaireOverview struct {
	QuestionnaireID uuid.UUID  `json:"questionnaire_id"`
	Name            string     `json:"name"`
	Submissions     int        `json:"submissions"`
	LastSubmittedAt *time.Time `json:"last_submitted_at,omitempty"`
}

// SeriesPoint is one bucketed observation in a review series.
type SeriesPoint struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Bucket       int       `json:"bucket"`
	At           time.Time `json:"t"`
	Value        *float64  `json:"v"`
}

// ItemResult is one item's recent history within its construct.
type ItemResult struct {
	ItemID         uuid.UUID                `json:"item_id"`
	ItemNumber     int                      `json:"item_number"`
	Name           string                   `json:"name"`
	Current        *float64                 `json:"current"`
	CurrentText    string                   `json:"current_text,omitempty"`
	Previous       *float64                 `json:"previous,omitempty"`
	Series         []SeriesPoint            `json:"series"`
	Interpretation interpret.Classification `json:"interpretation"`
}

// ConstructResult is one scale's scored history with its clinical
// interpretation. Results are ordered for the topline: scales
// significant on both axes first, then alphabetically.
type ConstructResult struct {
	ConstructID    uuid.UUID                `json:"construct_id"`
	Name           string                   `json:"name"`
	Direction      domain.Direction         `json:"direction"`
	Current        *float64                 `json:"current"`
	Previous       *float64                 `json:"previous,omitempty"`
	Series         []SeriesPoint            `json:"series"`
	Interpretation interpret.Classification `json:"interpretation"`
	Items          []ItemResult             `json:"items,omitempty"`
}

// CompositeResult is a combined scale's history. Composites carry no
// calibration, so they are never interpreted.
type CompositeResult struct {
	CompositeID uuid.UUID       `json:"composite_id"`
	Name        string          `json:"name"`
	Combiner    domain.Combiner `json:"combiner"`
	Current     *float64        `json:"current"`
	Series      []SeriesPoint   `json:"series"`
}

// PatientReview is the assembled clinician view of one patient.
type PatientReview struct {
	Patient        PatientSummary          `json:"patient"`
	Anchor         interval.Anchor         `json:"anchor"`
	Granularity    domain.Granularity      `json:"granularity"`
	NoAnchor       bool                    `json:"no_anchor,omitempty"`
	GeneratedAt    time.Time               `json:"generated_at"`
	Questionnaires []QuestionnaireOverview `json:"questionnaires"`
	Constructs     []ConstructResult       `json:"constructs"`
	Composites     []CompositeResult       `json:"composites"`
}
