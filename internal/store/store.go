// Package store abstracts read-only access to the PRO domain. The core
// depends only on the Store interface; Postgres and in-memory
// implementations live alongside it.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chaviprom/procore/internal/domain"
)

// Store is the read-only capability set the analytics core consumes.
// Returns are snapshots with repeatable-read semantics within a single
// computation; implementations never hand out mutable shared state.
type Store interface {
	// GetPatient resolves a patient by id.
	GetPatient(ctx context.Context, id uuid.UUID) (domain.Patient, error)

	// GetSubmission resolves a single submission by id.
	GetSubmission(ctx context.Context, id uuid.UUID) (domain.Submission, error)

	// ListSubmissions returns the patient's submissions newest first,
	// clipped to the window when one is given.
	ListSubmissions(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Submission, error)

	// ListResponses returns the (item, raw value) pairs of one submission.
	ListResponses(ctx context.Context, submissionID uuid.UUID) ([]domain.ItemResponse, error)

	// GetConstructScale resolves a construct scale by id.
	GetConstructScale(ctx context.Context, id uuid.UUID) (domain.ConstructScale, error)

	// ListScalesForQuestionnaire returns every construct scale with at
	// least one item on the questionnaire.
	ListScalesForQuestionnaire(ctx context.Context, questionnaireID uuid.UUID) ([]domain.ConstructScale, error)

	// ListItemsForQuestionnaire returns the questionnaire's items in
	// item-number order.
	ListItemsForQuestionnaire(ctx context.Context, questionnaireID uuid.UUID) ([]domain.Item, error)

	// GetItem resolves an item by id.
	GetItem(ctx context.Context, id uuid.UUID) (domain.Item, error)

	// ListCompositesForConstructs returns the composite scales referencing
	// any of the given construct scales.
	ListCompositesForConstructs(ctx context.Context, constructIDs []uuid.UUID) ([]domain.CompositeScale, error)

	// ListPatientQuestionnaires returns the patient's displayed assignments.
	ListPatientQuestionnaires(ctx context.Context, patientID uuid.UUID) ([]domain.PatientQuestionnaire, error)

	// GetQuestionnaire resolves a questionnaire by id.
	GetQuestionnaire(ctx context.Context, id uuid.UUID) (domain.Questionnaire, error)

	// ListCohortPatients returns patient snapshots in the institution that
	// match the predicates. Callers exclude the index patient themselves.
	ListCohortPatients(ctx context.Context, institutionID uuid.UUID, preds domain.CohortPredicates) ([]domain.Patient, error)

	// GetDiagnosis resolves a diagnosis by id, for anchor resolution.
	GetDiagnosis(ctx context.Context, id uuid.UUID) (domain.Diagnosis, error)

	// GetTreatment resolves a treatment by id, for anchor resolution.
	GetTreatment(ctx context.Context, id uuid.UUID) (domain.Treatment, error)

	// ListDiagnoses returns the patient's diagnoses.
	ListDiagnoses(ctx context.Context, patientID uuid.UUID) ([]domain.Diagnosis, error)

	// ListTreatments returns the treatments attached to any of the
	// patient's diagnoses.
	ListTreatments(ctx context.Context, patientID uuid.UUID) ([]domain.Treatment, error)

	// ListLikertOptions returns the options of a Likert scale in order.
	ListLikertOptions(ctx context.Context, likertScaleID uuid.UUID) ([]domain.LikertOption, error)

	// ListItemResponses returns the patient's historical responses to one
	// item in ascending submission order, clipped to the window when
	// given. Likert responses are mapped through the item's option set.
	ListItemResponses(ctx context.Context, patientID, itemID uuid.UUID, window *domain.TimeWindow) ([]domain.ScorePoint, error)
}

// Reason codes carried by StoreError.
const (
	ReasonNotFound    = "not_found"
	ReasonUnavailable = "unavailable"
)

// StoreError is the single error kind all store lookups fail with. It
// unwraps to the matching domain error so boundaries can map it with
// errors.Is; the core never swallows it silently.
type StoreError struct {
	Op     string
	Reason string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("store: %s: %s", e.Op, e.Reason)
}

func (e *StoreError) Unwrap() error {
	switch e.Reason {
	case ReasonNotFound:
		return domain.ErrNotFound
	default:
		return domain.ErrUnavailable
	}
}

func notFound(op string) error {
	return &StoreError{Op: op, Reason: ReasonNotFound}
}

func unavailable(op string, err error) error {
	return &StoreError{Op: op, Reason: ReasonUnavailable, Err: err}
}
