package score

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chaviprom/procore/internal/domain"
)

// Repository persists derived score rows. Upserts are keyed by
// (submission, scale): recomputing a submission replaces its rows. The
// patient id and submission time are denormalized onto the rows so
// series reads need no join back to submissions.
type Repository interface {
	UpsertConstructScore(ctx context.Context, patientID uuid.UUID, at time.Time, s domain.ConstructScore) error
	UpsertCompositeScore(ctx context.Context, patientID uuid.UUID, at time.Time, s domain.CompositeScore) error
	// DeleteScoresForSubmission removes every row derived from the
	// submission and returns the owning patient id, or uuid.Nil when no
	// rows existed.
	DeleteScoresForSubmission(ctx context.Context, submissionID uuid.UUID) (uuid.UUID, error)

	// ConstructScoresForSubmission returns the construct rows of one
	// submission in no particular order.
	ConstructScoresForSubmission(ctx context.Context, submissionID uuid.UUID) ([]domain.ConstructScore, error)

	// ConstructSeries and CompositeSeries return score points ordered by
	// submission time ascending, clipped to the window.
	ConstructSeries(ctx context.Context, patientID, constructID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error)
	CompositeSeries(ctx context.Context, patientID, compositeID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error)

	// PreviousConstructScore returns the newest score strictly before the
	// reference time, or ok=false when the patient has no earlier score.
	PreviousConstructScore(ctx context.Context, patientID, constructID uuid.UUID, before time.Time) (domain.ScorePoint, bool, error)
}
