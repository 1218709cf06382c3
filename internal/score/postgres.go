package score

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chaviprom/procore/internal/domain"
)

// PostgresRepo persists derived scores in construct_score and
// composite_score. Both tables carry denormalized patient_id and
// submitted_at columns so series queries stay join-free.
type PostgresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPostgresRepo(db *sqlx.DB, timeout time.Duration) *PostgresRepo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *PostgresRepo) UpsertConstructScore(ctx context.Context, patientID uuid.UUID, at time.Time, s domain.ConstructScore) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO construct_score (submission_id, construct_id, patient_id, score, submitted_at, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (submission_id, construct_id)
		DO UPDATE SET score = EXCLUDED.score, computed_at = EXCLUDED.computed_at`,
		s.SubmissionID, s.ConstructID, patientID, s.Score, at, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert construct score: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpsertCompositeScore(ctx context.Context, patientID uuid.UUID, at time.Time, s domain.CompositeScore) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO composite_score (submission_id, composite_id, patient_id, score, submitted_at, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (submission_id, composite_id)
		DO UPDATE SET score = EXCLUDED.score, computed_at = EXCLUDED.computed_at`,
		s.SubmissionID, s.CompositeID, patientID, s.Score, at, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert composite score: %w", err)
	}
	return nil
}

func (r *PostgresRepo) DeleteScoresForSubmission(ctx context.Context, submissionID uuid.UUID) (uuid.UUID, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var owners []uuid.UUID
	if err := r.db.SelectContext(ctx, &owners,
		`DELETE FROM construct_score WHERE submission_id = $1 RETURNING patient_id`, submissionID); err != nil {
		return uuid.Nil, fmt.Errorf("delete construct scores: %w", err)
	}
	var compositeOwners []uuid.UUID
	if err := r.db.SelectContext(ctx, &compositeOwners,
		`DELETE FROM composite_score WHERE submission_id = $1 RETURNING patient_id`, submissionID); err != nil {
		return uuid.Nil, fmt.Errorf("delete composite scores: %w", err)
	}
	owners = append(owners, compositeOwners...)
	if len(owners) == 0 {
		return uuid.Nil, nil
	}
	return owners[0], nil
}

func (r *PostgresRepo) ConstructScoresForSubmission(ctx context.Context, submissionID uuid.UUID) ([]domain.ConstructScore, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var out []domain.ConstructScore
	err := r.db.SelectContext(ctx, &out, `
		SELECT submission_id, construct_id, score, computed_at
		FROM construct_score WHERE submission_id = $1`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("construct scores for submission: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) ConstructSeries(ctx context.Context, patientID, constructID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error) {
	return r.seriesQuery(ctx, "construct_score", "construct_id", patientID, constructID, window)
}

func (r *PostgresRepo) CompositeSeries(ctx context.Context, patientID, compositeID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error) {
	return r.seriesQuery(ctx, "composite_score", "composite_id", patientID, compositeID, window)
}

func (r *PostgresRepo) seriesQuery(ctx context.Context, table, scaleCol string, patientID, scaleID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT submission_id, submitted_at, score
		FROM %s WHERE patient_id = $1 AND %s = $2`, table, scaleCol)
	args := []interface{}{patientID, scaleID}
	if !window.From.IsZero() {
		args = append(args, window.From)
		query += fmt.Sprintf(" AND submitted_at >= $%d", len(args))
	}
	if !window.To.IsZero() {
		args = append(args, window.To)
		query += fmt.Sprintf(" AND submitted_at <= $%d", len(args))
	}
	query += " ORDER BY submitted_at ASC"

	var out []domain.ScorePoint
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("%s series: %w", scaleCol, err)
	}
	return out, nil
}

func (r *PostgresRepo) PreviousConstructScore(ctx context.Context, patientID, constructID uuid.UUID, before time.Time) (domain.ScorePoint, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var out []domain.ScorePoint
	err := r.db.SelectContext(ctx, &out, `
		SELECT submission_id, submitted_at, score
		FROM construct_score
		WHERE patient_id = $1 AND construct_id = $2 AND submitted_at < $3
		ORDER BY submitted_at DESC LIMIT 1`, patientID, constructID, before)
	if err != nil {
		return domain.ScorePoint{}, false, fmt.Errorf("previous construct score: %w", err)
	}
	if len(out) == 0 {
		return domain.ScorePoint{}, false, nil
	}
	return out[0], true, nil
}
