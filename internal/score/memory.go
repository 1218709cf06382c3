package score

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaviprom/procore/internal/domain"
)

type scoreRow struct {
	patientID    uuid.UUID
	submissionID uuid.UUID
	scaleID      uuid.UUID
	score        *float64
	at           time.Time
	computedAt   time.Time
}

// MemoryRepo is an in-memory Repository used by tests and offline
// scoring runs.
type MemoryRepo struct {
	mu         sync.RWMutex
	constructs map[uuid.UUID]map[uuid.UUID]scoreRow // submission -> construct -> row
	composites map[uuid.UUID]map[uuid.UUID]scoreRow // submission -> composite -> row
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		constructs: make(map[uuid.UUID]map[uuid.UUID]scoreRow),
		composites: make(map[uuid.UUID]map[uuid.UUID]scoreRow),
	}
}

func upsert(table map[uuid.UUID]map[uuid.UUID]scoreRow, row scoreRow) {
	byScale, ok := table[row.submissionID]
	if !ok {
		byScale = make(map[uuid.UUID]scoreRow)
		table[row.submissionID] = byScale
	}
	byScale[row.scaleID] = row
}

func (r *MemoryRepo) UpsertConstructScore(_ context.Context, patientID uuid.UUID, at time.Time, s domain.ConstructScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	upsert(r.constructs, scoreRow{
		patientID:    patientID,
		submissionID: s.SubmissionID,
		scaleID:      s.ConstructID,
		score:        s.Score,
		at:           at,
		computedAt:   s.ComputedAt,
	})
	return nil
}

func (r *MemoryRepo) UpsertCompositeScore(_ context.Context, patientID uuid.UUID, at time.Time, s domain.CompositeScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	upsert(r.composites, scoreRow{
		patientID:    patientID,
		submissionID: s.SubmissionID,
		scaleID:      s.CompositeID,
		score:        s.Score,
		at:           at,
		computedAt:   s.ComputedAt,
	})
	return nil
}

func (r *MemoryRepo) DeleteScoresForSubmission(_ context.Context, submissionID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	patientID := uuid.Nil
	for _, row := range r.constructs[submissionID] {
		patientID = row.patientID
		break
	}
	if patientID == uuid.Nil {
		for _, row := range r.composites[submissionID] {
			patientID = row.patientID
			break
		}
	}
	delete(r.constructs, submissionID)
	delete(r.composites, submissionID)
	return patientID, nil
}

func (r *MemoryRepo) ConstructScoresForSubmission(_ context.Context, submissionID uuid.UUID) ([]domain.ConstructScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ConstructScore
	for _, row := range r.constructs[submissionID] {
		out = append(out, domain.ConstructScore{
			SubmissionID: row.submissionID,
			ConstructID:  row.scaleID,
			Score:        row.score,
			ComputedAt:   row.computedAt,
		})
	}
	return out, nil
}

func (r *MemoryRepo) ConstructSeries(_ context.Context, patientID, constructID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return series(r.constructs, patientID, constructID, window), nil
}

func (r *MemoryRepo) CompositeSeries(_ context.Context, patientID, compositeID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return series(r.composites, patientID, compositeID, window), nil
}

func (r *MemoryRepo) PreviousConstructScore(_ context.Context, patientID, constructID uuid.UUID, before time.Time) (domain.ScorePoint, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best domain.ScorePoint
	found := false
	for _, byScale := range r.constructs {
		row, ok := byScale[constructID]
		if !ok || row.patientID != patientID || !row.at.Before(before) {
			continue
		}
		if !found || row.at.After(best.At) {
			best = domain.ScorePoint{SubmissionID: row.submissionID, At: row.at, Value: row.score}
			found = true
		}
	}
	return best, found, nil
}

func series(table map[uuid.UUID]map[uuid.UUID]scoreRow, patientID, scaleID uuid.UUID, window domain.TimeWindow) []domain.ScorePoint {
	var out []domain.ScorePoint
	for _, byScale := range table {
		row, ok := byScale[scaleID]
		if !ok || row.patientID != patientID || !window.Contains(row.at) {
			continue
		}
		out = append(out, domain.ScorePoint{SubmissionID: row.submissionID, At: row.at, Value: row.score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
