package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/interval"
	"github.com/chaviprom/procore/internal/store"
)

type fakeSeries struct {
	mu     sync.Mutex
	points map[uuid.UUID][]domain.ScorePoint
}

func newFakeSeries() *fakeSeries {
	return &fakeSeries{points: make(map[uuid.UUID][]domain.ScorePoint)}
}

func (f *fakeSeries) add(patientID uuid.UUID, at time.Time, v *float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[patientID] = append(f.points[patientID], domain.ScorePoint{
		SubmissionID: uuid.New(), At: at, Value: v,
	})
}

func (f *fakeSeries) ConstructSeries(_ context.Context, patientID, _ uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScorePoint
	for _, p := range f.points[patientID] {
		if window.Contains(p.At) {
			out = append(out, p)
		}
	}
	return out, nil
}

func fptr(v float64) *float64 { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedPatient(st *store.Memory, inst uuid.UUID, registered time.Time) uuid.UUID {
	id := uuid.New()
	st.AddPatient(domain.Patient{
		ID:               id,
		InstitutionID:    inst,
		Gender:           "female",
		BirthDate:        day(1970, time.January, 1),
		RegistrationDate: registered,
	})
	return id
}

func TestAggregateExcludesIndexPatient(t *testing.T) {
	st := store.NewMemory()
	series := newFakeSeries()
	inst := uuid.New()
	constructID := uuid.New()

	// Five patients registered the same day; all score in month bucket 2.
	registered := day(2025, time.January, 1)
	inBucket2 := day(2025, time.March, 15)

	var ids []uuid.UUID
	for _, score := range []float64{10, 20, 30, 40, 50} {
		id := seedPatient(st, inst, registered)
		series.add(id, inBucket2, fptr(score))
		ids = append(ids, id)
	}
	index := ids[2] // the 30-point patient

	agg := New(st, series, 4, nil, zerolog.Nop())
	stats, err := agg.Aggregate(context.Background(), index, constructID, Options{
		Type:          TypeMedianIQR,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorRegistration,
		MaxIntervals:  12,
		InstitutionID: inst,
		MinCohort:     2,
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)

	got := stats[0]
	assert.Equal(t, 2, got.Bucket)
	assert.Equal(t, 4, got.N)
	// Median of {10, 20, 40, 50}, not of all five.
	assert.InDelta(t, 30.0, got.Center, 1e-9)
	assert.InDelta(t, 17.5, got.Low, 1e-9)
	assert.InDelta(t, 42.5, got.High, 1e-9)
}

func TestAggregateKeyedByIndexBuckets(t *testing.T) {
	st := store.NewMemory()
	series := newFakeSeries()
	inst := uuid.New()
	constructID := uuid.New()
	registered := day(2025, time.January, 1)

	index := seedPatient(st, inst, registered)
	series.add(index, day(2025, time.January, 10), fptr(5)) // bucket 0 only

	for _, score := range []float64{1, 2, 3} {
		peer := seedPatient(st, inst, registered)
		series.add(peer, day(2025, time.January, 20), fptr(score)) // bucket 0
		series.add(peer, day(2025, time.April, 20), fptr(99))      // bucket 3, index absent
	}

	agg := New(st, series, 4, nil, zerolog.Nop())
	stats, err := agg.Aggregate(context.Background(), index, constructID, Options{
		Type:          TypeMedianIQR,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorRegistration,
		MaxIntervals:  12,
		InstitutionID: inst,
		MinCohort:     2,
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].Bucket)
	assert.Equal(t, 3, stats[0].N)
}

func TestAggregateInsufficientCohort(t *testing.T) {
	st := store.NewMemory()
	series := newFakeSeries()
	inst := uuid.New()

	index := seedPatient(st, inst, day(2025, time.January, 1))
	series.add(index, day(2025, time.January, 10), fptr(5))
	seedPatient(st, inst, day(2025, time.January, 1)) // one peer, below floor

	agg := New(st, series, 4, nil, zerolog.Nop())
	_, err := agg.Aggregate(context.Background(), index, uuid.New(), Options{
		Type:          TypeMedianIQR,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorRegistration,
		MaxIntervals:  12,
		InstitutionID: inst,
		MinCohort:     2,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCohort)
}

func TestAggregateSkipsPeersWithoutAnchorAnalogue(t *testing.T) {
	st := store.NewMemory()
	series := newFakeSeries()
	inst := uuid.New()
	constructID := uuid.New()

	index := seedPatient(st, inst, day(2024, time.June, 1))
	indexDiag := domain.Diagnosis{
		ID: uuid.New(), PatientID: index,
		Category: "oncology", Date: day(2025, time.January, 1),
	}
	st.AddDiagnosis(indexDiag)
	series.add(index, day(2025, time.January, 10), fptr(5)) // bucket 0

	// Peer with a matching diagnosis category contributes.
	matched := seedPatient(st, inst, day(2024, time.June, 1))
	st.AddDiagnosis(domain.Diagnosis{
		ID: uuid.New(), PatientID: matched,
		Category: "oncology", Date: day(2025, time.February, 1),
	})
	series.add(matched, day(2025, time.February, 5), fptr(7)) // bucket 0 from their anchor

	// Peer without any oncology diagnosis is skipped, not an error.
	unmatched := seedPatient(st, inst, day(2024, time.June, 1))
	st.AddDiagnosis(domain.Diagnosis{
		ID: uuid.New(), PatientID: unmatched,
		Category: "cardiology", Date: day(2025, time.February, 1),
	})
	series.add(unmatched, day(2025, time.February, 5), fptr(100))

	agg := New(st, series, 4, nil, zerolog.Nop())
	stats, err := agg.Aggregate(context.Background(), index, constructID, Options{
		Type:          TypeMedianIQR,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorDiagnosis,
		AnchorRefID:   indexDiag.ID,
		MaxIntervals:  12,
		InstitutionID: inst,
		MinCohort:     1,
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].N)
	assert.InDelta(t, 7.0, stats[0].Center, 1e-9)
}

func TestAggregateDropsNullScores(t *testing.T) {
	st := store.NewMemory()
	series := newFakeSeries()
	inst := uuid.New()
	constructID := uuid.New()
	registered := day(2025, time.January, 1)

	index := seedPatient(st, inst, registered)
	series.add(index, day(2025, time.January, 10), fptr(5))

	p1 := seedPatient(st, inst, registered)
	series.add(p1, day(2025, time.January, 12), nil) // unscorable
	p2 := seedPatient(st, inst, registered)
	series.add(p2, day(2025, time.January, 12), fptr(8))

	agg := New(st, series, 4, nil, zerolog.Nop())
	stats, err := agg.Aggregate(context.Background(), index, constructID, Options{
		Type:          TypeMedianIQR,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorRegistration,
		MaxIntervals:  12,
		InstitutionID: inst,
		MinCohort:     2,
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].N)
	assert.InDelta(t, 8.0, stats[0].Center, 1e-9)
}

func TestAggregateNoIndexSeries(t *testing.T) {
	st := store.NewMemory()
	series := newFakeSeries()
	inst := uuid.New()

	index := seedPatient(st, inst, day(2025, time.January, 1))
	seedPatient(st, inst, day(2025, time.January, 1))

	agg := New(st, series, 4, nil, zerolog.Nop())
	stats, err := agg.Aggregate(context.Background(), index, uuid.New(), Options{
		Type:          TypeMedianIQR,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorRegistration,
		MaxIntervals:  12,
		InstitutionID: inst,
		MinCohort:     1,
	})
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestAggregateItemTarget(t *testing.T) {
	st := store.NewMemory()
	inst := uuid.New()
	questID := uuid.New()
	registered := day(2025, time.January, 1)

	st.AddQuestionnaire(domain.Questionnaire{ID: questID, Name: "QLQ-C30"})
	item := domain.Item{
		ID:              uuid.New(),
		QuestionnaireID: questID,
		ItemNumber:      1,
		Name:            "pain",
		ResponseType:    domain.ResponseTypeNumber,
	}
	st.AddItem(item)

	respond := func(patientID uuid.UUID, at time.Time, raw string) {
		sub := domain.Submission{
			ID: uuid.New(), PatientID: patientID,
			QuestionnaireID: questID, SubmittedAt: at,
		}
		st.AddSubmission(sub, []domain.ItemResponse{
			{SubmissionID: sub.ID, Item: item, Value: raw},
		})
	}

	index := seedPatient(st, inst, registered)
	respond(index, day(2025, time.January, 10), "3")
	for _, raw := range []string{"2", "4"} {
		peer := seedPatient(st, inst, registered)
		respond(peer, day(2025, time.January, 15), raw)
	}

	agg := New(st, newFakeSeries(), 4, nil, zerolog.Nop())
	stats, err := agg.Aggregate(context.Background(), index, item.ID, Options{
		Type:          TypeMedianIQR,
		Target:        TargetItem,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorRegistration,
		MaxIntervals:  12,
		InstitutionID: inst,
		MinCohort:     2,
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].Bucket)
	assert.Equal(t, 2, stats[0].N)
	assert.InDelta(t, 3.0, stats[0].Center, 1e-9)
}

func TestAggregateUpperBound(t *testing.T) {
	st := store.NewMemory()
	series := newFakeSeries()
	inst := uuid.New()
	constructID := uuid.New()
	registered := day(2025, time.January, 1)

	index := seedPatient(st, inst, registered)
	series.add(index, day(2025, time.January, 10), fptr(5)) // bucket 0
	series.add(index, day(2025, time.March, 10), fptr(6))   // bucket 2, past the bound

	for _, score := range []float64{1, 2} {
		peer := seedPatient(st, inst, registered)
		series.add(peer, day(2025, time.January, 20), fptr(score))
		series.add(peer, day(2025, time.March, 20), fptr(99))
	}

	bound := day(2025, time.February, 1)
	agg := New(st, series, 4, nil, zerolog.Nop())
	stats, err := agg.Aggregate(context.Background(), index, constructID, Options{
		Type:          TypeMedianIQR,
		Granularity:   domain.GranularityMonth,
		Anchor:        interval.AnchorRegistration,
		MaxIntervals:  12,
		UpperBound:    &bound,
		InstitutionID: inst,
		MinCohort:     2,
	})
	require.NoError(t, err)
	require.Len(t, stats, 1, "points past the bound must not open buckets")
	assert.Equal(t, 0, stats[0].Bucket)
	assert.Equal(t, 2, stats[0].N)
}

func TestAggregateUnknownTarget(t *testing.T) {
	agg := New(store.NewMemory(), newFakeSeries(), 4, nil, zerolog.Nop())
	_, err := agg.Aggregate(context.Background(), uuid.New(), uuid.New(), Options{
		Type:   TypeMedianIQR,
		Target: Target("bogus"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

func TestAggregateUnknownType(t *testing.T) {
	agg := New(store.NewMemory(), newFakeSeries(), 4, nil, zerolog.Nop())
	_, err := agg.Aggregate(context.Background(), uuid.New(), uuid.New(), Options{Type: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown aggregation type")
}
