package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaviprom/procore/internal/aggregate"
	"github.com/chaviprom/procore/internal/cache"
	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/interval"
	"github.com/chaviprom/procore/internal/score"
	"github.com/chaviprom/procore/internal/store"
)

type env struct {
	store     *store.Memory
	scores    *score.MemoryRepo
	service   *Service
	actor     domain.Actor
	patientID uuid.UUID
	questID   uuid.UUID
	scale     domain.ConstructScale
	items     []domain.Item
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemory()
	repo := score.NewMemoryRepo()
	computer := score.NewComputer(st, repo, zerolog.Nop())
	aggregator := aggregate.New(st, repo, 4, nil, zerolog.Nop())
	backend := cache.NewMemory()

	cfg := Config{
		PatientTTL:          5 * time.Minute,
		PopulationTTL:       time.Hour,
		DefaultSubmissions:  5,
		MaxSubmissions:      50,
		DefaultAggregation:  aggregate.TypeMedianIQR,
		MinCohort:           1,
		MinSamples:          8,
		ChangeFallbackRatio: 0.10,
	}

	e := &env{
		store:     st,
		scores:    repo,
		patientID: uuid.New(),
		questID:   uuid.New(),
	}
	inst := uuid.New()
	e.actor = domain.Actor{InstitutionID: inst}

	st.AddPatient(domain.Patient{
		ID:               e.patientID,
		InstitutionID:    inst,
		Gender:           "female",
		BirthDate:        time.Date(1980, time.May, 2, 0, 0, 0, 0, time.UTC),
		RegistrationDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	st.AddQuestionnaire(domain.Questionnaire{ID: e.questID, Name: "QLQ-C30"})
	st.AddAssignment(domain.PatientQuestionnaire{
		ID: uuid.New(), PatientID: e.patientID, QuestionnaireID: e.questID, Display: true,
	})

	e.scale = domain.ConstructScale{
		ID:        uuid.New(),
		Name:      "fatigue",
		Direction: domain.DirectionLowerBetter,
		Threshold: domain.Float64(3.0),
		MID:       domain.Float64(0.5),
		Equation:  "mean({q1}, {q2})",
	}
	st.AddConstructScale(e.scale)
	for n := 1; n <= 2; n++ {
		it := domain.Item{
			ID:               uuid.New(),
			QuestionnaireID:  e.questID,
			ConstructScaleID: e.scale.ID,
			ItemNumber:       n,
			Name:             "item",
			ResponseType:     domain.ResponseTypeLikert,
			Direction:        domain.DirectionLowerBetter,
		}
		st.AddItem(it)
		e.items = append(e.items, it)
	}

	e.service = New(st, repo, computer, aggregator, cache.NewLoader(backend, zerolog.Nop()), cache.NewVersions(backend), nil, cfg, zerolog.Nop())
	return e
}

func (e *env) submit(t *testing.T, at time.Time, values ...string) uuid.UUID {
	t.Helper()
	sub := domain.Submission{
		ID:              uuid.New(),
		PatientID:       e.patientID,
		QuestionnaireID: e.questID,
		SubmittedAt:     at,
	}
	var responses []domain.ItemResponse
	for i, v := range values {
		responses = append(responses, domain.ItemResponse{
			SubmissionID: sub.ID, Item: e.items[i], Value: v,
		})
	}
	e.store.AddSubmission(sub, responses)
	require.NoError(t, e.service.OnSubmissionWritten(context.Background(), sub.ID))
	return sub.ID
}

func TestGetPatientReview(t *testing.T) {
	ctx := context.Background()

	t.Run("assembles_scored_history", func(t *testing.T) {
		e := newEnv(t)
		e.submit(t, time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC), "4", "4")
		e.submit(t, time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC), "2", "3")

		review, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{})
		require.NoError(t, err)

		require.Len(t, review.Questionnaires, 1)
		assert.Equal(t, "QLQ-C30", review.Questionnaires[0].Name)
		assert.Equal(t, 2, review.Questionnaires[0].Submissions)

		require.Len(t, review.Constructs, 1)
		c := review.Constructs[0]
		assert.Equal(t, "fatigue", c.Name)
		require.Len(t, c.Series, 2)
		assert.Equal(t, 1, c.Series[0].Bucket)
		assert.Equal(t, 2, c.Series[1].Bucket)
		require.NotNil(t, c.Current)
		assert.InDelta(t, 2.5, *c.Current, 1e-9)
		require.NotNil(t, c.Previous)
		assert.InDelta(t, 4.0, *c.Previous, 1e-9)
		assert.True(t, c.Interpretation.Classified)

		require.Len(t, c.Items, 2)
		assert.Equal(t, 1, c.Items[0].ItemNumber)
	})

	t.Run("cross_institution_is_unauthorized", func(t *testing.T) {
		e := newEnv(t)
		stranger := domain.Actor{InstitutionID: uuid.New()}
		_, err := e.service.GetPatientReview(ctx, stranger, e.patientID, FilterContext{})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("unknown_patient_is_not_found", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.service.GetPatientReview(ctx, e.actor, uuid.New(), FilterContext{})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("missing_anchor_flags_and_drops_series", func(t *testing.T) {
		e := newEnv(t)
		e.submit(t, time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC), "4", "4")

		review, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{
			Anchor: interval.Anchor{Kind: interval.AnchorDiagnosis, RefID: uuid.New()},
		})
		require.NoError(t, err)
		assert.True(t, review.NoAnchor)
		require.Len(t, review.Constructs, 1)
		c := review.Constructs[0]
		// Without an anchor the bucket grid is undefined, so no series is
		// rendered, but the newest score still gets interpreted.
		assert.Empty(t, c.Series)
		require.NotNil(t, c.Current)
		assert.InDelta(t, 4.0, *c.Current, 1e-9)
		assert.True(t, c.Interpretation.Classified)
	})

	t.Run("item_series_ascend_and_current_is_newest", func(t *testing.T) {
		e := newEnv(t)
		e.submit(t, time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC), "1", "1")
		e.submit(t, time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC), "2", "2")

		review, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{})
		require.NoError(t, err)

		require.Len(t, review.Constructs, 1)
		item := review.Constructs[0].Items[0]
		require.Len(t, item.Series, 2)
		require.NotNil(t, item.Series[0].Value)
		assert.InDelta(t, 1.0, *item.Series[0].Value, 1e-9)
		require.NotNil(t, item.Series[1].Value)
		assert.InDelta(t, 2.0, *item.Series[1].Value, 1e-9)
		require.NotNil(t, item.Current)
		assert.InDelta(t, 2.0, *item.Current, 1e-9, "current must be the newest response")
		require.NotNil(t, item.Previous)
		assert.InDelta(t, 1.0, *item.Previous, 1e-9)
	})

	t.Run("upper_bound_clips_the_window", func(t *testing.T) {
		e := newEnv(t)
		e.submit(t, time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC), "4", "4")
		e.submit(t, time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC), "2", "2")

		asOf := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)
		review, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{UpperBound: &asOf})
		require.NoError(t, err)

		c := review.Constructs[0]
		require.Len(t, c.Series, 1, "later submissions must be invisible as of the bound")
		require.NotNil(t, c.Current)
		assert.InDelta(t, 4.0, *c.Current, 1e-9)
	})

	t.Run("deleted_submission_drops_out_of_the_review", func(t *testing.T) {
		e := newEnv(t)
		subID := e.submit(t, time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC), "4", "4")

		before, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{})
		require.NoError(t, err)
		require.Len(t, before.Constructs[0].Series, 1)

		require.NoError(t, e.service.OnSubmissionDeleted(ctx, subID))

		after, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{})
		require.NoError(t, err)
		assert.Empty(t, after.Constructs[0].Series, "stale cached review must not survive the delete")
		assert.Nil(t, after.Constructs[0].Current)
	})

	t.Run("new_submission_invalidates_cached_review", func(t *testing.T) {
		e := newEnv(t)
		e.submit(t, time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC), "4", "4")

		first, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{})
		require.NoError(t, err)
		require.Len(t, first.Constructs[0].Series, 1)

		// Identical request is served from cache.
		again, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{})
		require.NoError(t, err)
		assert.Equal(t, first.GeneratedAt, again.GeneratedAt)

		e.submit(t, time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC), "2", "2")

		fresh, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{})
		require.NoError(t, err)
		assert.Len(t, fresh.Constructs[0].Series, 2, "review must reflect the write immediately")
	})

	t.Run("submission_count_clamped", func(t *testing.T) {
		e := newEnv(t)
		for d := 1; d <= 8; d++ {
			e.submit(t, time.Date(2025, time.January, d, 9, 0, 0, 0, time.UTC), "3", "3")
		}

		review, err := e.service.GetPatientReview(ctx, e.actor, e.patientID, FilterContext{
			Granularity: domain.GranularityDay,
		})
		require.NoError(t, err)
		// Default window shows the five most recent submissions.
		assert.Len(t, review.Constructs[0].Series, 5)
		assert.Equal(t, 7, review.Constructs[0].Series[4].Bucket)
	})
}

func TestGetCohortAggregate(t *testing.T) {
	ctx := context.Background()

	t.Run("bands_exclude_index_patient", func(t *testing.T) {
		e := newEnv(t)
		e.submit(t, time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC), "3", "3")

		// Two peers in the same institution with scores in the same bucket.
		for _, raw := range []string{"1", "5"} {
			peer := uuid.New()
			e.store.AddPatient(domain.Patient{
				ID:               peer,
				InstitutionID:    e.actor.InstitutionID,
				RegistrationDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			})
			sub := domain.Submission{
				ID:              uuid.New(),
				PatientID:       peer,
				QuestionnaireID: e.questID,
				SubmittedAt:     time.Date(2025, time.January, 15, 9, 0, 0, 0, time.UTC),
			}
			e.store.AddSubmission(sub, []domain.ItemResponse{
				{SubmissionID: sub.ID, Item: e.items[0], Value: raw},
				{SubmissionID: sub.ID, Item: e.items[1], Value: raw},
			})
			require.NoError(t, e.service.OnSubmissionWritten(ctx, sub.ID))
		}

		stats, err := e.service.GetCohortAggregate(ctx, e.actor, e.patientID, aggregate.TargetConstruct, e.scale.ID, FilterContext{})
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 0, stats[0].Bucket)
		assert.Equal(t, 2, stats[0].N, "index patient must not contribute")
		assert.InDelta(t, 3.0, stats[0].Center, 1e-9)
	})

	t.Run("item_target_aggregates_raw_responses", func(t *testing.T) {
		e := newEnv(t)
		e.submit(t, time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC), "3", "3")

		for _, raw := range []string{"2", "4"} {
			peer := uuid.New()
			e.store.AddPatient(domain.Patient{
				ID:               peer,
				InstitutionID:    e.actor.InstitutionID,
				RegistrationDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			})
			sub := domain.Submission{
				ID:              uuid.New(),
				PatientID:       peer,
				QuestionnaireID: e.questID,
				SubmittedAt:     time.Date(2025, time.January, 15, 9, 0, 0, 0, time.UTC),
			}
			e.store.AddSubmission(sub, []domain.ItemResponse{
				{SubmissionID: sub.ID, Item: e.items[0], Value: raw},
				{SubmissionID: sub.ID, Item: e.items[1], Value: raw},
			})
			require.NoError(t, e.service.OnSubmissionWritten(ctx, sub.ID))
		}

		stats, err := e.service.GetCohortAggregate(ctx, e.actor, e.patientID, aggregate.TargetItem, e.items[0].ID, FilterContext{})
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 0, stats[0].Bucket)
		assert.Equal(t, 2, stats[0].N)
		assert.InDelta(t, 3.0, stats[0].Center, 1e-9)
	})

	t.Run("tenant_check_applies", func(t *testing.T) {
		e := newEnv(t)
		stranger := domain.Actor{InstitutionID: uuid.New()}
		_, err := e.service.GetCohortAggregate(ctx, stranger, e.patientID, aggregate.TargetConstruct, e.scale.ID, FilterContext{})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestFilterContext(t *testing.T) {
	cfg := Config{DefaultSubmissions: 5, MaxSubmissions: 50, DefaultAggregation: aggregate.TypeMedianIQR}

	t.Run("defaults", func(t *testing.T) {
		f := FilterContext{}.normalize(cfg)
		assert.Equal(t, interval.AnchorRegistration, f.Anchor.Kind)
		assert.Equal(t, domain.GranularityMonth, f.Granularity)
		assert.Equal(t, 5, f.Submissions)
		assert.Equal(t, aggregate.TypeMedianIQR, f.Aggregation)
	})

	t.Run("clamps_submissions", func(t *testing.T) {
		f := FilterContext{Submissions: 500}.normalize(cfg)
		assert.Equal(t, 50, f.Submissions)
	})

	t.Run("digest_is_stable_and_sensitive", func(t *testing.T) {
		a := FilterContext{}.normalize(cfg)
		b := FilterContext{}.normalize(cfg)
		assert.Equal(t, a.Digest(), b.Digest())

		c := FilterContext{Granularity: domain.GranularityWeek}.normalize(cfg)
		assert.NotEqual(t, a.Digest(), c.Digest())

		asOf := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)
		d := FilterContext{UpperBound: &asOf}.normalize(cfg)
		assert.NotEqual(t, a.Digest(), d.Digest())
	})
}
