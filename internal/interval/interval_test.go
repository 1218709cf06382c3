package interval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBucketer_Index(t *testing.T) {
	anchor := date(2025, time.March, 15)

	tests := []struct {
		name        string
		granularity domain.Granularity
		at          time.Time
		want        int
	}{
		{name: "day_same_day", granularity: domain.GranularityDay, at: anchor, want: 0},
		{name: "day_intraday_timestamp", granularity: domain.GranularityDay, at: anchor.Add(23 * time.Hour), want: 0},
		{name: "day_next_day", granularity: domain.GranularityDay, at: date(2025, time.March, 16), want: 1},
		{name: "day_before_anchor", granularity: domain.GranularityDay, at: date(2025, time.March, 14), want: -1},
		{name: "week_day_six", granularity: domain.GranularityWeek, at: date(2025, time.March, 21), want: 0},
		{name: "week_day_seven", granularity: domain.GranularityWeek, at: date(2025, time.March, 22), want: 1},
		{name: "week_before_anchor_floors", granularity: domain.GranularityWeek, at: date(2025, time.March, 14), want: -1},
		{name: "month_same_month", granularity: domain.GranularityMonth, at: date(2025, time.April, 14), want: 0},
		{name: "month_anniversary", granularity: domain.GranularityMonth, at: date(2025, time.April, 15), want: 1},
		{name: "month_across_year", granularity: domain.GranularityMonth, at: date(2026, time.March, 15), want: 12},
		{name: "month_before_anchor", granularity: domain.GranularityMonth, at: date(2025, time.February, 20), want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBucketer(anchor, tt.granularity)
			assert.Equal(t, tt.want, b.Index(tt.at))
		})
	}
}

func TestBucketer_MonthEndAnchor(t *testing.T) {
	// Anchored on Jan 31: Feb 28 is still bucket 0, Mar 31 is bucket 2.
	b := NewBucketer(date(2025, time.January, 31), domain.GranularityMonth)
	assert.Equal(t, 0, b.Index(date(2025, time.February, 28)))
	assert.Equal(t, 2, b.Index(date(2025, time.March, 31)))
}

func TestBucketer_Window(t *testing.T) {
	anchor := date(2025, time.March, 1)

	b := NewBucketer(anchor, domain.GranularityWeek)
	w := b.Window(4)
	assert.Equal(t, anchor, w.From)
	assert.Equal(t, date(2025, time.March, 29), w.To)

	open := b.Window(0)
	assert.True(t, open.To.IsZero())

	monthly := NewBucketer(anchor, domain.GranularityMonth).Window(6)
	assert.Equal(t, date(2025, time.September, 1), monthly.To)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	patient := domain.Patient{ID: uuid.New(), RegistrationDate: date(2024, time.June, 1)}
	st.AddPatient(patient)

	diag := domain.Diagnosis{ID: uuid.New(), PatientID: patient.ID, Category: "oncology", Date: date(2024, time.July, 10)}
	st.AddDiagnosis(diag)
	tr := domain.Treatment{ID: uuid.New(), DiagnosisID: diag.ID, Types: []string{"chemo"}, StartDate: date(2024, time.August, 1)}
	st.AddTreatment(tr)

	t.Run("registration", func(t *testing.T) {
		got, err := Resolve(ctx, st, patient, Anchor{Kind: AnchorRegistration})
		require.NoError(t, err)
		assert.Equal(t, patient.RegistrationDate, got)
	})

	t.Run("diagnosis", func(t *testing.T) {
		got, err := Resolve(ctx, st, patient, Anchor{Kind: AnchorDiagnosis, RefID: diag.ID})
		require.NoError(t, err)
		assert.Equal(t, diag.Date, got)
	})

	t.Run("treatment_start", func(t *testing.T) {
		got, err := Resolve(ctx, st, patient, Anchor{Kind: AnchorTreatmentStart, RefID: tr.ID})
		require.NoError(t, err)
		assert.Equal(t, tr.StartDate, got)
	})

	t.Run("missing_treatment_is_no_anchor", func(t *testing.T) {
		_, err := Resolve(ctx, st, patient, Anchor{Kind: AnchorTreatmentStart, RefID: uuid.New()})
		assert.ErrorIs(t, err, domain.ErrNoAnchor)
	})

	t.Run("other_patients_diagnosis_is_no_anchor", func(t *testing.T) {
		other := domain.Patient{ID: uuid.New(), RegistrationDate: date(2024, time.June, 2)}
		st.AddPatient(other)
		_, err := Resolve(ctx, st, other, Anchor{Kind: AnchorDiagnosis, RefID: diag.ID})
		assert.ErrorIs(t, err, domain.ErrNoAnchor)
	})
}

func TestResolveForCohort(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	cohortPatient := domain.Patient{ID: uuid.New(), RegistrationDate: date(2024, time.January, 5)}
	st.AddPatient(cohortPatient)

	early := domain.Diagnosis{ID: uuid.New(), PatientID: cohortPatient.ID, Category: "oncology", Date: date(2024, time.February, 1)}
	late := domain.Diagnosis{ID: uuid.New(), PatientID: cohortPatient.ID, Category: "oncology", Date: date(2024, time.May, 1)}
	other := domain.Diagnosis{ID: uuid.New(), PatientID: cohortPatient.ID, Category: "cardiology", Date: date(2024, time.January, 10)}
	st.AddDiagnosis(early)
	st.AddDiagnosis(late)
	st.AddDiagnosis(other)

	t.Run("earliest_matching_category", func(t *testing.T) {
		got, err := ResolveForCohort(ctx, st, IndexAnchorEntity{DiagnosisCategory: "oncology"}, cohortPatient, Anchor{Kind: AnchorDiagnosis, RefID: uuid.New()})
		require.NoError(t, err)
		assert.Equal(t, early.Date, got)
	})

	t.Run("no_matching_category", func(t *testing.T) {
		_, err := ResolveForCohort(ctx, st, IndexAnchorEntity{DiagnosisCategory: "neurology"}, cohortPatient, Anchor{Kind: AnchorDiagnosis, RefID: uuid.New()})
		assert.ErrorIs(t, err, domain.ErrNoAnchor)
	})

	t.Run("treatment_type_match", func(t *testing.T) {
		st.AddTreatment(domain.Treatment{ID: uuid.New(), DiagnosisID: early.ID, Types: []string{"chemo"}, StartDate: date(2024, time.March, 1)})
		got, err := ResolveForCohort(ctx, st, IndexAnchorEntity{TreatmentTypes: []string{"chemo"}}, cohortPatient, Anchor{Kind: AnchorTreatmentStart, RefID: uuid.New()})
		require.NoError(t, err)
		assert.Equal(t, date(2024, time.March, 1), got)
	})
}
