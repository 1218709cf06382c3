// Package interval maps absolute submission timestamps to integer bucket
// indices relative to a patient-specific anchor date.
package interval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/store"
)

// AnchorKind selects which patient date buckets are relative to.
type AnchorKind string

const (
	AnchorRegistration   AnchorKind = "registration"
	AnchorDiagnosis      AnchorKind = "diagnosis"
	AnchorTreatmentStart AnchorKind = "treatment_start"
)

// Anchor names the reference date of a FilterContext. RefID identifies
// the diagnosis or treatment for the non-registration kinds.
type Anchor struct {
	Kind  AnchorKind `json:"kind"`
	RefID uuid.UUID  `json:"ref_id,omitempty"`
}

// Resolve turns an anchor specification into a concrete date for one
// patient. A missing entity or zero date yields domain.ErrNoAnchor;
// downstream aggregation skips the patient.
func Resolve(ctx context.Context, st store.Store, patient domain.Patient, anchor Anchor) (time.Time, error) {
	switch anchor.Kind {
	case AnchorRegistration:
		if patient.RegistrationDate.IsZero() {
			return time.Time{}, fmt.Errorf("registration date missing: %w", domain.ErrNoAnchor)
		}
		return patient.RegistrationDate, nil

	case AnchorDiagnosis:
		d, err := st.GetDiagnosis(ctx, anchor.RefID)
		if err != nil || d.PatientID != patient.ID {
			// A diagnosis belonging to another patient is the same as no
			// diagnosis: the requested anchor does not exist for them.
			return time.Time{}, fmt.Errorf("diagnosis %s: %w", anchor.RefID, domain.ErrNoAnchor)
		}
		if d.Date.IsZero() {
			return time.Time{}, fmt.Errorf("diagnosis date missing: %w", domain.ErrNoAnchor)
		}
		return d.Date, nil

	case AnchorTreatmentStart:
		tr, err := st.GetTreatment(ctx, anchor.RefID)
		if err != nil {
			return time.Time{}, fmt.Errorf("treatment %s: %w", anchor.RefID, domain.ErrNoAnchor)
		}
		d, err := st.GetDiagnosis(ctx, tr.DiagnosisID)
		if err != nil || d.PatientID != patient.ID {
			return time.Time{}, fmt.Errorf("treatment %s: %w", anchor.RefID, domain.ErrNoAnchor)
		}
		if tr.StartDate.IsZero() {
			return time.Time{}, fmt.Errorf("treatment start date missing: %w", domain.ErrNoAnchor)
		}
		return tr.StartDate, nil

	default:
		return time.Time{}, fmt.Errorf("anchor kind %q: %w", anchor.Kind, domain.ErrNoAnchor)
	}
}

// ResolveForCohort resolves the same anchor specification for a cohort
// patient. RefID identifies the index patient's entity, so it cannot be
// used directly: the registration kind uses the cohort patient's own
// registration date, a diagnosis anchor uses their earliest diagnosis in
// the same category as the index patient's, and a treatment anchor uses
// their earliest treatment sharing a type tag with the index patient's.
// Patients without a matching date resolve to domain.ErrNoAnchor and are
// skipped by the aggregator.
func ResolveForCohort(ctx context.Context, st store.Store, indexAnchorEntity IndexAnchorEntity, patient domain.Patient, anchor Anchor) (time.Time, error) {
	switch anchor.Kind {
	case AnchorRegistration:
		return Resolve(ctx, st, patient, anchor)

	case AnchorDiagnosis:
		diags, err := st.ListDiagnoses(ctx, patient.ID)
		if err != nil {
			return time.Time{}, err
		}
		var best time.Time
		for _, d := range diags {
			if d.Category != indexAnchorEntity.DiagnosisCategory || d.Date.IsZero() {
				continue
			}
			if best.IsZero() || d.Date.Before(best) {
				best = d.Date
			}
		}
		if best.IsZero() {
			return time.Time{}, fmt.Errorf("no %q diagnosis: %w", indexAnchorEntity.DiagnosisCategory, domain.ErrNoAnchor)
		}
		return best, nil

	case AnchorTreatmentStart:
		treatments, err := st.ListTreatments(ctx, patient.ID)
		if err != nil {
			return time.Time{}, err
		}
		var best time.Time
		for _, tr := range treatments {
			if tr.StartDate.IsZero() || !sharesType(tr.Types, indexAnchorEntity.TreatmentTypes) {
				continue
			}
			if best.IsZero() || tr.StartDate.Before(best) {
				best = tr.StartDate
			}
		}
		if best.IsZero() {
			return time.Time{}, fmt.Errorf("no matching treatment: %w", domain.ErrNoAnchor)
		}
		return best, nil

	default:
		return time.Time{}, fmt.Errorf("anchor kind %q: %w", anchor.Kind, domain.ErrNoAnchor)
	}
}

// IndexAnchorEntity carries what the index patient's anchor entity looks
// like, so cohort patients can be matched to their analogue.
type IndexAnchorEntity struct {
	DiagnosisCategory string
	TreatmentTypes    []string
}

// DescribeIndexAnchor loads the index patient's anchor entity attributes
// used for cohort matching. Registration anchors need none.
func DescribeIndexAnchor(ctx context.Context, st store.Store, anchor Anchor) (IndexAnchorEntity, error) {
	switch anchor.Kind {
	case AnchorDiagnosis:
		d, err := st.GetDiagnosis(ctx, anchor.RefID)
		if err != nil {
			return IndexAnchorEntity{}, err
		}
		return IndexAnchorEntity{DiagnosisCategory: d.Category}, nil
	case AnchorTreatmentStart:
		tr, err := st.GetTreatment(ctx, anchor.RefID)
		if err != nil {
			return IndexAnchorEntity{}, err
		}
		return IndexAnchorEntity{TreatmentTypes: tr.Types}, nil
	default:
		return IndexAnchorEntity{}, nil
	}
}

// sharesType reports whether the two tag sets intersect. An untyped
// index treatment matches any treatment.
func sharesType(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Bucketer computes integer bucket indices for one anchor/granularity pair.
type Bucketer struct {
	anchor      time.Time
	granularity domain.Granularity
}

// NewBucketer fixes an anchor date and granularity. The anchor is
// truncated to its calendar date; submissions are bucketed by date too.
func NewBucketer(anchor time.Time, granularity domain.Granularity) Bucketer {
	return Bucketer{anchor: dateOf(anchor), granularity: granularity}
}

// Anchor returns the (date-truncated) anchor.
func (b Bucketer) Anchor() time.Time { return b.anchor }

// Index computes floor((date(t) − anchor) / granularity). Month buckets
// use calendar arithmetic; day and week buckets count whole days.
// Timestamps before the anchor produce negative indices, which callers
// exclude from both the index series and cohort aggregation.
func (b Bucketer) Index(t time.Time) int {
	d := dateOf(t)
	switch b.granularity {
	case domain.GranularityMonth:
		months := (d.Year()-b.anchor.Year())*12 + int(d.Month()) - int(b.anchor.Month())
		if d.Day() < b.anchor.Day() {
			months--
		}
		return months
	case domain.GranularityWeek:
		return floorDiv(daysBetween(b.anchor, d), 7)
	default:
		return daysBetween(b.anchor, d)
	}
}

// Window returns [anchor, anchor + maxIntervals·granularity], the range
// used to clip the submission universe. A non-positive maxIntervals
// leaves the upper bound open.
func (b Bucketer) Window(maxIntervals int) domain.TimeWindow {
	w := domain.TimeWindow{From: b.anchor}
	if maxIntervals <= 0 {
		return w
	}
	switch b.granularity {
	case domain.GranularityMonth:
		w.To = b.anchor.AddDate(0, maxIntervals, 0)
	case domain.GranularityWeek:
		w.To = b.anchor.AddDate(0, 0, maxIntervals*7)
	default:
		w.To = b.anchor.AddDate(0, 0, maxIntervals)
	}
	return w
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.In(time.UTC).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
