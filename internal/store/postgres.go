package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/chaviprom/procore/internal/domain"
)

// Postgres implements Store over sqlx. Every call runs under the
// configured query timeout; repeatable reads within one computation come
// from the snapshot the caller's request ties together.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Postgres) GetPatient(ctx context.Context, id uuid.UUID) (domain.Patient, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out domain.Patient
	err := p.db.GetContext(ctx, &out, `
		SELECT id, institution_id, gender, birth_date, registration_date
		FROM patient WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Patient{}, notFound("get_patient")
	}
	if err != nil {
		return domain.Patient{}, unavailable("get_patient", err)
	}
	return out, nil
}

func (p *Postgres) GetSubmission(ctx context.Context, id uuid.UUID) (domain.Submission, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out domain.Submission
	err := p.db.GetContext(ctx, &out, `
		SELECT s.id, s.patient_id, s.patient_questionnaire_id, pq.questionnaire_id, s.submitted_at
		FROM questionnaire_submission s
		JOIN patient_questionnaire pq ON pq.id = s.patient_questionnaire_id
		WHERE s.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Submission{}, notFound("get_submission")
	}
	if err != nil {
		return domain.Submission{}, unavailable("get_submission", err)
	}
	return out, nil
}

func (p *Postgres) ListSubmissions(ctx context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Submission, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT s.id, s.patient_id, s.patient_questionnaire_id, pq.questionnaire_id, s.submitted_at
		FROM questionnaire_submission s
		JOIN patient_questionnaire pq ON pq.id = s.patient_questionnaire_id
		WHERE s.patient_id = $1`
	args := []interface{}{patientID}
	if window != nil && !window.From.IsZero() {
		args = append(args, window.From)
		query += ` AND s.submitted_at >= $2`
	}
	if window != nil && !window.To.IsZero() {
		args = append(args, window.To)
		if len(args) == 3 {
			query += ` AND s.submitted_at <= $3`
		} else {
			query += ` AND s.submitted_at <= $2`
		}
	}
	query += ` ORDER BY s.submitted_at DESC`

	var out []domain.Submission
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, unavailable("list_submissions", err)
	}
	return out, nil
}

func (p *Postgres) ListResponses(ctx context.Context, submissionID uuid.UUID) ([]domain.ItemResponse, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryxContext(ctx, `
		SELECT r.response_value,
		       i.id, i.questionnaire_id, i.construct_scale_id, i.item_number, i.name,
		       i.response_type, i.likert_scale_id, i.range_scale_id, i.direction,
		       i.normative_mean, i.normative_sd, i.threshold, i.mid, i.missing_value
		FROM questionnaire_item_response r
		JOIN item i ON i.id = r.item_id
		WHERE r.submission_id = $1
		ORDER BY i.item_number`, submissionID)
	if err != nil {
		return nil, unavailable("list_responses", err)
	}
	defer rows.Close()

	var out []domain.ItemResponse
	for rows.Next() {
		var r domain.ItemResponse
		r.SubmissionID = submissionID
		err := rows.Scan(&r.Value,
			&r.Item.ID, &r.Item.QuestionnaireID, &r.Item.ConstructScaleID, &r.Item.ItemNumber, &r.Item.Name,
			&r.Item.ResponseType, &r.Item.LikertScaleID, &r.Item.RangeScaleID, &r.Item.Direction,
			&r.Item.NormativeMean, &r.Item.NormativeSD, &r.Item.Threshold, &r.Item.MID, &r.Item.MissingValue)
		if err != nil {
			return nil, unavailable("list_responses", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list_responses", err)
	}
	return out, nil
}

func (p *Postgres) GetConstructScale(ctx context.Context, id uuid.UUID) (domain.ConstructScale, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out domain.ConstructScale
	err := p.db.GetContext(ctx, &out, `
		SELECT id, name, direction, normative_mean, normative_sd, threshold, mid,
		       minimum_items, equation
		FROM construct_scale WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConstructScale{}, notFound("get_construct_scale")
	}
	if err != nil {
		return domain.ConstructScale{}, unavailable("get_construct_scale", err)
	}
	return out, nil
}

func (p *Postgres) ListScalesForQuestionnaire(ctx context.Context, questionnaireID uuid.UUID) ([]domain.ConstructScale, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out []domain.ConstructScale
	err := p.db.SelectContext(ctx, &out, `
		SELECT DISTINCT cs.id, cs.name, cs.direction, cs.normative_mean, cs.normative_sd,
		       cs.threshold, cs.mid, cs.minimum_items, cs.equation
		FROM construct_scale cs
		JOIN item i ON i.construct_scale_id = cs.id
		WHERE i.questionnaire_id = $1
		ORDER BY cs.name`, questionnaireID)
	if err != nil {
		return nil, unavailable("list_scales_for_questionnaire", err)
	}
	return out, nil
}

func (p *Postgres) ListItemsForQuestionnaire(ctx context.Context, questionnaireID uuid.UUID) ([]domain.Item, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out []domain.Item
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, questionnaire_id, construct_scale_id, item_number, name, response_type,
		       likert_scale_id, range_scale_id, direction, normative_mean, normative_sd,
		       threshold, mid, missing_value
		FROM item WHERE questionnaire_id = $1
		ORDER BY item_number`, questionnaireID)
	if err != nil {
		return nil, unavailable("list_items_for_questionnaire", err)
	}
	return out, nil
}

func (p *Postgres) GetItem(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out domain.Item
	err := p.db.GetContext(ctx, &out, `
		SELECT id, questionnaire_id, construct_scale_id, item_number, name, response_type,
		       likert_scale_id, range_scale_id, direction, normative_mean, normative_sd,
		       threshold, mid, missing_value
		FROM item WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, notFound("get_item")
	}
	if err != nil {
		return domain.Item{}, unavailable("get_item", err)
	}
	return out, nil
}

func (p *Postgres) ListCompositesForConstructs(ctx context.Context, constructIDs []uuid.UUID) ([]domain.CompositeScale, error) {
	if len(constructIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	ids := make([]string, len(constructIDs))
	for i, id := range constructIDs {
		ids[i] = id.String()
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT c.id, c.name, c.combiner
		FROM composite_construct_scale c
		JOIN composite_construct_member m ON m.composite_id = c.id
		WHERE m.construct_id IN (?)
		ORDER BY c.name`, ids)
	if err != nil {
		return nil, unavailable("list_composites", err)
	}
	query = p.db.Rebind(query)

	var out []domain.CompositeScale
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, unavailable("list_composites", err)
	}
	for i := range out {
		var members []uuid.UUID
		err := p.db.SelectContext(ctx, &members, `
			SELECT construct_id FROM composite_construct_member
			WHERE composite_id = $1 ORDER BY construct_id`, out[i].ID)
		if err != nil {
			return nil, unavailable("list_composites", err)
		}
		out[i].ConstructIDs = members
	}
	return out, nil
}

func (p *Postgres) ListPatientQuestionnaires(ctx context.Context, patientID uuid.UUID) ([]domain.PatientQuestionnaire, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out []domain.PatientQuestionnaire
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, patient_id, questionnaire_id, display
		FROM patient_questionnaire
		WHERE patient_id = $1 AND display = TRUE`, patientID)
	if err != nil {
		return nil, unavailable("list_patient_questionnaires", err)
	}
	return out, nil
}

func (p *Postgres) GetQuestionnaire(ctx context.Context, id uuid.UUID) (domain.Questionnaire, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out domain.Questionnaire
	err := p.db.GetContext(ctx, &out, `SELECT id, name FROM questionnaire WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Questionnaire{}, notFound("get_questionnaire")
	}
	if err != nil {
		return domain.Questionnaire{}, unavailable("get_questionnaire", err)
	}
	return out, nil
}

func (p *Postgres) ListCohortPatients(ctx context.Context, institutionID uuid.UUID, preds domain.CohortPredicates) ([]domain.Patient, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT DISTINCT p.id, p.institution_id, p.gender, p.birth_date, p.registration_date
		FROM patient p`
	var args []interface{}
	where := ` WHERE p.institution_id = ?`
	args = append(args, institutionID)

	if preds.DiagnosisCategory != nil {
		query += ` JOIN diagnosis d ON d.patient_id = p.id`
		where += ` AND d.category = ?`
		args = append(args, *preds.DiagnosisCategory)
	}
	if preds.TreatmentType != nil {
		if preds.DiagnosisCategory == nil {
			query += ` JOIN diagnosis d ON d.patient_id = p.id`
		}
		query += ` JOIN treatment t ON t.diagnosis_id = d.id
			JOIN treatment_type tt ON tt.treatment_id = t.id`
		where += ` AND tt.name = ?`
		args = append(args, *preds.TreatmentType)
	}
	if preds.Gender != nil {
		where += ` AND p.gender = ?`
		args = append(args, *preds.Gender)
	}
	if preds.MinAge != nil {
		where += ` AND p.birth_date <= (CURRENT_DATE - (? * INTERVAL '1 year'))`
		args = append(args, *preds.MinAge)
	}
	if preds.MaxAge != nil {
		where += ` AND p.birth_date > (CURRENT_DATE - ((? + 1) * INTERVAL '1 year'))`
		args = append(args, *preds.MaxAge)
	}

	var out []domain.Patient
	if err := p.db.SelectContext(ctx, &out, p.db.Rebind(query+where+` ORDER BY p.id`), args...); err != nil {
		return nil, unavailable("list_cohort_patients", err)
	}
	return out, nil
}

func (p *Postgres) GetDiagnosis(ctx context.Context, id uuid.UUID) (domain.Diagnosis, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out domain.Diagnosis
	err := p.db.GetContext(ctx, &out, `
		SELECT id, patient_id, category, date FROM diagnosis WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Diagnosis{}, notFound("get_diagnosis")
	}
	if err != nil {
		return domain.Diagnosis{}, unavailable("get_diagnosis", err)
	}
	return out, nil
}

func (p *Postgres) GetTreatment(ctx context.Context, id uuid.UUID) (domain.Treatment, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out domain.Treatment
	err := p.db.GetContext(ctx, &out, `
		SELECT id, diagnosis_id, start_date FROM treatment WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Treatment{}, notFound("get_treatment")
	}
	if err != nil {
		return domain.Treatment{}, unavailable("get_treatment", err)
	}
	var types []string
	if err := p.db.SelectContext(ctx, &types, `
		SELECT name FROM treatment_type WHERE treatment_id = $1 ORDER BY name`, id); err != nil {
		return domain.Treatment{}, unavailable("get_treatment", err)
	}
	out.Types = types
	return out, nil
}

func (p *Postgres) ListDiagnoses(ctx context.Context, patientID uuid.UUID) ([]domain.Diagnosis, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out []domain.Diagnosis
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, patient_id, category, date FROM diagnosis
		WHERE patient_id = $1 ORDER BY date`, patientID)
	if err != nil {
		return nil, unavailable("list_diagnoses", err)
	}
	return out, nil
}

func (p *Postgres) ListTreatments(ctx context.Context, patientID uuid.UUID) ([]domain.Treatment, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out []domain.Treatment
	err := p.db.SelectContext(ctx, &out, `
		SELECT t.id, t.diagnosis_id, t.start_date
		FROM treatment t
		JOIN diagnosis d ON d.id = t.diagnosis_id
		WHERE d.patient_id = $1
		ORDER BY t.start_date`, patientID)
	if err != nil {
		return nil, unavailable("list_treatments", err)
	}
	for i := range out {
		var types []string
		if err := p.db.SelectContext(ctx, &types, `
			SELECT name FROM treatment_type WHERE treatment_id = $1 ORDER BY name`, out[i].ID); err != nil {
			return nil, unavailable("list_treatments", err)
		}
		out[i].Types = types
	}
	return out, nil
}

func (p *Postgres) ListLikertOptions(ctx context.Context, likertScaleID uuid.UUID) ([]domain.LikertOption, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var out []domain.LikertOption
	err := p.db.SelectContext(ctx, &out, `
		SELECT likert_scale_id, option_value, option_text, option_order
		FROM likert_scale_response_option
		WHERE likert_scale_id = $1
		ORDER BY option_order`, likertScaleID)
	if err != nil {
		return nil, unavailable("list_likert_options", err)
	}
	return out, nil
}

func (p *Postgres) ListItemResponses(ctx context.Context, patientID, itemID uuid.UUID, window *domain.TimeWindow) ([]domain.ScorePoint, error) {
	item, err := p.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	var options []domain.LikertOption
	if item.ResponseType == domain.ResponseTypeLikert && item.LikertScaleID != nil {
		if options, err = p.ListLikertOptions(ctx, *item.LikertScaleID); err != nil {
			return nil, err
		}
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT s.id AS submission_id, s.submitted_at, r.response_value
		FROM questionnaire_item_response r
		JOIN questionnaire_submission s ON s.id = r.submission_id
		WHERE s.patient_id = ? AND r.item_id = ?`
	args := []interface{}{patientID, itemID}
	if window != nil && !window.From.IsZero() {
		query += ` AND s.submitted_at >= ?`
		args = append(args, window.From)
	}
	if window != nil && !window.To.IsZero() {
		query += ` AND s.submitted_at <= ?`
		args = append(args, window.To)
	}
	query += ` ORDER BY s.submitted_at ASC`

	rows, err := p.db.QueryxContext(ctx, p.db.Rebind(query), args...)
	if err != nil {
		return nil, unavailable("list_item_responses", err)
	}
	defer rows.Close()

	var out []domain.ScorePoint
	for rows.Next() {
		var (
			pt  domain.ScorePoint
			raw string
		)
		if err := rows.Scan(&pt.SubmissionID, &pt.At, &raw); err != nil {
			return nil, unavailable("list_item_responses", err)
		}
		pt.Value = domain.NumericValueWithOptions(item, raw, options)
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list_item_responses", err)
	}
	return out, nil
}
