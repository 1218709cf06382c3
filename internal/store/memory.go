package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaviprom/procore/internal/domain"
)

// Memory is an in-memory Store used by tests and by the CLI's offline
// commands. Writes are only used to seed fixtures; reads satisfy the
// Store contract with copied snapshots.
type Memory struct {
	mu sync.RWMutex

	patients       map[uuid.UUID]domain.Patient
	submissions    map[uuid.UUID]domain.Submission
	responses      map[uuid.UUID][]domain.ItemResponse
	constructs     map[uuid.UUID]domain.ConstructScale
	composites     map[uuid.UUID]domain.CompositeScale
	items          map[uuid.UUID]domain.Item
	questionnaires map[uuid.UUID]domain.Questionnaire
	assignments    map[uuid.UUID][]domain.PatientQuestionnaire
	diagnoses      map[uuid.UUID]domain.Diagnosis
	treatments     map[uuid.UUID]domain.Treatment
	likertOptions  map[uuid.UUID][]domain.LikertOption
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		patients:       make(map[uuid.UUID]domain.Patient),
		submissions:    make(map[uuid.UUID]domain.Submission),
		responses:      make(map[uuid.UUID][]domain.ItemResponse),
		constructs:     make(map[uuid.UUID]domain.ConstructScale),
		composites:     make(map[uuid.UUID]domain.CompositeScale),
		items:          make(map[uuid.UUID]domain.Item),
		questionnaires: make(map[uuid.UUID]domain.Questionnaire),
		assignments:    make(map[uuid.UUID][]domain.PatientQuestionnaire),
		diagnoses:      make(map[uuid.UUID]domain.Diagnosis),
		treatments:     make(map[uuid.UUID]domain.Treatment),
		likertOptions:  make(map[uuid.UUID][]domain.LikertOption),
	}
}

// Seed helpers. Not part of the Store interface.

func (m *Memory) AddPatient(p domain.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *Memory) AddQuestionnaire(q domain.Questionnaire) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questionnaires[q.ID] = q
}

func (m *Memory) AddAssignment(pq domain.PatientQuestionnaire) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[pq.PatientID] = append(m.assignments[pq.PatientID], pq)
}

func (m *Memory) AddItem(it domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
}

func (m *Memory) AddConstructScale(cs domain.ConstructScale) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constructs[cs.ID] = cs
}

func (m *Memory) AddCompositeScale(cs domain.CompositeScale) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composites[cs.ID] = cs
}

func (m *Memory) AddDiagnosis(d domain.Diagnosis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagnoses[d.ID] = d
}

func (m *Memory) AddTreatment(t domain.Treatment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treatments[t.ID] = t
}

func (m *Memory) AddLikertOption(opt domain.LikertOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.likertOptions[opt.LikertScaleID] = append(m.likertOptions[opt.LikertScaleID], opt)
}

// AddSubmission stores the submission and its responses in one call.
func (m *Memory) AddSubmission(s domain.Submission, responses []domain.ItemResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[s.ID] = s
	m.responses[s.ID] = append([]domain.ItemResponse(nil), responses...)
}

// Store interface.

func (m *Memory) GetPatient(_ context.Context, id uuid.UUID) (domain.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return domain.Patient{}, notFound("get_patient")
	}
	return p, nil
}

func (m *Memory) GetSubmission(_ context.Context, id uuid.UUID) (domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return domain.Submission{}, notFound("get_submission")
	}
	return s, nil
}

func (m *Memory) ListSubmissions(_ context.Context, patientID uuid.UUID, window *domain.TimeWindow) ([]domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Submission
	for _, s := range m.submissions {
		if s.PatientID != patientID {
			continue
		}
		if window != nil && !window.Contains(s.SubmittedAt) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (m *Memory) ListResponses(_ context.Context, submissionID uuid.UUID) ([]domain.ItemResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.submissions[submissionID]; !ok {
		return nil, notFound("list_responses")
	}
	out := append([]domain.ItemResponse(nil), m.responses[submissionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Item.ItemNumber < out[j].Item.ItemNumber })
	return out, nil
}

func (m *Memory) GetConstructScale(_ context.Context, id uuid.UUID) (domain.ConstructScale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.constructs[id]
	if !ok {
		return domain.ConstructScale{}, notFound("get_construct_scale")
	}
	return cs, nil
}

func (m *Memory) ListScalesForQuestionnaire(_ context.Context, questionnaireID uuid.UUID) ([]domain.ConstructScale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []domain.ConstructScale
	for _, it := range m.items {
		if it.QuestionnaireID != questionnaireID || it.ConstructScaleID == uuid.Nil || seen[it.ConstructScaleID] {
			continue
		}
		if cs, ok := m.constructs[it.ConstructScaleID]; ok {
			seen[cs.ID] = true
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListItemsForQuestionnaire(_ context.Context, questionnaireID uuid.UUID) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Item
	for _, it := range m.items {
		if it.QuestionnaireID == questionnaireID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out, nil
}

func (m *Memory) GetItem(_ context.Context, id uuid.UUID) (domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return domain.Item{}, notFound("get_item")
	}
	return it, nil
}

func (m *Memory) ListCompositesForConstructs(_ context.Context, constructIDs []uuid.UUID) ([]domain.CompositeScale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(constructIDs))
	for _, id := range constructIDs {
		want[id] = true
	}
	var out []domain.CompositeScale
	for _, comp := range m.composites {
		for _, cid := range comp.ConstructIDs {
			if want[cid] {
				out = append(out, comp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListPatientQuestionnaires(_ context.Context, patientID uuid.UUID) ([]domain.PatientQuestionnaire, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.PatientQuestionnaire
	for _, pq := range m.assignments[patientID] {
		if pq.Display {
			out = append(out, pq)
		}
	}
	return out, nil
}

func (m *Memory) GetQuestionnaire(_ context.Context, id uuid.UUID) (domain.Questionnaire, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questionnaires[id]
	if !ok {
		return domain.Questionnaire{}, notFound("get_questionnaire")
	}
	return q, nil
}

func (m *Memory) ListCohortPatients(_ context.Context, institutionID uuid.UUID, preds domain.CohortPredicates) ([]domain.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var out []domain.Patient
	for _, p := range m.patients {
		if p.InstitutionID != institutionID {
			continue
		}
		if preds.Gender != nil && p.Gender != *preds.Gender {
			continue
		}
		if preds.MinAge != nil && p.Age(now) < *preds.MinAge {
			continue
		}
		if preds.MaxAge != nil && p.Age(now) > *preds.MaxAge {
			continue
		}
		if preds.DiagnosisCategory != nil && !m.hasDiagnosisLocked(p.ID, *preds.DiagnosisCategory) {
			continue
		}
		if preds.TreatmentType != nil && !m.hasTreatmentLocked(p.ID, *preds.TreatmentType) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) hasDiagnosisLocked(patientID uuid.UUID, category string) bool {
	for _, d := range m.diagnoses {
		if d.PatientID == patientID && d.Category == category {
			return true
		}
	}
	return false
}

func (m *Memory) hasTreatmentLocked(patientID uuid.UUID, treatmentType string) bool {
	for _, t := range m.treatments {
		d, ok := m.diagnoses[t.DiagnosisID]
		if !ok || d.PatientID != patientID {
			continue
		}
		for _, tt := range t.Types {
			if tt == treatmentType {
				return true
			}
		}
	}
	return false
}

func (m *Memory) GetDiagnosis(_ context.Context, id uuid.UUID) (domain.Diagnosis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.diagnoses[id]
	if !ok {
		return domain.Diagnosis{}, notFound("get_diagnosis")
	}
	return d, nil
}

func (m *Memory) GetTreatment(_ context.Context, id uuid.UUID) (domain.Treatment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.treatments[id]
	if !ok {
		return domain.Treatment{}, notFound("get_treatment")
	}
	return t, nil
}

func (m *Memory) ListDiagnoses(_ context.Context, patientID uuid.UUID) ([]domain.Diagnosis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Diagnosis
	for _, d := range m.diagnoses {
		if d.PatientID == patientID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) ListTreatments(_ context.Context, patientID uuid.UUID) ([]domain.Treatment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Treatment
	for _, t := range m.treatments {
		if d, ok := m.diagnoses[t.DiagnosisID]; ok && d.PatientID == patientID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *Memory) ListLikertOptions(_ context.Context, likertScaleID uuid.UUID) ([]domain.LikertOption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.LikertOption(nil), m.likertOptions[likertScaleID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *Memory) ListItemResponses(_ context.Context, patientID, itemID uuid.UUID, window *domain.TimeWindow) ([]domain.ScorePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ScorePoint
	for sid, resps := range m.responses {
		sub, ok := m.submissions[sid]
		if !ok || sub.PatientID != patientID {
			continue
		}
		if window != nil && !window.Contains(sub.SubmittedAt) {
			continue
		}
		for _, r := range resps {
			if r.Item.ID != itemID {
				continue
			}
			var options []domain.LikertOption
			if r.Item.LikertScaleID != nil {
				options = m.likertOptions[*r.Item.LikertScaleID]
			}
			out = append(out, domain.ScorePoint{
				SubmissionID: sid,
				At:           sub.SubmittedAt,
				Value:        domain.NumericValueWithOptions(r.Item, r.Value, options),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
