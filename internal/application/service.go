// Package application orchestrates the analytics core: it assembles
// patient reviews, serves cohort aggregates, and reacts to submission
// writes, with the cache layered over every read path.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chaviprom/procore/internal/aggregate"
	"github.com/chaviprom/procore/internal/cache"
	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/interpret"
	"github.com/chaviprom/procore/internal/interval"
	"github.com/chaviprom/procore/internal/metrics"
	"github.com/chaviprom/procore/internal/score"
	"github.com/chaviprom/procore/internal/store"
)

// Config carries the application-level knobs, already resolved from the
// service configuration.
type Config struct {
	PatientTTL          time.Duration
	PopulationTTL       time.Duration
	DefaultSubmissions  int
	MaxSubmissions      int
	DefaultAggregation  aggregate.Type
	MinCohort           int
	MinSamples          int
	ChangeFallbackRatio float64
}

// Service is the façade the transport layer calls.
type Service struct {
	store      store.Store
	scores     score.Repository
	computer   *score.Computer
	aggregator *aggregate.Aggregator
	loader     *cache.Loader
	versions   *cache.Versions
	metrics    *metrics.Metrics
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

func New(st store.Store, scores score.Repository, computer *score.Computer, aggregator *aggregate.Aggregator, loader *cache.Loader, versions *cache.Versions, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Service {
	s := &Service{
		store:      st,
		scores:     scores,
		computer:   computer,
		aggregator: aggregator,
		loader:     loader,
		versions:   versions,
		metrics:    m,
		cfg:        cfg,
		log:        log.With().Str("component", "application").Logger(),
		now:        time.Now,
	}
	if m != nil && computer != nil {
		computer.OnEvalError = func(uuid.UUID, error) { m.EvalErrors.Inc() }
	}
	return s
}

// authorize loads the patient and enforces the tenant boundary.
func (s *Service) authorize(ctx context.Context, actor domain.Actor, patientID uuid.UUID) (domain.Patient, error) {
	patient, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return domain.Patient{}, err
	}
	if patient.InstitutionID != actor.InstitutionID {
		return domain.Patient{}, fmt.Errorf("patient %s: %w", patientID, domain.ErrUnauthorized)
	}
	return patient, nil
}

// GetPatientReview returns the assembled review, served from cache when
// the patient's version has not moved since it was minted.
func (s *Service) GetPatientReview(ctx context.Context, actor domain.Actor, patientID uuid.UUID, filter FilterContext) (*PatientReview, error) {
	start := s.now()
	patient, err := s.authorize(ctx, actor, patientID)
	if err != nil {
		return nil, err
	}
	filter = filter.normalize(s.cfg)

	compute := func(ctx context.Context) ([]byte, error) {
		review, err := s.assembleReview(ctx, patient, filter)
		if err != nil {
			return nil, err
		}
		return json.Marshal(review)
	}

	var raw []byte
	version, verr := s.versions.Patient(ctx, patientID)
	if verr != nil {
		// Version unknown: serve fresh rather than risk stale data.
		s.countDegraded()
		raw, err = compute(ctx)
	} else {
		key := cache.ReviewKey(patientID, filter.Digest(), version)
		var hit bool
		raw, hit, err = s.loader.GetOrCompute(ctx, key, s.cfg.PatientTTL, compute)
		s.countCache(hit)
	}
	if err != nil {
		return nil, err
	}

	var review PatientReview
	if err := json.Unmarshal(raw, &review); err != nil {
		return nil, fmt.Errorf("decode cached review: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ReviewDuration.Observe(s.now().Sub(start).Seconds())
	}
	return &review, nil
}

// GetCohortAggregate returns reference bands for one construct or item
// around the index patient, cached under the population version.
func (s *Service) GetCohortAggregate(ctx context.Context, actor domain.Actor, patientID uuid.UUID, target aggregate.Target, targetID uuid.UUID, filter FilterContext) ([]aggregate.BucketStat, error) {
	start := s.now()
	patient, err := s.authorize(ctx, actor, patientID)
	if err != nil {
		return nil, err
	}
	filter = filter.normalize(s.cfg)
	if target == "" {
		target = aggregate.TargetConstruct
	}

	opts := aggregate.Options{
		Type:          filter.Aggregation,
		Target:        target,
		Granularity:   filter.Granularity,
		Anchor:        filter.Anchor.Kind,
		AnchorRefID:   filter.Anchor.RefID,
		MaxIntervals:  filter.MaxIntervals,
		UpperBound:    filter.UpperBound,
		InstitutionID: patient.InstitutionID,
		Predicates:    filter.Predicates,
		MinCohort:     s.cfg.MinCohort,
		MinSamples:    s.cfg.MinSamples,
	}
	compute := func(ctx context.Context) ([]byte, error) {
		stats, err := s.aggregator.Aggregate(ctx, patientID, targetID, opts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stats)
	}

	var raw []byte
	version, verr := s.versions.Population(ctx)
	if verr != nil {
		s.countDegraded()
		raw, err = compute(ctx)
	} else {
		// The index patient shapes the bucket set, so the key carries
		// their id through the digest alongside the filter.
		digest := cache.Digest(map[string]string{
			"filter":  filter.Digest(),
			"patient": patientID.String(),
			"target":  string(target),
		})
		key := cache.AggregateKey(patient.InstitutionID, targetID, digest, version)
		var hit bool
		raw, hit, err = s.loader.GetOrCompute(ctx, key, s.cfg.PopulationTTL, compute)
		s.countCache(hit)
	}
	if err != nil {
		return nil, err
	}

	var stats []aggregate.BucketStat
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("decode cached aggregate: %w", err)
	}
	if s.metrics != nil {
		s.metrics.AggregationDuration.Observe(s.now().Sub(start).Seconds())
	}
	return stats, nil
}

// OnSubmissionWritten recomputes the submission's scores and advances
// the invalidation counters. Counter failures degrade to stale cache
// bounded by TTL; they never fail the event.
func (s *Service) OnSubmissionWritten(ctx context.Context, submissionID uuid.UUID) error {
	start := s.now()
	res, err := s.computer.ComputeSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ScoringDuration.Observe(s.now().Sub(start).Seconds())
	}

	if _, err := s.versions.BumpPatient(ctx, res.PatientID); err != nil {
		s.log.Warn().Err(err).Str("patient_id", res.PatientID.String()).Msg("patient invalidation failed")
	} else if s.metrics != nil {
		s.metrics.Invalidations.WithLabelValues("patient").Inc()
	}
	if _, err := s.versions.BumpPopulation(ctx); err != nil {
		s.log.Warn().Err(err).Msg("population invalidation failed")
	} else if s.metrics != nil {
		s.metrics.Invalidations.WithLabelValues("population").Inc()
	}
	return nil
}

// OnSubmissionDeleted removes the submission's derived score rows and
// advances the invalidation counters. The rows identify the patient, so
// the event works even after the submission row itself is gone.
func (s *Service) OnSubmissionDeleted(ctx context.Context, submissionID uuid.UUID) error {
	patientID, err := s.scores.DeleteScoresForSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if patientID != uuid.Nil {
		if _, err := s.versions.BumpPatient(ctx, patientID); err != nil {
			s.log.Warn().Err(err).Str("patient_id", patientID.String()).Msg("patient invalidation failed")
		} else if s.metrics != nil {
			s.metrics.Invalidations.WithLabelValues("patient").Inc()
		}
	}
	if _, err := s.versions.BumpPopulation(ctx); err != nil {
		s.log.Warn().Err(err).Msg("population invalidation failed")
	} else if s.metrics != nil {
		s.metrics.Invalidations.WithLabelValues("population").Inc()
	}
	s.log.Debug().Str("submission_id", submissionID.String()).Msg("submission scores deleted")
	return nil
}

func (s *Service) countCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.Inc()
	} else {
		s.metrics.CacheMisses.Inc()
	}
}

func (s *Service) countDegraded() {
	if s.metrics != nil {
		s.metrics.CacheDegraded.Inc()
	}
}

func (s *Service) assembleReview(ctx context.Context, patient domain.Patient, filter FilterContext) (*PatientReview, error) {
	review := &PatientReview{
		Patient: PatientSummary{
			ID:               patient.ID,
			Gender:           patient.Gender,
			Age:              patient.Age(s.now()),
			RegistrationDate: patient.RegistrationDate,
		},
		Anchor:      filter.Anchor,
		Granularity: filter.Granularity,
		GeneratedAt: s.now().UTC(),
	}

	bucketed := true
	anchorAt, err := interval.Resolve(ctx, s.store, patient, filter.Anchor)
	if err != nil {
		if !errors.Is(err, domain.ErrNoAnchor) {
			return nil, err
		}
		// The requested anchor does not exist for this patient. Buckets
		// are meaningless without it: series stay empty, while the
		// newest scores still feed interpretation.
		review.NoAnchor = true
		bucketed = false
		anchorAt = patient.RegistrationDate
	}
	bucketer := interval.NewBucketer(anchorAt, filter.Granularity)
	window := bucketer.Window(filter.MaxIntervals)
	if !bucketed {
		window = domain.TimeWindow{}
	}
	if filter.UpperBound != nil && (window.To.IsZero() || filter.UpperBound.Before(window.To)) {
		window.To = *filter.UpperBound
	}
	view := seriesView{
		bucketer:  bucketer,
		window:    window,
		maxPoints: filter.Submissions,
		bucketed:  bucketed,
	}

	assignments, err := s.store.ListPatientQuestionnaires(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	allSubs, err := s.store.ListSubmissions(ctx, patient.ID, nil)
	if err != nil {
		return nil, err
	}
	review.Questionnaires, err = s.questionnairesOverview(ctx, assignments, allSubs)
	if err != nil {
		return nil, err
	}

	opts := interpret.Options{ChangeFallbackRatio: s.cfg.ChangeFallbackRatio}
	seen := make(map[uuid.UUID]bool)
	var scaleIDs []uuid.UUID
	for _, pq := range assignments {
		if filter.QuestionnaireID != nil && pq.QuestionnaireID != *filter.QuestionnaireID {
			continue
		}
		if seen[pq.QuestionnaireID] {
			continue
		}
		seen[pq.QuestionnaireID] = true

		constructs, ids, err := s.questionnaireConstructs(ctx, patient, pq.QuestionnaireID, view, opts)
		if err != nil {
			return nil, err
		}
		review.Constructs = append(review.Constructs, constructs...)
		scaleIDs = append(scaleIDs, ids...)
	}
	sortTopline(review.Constructs)

	if len(scaleIDs) > 0 {
		review.Composites, err = s.compositeResults(ctx, patient, scaleIDs, view)
		if err != nil {
			return nil, err
		}
	}
	return review, nil
}

func (s *Service) questionnairesOverview(ctx context.Context, assignments []domain.PatientQuestionnaire, subs []domain.Submission) ([]QuestionnaireOverview, error) {
	counts := make(map[uuid.UUID]int)
	last := make(map[uuid.UUID]time.Time)
	for _, sub := range subs {
		counts[sub.QuestionnaireID]++
		if sub.SubmittedAt.After(last[sub.QuestionnaireID]) {
			last[sub.QuestionnaireID] = sub.SubmittedAt
		}
	}

	var out []QuestionnaireOverview
	seen := make(map[uuid.UUID]bool)
	for _, pq := range assignments {
		if seen[pq.QuestionnaireID] {
			continue
		}
		seen[pq.QuestionnaireID] = true
		q, err := s.store.GetQuestionnaire(ctx, pq.QuestionnaireID)
		if err != nil {
			return nil, err
		}
		o := QuestionnaireOverview{
			QuestionnaireID: q.ID,
			Name:            q.Name,
			Submissions:     counts[q.ID],
		}
		if at, ok := last[q.ID]; ok {
			o.LastSubmittedAt = &at
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// seriesView bundles how a review renders its time series. When the
// requested anchor is missing, bucketed is false: series stay empty and
// only the newest points feed current/previous values.
type seriesView struct {
	bucketer  interval.Bucketer
	window    domain.TimeWindow
	maxPoints int
	bucketed  bool
}

// render clips to the freshest points and buckets them. The second
// return value is the newest point feeding interpretation, which exists
// even when the series itself is suppressed.
func (v seriesView) render(points []domain.ScorePoint) ([]SeriesPoint, *domain.ScorePoint) {
	pts := tail(points, v.maxPoints)
	if !v.bucketed {
		if len(pts) == 0 {
			return nil, nil
		}
		return nil, &pts[len(pts)-1]
	}
	series := bucketSeries(v.bucketer, pts)
	if len(series) == 0 {
		return series, nil
	}
	latest := series[len(series)-1]
	return series, &domain.ScorePoint{
		SubmissionID: latest.SubmissionID,
		At:           latest.At,
		Value:        latest.Value,
	}
}

func (s *Service) questionnaireConstructs(ctx context.Context, patient domain.Patient, questionnaireID uuid.UUID, view seriesView, opts interpret.Options) ([]ConstructResult, []uuid.UUID, error) {
	scales, err := s.store.ListScalesForQuestionnaire(ctx, questionnaireID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListItemsForQuestionnaire(ctx, questionnaireID)
	if err != nil {
		return nil, nil, err
	}
	itemsByScale := make(map[uuid.UUID][]domain.Item)
	for _, it := range items {
		if it.ConstructScaleID != uuid.Nil {
			itemsByScale[it.ConstructScaleID] = append(itemsByScale[it.ConstructScaleID], it)
		}
	}

	var (
		results []ConstructResult
		ids     []uuid.UUID
	)
	for _, scale := range scales {
		points, err := s.scores.ConstructSeries(ctx, patient.ID, scale.ID, view.window)
		if err != nil {
			return nil, nil, err
		}
		series, latest := view.render(points)

		result := ConstructResult{
			ConstructID: scale.ID,
			Name:        scale.Name,
			Direction:   scale.Direction,
			Series:      series,
		}
		if latest != nil {
			result.Current = latest.Value
			prev, ok, err := s.scores.PreviousConstructScore(ctx, patient.ID, scale.ID, latest.At)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				result.Previous = prev.Value
			}
		}
		result.Interpretation = interpret.Classify(interpret.CalibrationFromConstruct(scale), result.Current, result.Previous, opts)

		result.Items, err = s.itemResults(ctx, patient, itemsByScale[scale.ID], view, opts)
		if err != nil {
			return nil, nil, err
		}

		results = append(results, result)
		ids = append(ids, scale.ID)
	}
	return results, ids, nil
}

func (s *Service) itemResults(ctx context.Context, patient domain.Patient, items []domain.Item, view seriesView, opts interpret.Options) ([]ItemResult, error) {
	var out []ItemResult
	for _, it := range items {
		points, err := s.store.ListItemResponses(ctx, patient.ID, it.ID, &view.window)
		if err != nil {
			return nil, err
		}
		series, latest := view.render(points)

		res := ItemResult{
			ItemID:     it.ID,
			ItemNumber: it.ItemNumber,
			Name:       it.Name,
			Series:     series,
		}
		if latest != nil {
			res.Current = latest.Value
			if prev := previousPoint(tail(points, view.maxPoints)); prev != nil {
				res.Previous = prev.Value
			}
		}
		if res.Current != nil && it.ResponseType == domain.ResponseTypeLikert && it.LikertScaleID != nil {
			res.CurrentText, err = s.likertText(ctx, *it.LikertScaleID, *res.Current)
			if err != nil {
				return nil, err
			}
		}
		res.Interpretation = interpret.Classify(interpret.CalibrationFromItem(it), res.Current, res.Previous, opts)
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out, nil
}

func (s *Service) likertText(ctx context.Context, likertScaleID uuid.UUID, value float64) (string, error) {
	options, err := s.store.ListLikertOptions(ctx, likertScaleID)
	if err != nil {
		return "", err
	}
	for _, opt := range options {
		if float64(opt.Value) == value {
			return opt.Text, nil
		}
	}
	return "", nil
}

func (s *Service) compositeResults(ctx context.Context, patient domain.Patient, scaleIDs []uuid.UUID, view seriesView) ([]CompositeResult, error) {
	composites, err := s.store.ListCompositesForConstructs(ctx, scaleIDs)
	if err != nil {
		return nil, err
	}
	var out []CompositeResult
	for _, comp := range composites {
		points, err := s.scores.CompositeSeries(ctx, patient.ID, comp.ID, view.window)
		if err != nil {
			return nil, err
		}
		series, latest := view.render(points)
		res := CompositeResult{
			CompositeID: comp.ID,
			Name:        comp.Name,
			Combiner:    comp.Combiner,
			Series:      series,
		}
		if latest != nil {
			res.Current = latest.Value
		}
		out = append(out, res)
	}
	return out, nil
}

// bucketSeries attaches bucket indices and drops pre-anchor points.
func bucketSeries(bucketer interval.Bucketer, points []domain.ScorePoint) []SeriesPoint {
	var out []SeriesPoint
	for _, p := range points {
		b := bucketer.Index(p.At)
		if b < 0 {
			continue
		}
		out = append(out, SeriesPoint{
			SubmissionID: p.SubmissionID,
			Bucket:       b,
			At:           p.At,
			Value:        p.Value,
		})
	}
	return out
}

// tail keeps the newest n points of an ascending series.
func tail(points []domain.ScorePoint, n int) []domain.ScorePoint {
	if n <= 0 || len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

// previousPoint is the second-newest of an ascending point slice.
func previousPoint(points []domain.ScorePoint) *domain.ScorePoint {
	if len(points) < 2 {
		return nil
	}
	return &points[len(points)-2]
}

// sortTopline orders constructs the way interpret ranks them: both
// axes significant first, then by name.
func sortTopline(results []ConstructResult) {
	sort.SliceStable(results, func(i, j int) bool {
		bi := results[i].Interpretation.CurrentSignificant && results[i].Interpretation.ChangeSignificant
		bj := results[j].Interpretation.CurrentSignificant && results[j].Interpretation.ChangeSignificant
		if bi != bj {
			return bi
		}
		return results[i].Name < results[j].Name
	})
}
