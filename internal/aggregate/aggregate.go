package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/interval"
	"github.com/chaviprom/procore/internal/store"
)

// SeriesReader yields a patient's score series for one construct,
// ordered by submission time, within the window.
type SeriesReader interface {
	ConstructSeries(ctx context.Context, patientID, constructID uuid.UUID, window domain.TimeWindow) ([]domain.ScorePoint, error)
}

// Target selects what the cohort bands are computed over.
type Target string

const (
	TargetConstruct Target = "construct"
	TargetItem      Target = "item"
)

// Options tune one aggregation run.
type Options struct {
	Type Type
	// Target defaults to TargetConstruct. Item targets aggregate the
	// cohort's raw item responses instead of construct scores.
	Target       Target
	Granularity  domain.Granularity
	Anchor       interval.AnchorKind
	AnchorRefID  uuid.UUID
	MaxIntervals int
	// UpperBound, when set, caps every window at an absolute date.
	UpperBound *time.Time
	// InstitutionID scopes the cohort; patients of other institutions
	// are never candidates.
	InstitutionID uuid.UUID
	Predicates    domain.CohortPredicates
	// MinCohort is the minimum number of cohort patients (after
	// excluding the index patient) required to aggregate at all.
	MinCohort int
	// MinSamples is the per-bucket sample floor for the CI statistic.
	MinSamples int
}

// Aggregator computes per-bucket cohort reference statistics for an
// index patient's construct series. The index patient's own scores
// never contribute to the statistics.
type Aggregator struct {
	store   store.Store
	series  SeriesReader
	workers int
	limiter *rate.Limiter
	log     zerolog.Logger
}

func New(st store.Store, series SeriesReader, workers int, limiter *rate.Limiter, log zerolog.Logger) *Aggregator {
	if workers <= 0 {
		workers = 8
	}
	return &Aggregator{
		store:   st,
		series:  series,
		workers: workers,
		limiter: limiter,
		log:     log.With().Str("component", "aggregator").Logger(),
	}
}

// Aggregate buckets cohort scores onto the index patient's own bucket
// set and summarizes each bucket. The target is a construct scale or an
// item, per opts.Target. Cohort patients without a matching anchor
// entity are skipped, not failed. Returns ErrInsufficientCohort when
// fewer than opts.MinCohort patients qualify.
func (a *Aggregator) Aggregate(ctx context.Context, indexPatientID, targetID uuid.UUID, opts Options) ([]BucketStat, error) {
	if !ValidType(opts.Type) {
		return nil, fmt.Errorf("aggregate: unknown aggregation type %q", opts.Type)
	}
	if opts.Target == "" {
		opts.Target = TargetConstruct
	}
	if opts.Target != TargetConstruct && opts.Target != TargetItem {
		return nil, fmt.Errorf("aggregate: unknown target %q", opts.Target)
	}

	index, err := a.store.GetPatient(ctx, indexPatientID)
	if err != nil {
		return nil, err
	}

	anchor := interval.Anchor{Kind: opts.Anchor, RefID: opts.AnchorRefID}
	anchorAt, err := interval.Resolve(ctx, a.store, index, anchor)
	if err != nil {
		return nil, err
	}
	indexEntity, err := interval.DescribeIndexAnchor(ctx, a.store, anchor)
	if err != nil {
		return nil, err
	}

	bucketer := interval.NewBucketer(anchorAt, opts.Granularity)
	window := clipWindow(bucketer.Window(opts.MaxIntervals), opts.UpperBound)

	// The output is keyed by the buckets the index patient actually
	// occupies; cohort scores outside those buckets are ignored.
	indexSeries, err := a.seriesFor(ctx, indexPatientID, targetID, window, opts)
	if err != nil {
		return nil, err
	}
	indexBuckets := map[int]struct{}{}
	for _, p := range indexSeries {
		if b := bucketer.Index(p.At); b >= 0 {
			indexBuckets[b] = struct{}{}
		}
	}
	if len(indexBuckets) == 0 {
		return []BucketStat{}, nil
	}

	cohort, err := a.store.ListCohortPatients(ctx, opts.InstitutionID, opts.Predicates)
	if err != nil {
		return nil, err
	}
	peers := cohort[:0:0]
	for _, p := range cohort {
		if p.ID != indexPatientID {
			peers = append(peers, p)
		}
	}
	if len(peers) < opts.MinCohort {
		return nil, fmt.Errorf("aggregate: cohort of %d below minimum %d: %w",
			len(peers), opts.MinCohort, domain.ErrInsufficientCohort)
	}

	var (
		mu      sync.Mutex
		byB     = map[int][]float64{}
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			if a.limiter != nil {
				if err := a.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			values, err := a.collectPeer(gctx, peer, targetID, indexEntity, opts, indexBuckets)
			if err != nil {
				return err
			}
			mu.Lock()
			if values == nil {
				skipped++
			}
			for b, vs := range values {
				byB[b] = append(byB[b], vs...)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := make([]BucketStat, 0, len(indexBuckets))
	for b := range indexBuckets {
		stats = append(stats, summarize(b, byB[b], opts.Type, opts.MinSamples))
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Bucket < stats[j].Bucket })

	a.log.Debug().
		Str("target", string(opts.Target)).
		Str("target_id", targetID.String()).
		Int("cohort", len(peers)).
		Int("skipped_no_anchor", skipped).
		Int("buckets", len(stats)).
		Msg("cohort aggregation complete")
	return stats, nil
}

// seriesFor reads the target's series for one patient: construct scores
// through the score repository, item responses through the store.
func (a *Aggregator) seriesFor(ctx context.Context, patientID, targetID uuid.UUID, window domain.TimeWindow, opts Options) ([]domain.ScorePoint, error) {
	if opts.Target == TargetItem {
		return a.store.ListItemResponses(ctx, patientID, targetID, &window)
	}
	return a.series.ConstructSeries(ctx, patientID, targetID, window)
}

// clipWindow caps the window's upper edge at an absolute date.
func clipWindow(w domain.TimeWindow, upper *time.Time) domain.TimeWindow {
	if upper != nil && (w.To.IsZero() || upper.Before(w.To)) {
		w.To = *upper
	}
	return w
}

// collectPeer returns the peer's non-null scores grouped by bucket
// index, restricted to the index patient's bucket set. A nil map means
// the peer had no usable anchor analogue.
func (a *Aggregator) collectPeer(ctx context.Context, peer domain.Patient, targetID uuid.UUID, indexEntity interval.IndexAnchorEntity, opts Options, indexBuckets map[int]struct{}) (map[int][]float64, error) {
	anchor := interval.Anchor{Kind: opts.Anchor, RefID: opts.AnchorRefID}
	anchorAt, err := interval.ResolveForCohort(ctx, a.store, indexEntity, peer, anchor)
	if err != nil {
		if errors.Is(err, domain.ErrNoAnchor) {
			return nil, nil
		}
		return nil, err
	}

	bucketer := interval.NewBucketer(anchorAt, opts.Granularity)
	window := clipWindow(bucketer.Window(opts.MaxIntervals), opts.UpperBound)
	points, err := a.seriesFor(ctx, peer.ID, targetID, window, opts)
	if err != nil {
		return nil, err
	}

	out := map[int][]float64{}
	for _, p := range points {
		if p.Value == nil {
			continue
		}
		b := bucketer.Index(p.At)
		if _, want := indexBuckets[b]; b < 0 || !want {
			continue
		}
		out[b] = append(out[b], *p.Value)
	}
	return out, nil
}
