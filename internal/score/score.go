// Package score derives construct and composite scores from raw
// submission responses and persists them as rows other components read.
package score

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/equation"
	"github.com/chaviprom/procore/internal/store"
)

// Computer scores submissions. Safe for concurrent use; writes for the
// same patient are serialized through sharded locks so replayed events
// cannot interleave.
type Computer struct {
	store store.Store
	repo  Repository
	locks patientLocks
	log   zerolog.Logger
	now   func() time.Time

	compiled sync.Map // uuid.UUID -> *compiledScale

	// OnEvalError is invoked for each runtime evaluation failure, after
	// the null score is recorded. Optional.
	OnEvalError func(constructID uuid.UUID, err error)
}

type compiledScale struct {
	source   string
	compiled *equation.Compiled
}

// NewComputer wires a computer over the domain store and score repository.
func NewComputer(st store.Store, repo Repository, log zerolog.Logger) *Computer {
	return &Computer{
		store: st,
		repo:  repo,
		log:   log.With().Str("component", "score_computer").Logger(),
		now:   time.Now,
	}
}

// Result reports what one computation produced.
type Result struct {
	PatientID  uuid.UUID
	Constructs []domain.ConstructScore
	Composites []domain.CompositeScore
}

// ComputeSubmission scores every construct scale of the submission's
// questionnaire, then every composite over those constructs, and upserts
// the rows. Recomputing the same submission yields identical rows.
//
// Runtime evaluation failures null the affected construct and are
// logged; they never fail the submission.
func (c *Computer) ComputeSubmission(ctx context.Context, submissionID uuid.UUID) (Result, error) {
	sub, err := c.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return Result{}, err
	}

	mu := c.locks.forPatient(sub.PatientID)
	mu.Lock()
	defer mu.Unlock()

	responses, err := c.store.ListResponses(ctx, submissionID)
	if err != nil {
		return Result{}, err
	}
	scales, err := c.store.ListScalesForQuestionnaire(ctx, sub.QuestionnaireID)
	if err != nil {
		return Result{}, err
	}
	items, err := c.store.ListItemsForQuestionnaire(ctx, sub.QuestionnaireID)
	if err != nil {
		return Result{}, err
	}

	byScale := make(map[uuid.UUID][]domain.ItemResponse)
	for _, resp := range responses {
		if resp.Item.ConstructScaleID == uuid.Nil {
			continue
		}
		byScale[resp.Item.ConstructScaleID] = append(byScale[resp.Item.ConstructScaleID], resp)
	}
	itemNumbers := make(map[uuid.UUID][]int)
	for _, it := range items {
		if it.ConstructScaleID == uuid.Nil {
			continue
		}
		itemNumbers[it.ConstructScaleID] = append(itemNumbers[it.ConstructScaleID], it.ItemNumber)
	}
	likert, err := c.likertOptions(ctx, items)
	if err != nil {
		return Result{}, err
	}

	result := Result{PatientID: sub.PatientID}
	computedAt := c.now().UTC()
	constructValues := make(map[uuid.UUID]*float64, len(scales))
	scaleIDs := make([]uuid.UUID, 0, len(scales))

	for _, scale := range scales {
		val := c.scoreConstruct(scale, itemNumbers[scale.ID], byScale[scale.ID], likert)
		row := domain.ConstructScore{
			SubmissionID: submissionID,
			ConstructID:  scale.ID,
			Score:        val,
			ComputedAt:   computedAt,
		}
		if err := c.repo.UpsertConstructScore(ctx, sub.PatientID, sub.SubmittedAt, row); err != nil {
			return Result{}, err
		}
		constructValues[scale.ID] = val
		scaleIDs = append(scaleIDs, scale.ID)
		result.Constructs = append(result.Constructs, row)
	}

	if len(scaleIDs) > 0 {
		composites, err := c.store.ListCompositesForConstructs(ctx, scaleIDs)
		if err != nil {
			return Result{}, err
		}
		for _, comp := range composites {
			row := domain.CompositeScore{
				SubmissionID: submissionID,
				CompositeID:  comp.ID,
				Score:        combine(comp.Combiner, memberValues(comp, constructValues)),
				ComputedAt:   computedAt,
			}
			if err := c.repo.UpsertCompositeScore(ctx, sub.PatientID, sub.SubmittedAt, row); err != nil {
				return Result{}, err
			}
			result.Composites = append(result.Composites, row)
		}
	}

	c.log.Debug().
		Str("submission_id", submissionID.String()).
		Int("constructs", len(result.Constructs)).
		Int("composites", len(result.Composites)).
		Msg("submission scored")
	return result, nil
}

// likertOptions prefetches the option sets the submission's Likert
// items map their responses through.
func (c *Computer) likertOptions(ctx context.Context, items []domain.Item) (map[uuid.UUID][]domain.LikertOption, error) {
	out := make(map[uuid.UUID][]domain.LikertOption)
	for _, it := range items {
		if it.ResponseType != domain.ResponseTypeLikert || it.LikertScaleID == nil {
			continue
		}
		if _, ok := out[*it.LikertScaleID]; ok {
			continue
		}
		options, err := c.store.ListLikertOptions(ctx, *it.LikertScaleID)
		if err != nil {
			return nil, err
		}
		out[*it.LikertScaleID] = options
	}
	return out, nil
}

// scoreConstruct evaluates one scale over the submission's responses.
// Below-minimum answer counts and evaluation failures both yield nil.
func (c *Computer) scoreConstruct(scale domain.ConstructScale, numbers []int, responses []domain.ItemResponse, likert map[uuid.UUID][]domain.LikertOption) *float64 {
	inputs := make(map[int]equation.Value, len(responses))
	answered := 0
	for _, resp := range responses {
		var options []domain.LikertOption
		if resp.Item.LikertScaleID != nil {
			options = likert[*resp.Item.LikertScaleID]
		}
		v := domain.NumericValueWithOptions(resp.Item, resp.Value, options)
		if v == nil {
			continue
		}
		inputs[resp.Item.ItemNumber] = equation.Number(*v)
		answered++
	}
	if scale.MinimumItems > 0 && answered < scale.MinimumItems {
		return nil
	}

	compiled, err := c.compile(scale, numbers)
	if err != nil {
		c.log.Error().Err(err).
			Str("construct_id", scale.ID.String()).
			Msg("stored equation no longer compiles")
		return nil
	}

	out, err := compiled.Evaluate(inputs)
	if err != nil {
		c.log.Warn().Err(err).
			Str("construct_id", scale.ID.String()).
			Str("construct", scale.Name).
			Msg("equation evaluation failed; score recorded as null")
		if c.OnEvalError != nil {
			c.OnEvalError(scale.ID, err)
		}
		return nil
	}

	switch out.Kind {
	case equation.KindNumber:
		v := out.Num
		return &v
	case equation.KindBool:
		v := 0.0
		if out.Bool {
			v = 1.0
		}
		return &v
	default:
		return nil
	}
}

// compile caches per-scale compilations, invalidated when the stored
// equation text changes.
func (c *Computer) compile(scale domain.ConstructScale, numbers []int) (*equation.Compiled, error) {
	if cached, ok := c.compiled.Load(scale.ID); ok {
		cs := cached.(*compiledScale)
		if cs.source == scale.Equation {
			return cs.compiled, nil
		}
	}
	compiled, err := equation.Compile(scale.Equation, numbers)
	if err != nil {
		return nil, err
	}
	c.compiled.Store(scale.ID, &compiledScale{source: scale.Equation, compiled: compiled})
	return compiled, nil
}

// ValidateConstruct checks a scale's equation at registration time
// against the item numbers assigned to it. Failures wrap
// domain.ErrInvalidExpression with the parser's position message.
func ValidateConstruct(equationSrc string, itemNumbers []int) error {
	if _, err := equation.Compile(equationSrc, itemNumbers); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidExpression, err)
	}
	return nil
}

func memberValues(comp domain.CompositeScale, constructValues map[uuid.UUID]*float64) []float64 {
	var out []float64
	for _, id := range comp.ConstructIDs {
		if v := constructValues[id]; v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// combine folds non-null member scores. An empty slice yields nil.
func combine(combiner domain.Combiner, values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var v float64
	switch combiner {
	case domain.CombinerSum:
		for _, x := range values {
			v += x
		}
	case domain.CombinerProduct:
		v = 1
		for _, x := range values {
			v *= x
		}
	case domain.CombinerMean:
		for _, x := range values {
			v += x
		}
		v /= float64(len(values))
	case domain.CombinerMedian:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			v = sorted[mid]
		} else {
			v = (sorted[mid-1] + sorted[mid]) / 2
		}
	case domain.CombinerMode:
		v = mode(values)
	case domain.CombinerMin:
		v = values[0]
		for _, x := range values[1:] {
			if x < v {
				v = x
			}
		}
	case domain.CombinerMax:
		v = values[0]
		for _, x := range values[1:] {
			if x > v {
				v = x
			}
		}
	default:
		return nil
	}
	return &v
}

// mode returns the most frequent value; ties go to the smallest.
func mode(values []float64) float64 {
	counts := make(map[float64]int, len(values))
	for _, x := range values {
		counts[x]++
	}
	best, bestN := values[0], 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}
