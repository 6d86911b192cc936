package evaluation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/alert"
	"github.com/clinsight/platform/internal/dqi"
	"github.com/clinsight/platform/internal/rules"
	apperrors "github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/events"
	"github.com/clinsight/platform/internal/shared/metrics"
	"github.com/clinsight/platform/internal/shared/types"
	"github.com/clinsight/platform/internal/signal"
)

// EntityFailure records one entity whose evaluation failed within a tick
type EntityFailure struct {
	Entity string `json:"entity"`
	Error  string `json:"error"`
}

// TickReport summarizes one full evaluation pass
type TickReport struct {
	StartedAt    time.Time       `json:"started_at"`
	Duration     time.Duration   `json:"duration"`
	Entities     int             `json:"entities"`
	Succeeded    int             `json:"succeeded"`
	Created      int             `json:"alerts_created"`
	Escalated    int             `json:"alerts_escalated"`
	AutoResolved int             `json:"alerts_auto_resolved"`
	Failures     []EntityFailure `json:"failures,omitempty"`
}

// Service runs evaluation ticks: snapshot, score, record, evaluate rules and
// advance alerts for every active entity. Entities are processed in parallel
// but one entity's failure never aborts the others.
type Service struct {
	signals   signal.Repository
	history   dqi.History
	evaluator *rules.Evaluator
	engine    *alert.Engine
	bus       events.EventBus
	workers   int
	log       zerolog.Logger
}

// NewService creates a new evaluation service
func NewService(
	signals signal.Repository,
	history dqi.History,
	evaluator *rules.Evaluator,
	engine *alert.Engine,
	bus events.EventBus,
	workers int,
	log zerolog.Logger,
) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		signals:   signals,
		history:   history,
		evaluator: evaluator,
		engine:    engine,
		bus:       bus,
		workers:   workers,
		log:       log.With().Str("component", "evaluation").Logger(),
	}
}

// RunTick evaluates all active entities once
func (s *Service) RunTick(ctx context.Context) (*TickReport, error) {
	start := time.Now().UTC()
	defer func() { metrics.RecordTick(time.Since(start)) }()

	entities, err := s.signals.ActiveEntities(ctx)
	if err != nil {
		return nil, err
	}

	report := &TickReport{StartedAt: start, Entities: len(entities)}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		work = make(chan types.EntityRef)
	)

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range work {
				outcome, err := s.evaluateEntity(ctx, ref, start)

				mu.Lock()
				if err != nil {
					report.Failures = append(report.Failures, EntityFailure{
						Entity: ref.Key(),
						Error:  err.Error(),
					})
					metrics.RecordTickEntityFailure()
					s.log.Error().Err(err).Str("entity", ref.Key()).Msg("entity evaluation failed")
				} else {
					report.Succeeded++
					report.Created += outcome.Created
					report.Escalated += outcome.Escalated
					report.AutoResolved += outcome.AutoResolved
				}
				mu.Unlock()
			}
		}()
	}

	for _, ref := range entities {
		work <- ref
	}
	close(work)
	wg.Wait()

	report.Duration = time.Since(start)
	s.log.Info().
		Int("entities", report.Entities).
		Int("succeeded", report.Succeeded).
		Int("created", report.Created).
		Int("escalated", report.Escalated).
		Int("auto_resolved", report.AutoResolved).
		Dur("duration", report.Duration).
		Msg("evaluation tick finished")

	return report, nil
}

// evaluateEntity runs the full pipeline for one entity. The score phase runs
// exactly once per tick: the history is append-only, so a second Record for
// the same tick would leave a duplicate row and a phantom zero delta in the
// trend. Only the alert mutation phase is retried when an optimistic-
// concurrency race is lost; anything else fails the entity and only the
// entity.
func (s *Service) evaluateEntity(ctx context.Context, ref types.EntityRef, now time.Time) (alert.TickOutcome, error) {
	var none alert.TickOutcome

	snap, err := s.signals.Snapshot(ctx, ref, now)
	if err != nil {
		return none, err
	}

	score, err := dqi.Compute(snap)
	if err != nil {
		return none, err
	}

	// A lost race on the history append committed nothing, so one fresh
	// attempt is safe
	if err := s.history.Record(ctx, score); err != nil {
		if !errors.Is(err, apperrors.ErrConcurrent) {
			return none, err
		}
		s.log.Warn().Str("entity", ref.Key()).Msg("score append lost a concurrent write, retrying")
		if err := s.history.Record(ctx, score); err != nil {
			return none, err
		}
	}
	metrics.RecordScoreComputed(string(ref.Level), string(score.Category))

	if err := s.bus.Publish(ctx, events.NewEvent(events.TypeScoreComputed, "evaluation", score)); err != nil {
		s.log.Warn().Err(err).Str("entity", ref.Key()).Msg("failed to publish score event")
	}

	trend, err := s.history.Trend(ctx, ref, 30*24*time.Hour)
	if err != nil {
		return none, err
	}

	findings := s.evaluator.Evaluate(snap, score, trend)

	// Re-enter at the alert mutation with the already-recorded score
	outcome, err := s.engine.ProcessTick(ctx, ref, findings, now)
	if err != nil && errors.Is(err, apperrors.ErrConcurrent) {
		s.log.Warn().Str("entity", ref.Key()).Msg("tick lost a concurrent write, retrying alert mutations")
		return s.engine.ProcessTick(ctx, ref, findings, now)
	}
	return outcome, err
}
