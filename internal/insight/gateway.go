package insight

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsight/platform/internal/dqi"
	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/metrics"
	"github.com/clinsight/platform/internal/shared/types"
	"github.com/clinsight/platform/internal/signal"
)

// Result is what the gateway hands back: the text plus enough metadata for
// callers to reason about freshness.
type Result struct {
	Text        string    `json:"text"`
	Fingerprint string    `json:"fingerprint"`
	Cached      bool      `json:"cached"`
	DataVersion int64     `json:"data_version"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Gateway memoizes text-generation calls by request fingerprint. Generation
// failures are surfaced and never cached; a redundant generation when two
// callers race the same fingerprint is acceptable, the last cached write
// wins.
type Gateway struct {
	cache     Cache
	generator Generator
	signals   signal.Repository
	history   dqi.History
	ttl       time.Duration
	log       zerolog.Logger
}

// NewGateway creates a new insight cache gateway
func NewGateway(cache Cache, generator Generator, signals signal.Repository, history dqi.History, ttl time.Duration, log zerolog.Logger) *Gateway {
	return &Gateway{
		cache:     cache,
		generator: generator,
		signals:   signals,
		history:   history,
		ttl:       ttl,
		log:       log.With().Str("component", "insight").Logger(),
	}
}

// GetOrGenerate returns cached text for the query and scope when an
// unexpired entry exists for the current data version, otherwise it invokes
// the generator synchronously and caches the result.
func (g *Gateway) GetOrGenerate(ctx context.Context, query string, scope types.EntityRef) (*Result, error) {
	dataVersion, err := g.signals.DataVersion(ctx, scope)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(query, scope, dataVersion)

	if entry, err := g.cache.Get(ctx, fingerprint); err != nil {
		// A broken cache degrades to generating, it does not fail the request
		g.log.Warn().Err(err).Msg("insight cache read failed")
	} else if entry != nil {
		metrics.RecordInsightCache("hit")
		return &Result{
			Text:        entry.Content,
			Fingerprint: fingerprint,
			Cached:      true,
			DataVersion: dataVersion,
			GeneratedAt: entry.CreatedAt,
		}, nil
	}
	metrics.RecordInsightCache("miss")

	text, err := g.generate(ctx, query, scope)
	if err != nil {
		return nil, errors.InsightGenerationFailed(err)
	}

	now := time.Now().UTC()
	entry := CachedInsight{
		Fingerprint: fingerprint,
		Query:       NormalizeQuery(query),
		Scope:       scope.Key(),
		DataVersion: dataVersion,
		Content:     text,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}
	if err := g.cache.Put(ctx, entry); err != nil {
		g.log.Warn().Err(err).Msg("insight cache write failed")
	}

	return &Result{
		Text:        text,
		Fingerprint: fingerprint,
		Cached:      false,
		DataVersion: dataVersion,
		GeneratedAt: now,
	}, nil
}

// generate assembles the context payload and calls the collaborator
func (g *Gateway) generate(ctx context.Context, query string, scope types.EntityRef) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordInsightGeneration(time.Since(start)) }()

	req := GenerationRequest{
		Query: NormalizeQuery(query),
		Scope: scope.Key(),
	}

	// Best-effort context: the generator works from the query alone when an
	// entity has no signals or scores yet.
	payload := map[string]any{}
	if snap, err := g.signals.Snapshot(ctx, scope, time.Now().UTC()); err == nil {
		payload["snapshot"] = snap
	}
	if latest, err := g.history.Latest(ctx, scope); err == nil {
		payload["score"] = latest
	}
	if trend, err := g.history.Trend(ctx, scope, 30*24*time.Hour); err == nil && len(trend) > 0 {
		payload["trend"] = trend
	}
	if len(payload) > 0 {
		req.Context = payload
	}

	return g.generator.Generate(ctx, req)
}
