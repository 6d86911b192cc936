package rules

import (
	"fmt"
	"time"

	"github.com/clinsight/platform/internal/dqi"
	"github.com/clinsight/platform/internal/shared/types"
	"github.com/clinsight/platform/internal/signal"
)

// Finding is one transient rule match. Findings are produced fresh every
// tick and consumed immediately; they are never stored.
type Finding struct {
	RuleID    string          `json:"rule_id"`
	Entity    types.EntityRef `json:"entity"`
	Severity  Severity        `json:"severity"`
	Timestamp time.Time       `json:"timestamp"`
	Measured  float64         `json:"measured"`
	Detail    string          `json:"detail"`
}

// Evaluator evaluates a rule catalog against current signals. Stateless:
// suppression and cooldown are downstream concerns, the evaluator happily
// re-emits the same finding every tick.
type Evaluator struct {
	catalog []Rule
}

// NewEvaluator creates an evaluator over the given catalog
func NewEvaluator(catalog []Rule) *Evaluator {
	return &Evaluator{catalog: catalog}
}

// Catalog returns the rules the evaluator runs, in catalog order
func (e *Evaluator) Catalog() []Rule {
	return e.catalog
}

// Rule returns a catalog entry by ID
func (e *Evaluator) Rule(id string) (Rule, bool) {
	for _, r := range e.catalog {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Evaluate runs every applicable rule against the entity's current snapshot,
// score and recorded trend, returning all matches. The trend is expected
// oldest first, as History.Trend returns it.
func (e *Evaluator) Evaluate(snap *signal.Snapshot, score *dqi.Score, trend []dqi.Score) []Finding {
	var findings []Finding

	for _, rule := range e.catalog {
		if !rule.AppliesTo(snap.Entity.Level) {
			continue
		}
		if matched, measured, detail := e.match(rule, snap, score, trend); matched {
			findings = append(findings, Finding{
				RuleID:    rule.ID,
				Entity:    snap.Entity,
				Severity:  rule.Severity,
				Timestamp: snap.Timestamp,
				Measured:  measured,
				Detail:    detail,
			})
		}
	}

	return findings
}

func (e *Evaluator) match(rule Rule, snap *signal.Snapshot, score *dqi.Score, trend []dqi.Score) (bool, float64, string) {
	switch rule.Predicate.Kind {
	case PredicateThreshold:
		return matchThreshold(rule.Predicate.Threshold, snap, score)
	case PredicateTrendDelta:
		return matchTrendDelta(rule.Predicate.TrendDelta, trend)
	case PredicateCrossEntity:
		return matchCrossEntity(rule.Predicate.CrossEntity, snap)
	default:
		return false, 0, ""
	}
}

func matchThreshold(p *ThresholdPredicate, snap *signal.Snapshot, score *dqi.Score) (bool, float64, string) {
	if p == nil {
		return false, 0, ""
	}

	var value float64
	switch p.Metric {
	case MetricComposite:
		value = score.Composite
	case MetricQueriesAged:
		value = float64(snap.QueriesAged)
	case MetricQueriesOverdue:
		value = float64(snap.QueriesOverdue)
	case MetricFieldsMissing:
		value = float64(snap.FieldsMissing)
	case MetricCodingOpen:
		value = float64(snap.CodingOpen)
	default:
		return false, 0, ""
	}

	var matched bool
	switch p.Op {
	case "lt":
		matched = value < p.Value
	case "gt":
		matched = value > p.Value
	}
	if !matched {
		return false, 0, ""
	}
	return true, value, fmt.Sprintf("%s=%.2f %s %.2f", p.Metric, value, p.Op, p.Value)
}

func matchTrendDelta(p *TrendDeltaPredicate, trend []dqi.Score) (bool, float64, string) {
	if p == nil || p.ConsecutiveNegative < 1 {
		return false, 0, ""
	}

	deltas := dqi.TrendDelta(trend)
	if len(deltas) < p.ConsecutiveNegative {
		return false, 0, ""
	}

	total := 0.0
	for _, d := range deltas[len(deltas)-p.ConsecutiveNegative:] {
		if d >= 0 {
			return false, 0, ""
		}
		total += d
	}
	return true, total, fmt.Sprintf("composite fell %.2f over last %d periods", -total, p.ConsecutiveNegative)
}

func matchCrossEntity(p *CrossEntityPredicate, snap *signal.Snapshot) (bool, float64, string) {
	if p == nil || snap.MissingVisitPatients == nil {
		return false, 0, ""
	}

	// Report the worst visit so the alert names a concrete target
	worstVisit, worstCount := "", 0
	for visit, count := range snap.MissingVisitPatients {
		if count > worstCount || (count == worstCount && visit < worstVisit) {
			worstVisit, worstCount = visit, count
		}
	}

	if worstCount < p.MinPatients {
		return false, 0, ""
	}
	return true, float64(worstCount), fmt.Sprintf("%d patients missing visit %s", worstCount, worstVisit)
}
