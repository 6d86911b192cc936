package rules

import (
	"time"

	"github.com/clinsight/platform/internal/shared/config"
	"github.com/clinsight/platform/internal/shared/types"
)

// Severity ranks a finding or alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PredicateKind tags the predicate variant a rule carries
type PredicateKind string

const (
	PredicateThreshold   PredicateKind = "threshold"
	PredicateTrendDelta  PredicateKind = "trend_delta"
	PredicateCrossEntity PredicateKind = "cross_entity_count"
)

// Metric names a value resolvable from the current snapshot and score
type Metric string

const (
	MetricComposite      Metric = "composite"
	MetricQueriesAged    Metric = "queries_aged"
	MetricQueriesOverdue Metric = "queries_overdue"
	MetricFieldsMissing  Metric = "fields_missing"
	MetricCodingOpen     Metric = "coding_open"
)

// ThresholdPredicate matches when a metric crosses a fixed bound
type ThresholdPredicate struct {
	Metric Metric  `json:"metric"`
	Op     string  `json:"op"` // "lt" or "gt"
	Value  float64 `json:"value"`
}

// TrendDeltaPredicate matches when the composite delta is negative for the
// given number of consecutive recorded periods
type TrendDeltaPredicate struct {
	ConsecutiveNegative int `json:"consecutive_negative"`
}

// CrossEntityPredicate matches when at least MinPatients distinct patients
// at one site share the same missing visit number. Site-level only.
type CrossEntityPredicate struct {
	MinPatients int `json:"min_patients"`
}

// Predicate is a tagged variant over the predicate kinds. Exactly one of the
// variant fields is set, selected by Kind. New rules are additive data, not
// new control flow in the evaluator.
type Predicate struct {
	Kind        PredicateKind        `json:"kind"`
	Threshold   *ThresholdPredicate  `json:"threshold,omitempty"`
	TrendDelta  *TrendDeltaPredicate `json:"trend_delta,omitempty"`
	CrossEntity *CrossEntityPredicate `json:"cross_entity,omitempty"`
}

// Rule is one catalog entry. The catalog is fixed configuration, not user
// data, but it is data all the same: the evaluator never branches on rule
// identity.
type Rule struct {
	ID            string            `json:"id"`
	Version       int               `json:"version"`
	Description   string            `json:"description"`
	Severity      Severity          `json:"severity"`
	Level         types.EntityLevel `json:"level,omitempty"` // empty = any level
	Predicate     Predicate         `json:"predicate"`
	Cooldown      time.Duration     `json:"cooldown"`
	EscalateAfter time.Duration     `json:"escalate_after"`
}

// GracePeriod is how long a finding must stop recurring before its alert
// auto-resolves: the rule's cooldown doubled.
func (r Rule) GracePeriod() time.Duration {
	return 2 * r.Cooldown
}

// AppliesTo reports whether the rule is evaluated at the given entity level
func (r Rule) AppliesTo(level types.EntityLevel) bool {
	return r.Level == "" || r.Level == level
}

// Builtin rule identifiers
const (
	RuleDQIBelowFair     = "dqi_below_fair"
	RuleDQICritical      = "dqi_critical"
	RuleQueryAged        = "query_aged"
	RuleQueryOverdue     = "query_overdue"
	RuleMissingVisitSite = "missing_visit_cluster"
	RuleTrendNegative    = "dqi_trend_negative"
)

// BuiltinCatalog returns the standard rule set. Day thresholds come from
// configuration; the catalog itself carries no literals that studies may
// need to override.
func BuiltinCatalog(cfg config.ScoringConfig) []Rule {
	return []Rule{
		{
			ID:          RuleDQIBelowFair,
			Version:     1,
			Description: "composite data quality index dropped below fair",
			Severity:    SeverityHigh,
			Predicate: Predicate{
				Kind:      PredicateThreshold,
				Threshold: &ThresholdPredicate{Metric: MetricComposite, Op: "lt", Value: 60},
			},
			Cooldown:      cfg.DefaultCooldown,
			EscalateAfter: cfg.EscalationAfter,
		},
		{
			ID:          RuleDQICritical,
			Version:     1,
			Description: "composite data quality index in the critical band",
			Severity:    SeverityCritical,
			Predicate: Predicate{
				Kind:      PredicateThreshold,
				Threshold: &ThresholdPredicate{Metric: MetricComposite, Op: "lt", Value: 45},
			},
			Cooldown:      cfg.DefaultCooldown,
			EscalateAfter: cfg.EscalationAfter,
		},
		{
			ID:          RuleQueryAged,
			Version:     1,
			Description: "queries open past the aging threshold",
			Severity:    SeverityMedium,
			Predicate: Predicate{
				Kind:      PredicateThreshold,
				Threshold: &ThresholdPredicate{Metric: MetricQueriesAged, Op: "gt", Value: 0},
			},
			Cooldown:      cfg.DefaultCooldown,
			EscalateAfter: cfg.EscalationAfter,
		},
		{
			ID:          RuleQueryOverdue,
			Version:     1,
			Description: "queries open past the overdue threshold",
			Severity:    SeverityHigh,
			Predicate: Predicate{
				Kind:      PredicateThreshold,
				Threshold: &ThresholdPredicate{Metric: MetricQueriesOverdue, Op: "gt", Value: 0},
			},
			Cooldown:      cfg.DefaultCooldown,
			EscalateAfter: cfg.EscalationAfter,
		},
		{
			ID:          RuleMissingVisitSite,
			Version:     1,
			Description: "multiple patients at one site missing the same visit",
			Severity:    SeverityMedium,
			Level:       types.EntityLevelSite,
			Predicate: Predicate{
				Kind:        PredicateCrossEntity,
				CrossEntity: &CrossEntityPredicate{MinPatients: 4},
			},
			Cooldown:      cfg.DefaultCooldown,
			EscalateAfter: cfg.EscalationAfter,
		},
		{
			ID:          RuleTrendNegative,
			Version:     1,
			Description: "data quality index falling for consecutive periods",
			Severity:    SeverityLow,
			Predicate: Predicate{
				Kind:       PredicateTrendDelta,
				TrendDelta: &TrendDeltaPredicate{ConsecutiveNegative: 2},
			},
			Cooldown:      cfg.DefaultCooldown,
			EscalateAfter: cfg.EscalationAfter,
		},
	}
}
