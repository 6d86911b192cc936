package dqi

import (
	"time"

	"github.com/clinsight/platform/internal/shared/types"
)

// Category buckets a composite score for display and rule thresholds
type Category string

const (
	CategoryExcellent Category = "excellent"
	CategoryGood      Category = "good"
	CategoryFair      Category = "fair"
	CategoryPoor      Category = "poor"
	CategoryCritical  Category = "critical"
)

// Breakpoints are inclusive on the lower bound: exactly 90 is excellent,
// exactly 60 is fair.
const (
	breakExcellent = 90.0
	breakGood      = 75.0
	breakFair      = 60.0
	breakPoor      = 45.0
)

// CategoryOf maps a composite score to its category
func CategoryOf(composite float64) Category {
	switch {
	case composite >= breakExcellent:
		return CategoryExcellent
	case composite >= breakGood:
		return CategoryGood
	case composite >= breakFair:
		return CategoryFair
	case composite >= breakPoor:
		return CategoryPoor
	default:
		return CategoryCritical
	}
}

// Composite weights, fixed by the scoring methodology. They sum to 1.0.
const (
	WeightMissing      = 0.30
	WeightQueries      = 0.25
	WeightVisits       = 0.20
	WeightVerification = 0.15
	WeightCoding       = 0.10
)

// SubScores are the five named quality dimensions, each in [0,100]
type SubScores struct {
	Missing      float64 `json:"missing"`
	Queries      float64 `json:"queries"`
	Visits       float64 `json:"visits"`
	Verification float64 `json:"verification"`
	Coding       float64 `json:"coding"`
}

// Score is one computed data quality index for an entity at a point in time
type Score struct {
	Entity      types.EntityRef `json:"entity"`
	Timestamp   time.Time       `json:"timestamp"`
	DataVersion int64           `json:"data_version"`
	Seq         int64           `json:"seq,omitempty"` // assigned on append, per entity

	SubScores SubScores `json:"sub_scores"`
	Composite float64   `json:"composite"`
	Category  Category  `json:"category"`
}

// composite folds the sub-scores into the weighted sum
func (s SubScores) composite() float64 {
	return s.Missing*WeightMissing +
		s.Queries*WeightQueries +
		s.Visits*WeightVisits +
		s.Verification*WeightVerification +
		s.Coding*WeightCoding
}
