package dqi

import (
	"math"
	"strconv"

	"github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/signal"
)

// Query age penalty units. An overdue query hurts three times as much as a
// fresh one, keeping the penalty monotonic in age.
const (
	penaltyFresh   = 1.0
	penaltyAged    = 2.0
	penaltyOverdue = 3.0
)

// Compute turns a signal snapshot into a score. Pure and total for
// well-formed snapshots: identical input always yields an identical Score.
// Malformed snapshots are rejected with InvalidSignalData, never clamped
// into a plausible-looking number.
func Compute(snap *signal.Snapshot) (*Score, error) {
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	sub := SubScores{
		Missing:      missingSubScore(snap),
		Queries:      querySubScore(snap),
		Visits:       visitSubScore(snap),
		Verification: verificationSubScore(snap),
		Coding:       codingSubScore(snap),
	}

	composite := round2(sub.composite())

	return &Score{
		Entity:      snap.Entity,
		Timestamp:   snap.Timestamp,
		DataVersion: snap.DataVersion,
		SubScores:   sub,
		Composite:   composite,
		Category:    CategoryOf(composite),
	}, nil
}

// missingSubScore: 100 × (1 − missing/expected), floored at 0
func missingSubScore(snap *signal.Snapshot) float64 {
	if snap.FieldsExpected == 0 {
		return 100
	}
	return clamp(100 * (1 - float64(snap.FieldsMissing)/float64(snap.FieldsExpected)))
}

// querySubScore penalizes open queries weighted by age bucket, normalized
// against the worst case of every query open and overdue.
func querySubScore(snap *signal.Snapshot) float64 {
	if snap.QueriesTotal == 0 {
		return 100
	}
	fresh := snap.QueriesOpen - snap.QueriesAged
	agedOnly := snap.QueriesAged - snap.QueriesOverdue
	weighted := float64(fresh)*penaltyFresh +
		float64(agedOnly)*penaltyAged +
		float64(snap.QueriesOverdue)*penaltyOverdue
	worst := float64(snap.QueriesTotal) * penaltyOverdue
	return clamp(100 * (1 - weighted/worst))
}

// visitSubScore: completed over expected, capped at 100 because unscheduled
// visits can push completed past expected.
func visitSubScore(snap *signal.Snapshot) float64 {
	if snap.VisitsExpected == 0 {
		return 100
	}
	return clamp(100 * float64(snap.VisitsCompleted) / float64(snap.VisitsExpected))
}

func verificationSubScore(snap *signal.Snapshot) float64 {
	if snap.FormsTotal == 0 {
		return 100
	}
	return clamp(100 * float64(snap.FormsVerified) / float64(snap.FormsTotal))
}

func codingSubScore(snap *signal.Snapshot) float64 {
	if snap.CodableTotal == 0 {
		return 100
	}
	return clamp(100 * (1 - float64(snap.CodingOpen)/float64(snap.CodableTotal)))
}

func validateSnapshot(snap *signal.Snapshot) error {
	if snap == nil {
		return errors.InvalidSignalData("", map[string]string{"snapshot": "nil"})
	}

	problems := make(map[string]string)

	counts := map[string]int{
		"fields_expected":  snap.FieldsExpected,
		"fields_missing":   snap.FieldsMissing,
		"queries_total":    snap.QueriesTotal,
		"queries_open":     snap.QueriesOpen,
		"queries_aged":     snap.QueriesAged,
		"queries_overdue":  snap.QueriesOverdue,
		"visits_expected":  snap.VisitsExpected,
		"visits_completed": snap.VisitsCompleted,
		"forms_total":      snap.FormsTotal,
		"forms_verified":   snap.FormsVerified,
		"codable_total":    snap.CodableTotal,
		"coding_open":      snap.CodingOpen,
	}
	for name, v := range counts {
		if v < 0 {
			problems[name] = "negative count: " + strconv.Itoa(v)
		}
	}

	// Internal consistency. Visits completed may exceed expected (unscheduled
	// visits); every other subset relation must hold.
	if snap.FieldsMissing > snap.FieldsExpected {
		problems["fields_missing"] = "exceeds fields_expected"
	}
	if snap.QueriesOpen > snap.QueriesTotal {
		problems["queries_open"] = "exceeds queries_total"
	}
	if snap.QueriesAged > snap.QueriesOpen {
		problems["queries_aged"] = "exceeds queries_open"
	}
	if snap.QueriesOverdue > snap.QueriesAged {
		problems["queries_overdue"] = "exceeds queries_aged"
	}
	if snap.FormsVerified > snap.FormsTotal {
		problems["forms_verified"] = "exceeds forms_total"
	}
	if snap.CodingOpen > snap.CodableTotal {
		problems["coding_open"] = "exceeds codable_total"
	}

	if len(problems) > 0 {
		return errors.InvalidSignalData(snap.Entity.Key(), problems)
	}
	return nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return round2(v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
