package signal

import (
	"time"

	"github.com/clinsight/platform/internal/shared/types"
)

// RecordType identifies the source extract a record came from
type RecordType string

const (
	RecordTypeMissingLab      RecordType = "missing_lab"
	RecordTypeMissingVisit    RecordType = "missing_visit"
	RecordTypeOpenQuery       RecordType = "open_query"
	RecordTypeCodingIssue     RecordType = "coding_issue"
	RecordTypeVisitProjection RecordType = "visit_projection"
	RecordTypeFormStatus      RecordType = "form_status"
)

// Record is one already-validated row from a source extract. Records are
// uniquely keyed by (study, site, patient, type, natural key) so re-loading
// the same extract upserts in place.
type Record struct {
	StudyID    string     `json:"study_id"`
	SiteID     string     `json:"site_id"`
	PatientID  string     `json:"patient_id,omitempty"`
	Type       RecordType `json:"type"`
	NaturalKey string     `json:"natural_key"`
	ObservedAt time.Time  `json:"observed_at"`

	// Visit fields (missing_visit, visit_projection)
	VisitNumber string `json:"visit_number,omitempty"`
	Completed   bool   `json:"completed,omitempty"`

	// Lab / visit state
	Missing bool `json:"missing,omitempty"`

	// Form fields (form_status)
	Required bool `json:"required,omitempty"`
	Complete bool `json:"complete,omitempty"`
	Verified bool `json:"verified,omitempty"`

	// Query and coding fields
	OpenedAt *time.Time `json:"opened_at,omitempty"`
	Resolved bool       `json:"resolved,omitempty"`
	Term     string     `json:"term,omitempty"`
}

// Validate rejects structurally broken extract rows before they are stored
func (r Record) Validate() map[string]string {
	problems := make(map[string]string)
	if r.StudyID == "" {
		problems["study_id"] = "required"
	}
	if r.SiteID == "" {
		problems["site_id"] = "required"
	}
	if r.NaturalKey == "" {
		problems["natural_key"] = "required"
	}
	if r.ObservedAt.IsZero() {
		problems["observed_at"] = "required"
	}
	switch r.Type {
	case RecordTypeMissingLab, RecordTypeMissingVisit, RecordTypeOpenQuery,
		RecordTypeCodingIssue, RecordTypeVisitProjection, RecordTypeFormStatus:
	default:
		problems["type"] = "unknown record type"
	}
	if r.Type == RecordTypeOpenQuery && !r.Resolved && r.OpenedAt == nil {
		problems["opened_at"] = "required for open queries"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Entity returns the patient-level reference for patient records, or the
// site-level reference for site-scoped rows.
func (r Record) Entity() types.EntityRef {
	if r.PatientID != "" {
		return types.PatientRef(r.StudyID, r.SiteID, r.PatientID)
	}
	return types.SiteRef(r.StudyID, r.SiteID)
}

// Site returns the site-level reference the record rolls up to
func (r Record) Site() types.EntityRef {
	return types.SiteRef(r.StudyID, r.SiteID)
}

// Key returns the record's unique natural key tuple as a single string
func (r Record) Key() string {
	return r.StudyID + "|" + r.SiteID + "|" + r.PatientID + "|" + string(r.Type) + "|" + r.NaturalKey
}

// Snapshot is the immutable per-entity view of current signals, derived from
// the underlying records and never hand-edited.
type Snapshot struct {
	Entity      types.EntityRef `json:"entity"`
	Timestamp   time.Time       `json:"timestamp"`
	DataVersion int64           `json:"data_version"`

	// Missing data
	FieldsExpected int `json:"fields_expected"`
	FieldsMissing  int `json:"fields_missing"`

	// Queries
	QueriesTotal   int `json:"queries_total"`
	QueriesOpen    int `json:"queries_open"`
	QueriesAged    int `json:"queries_aged"`    // open longer than the aged threshold
	QueriesOverdue int `json:"queries_overdue"` // open longer than the overdue threshold

	// Visits
	VisitsExpected  int `json:"visits_expected"`
	VisitsCompleted int `json:"visits_completed"`

	// Forms
	FormsTotal    int `json:"forms_total"`
	FormsVerified int `json:"forms_verified"`

	// Coding
	CodableTotal int `json:"codable_total"`
	CodingOpen   int `json:"coding_open"`

	// Site-level only: distinct patients missing each visit number,
	// feeding the cross-entity missing-visit rule.
	MissingVisitPatients map[string]int `json:"missing_visit_patients,omitempty"`
}

// BucketThresholds control query age bucketing when building snapshots
type BucketThresholds struct {
	AgedDays    int
	OverdueDays int
}

// BuildSnapshot aggregates records into a snapshot as of a given time. Both
// the in-memory and the Postgres repository feed rows through this single
// code path so that a snapshot is byte-identical regardless of storage.
func BuildSnapshot(ref types.EntityRef, asOf time.Time, th BucketThresholds, records []Record) *Snapshot {
	snap := &Snapshot{
		Entity:    ref,
		Timestamp: asOf,
	}
	if ref.Level == types.EntityLevelSite {
		snap.MissingVisitPatients = make(map[string]int)
	}

	// Distinct patients per missing visit number
	missingVisitSeen := make(map[string]map[string]bool)

	for _, r := range records {
		switch r.Type {
		case RecordTypeMissingLab:
			snap.FieldsExpected++
			if r.Missing {
				snap.FieldsMissing++
			}

		case RecordTypeFormStatus:
			snap.FormsTotal++
			if r.Verified {
				snap.FormsVerified++
			}
			if r.Required {
				snap.FieldsExpected++
				if !r.Complete {
					snap.FieldsMissing++
				}
			}

		case RecordTypeOpenQuery:
			snap.QueriesTotal++
			if r.Resolved {
				continue
			}
			snap.QueriesOpen++
			if r.OpenedAt != nil {
				age := int(asOf.Sub(*r.OpenedAt).Hours() / 24)
				if age > th.OverdueDays {
					snap.QueriesOverdue++
					snap.QueriesAged++
				} else if age > th.AgedDays {
					snap.QueriesAged++
				}
			}

		case RecordTypeVisitProjection:
			snap.VisitsExpected++
			if r.Completed {
				snap.VisitsCompleted++
			}

		case RecordTypeMissingVisit:
			if snap.MissingVisitPatients != nil && r.VisitNumber != "" && r.PatientID != "" {
				if missingVisitSeen[r.VisitNumber] == nil {
					missingVisitSeen[r.VisitNumber] = make(map[string]bool)
				}
				if !missingVisitSeen[r.VisitNumber][r.PatientID] {
					missingVisitSeen[r.VisitNumber][r.PatientID] = true
					snap.MissingVisitPatients[r.VisitNumber]++
				}
			}

		case RecordTypeCodingIssue:
			snap.CodableTotal++
			if !r.Resolved {
				snap.CodingOpen++
			}
		}
	}

	return snap
}
