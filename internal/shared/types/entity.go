package types

import (
	"fmt"
	"strings"
)

// EntityLevel identifies the operational unit a score or alert belongs to
type EntityLevel string

const (
	EntityLevelSite    EntityLevel = "site"
	EntityLevelPatient EntityLevel = "patient"
)

// EntityRef identifies a scored operational unit within a study.
// For site-level entities PatientID is empty.
type EntityRef struct {
	Level     EntityLevel `json:"level"`
	StudyID   string      `json:"study_id"`
	SiteID    string      `json:"site_id"`
	PatientID string      `json:"patient_id,omitempty"`
}

// SiteRef creates a site-level entity reference
func SiteRef(studyID, siteID string) EntityRef {
	return EntityRef{Level: EntityLevelSite, StudyID: studyID, SiteID: siteID}
}

// PatientRef creates a patient-level entity reference
func PatientRef(studyID, siteID, patientID string) EntityRef {
	return EntityRef{Level: EntityLevelPatient, StudyID: studyID, SiteID: siteID, PatientID: patientID}
}

// Validate checks that the reference is well-formed
func (r EntityRef) Validate() error {
	if r.StudyID == "" || r.SiteID == "" {
		return fmt.Errorf("study and site are required")
	}
	switch r.Level {
	case EntityLevelSite:
		if r.PatientID != "" {
			return fmt.Errorf("site-level reference must not carry a patient")
		}
	case EntityLevelPatient:
		if r.PatientID == "" {
			return fmt.Errorf("patient-level reference requires a patient")
		}
	default:
		return fmt.Errorf("unknown entity level %q", r.Level)
	}
	return nil
}

// Key returns the canonical string form used for locks, streams and URLs:
// "site:STUDY:SITE" or "patient:STUDY:SITE:PATIENT".
func (r EntityRef) Key() string {
	if r.Level == EntityLevelPatient {
		return fmt.Sprintf("%s:%s:%s:%s", r.Level, r.StudyID, r.SiteID, r.PatientID)
	}
	return fmt.Sprintf("%s:%s:%s", r.Level, r.StudyID, r.SiteID)
}

// IsZero checks whether the reference is empty
func (r EntityRef) IsZero() bool {
	return r.StudyID == "" && r.SiteID == "" && r.PatientID == ""
}

// ParseEntityRef parses the canonical key form produced by Key
func ParseEntityRef(s string) (EntityRef, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 3 && EntityLevel(parts[0]) == EntityLevelSite:
		ref := SiteRef(parts[1], parts[2])
		return ref, ref.Validate()
	case len(parts) == 4 && EntityLevel(parts[0]) == EntityLevelPatient:
		ref := PatientRef(parts[1], parts[2], parts[3])
		return ref, ref.Validate()
	default:
		return EntityRef{}, fmt.Errorf("invalid entity reference %q", s)
	}
}

// String returns the canonical key form
func (r EntityRef) String() string {
	return r.Key()
}
